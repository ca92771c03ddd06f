package model

import "fmt"

// Channel identifies a notification delivery channel.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
	ChannelInApp Channel = "in-app"
)

// ParseChannel converts a string into a known Channel.
func ParseChannel(s string) (Channel, error) {
	switch Channel(s) {
	case ChannelEmail, ChannelPush, ChannelInApp:
		return Channel(s), nil
	default:
		return "", fmt.Errorf("unknown channel %q", s)
	}
}

// ParseChannels converts a list of channel names, rejecting unknown entries
// and collapsing duplicates while preserving first-seen order.
func ParseChannels(names []string) ([]Channel, error) {
	seen := make(map[Channel]struct{}, len(names))
	channels := make([]Channel, 0, len(names))
	for _, name := range names {
		ch, err := ParseChannel(name)
		if err != nil {
			return nil, err
		}
		if _, dup := seen[ch]; dup {
			continue
		}
		seen[ch] = struct{}{}
		channels = append(channels, ch)
	}
	return channels, nil
}
