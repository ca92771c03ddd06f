// Package version exposes build metadata stamped in via -ldflags.
package version

import "fmt"

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

// Info is a snapshot of the binary's build metadata.
type Info struct {
	Version   string
	Commit    string
	BuildDate string
}

// Get returns the stamped build metadata.
func Get() Info {
	return Info{Version: version, Commit: commit, BuildDate: buildDate}
}

func (i Info) String() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s", i.Version, i.Commit, i.BuildDate)
}
