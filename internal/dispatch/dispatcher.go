// Package dispatch is the client for the external notification service.
// Delivery retries and per-channel de-duplication live on the service side;
// this client only hands over one delivery per trigger.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"dealwatch/internal/alert"
)

// HTTPDispatcher posts trigger deliveries to the notification service.
type HTTPDispatcher struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    zerolog.Logger
}

// Options configure the dispatcher client.
type Options struct {
	BaseURL   string
	AuthToken string
	Timeout   time.Duration
}

// NewHTTPDispatcher constructs the notification service client.
func NewHTTPDispatcher(opts Options, logger zerolog.Logger) *HTTPDispatcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	return &HTTPDispatcher{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		authToken: opts.AuthToken,
		client:    &http.Client{Timeout: opts.Timeout},
		logger:    logger.With().Str("component", "dispatcher").Logger(),
	}
}

// Dispatch delivers one triggered alert to the notification service.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, delivery alert.Delivery) error {
	if d.baseURL == "" {
		return fmt.Errorf("dispatch base url not configured")
	}

	body, err := json.Marshal(delivery)
	if err != nil {
		return fmt.Errorf("marshal delivery payload: %w", err)
	}

	url := d.baseURL + "/v1/notifications"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create dispatch request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if d.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+d.authToken)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("send dispatch request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	var result struct {
		Accepted bool `json:"accepted"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.Accepted {
			return fmt.Errorf("notification service rejected delivery for alert %s", delivery.AlertID)
		}
	}

	d.logger.Info().
		Str("alert_id", delivery.AlertID).
		Str("game_id", delivery.GameID).
		Str("channels", joinChannels(delivery)).
		Msg("delivery handed to notification service")
	return nil
}

func joinChannels(d alert.Delivery) string {
	parts := make([]string, 0, len(d.Channels))
	for _, ch := range d.Channels {
		parts = append(parts, string(ch))
	}
	return strings.Join(parts, ",")
}

var _ alert.Dispatcher = (*HTTPDispatcher)(nil)

// LogDispatcher writes deliveries to the log instead of a remote service.
// Used when no notification service is configured, and by dry runs.
type LogDispatcher struct {
	logger zerolog.Logger
}

// NewLogDispatcher constructs the log-only dispatcher.
func NewLogDispatcher(logger zerolog.Logger) *LogDispatcher {
	return &LogDispatcher{logger: logger.With().Str("component", "dispatcher").Logger()}
}

// Dispatch records the delivery at info level and reports success.
func (d *LogDispatcher) Dispatch(_ context.Context, delivery alert.Delivery) error {
	d.logger.Info().
		Str("alert_id", delivery.AlertID).
		Str("user_id", delivery.UserID).
		Str("game_id", delivery.GameID).
		Str("triggered_price", delivery.TriggeredPrice).
		Str("target_price", delivery.TargetPrice).
		Str("channels", joinChannels(delivery)).
		Msg("delivery logged (no notification service configured)")
	return nil
}

var _ alert.Dispatcher = (*LogDispatcher)(nil)
