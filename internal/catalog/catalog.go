// Package catalog is the client side of the game/catalog registry. The engine
// consults it only to validate that an alert's game and a score query's
// edition actually exist.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Game is the static metadata the catalog supplies per game.
type Game struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	Editions  []string `json:"editions"`
	Platforms []string `json:"platforms"`
}

// HasEdition reports whether the catalog lists the edition for this game.
// An empty edition means the base offering and is always valid.
func (g Game) HasEdition(edition string) bool {
	if edition == "" {
		return true
	}
	for _, e := range g.Editions {
		if strings.EqualFold(e, edition) {
			return true
		}
	}
	return false
}

// ErrUnknownGame reports a game id the catalog does not know.
var ErrUnknownGame = errors.New("catalog: unknown game")

// UnknownEditionError reports an edition the catalog does not list for a game.
type UnknownEditionError struct {
	GameID  string
	Edition string
}

func (e *UnknownEditionError) Error() string {
	return fmt.Sprintf("catalog: game %s has no edition %q", e.GameID, e.Edition)
}

// Registry looks up game metadata.
type Registry interface {
	Lookup(ctx context.Context, gameID string) (Game, error)
}

// HTTPRegistry queries the catalog service.
type HTTPRegistry struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// Options configure the catalog client.
type Options struct {
	BaseURL string
	Timeout time.Duration
}

// NewHTTPRegistry constructs the catalog service client.
func NewHTTPRegistry(opts Options, logger zerolog.Logger) *HTTPRegistry {
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	return &HTTPRegistry{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  &http.Client{Timeout: opts.Timeout},
		logger:  logger.With().Str("component", "catalog").Logger(),
	}
}

// Lookup fetches one game's metadata.
func (r *HTTPRegistry) Lookup(ctx context.Context, gameID string) (Game, error) {
	if r.baseURL == "" {
		return Game{}, fmt.Errorf("catalog base url not configured")
	}

	url := fmt.Sprintf("%s/v1/games/%s", r.baseURL, gameID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Game{}, fmt.Errorf("create catalog request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return Game{}, fmt.Errorf("query catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return Game{}, ErrUnknownGame
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Game{}, fmt.Errorf("catalog returned status %d", resp.StatusCode)
	}

	var game Game
	if err := json.NewDecoder(resp.Body).Decode(&game); err != nil {
		return Game{}, fmt.Errorf("decode catalog response: %w", err)
	}
	return game, nil
}

// StaticRegistry serves a fixed set of games. Used in tests and offline runs.
type StaticRegistry struct {
	games map[string]Game
}

// NewStaticRegistry builds a registry over the given games.
func NewStaticRegistry(games ...Game) *StaticRegistry {
	m := make(map[string]Game, len(games))
	for _, g := range games {
		m[g.ID] = g
	}
	return &StaticRegistry{games: m}
}

// Lookup returns the game or ErrUnknownGame.
func (r *StaticRegistry) Lookup(_ context.Context, gameID string) (Game, error) {
	g, ok := r.games[gameID]
	if !ok {
		return Game{}, ErrUnknownGame
	}
	return g, nil
}

var (
	_ Registry = (*HTTPRegistry)(nil)
	_ Registry = (*StaticRegistry)(nil)
)
