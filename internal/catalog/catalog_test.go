package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestHasEdition(t *testing.T) {
	game := Game{ID: "g1", Editions: []string{"Standard", "Deluxe"}}

	if !game.HasEdition("") {
		t.Fatal("base offering should always be valid")
	}
	if !game.HasEdition("deluxe") {
		t.Fatal("edition match should be case-insensitive")
	}
	if game.HasEdition("collector") {
		t.Fatal("unlisted edition accepted")
	}
}

func TestStaticRegistryLookup(t *testing.T) {
	reg := NewStaticRegistry(Game{ID: "g1", Title: "Game One"})

	game, err := reg.Lookup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if game.Title != "Game One" {
		t.Fatalf("unexpected title %q", game.Title)
	}

	if _, err := reg.Lookup(context.Background(), "missing"); !errors.Is(err, ErrUnknownGame) {
		t.Fatalf("expected ErrUnknownGame, got %v", err)
	}
}

func TestHTTPRegistryLookup(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/games/g1":
			json.NewEncoder(w).Encode(Game{ID: "g1", Title: "Game One", Editions: []string{"Standard"}})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	reg := NewHTTPRegistry(Options{BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())

	game, err := reg.Lookup(context.Background(), "g1")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if game.Title != "Game One" || len(game.Editions) != 1 {
		t.Fatalf("unexpected game %+v", game)
	}

	if _, err := reg.Lookup(context.Background(), "missing"); !errors.Is(err, ErrUnknownGame) {
		t.Fatalf("expected ErrUnknownGame, got %v", err)
	}
}
