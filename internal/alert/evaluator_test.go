package alert

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"dealwatch/internal/model"
)

type fakeDispatcher struct {
	mu         sync.Mutex
	deliveries []Delivery
	fail       bool
}

func (f *fakeDispatcher) Dispatch(ctx context.Context, d Delivery) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return errors.New("dispatcher unavailable")
	}
	f.deliveries = append(f.deliveries, d)
	return nil
}

func (f *fakeDispatcher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.deliveries)
}

func observation(gameID, current string, available bool, at time.Time) model.PriceObservation {
	return model.PriceObservation{
		GameID:       gameID,
		StoreID:      "steam",
		Region:       "US",
		Currency:     "USD",
		CurrentPrice: decimal.RequireFromString(current),
		IsAvailable:  available,
		ObservedAt:   at,
	}
}

func newTestEvaluator(r *Registry, d Dispatcher, opts EvaluatorOptions) *Evaluator {
	return NewEvaluator(r, d, opts, zerolog.Nop())
}

func TestEvaluateTriggersOnceEndToEnd(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, err := r.Create(ctx, "u1", "g1", price("25.00"), []model.Channel{model.ChannelInApp}, price("35.99"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{})
	ev.Start(ctx)

	observedAt := time.Date(2025, 4, 2, 10, 0, 0, 0, time.UTC)
	batch := []model.PriceObservation{observation("g1", "24.99", true, observedAt)}

	if err := ev.Evaluate(ctx, batch); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	// Re-delivery of the same batch must not dispatch again.
	if err := ev.Evaluate(ctx, batch); err != nil {
		t.Fatalf("Evaluate(repeat): %v", err)
	}
	ev.Close()

	if got := dispatcher.count(); got != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", got)
	}

	d := dispatcher.deliveries[0]
	if d.AlertID != a.ID || d.UserID != "u1" || d.GameID != "g1" {
		t.Fatalf("unexpected delivery identity: %+v", d)
	}
	if d.TriggeredPrice != "24.99" || d.TargetPrice != "25" {
		t.Fatalf("unexpected delivery prices: %+v", d)
	}
	if !d.TriggeredAt.Equal(observedAt) {
		t.Fatalf("triggeredAt must be the observation time, got %s", d.TriggeredAt)
	}

	got, _ := r.Get(a.ID)
	if got.Status != StatusTriggered {
		t.Fatalf("alert must be triggered, got %s", got.Status)
	}
	if got.TriggeredAt == nil || !got.TriggeredAt.Equal(observedAt) {
		t.Fatalf("triggeredAt must be recorded, got %v", got.TriggeredAt)
	}
}

func TestEvaluateIgnoresUnavailableAndAbovePriceObservations(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, err := r.Create(ctx, "u1", "g1", price("25.00"), []model.Channel{model.ChannelEmail}, price("35.99"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{})
	ev.Start(ctx)

	now := time.Now().UTC()
	batch := []model.PriceObservation{
		observation("g1", "24.99", false, now), // condition met but unavailable
		observation("g1", "29.99", true, now),  // available but above target
		observation("g2", "1.99", true, now),   // different game
	}
	if err := ev.Evaluate(ctx, batch); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ev.Close()

	if got := dispatcher.count(); got != 0 {
		t.Fatalf("expected no dispatches, got %d", got)
	}

	got, _ := r.Get(a.ID)
	if got.Status != StatusActive {
		t.Fatalf("alert must stay active, got %s", got.Status)
	}
	// The cached display price still tracks the freshest evaluation.
	if !got.CurrentPrice.Equal(price("24.99")) && !got.CurrentPrice.Equal(price("29.99")) {
		t.Fatalf("cached price must be refreshed, got %s", got.CurrentPrice)
	}
}

func TestEvaluateSkipsPausedAlerts(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, err := r.Create(ctx, "u1", "g1", price("25.00"), []model.Channel{model.ChannelPush}, price("35.99"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := r.Pause(ctx, a.ID); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{})
	ev.Start(ctx)

	if err := ev.Evaluate(ctx, []model.PriceObservation{observation("g1", "19.99", true, time.Now())}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ev.Close()

	if got := dispatcher.count(); got != 0 {
		t.Fatalf("paused alert must not dispatch, got %d", got)
	}
	if got, _ := r.Get(a.ID); got.Status != StatusPaused {
		t.Fatalf("alert must stay paused, got %s", got.Status)
	}
}

func TestDispatchFailureKeepsAlertTriggered(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	a, err := r.Create(ctx, "u1", "g1", price("25.00"), []model.Channel{model.ChannelInApp}, price("35.99"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dispatcher := &fakeDispatcher{fail: true}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{})
	ev.Start(ctx)

	if err := ev.Evaluate(ctx, []model.PriceObservation{observation("g1", "24.99", true, time.Now().UTC())}); err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	ev.Close()

	if got, _ := r.Get(a.ID); got.Status != StatusTriggered {
		t.Fatalf("delivery failure must not roll back the trigger, got %s", got.Status)
	}
	if ev.DeliveryFailures() != 1 {
		t.Fatalf("expected one recorded delivery failure, got %d", ev.DeliveryFailures())
	}
	if ev.Dispatched() != 0 {
		t.Fatalf("failed delivery must not count as dispatched, got %d", ev.Dispatched())
	}
}

func TestEnqueueDropsAfterBoundedWaitWhenQueueFull(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	for _, game := range []string{"g1", "g2"} {
		if _, err := r.Create(ctx, "u1", game, price("25.00"), []model.Channel{model.ChannelInApp}, price("35.99")); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	// No dispatch loop running: the one-slot queue fills on the first trigger
	// and the second must be dropped after the bounded wait, not block
	// evaluation forever.
	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{Workers: 1, QueueSize: 1, EnqueueWait: 20 * time.Millisecond})

	now := time.Now().UTC()
	batch := []model.PriceObservation{
		observation("g1", "24.99", true, now),
		observation("g2", "24.99", true, now),
	}

	done := make(chan error, 1)
	go func() { done <- ev.Evaluate(ctx, batch) }()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Evaluate: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("evaluation blocked on full dispatch queue")
	}
	ev.Close()

	if got := ev.DeliveryFailures(); got != 1 {
		t.Fatalf("expected one dropped delivery, got %d", got)
	}
	for _, game := range []string{"g1", "g2"} {
		for _, a := range r.ListByUser("u1") {
			if a.GameID == game && a.Status != StatusTriggered {
				t.Fatalf("alert on %s must stay triggered despite a full queue, got %s", game, a.Status)
			}
		}
	}
}

func TestEvaluateConcurrentBatchesSingleDispatch(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	if _, err := r.Create(ctx, "u1", "g1", price("25.00"), []model.Channel{model.ChannelInApp}, price("35.99")); err != nil {
		t.Fatalf("Create: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{Workers: 8})
	ev.Start(ctx)

	batch := []model.PriceObservation{observation("g1", "24.99", true, time.Now().UTC())}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = ev.Evaluate(ctx, batch)
		}()
	}
	wg.Wait()
	ev.Close()

	if got := dispatcher.count(); got != 1 {
		t.Fatalf("concurrent evaluation must dispatch exactly once, got %d", got)
	}
}

func TestSweepExpired(t *testing.T) {
	r := newTestRegistry()
	ctx := context.Background()

	stale, err := r.Create(ctx, "u1", "g1", price("20"), []model.Channel{model.ChannelEmail}, price("40"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	fresh, err := r.Create(ctx, "u1", "g2", price("20"), []model.Channel{model.ChannelEmail}, price("40"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	dispatcher := &fakeDispatcher{}
	ev := newTestEvaluator(r, dispatcher, EvaluatorOptions{MaxAge: 30 * 24 * time.Hour})
	ev.Start(ctx)
	defer ev.Close()

	// Sweep as if six weeks have passed since both were created.
	future := time.Now().UTC().Add(42 * 24 * time.Hour)
	if got := ev.SweepExpired(ctx, future); got != 2 {
		t.Fatalf("expected 2 expired, got %d", got)
	}
	if a, _ := r.Get(stale.ID); a.Status != StatusExpired {
		t.Fatalf("stale alert must be expired, got %s", a.Status)
	}

	// A sweep inside the age window expires nothing further.
	if got := ev.SweepExpired(ctx, time.Now().UTC()); got != 0 {
		t.Fatalf("expected 0 expired on early sweep, got %d", got)
	}
	_ = fresh
}
