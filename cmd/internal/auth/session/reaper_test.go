package session

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"
)

func TestReaper_SweepDeletesExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now().UTC()

	if _, err := store.Insert(ctx, Record{
		OwnerID:        "o-reap",
		CredentialHash: "hash-dead",
		IssuedAt:       now.Add(-48 * time.Hour),
		ExpiresAt:      now.Add(-time.Hour),
	}); err != nil {
		t.Fatalf("Insert(dead): %v", err)
	}
	if _, err := store.Insert(ctx, Record{
		OwnerID:        "o-reap",
		CredentialHash: "hash-live",
		IssuedAt:       now,
		ExpiresAt:      now.Add(time.Hour),
	}); err != nil {
		t.Fatalf("Insert(live): %v", err)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReaper(store, time.Minute, log, nil)
	r.Sweep(ctx)

	if _, err := store.FindByHash(ctx, "hash-dead"); err != ErrSessionNotFound {
		t.Fatalf("expected expired record reaped, got %v", err)
	}
	if _, err := store.FindByHash(ctx, "hash-live"); err != nil {
		t.Fatalf("live record must survive the sweep: %v", err)
	}
}

func TestReaper_RunStopsOnCancel(t *testing.T) {
	t.Parallel()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := NewReaper(NewMemoryStore(), 10*time.Millisecond, log, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("reaper did not stop after cancellation")
	}
}
