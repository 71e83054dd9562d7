package database

import (
	"context"
	"errors"
	"testing"
	"time"
)

type flakyPinger struct {
	failures int
	calls    int
}

func (p *flakyPinger) PingContext(context.Context) error {
	p.calls++
	if p.calls <= p.failures {
		return errors.New("connection refused")
	}
	return nil
}

func TestWaitReadyRetriesUntilUp(t *testing.T) {
	p := &flakyPinger{failures: 2}
	if err := waitReady(context.Background(), p, Options{Attempts: 5, Backoff: time.Millisecond}); err != nil {
		t.Fatalf("waitReady returned error: %v", err)
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 pings, got %d", p.calls)
	}
}

func TestWaitReadyGivesUp(t *testing.T) {
	p := &flakyPinger{failures: 10}
	err := waitReady(context.Background(), p, Options{Attempts: 3, Backoff: time.Millisecond})
	if err == nil {
		t.Fatalf("expected error")
	}
	if p.calls != 3 {
		t.Fatalf("expected 3 pings, got %d", p.calls)
	}
}

func TestWaitReadyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := &flakyPinger{failures: 10}
	err := waitReady(ctx, p, Options{Attempts: 5, Backoff: time.Hour})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if p.calls != 1 {
		t.Fatalf("expected a single ping, got %d", p.calls)
	}
}

func TestCheck(t *testing.T) {
	if err := Check(context.Background(), &flakyPinger{}); err != nil {
		t.Fatalf("Check returned error: %v", err)
	}
	if err := Check(context.Background(), &flakyPinger{failures: 1}); err == nil {
		t.Fatalf("expected error from failing pinger")
	}
}
