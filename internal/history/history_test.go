package history

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (r *recordingSink) Send(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, e)
	return nil
}

func TestFanoutDeliversToAllSinks(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{}
	f := Fanout{a, b}

	e := Event{Type: EventCrash, OccurredAt: time.Now(), ServiceID: "svc-1", Status: "crashed", Detail: "exit status 2"}
	if err := f.Send(context.Background(), e); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(a.events) != 1 || len(b.events) != 1 {
		t.Fatalf("expected both sinks to receive the event: %d %d", len(a.events), len(b.events))
	}
	if a.events[0].Type != EventCrash {
		t.Fatalf("wrong event type: %s", a.events[0].Type)
	}
}

func TestFanoutContinuesPastFailingSink(t *testing.T) {
	bad := &recordingSink{err: errors.New("sink down")}
	good := &recordingSink{}
	f := Fanout{bad, good}

	err := f.Send(context.Background(), Event{Type: EventStart, ServiceID: "svc-1"})
	if err == nil {
		t.Fatal("expected error from failing sink")
	}
	if len(good.events) != 1 {
		t.Fatalf("healthy sink should still receive the event, got %d", len(good.events))
	}
}
