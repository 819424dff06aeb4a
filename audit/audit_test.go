package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) all() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func TestEventEmission(t *testing.T) {
	rec := &recorder{}
	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	logger := New(10, WithHandler(rec.handle), WithNow(func() time.Time { return at }))

	ctx := WithRequestID(context.Background(), "req-1")
	logger.Log(ctx, Event{Action: ActionLogin, Result: ResultSuccess, Subject: "admin@example.com"})
	logger.Close()

	events := rec.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Subject != "admin@example.com" {
		t.Errorf("subject = %q", e.Subject)
	}
	if !e.Timestamp.Equal(at) {
		t.Errorf("timestamp = %v, want %v", e.Timestamp, at)
	}
	if _, err := uuid.Parse(e.ID); err != nil {
		t.Errorf("id %q is not a uuid: %v", e.ID, err)
	}
	if e.RequestID != "req-1" {
		t.Errorf("request id = %q", e.RequestID)
	}
}

func TestMultipleHandlers(t *testing.T) {
	r1, r2 := &recorder{}, &recorder{}
	logger := New(10, WithHandler(r1.handle), WithHandler(r2.handle))

	logger.Log(context.Background(), Event{Action: ActionLogout, Result: ResultSuccess})
	logger.Close()

	if n := len(r1.all()); n != 1 {
		t.Fatalf("handler1: expected 1 event, got %d", n)
	}
	if n := len(r2.all()); n != 1 {
		t.Fatalf("handler2: expected 1 event, got %d", n)
	}
}

func TestCloseDrainsQueue(t *testing.T) {
	rec := &recorder{}
	logger := New(100, WithHandler(rec.handle))
	for range 50 {
		logger.Log(context.Background(), Event{Action: ActionRefresh, Result: ResultSuccess})
	}
	logger.Close()

	if n := len(rec.all()); n != 50 {
		t.Fatalf("expected 50 events, got %d", n)
	}
}

func TestLogAfterCloseDropped(t *testing.T) {
	rec := &recorder{}
	logger := New(10, WithHandler(rec.handle))
	logger.Close()
	logger.Close()

	logger.Log(context.Background(), Event{Action: ActionLogin, Result: ResultFailure})
	if n := len(rec.all()); n != 0 {
		t.Fatalf("expected no events after close, got %d", n)
	}
}

func TestNilLogger(t *testing.T) {
	var logger *Logger
	logger.Log(context.Background(), Event{Action: ActionLogin})
	if err := logger.Close(); err != nil {
		t.Fatal(err)
	}
}

func TestWriterHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := New(10, WithWriterHandler(&buf))
	logger.Log(context.Background(), Event{
		Action: ActionGuard,
		Result: ResultDenied,
		Path:   "/admin/orders",
		Reason: "missing orders:write",
	})
	logger.Close()

	line := strings.TrimSpace(buf.String())
	var got Event
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("decode %q: %v", line, err)
	}
	if got.Action != ActionGuard || got.Result != ResultDenied || got.Path != "/admin/orders" {
		t.Errorf("unexpected event: %+v", got)
	}
}
