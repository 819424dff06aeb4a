// Package audit records session lifecycle events of the admin console:
// sign-ins, refreshes, sign-outs, profile loads and guard denials.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Actions.
const (
	ActionLogin   = "login"
	ActionRefresh = "refresh"
	ActionLogout  = "logout"
	ActionProfile = "profile"
	ActionGuard   = "guard"
)

// Results.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
	ResultDenied  = "denied"
)

// Event is a single audit record.
type Event struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	RequestID string    `json:"request_id,omitempty"`
	Subject   string    `json:"subject,omitempty"`
	Action    string    `json:"action"`
	Result    string    `json:"result"`
	Reason    string    `json:"reason,omitempty"`
	Path      string    `json:"path,omitempty"`
	Error     string    `json:"error,omitempty"`
}

// Handler processes audit events. Implementations should not block.
type Handler func(event Event)

// Logger emits audit events to configured handlers from a background
// goroutine.
type Logger struct {
	handlers []Handler
	queue    chan Event
	done     chan struct{}
	closed   sync.Once
	wg       sync.WaitGroup
	now      func() time.Time
}

// Option configures Logger behavior.
type Option func(*Logger)

// WithWriterHandler adds a handler that writes one JSON event per line to w.
func WithWriterHandler(w io.Writer) Option {
	var mu sync.Mutex
	return WithHandler(func(e Event) {
		data, err := json.Marshal(e)
		if err != nil {
			return
		}
		mu.Lock()
		fmt.Fprintf(w, "%s\n", data)
		mu.Unlock()
	})
}

// WithSlogHandler adds a handler that logs each event at info level.
func WithSlogHandler(l *slog.Logger) Option {
	return WithHandler(func(e Event) {
		l.Info("audit",
			"id", e.ID,
			"action", e.Action,
			"result", e.Result,
			"subject", e.Subject,
			"reason", e.Reason,
			"path", e.Path,
			"error", e.Error,
		)
	})
}

// WithHandler adds a custom event handler.
func WithHandler(h Handler) Option {
	return func(l *Logger) {
		l.handlers = append(l.handlers, h)
	}
}

// WithNow sets the timestamp source.
func WithNow(now func() time.Time) Option {
	return func(l *Logger) { l.now = now }
}

// New creates an audit logger with a queue of bufferSize events
// (default: 1000).
func New(bufferSize int, opts ...Option) *Logger {
	if bufferSize <= 0 {
		bufferSize = 1000
	}

	l := &Logger{
		queue: make(chan Event, bufferSize),
		done:  make(chan struct{}),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}

	l.wg.Add(1)
	go l.process()
	return l
}

// Log emits an event asynchronously, filling in the ID and timestamp.
// A nil Logger discards the event.
func (l *Logger) Log(ctx context.Context, event Event) {
	if l == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = l.now()
	}
	if event.RequestID == "" && ctx != nil {
		event.RequestID = RequestID(ctx)
	}

	select {
	case <-l.done:
		return
	default:
	}
	select {
	case l.queue <- event:
	case <-l.done:
	}
}

func (l *Logger) process() {
	defer l.wg.Done()

	for {
		select {
		case event := <-l.queue:
			l.emit(event)
		case <-l.done:
			for {
				select {
				case event := <-l.queue:
					l.emit(event)
				default:
					return
				}
			}
		}
	}
}

func (l *Logger) emit(e Event) {
	for _, h := range l.handlers {
		h(e)
	}
}

// Close flushes pending events and stops the logger. Safe to call more
// than once.
func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.closed.Do(func() { close(l.done) })
	l.wg.Wait()
	return nil
}

// RequestID retrieves the request ID from context.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(contextKeyRequestID).(string)
	return id
}

// WithRequestID stores the request ID in context.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, contextKeyRequestID, id)
}

type contextKey string

const contextKeyRequestID contextKey = "audit.request_id"
