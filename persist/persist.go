// Package persist stores the durable subset of the session across process
// restarts.
//
// The record is a small JSON document, {"version":1,"state":{...}}, kept
// under one namespace in a Storage backend. Reading a missing, corrupt or
// unknown-version record yields an empty session, never an error.
package persist

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	adminauth "github.com/chimerakang/adminauth-go"
)

// RecordVersion is the current on-disk record layout.
const RecordVersion = 1

// ErrUnknownVersion is returned by Decode for records written by an
// incompatible release.
var ErrUnknownVersion = errors.New("adminauth/persist: unknown record version")

type record struct {
	Version int                  `json:"version"`
	State   *adminauth.Persisted `json:"state"`
}

// Encode serializes the persisted subset.
func Encode(p adminauth.Persisted) ([]byte, error) {
	data, err := json.Marshal(record{Version: RecordVersion, State: &p})
	if err != nil {
		return nil, fmt.Errorf("adminauth/persist: encode: %w", err)
	}
	return data, nil
}

// Decode parses a record produced by Encode.
func Decode(data []byte) (adminauth.Persisted, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return adminauth.Persisted{}, fmt.Errorf("adminauth/persist: decode: %w", err)
	}
	if rec.Version != RecordVersion {
		return adminauth.Persisted{}, fmt.Errorf("%w: %d", ErrUnknownVersion, rec.Version)
	}
	if rec.State == nil {
		return adminauth.Persisted{}, fmt.Errorf("adminauth/persist: decode: missing state")
	}
	return *rec.State, nil
}

// Adapter reads and writes the session record in a Storage backend.
type Adapter struct {
	storage   adminauth.Storage
	namespace string
	logger    *slog.Logger
}

// Option configures the Adapter.
type Option func(*Adapter)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Adapter) { a.logger = l }
}

// NewAdapter creates an Adapter for namespace in storage.
func NewAdapter(storage adminauth.Storage, namespace string, opts ...Option) *Adapter {
	if namespace == "" {
		namespace = adminauth.DefaultStorageNamespace
	}
	a := &Adapter{
		storage:   storage,
		namespace: namespace,
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Namespace returns the key the record is stored under.
func (a *Adapter) Namespace() string { return a.namespace }

// Save writes p, or clears the record when p carries no session.
func (a *Adapter) Save(ctx context.Context, p adminauth.Persisted) error {
	if p.Empty() {
		return a.Clear(ctx)
	}
	data, err := Encode(p)
	if err != nil {
		return err
	}
	if err := a.storage.Save(ctx, a.namespace, data); err != nil {
		return fmt.Errorf("adminauth/persist: save: %w", err)
	}
	return nil
}

// Load returns the stored session. ok is false when nothing usable is
// stored; storage and decode failures are logged and reported the same way.
func (a *Adapter) Load(ctx context.Context) (p adminauth.Persisted, ok bool) {
	data, err := a.storage.Load(ctx, a.namespace)
	if err != nil {
		a.logger.Warn("persisted session unreadable", "namespace", a.namespace, "error", err)
		return adminauth.Persisted{}, false
	}
	if len(data) == 0 {
		return adminauth.Persisted{}, false
	}
	p, err = Decode(data)
	if err != nil {
		a.logger.Warn("persisted session malformed, ignoring", "namespace", a.namespace, "error", err)
		return adminauth.Persisted{}, false
	}
	return p, true
}

// Clear removes the stored record.
func (a *Adapter) Clear(ctx context.Context) error {
	if err := a.storage.Clear(ctx, a.namespace); err != nil {
		return fmt.Errorf("adminauth/persist: clear: %w", err)
	}
	return nil
}
