// Package registry holds scan records and enforces that a scan's status only
// moves forward.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned by Transition for unknown ids.
	ErrNotFound = errors.New("registry: scan not found")
	// ErrInvalidTransition is returned for backward or post-terminal moves.
	ErrInvalidTransition = errors.New("registry: invalid status transition")
)

// Store persists records. Get returns nil, nil for unknown ids.
type Store interface {
	Create(ctx context.Context, rec Record) error
	Update(ctx context.Context, rec Record) error
	Get(ctx context.Context, id string) (*Record, error)
	List(ctx context.Context) ([]Record, error)
}

// Registry serializes writes per process and validates transitions.
type Registry struct {
	mu    sync.Mutex
	store Store
	now   func() time.Time
}

// New returns a registry over store, or over a MemoryStore when store is nil.
func New(store Store) *Registry {
	if store == nil {
		store = NewMemoryStore()
	}
	return &Registry{store: store, now: func() time.Time { return time.Now().UTC() }}
}

// Create registers a new scan in the initiated state.
func (r *Registry) Create(ctx context.Context, target, codeHash string) (*Record, error) {
	now := r.now()
	rec := Record{
		ID:        uuid.NewString(),
		Target:    target,
		CodeHash:  codeHash,
		Status:    StatusInitiated,
		CreatedAt: now,
		UpdatedAt: now,
		Warnings:  []Warning{},
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("create scan: %w", err)
	}
	return &rec, nil
}

// Transition moves id to status and applies mutate to the record before it is
// stored. mutate may be nil.
func (r *Registry) Transition(ctx context.Context, id string, to Status, mutate func(*Record)) (*Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if cur == nil {
		return nil, ErrNotFound
	}
	if !CanTransition(cur.Status, to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Status, to)
	}

	next := cur.clone()
	next.Status = to
	next.UpdatedAt = r.now()
	if mutate != nil {
		mutate(&next)
	}
	if err := r.store.Update(ctx, next); err != nil {
		return nil, fmt.Errorf("update scan: %w", err)
	}
	return &next, nil
}

// AddWarning appends a warning without changing the status.
func (r *Registry) AddWarning(ctx context.Context, id string, w Warning) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	if cur == nil {
		return ErrNotFound
	}
	next := cur.clone()
	next.Warnings = append(next.Warnings, w)
	next.UpdatedAt = r.now()
	return r.store.Update(ctx, next)
}

// Get returns the record for id, or nil when it does not exist.
func (r *Registry) Get(ctx context.Context, id string) (*Record, error) {
	return r.store.Get(ctx, id)
}

// List returns a snapshot of every record, oldest first.
func (r *Registry) List(ctx context.Context) ([]Record, error) {
	return r.store.List(ctx)
}
