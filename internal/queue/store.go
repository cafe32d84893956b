package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clawinfra/evosync/internal/storage"
)

var (
	// ErrNotFound is returned when no item has the requested id.
	ErrNotFound = errors.New("queue: item not found")
	// ErrStorage wraps any failure of the underlying persistence.
	ErrStorage = errors.New("queue: storage failure")
	// ErrCorrupt is returned when the persisted collection cannot be decoded.
	// Validate repairs it.
	ErrCorrupt = errors.New("queue: persisted queue is unreadable")
	// ErrInvalidItem is returned by Enqueue when producer fields are rejected.
	ErrInvalidItem = errors.New("queue: invalid item")
)

// Store is the persisted queue. It owns the item collection and the
// last-sync scalar, both under one namespace in the KV.
type Store struct {
	kv          storage.KV
	queueKey    string
	lastSyncKey string
	maxAttempts int
	now         func() time.Time
	logger      *slog.Logger

	// mu serializes read-modify-write cycles within this process.
	mu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithMaxAttempts sets the default max_attempts for new items.
func WithMaxAttempts(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithClock overrides time.Now, mostly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithLogger sets the logger used for validation reports.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a store over kv. namespace prefixes both persisted keys.
func NewStore(kv storage.KV, namespace string, opts ...Option) *Store {
	if namespace == "" {
		namespace = "evosync"
	}
	s := &Store{
		kv:          kv,
		queueKey:    namespace + ":sync_queue",
		lastSyncKey: namespace + ":last_sync",
		maxAttempts: DefaultMaxAttempts,
		now:         time.Now,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "queue")
	return s
}

// Enqueue appends a new pending item and returns it.
func (s *Store) Enqueue(ctx context.Context, n NewItem) (Item, error) {
	if err := n.Validate(); err != nil {
		return Item{}, fmt.Errorf("%w: %w", ErrInvalidItem, err)
	}

	maxAttempts := n.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = s.maxAttempts
	}
	item := Item{
		ID:          uuid.New().String(),
		TableName:   n.TableName,
		RecordID:    n.RecordID,
		Operation:   n.Operation,
		Data:        n.Data,
		Priority:    n.Priority,
		CreatedAt:   s.now().UTC(),
		Attempts:    0,
		MaxAttempts: maxAttempts,
		Status:      StatusPending,
	}

	err := s.mutate(ctx, func(items []Item) ([]Item, error) {
		return append(items, item), nil
	})
	if err != nil {
		return Item{}, err
	}
	return item, nil
}

// List returns every item in drain order.
func (s *Store) List(ctx context.Context) ([]Item, error) {
	s.mu.Lock()
	items, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	Sort(items)
	return items, nil
}

// ListByStatus returns the items in status, in drain order.
func (s *Store) ListByStatus(ctx context.Context, status Status) ([]Item, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Status == status {
			out = append(out, it)
		}
	}
	return out, nil
}

// Pending is ListByStatus(StatusPending).
func (s *Store) Pending(ctx context.Context) ([]Item, error) {
	return s.ListByStatus(ctx, StatusPending)
}

// Drainable returns the items a drain cycle should look at, in drain order:
// everything pending plus failed items, which are re-evaluated each cycle
// until their attempts run out.
func (s *Store) Drainable(ctx context.Context) ([]Item, error) {
	items, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Item, 0, len(items))
	for _, it := range items {
		if it.Status == StatusPending || it.Status == StatusFailed {
			out = append(out, it)
		}
	}
	return out, nil
}

// Get returns one item by id.
func (s *Store) Get(ctx context.Context, id string) (Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return Item{}, err
	}
	for _, it := range items {
		if it.ID == id {
			return it, nil
		}
	}
	return Item{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Update merges patch into the item with id and returns the result.
func (s *Store) Update(ctx context.Context, id string, patch Patch) (Item, error) {
	if patch.Status != nil && !patch.Status.Valid() {
		return Item{}, fmt.Errorf("invalid status: %q", *patch.Status)
	}
	if patch.Attempts != nil && *patch.Attempts < 0 {
		return Item{}, fmt.Errorf("attempts must not be negative")
	}

	var updated Item
	err := s.mutate(ctx, func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].ID == id {
				patch.apply(&items[i])
				updated = items[i]
				return items, nil
			}
		}
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	})
	if err != nil {
		return Item{}, err
	}
	return updated, nil
}

// Remove deletes one item. Removing an unknown id is not an error.
func (s *Store) Remove(ctx context.Context, id string) error {
	return s.mutate(ctx, func(items []Item) ([]Item, error) {
		out := items[:0]
		for _, it := range items {
			if it.ID != id {
				out = append(out, it)
			}
		}
		return out, nil
	})
}

// ClearCompleted deletes all completed items and returns how many there were.
func (s *Store) ClearCompleted(ctx context.Context) (int, error) {
	removed := 0
	err := s.mutate(ctx, func(items []Item) ([]Item, error) {
		out := items[:0]
		for _, it := range items {
			if it.Status == StatusCompleted {
				removed++
				continue
			}
			out = append(out, it)
		}
		return out, nil
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// RetryFailed moves every failed item back to pending, clearing its error
// and resetting attempts so max_attempts bounds each retry round.
func (s *Store) RetryFailed(ctx context.Context) (int, error) {
	reset := 0
	err := s.mutate(ctx, func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].Status != StatusFailed {
				continue
			}
			items[i].Status = StatusPending
			items[i].Attempts = 0
			items[i].ErrorMessage = ""
			reset++
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	return reset, nil
}

// RequeueSyncing moves items left in syncing back to pending and returns how
// many were moved. Attempts are kept. Only call it while no drain is running.
func (s *Store) RequeueSyncing(ctx context.Context) (int, error) {
	moved := 0
	err := s.mutate(ctx, func(items []Item) ([]Item, error) {
		for i := range items {
			if items[i].Status == StatusSyncing {
				items[i].Status = StatusPending
				moved++
			}
		}
		return items, nil
	})
	if err != nil {
		return 0, err
	}
	return moved, nil
}

// Stats counts items by status.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	items, err := s.load(ctx)
	s.mu.Unlock()
	if err != nil {
		return Stats{}, err
	}

	var st Stats
	for _, it := range items {
		st.Total++
		switch it.Status {
		case StatusPending:
			st.Pending++
		case StatusSyncing:
			st.Syncing++
		case StatusFailed:
			st.Failed++
		case StatusCompleted:
			st.Completed++
		}
	}
	return st, nil
}

// LastSync returns the time of the last drain that synced anything.
// ok is false if no drain has succeeded yet.
func (s *Store) LastSync(ctx context.Context) (t time.Time, ok bool, err error) {
	raw, err := s.kv.Get(ctx, s.lastSyncKey)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: read last sync: %w", ErrStorage, err)
	}
	t, err = time.Parse(time.RFC3339, string(raw))
	if err != nil {
		return time.Time{}, false, fmt.Errorf("%w: parse last sync: %w", ErrCorrupt, err)
	}
	return t, true, nil
}

// SetLastSync records t as the last successful sync.
func (s *Store) SetLastSync(ctx context.Context, t time.Time) error {
	if err := s.kv.Put(ctx, s.lastSyncKey, []byte(t.UTC().Format(time.RFC3339))); err != nil {
		return fmt.Errorf("%w: write last sync: %w", ErrStorage, err)
	}
	return nil
}

// mutate runs one locked read-modify-write cycle. If fn fails nothing is written.
func (s *Store) mutate(ctx context.Context, fn func([]Item) ([]Item, error)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	items, err := s.load(ctx)
	if err != nil {
		return err
	}
	items, err = fn(items)
	if err != nil {
		return err
	}
	return s.save(ctx, items)
}

// load must be called with mu held.
func (s *Store) load(ctx context.Context) ([]Item, error) {
	raw, err := s.kv.Get(ctx, s.queueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return []Item{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: read queue: %w", ErrStorage, err)
	}

	var items []Item
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if items == nil {
		items = []Item{}
	}
	return items, nil
}

// save must be called with mu held.
func (s *Store) save(ctx context.Context, items []Item) error {
	if items == nil {
		items = []Item{}
	}
	raw, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("marshal queue: %w", err)
	}
	if err := s.kv.Put(ctx, s.queueKey, raw); err != nil {
		return fmt.Errorf("%w: write queue: %w", ErrStorage, err)
	}
	return nil
}
