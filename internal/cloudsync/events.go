package cloudsync

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrTooManyListeners is returned by Subscribe when the registry is full.
var ErrTooManyListeners = errors.New("cloudsync: too many listeners")

// EventType names a point in the drain lifecycle.
type EventType string

const (
	EventSyncStarted   EventType = "sync_started"
	EventItemSynced    EventType = "item_synced"
	EventItemFailed    EventType = "item_failed"
	EventSyncCompleted EventType = "sync_completed"
	EventAuthError     EventType = "auth_error"
)

// Event is delivered to listeners as each lifecycle point occurs.
// Item fields are set for item events; Result only for sync_completed.
type Event struct {
	Type      EventType `json:"type"`
	Time      time.Time `json:"time"`
	ItemID    string    `json:"item_id,omitempty"`
	TableName string    `json:"table_name,omitempty"`
	RecordID  string    `json:"record_id,omitempty"`
	Attempts  int       `json:"attempts,omitempty"`
	Error     string    `json:"error,omitempty"`
	Result    *Result   `json:"result,omitempty"`
}

// Listener receives events synchronously on the draining goroutine.
type Listener func(Event)

type subscription struct {
	id int
	fn Listener
}

// bus is a bounded listener registry with synchronous, isolated delivery.
type bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	max    int
	logger *slog.Logger
}

func newBus(max int, logger *slog.Logger) *bus {
	return &bus{max: max, logger: logger}
}

func (b *bus) subscribe(fn Listener) (func(), error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.subs) >= b.max {
		return nil, ErrTooManyListeners
	}
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscription{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(id) })
	}, nil
}

func (b *bus) unsubscribe(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *bus) publish(ev Event) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

func (b *bus) deliver(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
