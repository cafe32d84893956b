// Package queue is the durable local mutation queue. Every operation reads
// the whole persisted collection, mutates it, and writes it back.
package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Operation is the kind of mutation an item carries.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OperationCreate, OperationUpdate, OperationDelete:
		return true
	}
	return false
}

// Status is the lifecycle state of an item.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSyncing   Status = "syncing"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusSyncing, StatusFailed, StatusCompleted:
		return true
	}
	return false
}

// DefaultMaxAttempts bounds failed attempts when the producer sets none.
const DefaultMaxAttempts = 3

// Item is one pending local mutation.
type Item struct {
	ID           string          `json:"id"`
	TableName    string          `json:"table_name"`
	RecordID     string          `json:"record_id"`
	Operation    Operation       `json:"operation"`
	Data         json.RawMessage `json:"data,omitempty"`
	Priority     int             `json:"priority"`
	CreatedAt    time.Time       `json:"created_at"`
	Attempts     int             `json:"attempts"`
	MaxAttempts  int             `json:"max_attempts"`
	Status       Status          `json:"status"`
	ErrorMessage string          `json:"error_message,omitempty"`
}

// Exhausted reports whether the item has used up its attempts.
func (it Item) Exhausted() bool {
	return it.Attempts >= it.MaxAttempts
}

// NewItem is what a producer supplies; the store fills in the rest.
type NewItem struct {
	TableName   string          `json:"table_name"`
	RecordID    string          `json:"record_id"`
	Operation   Operation       `json:"operation"`
	Data        json.RawMessage `json:"data,omitempty"`
	Priority    int             `json:"priority"`
	MaxAttempts int             `json:"max_attempts,omitempty"`
}

// Validate checks the producer-supplied fields.
func (n NewItem) Validate() error {
	if n.TableName == "" {
		return fmt.Errorf("table_name required")
	}
	if n.RecordID == "" {
		return fmt.Errorf("record_id required")
	}
	if !n.Operation.Valid() {
		return fmt.Errorf("unknown operation: %q (use create, update, or delete)", n.Operation)
	}
	if n.MaxAttempts < 0 {
		return fmt.Errorf("max_attempts must not be negative")
	}
	if len(n.Data) > 0 && !json.Valid(n.Data) {
		return fmt.Errorf("data is not valid JSON")
	}
	return nil
}

// Patch carries the fields Update may change. Nil fields are left alone.
// A non-nil empty ErrorMessage clears the message.
type Patch struct {
	Status       *Status
	Attempts     *int
	ErrorMessage *string
}

func (p Patch) apply(it *Item) {
	if p.Status != nil {
		it.Status = *p.Status
	}
	if p.Attempts != nil {
		it.Attempts = *p.Attempts
	}
	if p.ErrorMessage != nil {
		it.ErrorMessage = *p.ErrorMessage
	}
}

// Stats counts items by status.
type Stats struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Syncing   int `json:"syncing"`
	Failed    int `json:"failed"`
	Completed int `json:"completed"`
}

// Sort orders items for draining: priority descending, then oldest first.
// The sort is stable so items with identical keys keep their stored order.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority > items[j].Priority
		}
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
}
