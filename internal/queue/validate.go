package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clawinfra/evosync/internal/storage"
)

// ValidationReport summarizes a Validate pass.
type ValidationReport struct {
	Removed    int  `json:"removed"`
	Kept       int  `json:"kept"`
	Recovered  int  `json:"recovered"`
	Normalized int  `json:"normalized"`
	Reset      bool `json:"reset"`
}

// Validate drops persisted records that fail a structural check and puts
// items left in syncing by an interrupted drain back to pending. It is meant
// to run once at startup, before any drain. It never fails; problems are
// logged and reflected in the report.
func (s *Store) Validate(ctx context.Context) ValidationReport {
	s.mu.Lock()
	defer s.mu.Unlock()

	var report ValidationReport

	raw, err := s.kv.Get(ctx, s.queueKey)
	if errors.Is(err, storage.ErrNotFound) {
		return report
	}
	if err != nil {
		s.logger.Error("queue validation skipped: cannot read queue", "error", err)
		return report
	}

	var records []json.RawMessage
	if err := json.Unmarshal(raw, &records); err != nil {
		s.logger.Error("persisted queue unreadable, resetting", "error", err)
		if err := s.save(ctx, nil); err != nil {
			s.logger.Error("queue reset failed", "error", err)
			return report
		}
		report.Reset = true
		return report
	}

	kept := make([]Item, 0, len(records))
	for i, rec := range records {
		if err := checkRecord(rec); err != nil {
			s.logger.Warn("dropping malformed queue record", "index", i, "error", err)
			report.Removed++
			continue
		}
		var it Item
		if err := json.Unmarshal(rec, &it); err != nil {
			s.logger.Warn("dropping malformed queue record", "index", i, "error", err)
			report.Removed++
			continue
		}
		if it.Status == StatusSyncing {
			it.Status = StatusPending
			report.Recovered++
		}
		// A zero bound would fail the item every cycle without sending it.
		if it.MaxAttempts == 0 {
			it.MaxAttempts = s.maxAttempts
			report.Normalized++
		}
		kept = append(kept, it)
	}
	report.Kept = len(kept)

	if report.Removed > 0 || report.Recovered > 0 || report.Normalized > 0 {
		if err := s.save(ctx, kept); err != nil {
			s.logger.Error("writing validated queue failed", "error", err)
			return report
		}
	}

	s.logger.Info("queue validated",
		"removed", report.Removed,
		"kept", report.Kept,
		"recovered", report.Recovered,
		"normalized", report.Normalized)
	return report
}

// checkRecord verifies field presence and JSON types of one persisted item.
func checkRecord(raw json.RawMessage) error {
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return fmt.Errorf("not an object: %w", err)
	}

	for _, key := range []string{"id", "table_name", "record_id"} {
		v, ok := m[key].(string)
		if !ok || v == "" {
			return fmt.Errorf("%s must be a non-empty string", key)
		}
	}

	op, ok := m["operation"].(string)
	if !ok || !Operation(op).Valid() {
		return fmt.Errorf("operation must be create, update, or delete")
	}
	status, ok := m["status"].(string)
	if !ok || !Status(status).Valid() {
		return fmt.Errorf("status must be pending, syncing, failed, or completed")
	}

	if _, ok := m["priority"].(float64); !ok {
		return fmt.Errorf("priority must be a number")
	}
	for _, key := range []string{"attempts", "max_attempts"} {
		v, ok := m[key].(float64)
		if !ok || v < 0 || v != float64(int(v)) {
			return fmt.Errorf("%s must be a non-negative integer", key)
		}
	}

	created, ok := m["created_at"].(string)
	if !ok {
		return fmt.Errorf("created_at must be a timestamp string")
	}
	if _, err := time.Parse(time.RFC3339Nano, created); err != nil {
		return fmt.Errorf("created_at: %w", err)
	}

	if v, present := m["error_message"]; present {
		if _, ok := v.(string); !ok {
			return fmt.Errorf("error_message must be a string")
		}
	}
	return nil
}
