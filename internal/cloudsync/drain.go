package cloudsync

import (
	"context"
	"fmt"
	"time"

	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/remote"
)

const maxAttemptsMessage = "max attempts reached"

// drain runs one cycle. The caller has set the syncing flag; drain clears it.
func (m *Manager) drain(ctx context.Context) Result {
	start := time.Now()
	res := Result{Errors: []string{}}
	m.emit(Event{Type: EventSyncStarted})

	// Items still marked syncing were stranded by a storage failure in an
	// earlier cycle; no other drain can own them while the flag is held.
	if n, err := m.store.RequeueSyncing(ctx); err != nil {
		m.logger.Warn("requeue stranded items", "error", err)
	} else if n > 0 {
		m.logger.Info("stranded items requeued", "count", n)
	}

	items, err := m.store.Drainable(ctx)
	if err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("load queue: %v", err))
		m.logger.Error("load queue", "error", err)
	}
	m.logger.Info("sync started", "items", len(items))

	for _, it := range items {
		m.processItem(ctx, it, &res)
	}

	if res.Synced > 0 {
		if err := m.store.SetLastSync(ctx, m.now()); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("record last sync: %v", err))
			m.logger.Error("record last sync", "error", err)
		}
		m.processRemote(ctx)
	}

	res.Success = len(res.Errors) == 0
	m.syncing.Store(false)

	// Checked after the flag clears: an Enqueue that saw the flag set has
	// already persisted its item, so the check below sees it.
	m.scheduleFollowUp(ctx)

	m.logger.Info("sync completed",
		"synced", res.Synced,
		"failed", res.Failed,
		"errors", len(res.Errors),
		"duration", time.Since(start))
	completed := res
	completed.Errors = append([]string(nil), res.Errors...)
	m.emit(Event{Type: EventSyncCompleted, Result: &completed})
	return res
}

// processItem handles one snapshot entry. Nothing that goes wrong here
// stops the loop.
func (m *Manager) processItem(ctx context.Context, it queue.Item, res *Result) {
	defer func() {
		if r := recover(); r != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("item %s: panic: %v", it.ID, r))
			m.logger.Error("item processing panicked", "id", it.ID, "panic", r)
		}
	}()

	if it.Exhausted() {
		m.markExhausted(ctx, it, res)
		return
	}

	syncing := queue.StatusSyncing
	if _, err := m.store.Update(ctx, it.ID, queue.Patch{Status: &syncing}); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("item %s: %v", it.ID, err))
		m.logger.Error("mark item syncing", "id", it.ID, "error", err)
		return
	}
	it.Status = syncing

	err := m.remote.SyncItem(ctx, it)
	if err == nil {
		m.completeItem(ctx, it, res)
		return
	}
	m.failItem(ctx, it, err, res)
}

func (m *Manager) completeItem(ctx context.Context, it queue.Item, res *Result) {
	// Completed items are removed rather than stored as completed.
	if err := m.store.Remove(ctx, it.ID); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("item %s: synced but not removed: %v", it.ID, err))
		m.logger.Error("remove synced item", "id", it.ID, "error", err)
		return
	}
	res.Synced++
	m.logger.Debug("item synced", "id", it.ID, "table", it.TableName, "record", it.RecordID)
	m.emit(itemEvent(EventItemSynced, it, ""))
}

func (m *Manager) failItem(ctx context.Context, it queue.Item, syncErr error, res *Result) {
	failed := queue.StatusFailed
	attempts := it.Attempts + 1
	msg := syncErr.Error()

	if _, err := m.store.Update(ctx, it.ID, queue.Patch{
		Status:       &failed,
		Attempts:     &attempts,
		ErrorMessage: &msg,
	}); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("item %s: %v", it.ID, err))
		m.logger.Error("mark item failed", "id", it.ID, "error", err)
	}
	it.Attempts = attempts
	res.Failed++

	kind := remote.KindOf(syncErr)
	m.logger.Warn("item sync failed",
		"id", it.ID,
		"kind", kind,
		"attempts", attempts,
		"max_attempts", it.MaxAttempts,
		"error", syncErr)

	m.emit(itemEvent(EventItemFailed, it, msg))
	if kind == remote.KindAuth {
		m.emit(itemEvent(EventAuthError, it, msg))
	}
}

func (m *Manager) markExhausted(ctx context.Context, it queue.Item, res *Result) {
	failed := queue.StatusFailed
	msg := maxAttemptsMessage
	if _, err := m.store.Update(ctx, it.ID, queue.Patch{Status: &failed, ErrorMessage: &msg}); err != nil {
		res.Errors = append(res.Errors, fmt.Sprintf("item %s: %v", it.ID, err))
		m.logger.Error("mark item exhausted", "id", it.ID, "error", err)
		return
	}
	res.Failed++
	m.logger.Debug("item skipped, attempts exhausted", "id", it.ID, "attempts", it.Attempts)
	m.emit(itemEvent(EventItemFailed, it, msg))
}

// processRemote asks the remote to process what it accepted. Best effort.
func (m *Manager) processRemote(ctx context.Context) {
	pr, err := m.remote.ProcessPending(ctx)
	if err != nil {
		m.logger.Warn("remote processing failed", "error", err)
		return
	}
	m.logger.Info("remote processing finished",
		"total_processed", pr.TotalProcessed,
		"failed_count", pr.FailedCount,
		"errors", pr.Errors)
}

// scheduleFollowUp arms a single delayed drain if new items arrived during
// the cycle. At most one follow-up is pending at any time.
func (m *Manager) scheduleFollowUp(ctx context.Context) {
	pending, err := m.store.Pending(ctx)
	if err != nil {
		m.logger.Warn("follow-up check", "error", err)
		return
	}
	if len(pending) == 0 || !m.monitor.IsOnline() {
		return
	}
	if !m.followUp.CompareAndSwap(false, true) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		m.followUp.Store(false)
		return
	}

	m.wg.Add(1)
	m.followTimer = time.AfterFunc(m.opts.FollowUpDelay, func() {
		defer m.wg.Done()
		m.mu.Lock()
		m.followTimer = nil
		m.mu.Unlock()
		m.followUp.Store(false)

		res := m.Sync(context.Background())
		m.logger.Debug("follow-up sync finished",
			"synced", res.Synced,
			"failed", res.Failed)
	})
	m.logger.Debug("follow-up sync scheduled", "pending", len(pending), "delay", m.opts.FollowUpDelay)
}

func (m *Manager) emit(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = m.now()
	}
	m.events.publish(ev)
}

func itemEvent(t EventType, it queue.Item, errMsg string) Event {
	return Event{
		Type:      t,
		ItemID:    it.ID,
		TableName: it.TableName,
		RecordID:  it.RecordID,
		Attempts:  it.Attempts,
		Error:     errMsg,
	}
}
