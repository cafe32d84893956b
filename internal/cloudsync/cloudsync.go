// Package cloudsync drains the local mutation queue to the remote service.
//
// A Manager is the only thing that decides when the queue is drained. It
// guarantees:
//   - at most one drain runs at a time per Manager
//   - no network I/O happens while the monitor reports offline
//   - each item is attempted at most max_attempts times per retry round
//   - listeners see every lifecycle event synchronously, in order
//
// Drains are triggered by connectivity coming back, a periodic job, an
// enqueue while online, an explicit Sync call, and one bounded follow-up
// after a cycle that left new work behind.
package cloudsync

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/clawinfra/evosync/internal/netmon"
	"github.com/clawinfra/evosync/internal/queue"
	"github.com/clawinfra/evosync/internal/remote"
	"github.com/clawinfra/evosync/internal/scheduler"
)

const periodicJobID = "periodic-sync"

// Reasons reported in Result.Errors when a drain does not run.
const (
	ReasonInProgress = "sync already in progress"
	ReasonOffline    = "offline"
	ReasonStopped    = "sync manager stopped"
)

// Monitor is the connectivity collaborator.
type Monitor interface {
	IsOnline() bool
	CheckConnection(ctx context.Context) bool
	AddListener(fn netmon.Listener) func()
}

// Remote is the part of the remote client a drain needs.
type Remote interface {
	SyncItem(ctx context.Context, it queue.Item) error
	ProcessPending(ctx context.Context) (remote.ProcessResult, error)
}

// Options tunes a Manager. Zero values fall back to defaults.
type Options struct {
	AutoSync      bool
	Interval      time.Duration
	Schedule      string // cron expression; overrides Interval when set
	Timezone      string
	FollowUpDelay time.Duration
	MaxListeners  int
	// Scheduler runs the periodic job. If nil the Manager owns one.
	Scheduler *scheduler.Scheduler
}

// DefaultOptions returns auto-sync on, a 5 minute interval and a 1 second
// follow-up delay.
func DefaultOptions() Options {
	return Options{
		AutoSync:      true,
		Interval:      5 * time.Minute,
		FollowUpDelay: time.Second,
		MaxListeners:  32,
	}
}

// Result is the aggregate outcome of one Sync call.
type Result struct {
	Success bool     `json:"success"`
	Synced  int      `json:"synced"`
	Failed  int      `json:"failed"`
	Errors  []string `json:"errors"`
}

func skipped(reason string) Result {
	return Result{Errors: []string{reason}}
}

// Stats is the manager's view of local state.
type Stats struct {
	Local           queue.Stats `json:"local"`
	LastSync        *time.Time  `json:"last_sync"`
	IsOnline        bool        `json:"is_online"`
	IsSyncing       bool        `json:"is_syncing"`
	AutoSyncEnabled bool        `json:"auto_sync_enabled"`
}

// Manager owns the drain cycle for one queue.
type Manager struct {
	store   *queue.Store
	monitor Monitor
	remote  Remote
	opts    Options
	sched   *scheduler.Scheduler
	events  *bus
	logger  *slog.Logger
	now     func() time.Time

	syncing  atomic.Bool
	followUp atomic.Bool
	autoSync atomic.Bool

	mu          sync.Mutex
	running     bool
	closed      bool
	ownsSched   bool
	unsubscribe func()
	followTimer *time.Timer
	interval    time.Duration

	wg sync.WaitGroup
}

// NewManager builds a manager over its three collaborators.
func NewManager(store *queue.Store, monitor Monitor, rc Remote, opts Options, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultOptions()
	if opts.Interval <= 0 {
		opts.Interval = def.Interval
	}
	if opts.FollowUpDelay <= 0 {
		opts.FollowUpDelay = def.FollowUpDelay
	}
	if opts.MaxListeners <= 0 {
		opts.MaxListeners = def.MaxListeners
	}
	logger = logger.With("component", "cloudsync")

	m := &Manager{
		store:    store,
		monitor:  monitor,
		remote:   rc,
		opts:     opts,
		sched:    opts.Scheduler,
		events:   newBus(opts.MaxListeners, logger),
		logger:   logger,
		now:      time.Now,
		interval: opts.Interval,
	}
	if m.sched == nil {
		m.sched = scheduler.NewScheduler(logger)
		m.ownsSched = true
	}
	m.autoSync.Store(opts.AutoSync)
	return m
}

// Start validates persisted state, subscribes to connectivity changes and
// registers the periodic job.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return fmt.Errorf("sync manager already running")
	}
	if m.closed {
		return fmt.Errorf("sync manager stopped")
	}

	report := m.store.Validate(ctx)
	if report.Removed > 0 || report.Recovered > 0 || report.Normalized > 0 || report.Reset {
		m.logger.Warn("queue repaired on start",
			"removed", report.Removed,
			"recovered", report.Recovered,
			"normalized", report.Normalized,
			"reset", report.Reset)
	}

	if err := m.sched.AddJob(m.periodicJob()); err != nil {
		return fmt.Errorf("register periodic sync: %w", err)
	}
	if m.ownsSched {
		if err := m.sched.Start(ctx); err != nil {
			_ = m.sched.RemoveJob(periodicJobID)
			return fmt.Errorf("start scheduler: %w", err)
		}
	}

	m.unsubscribe = m.monitor.AddListener(m.onConnectivity)
	m.running = true

	m.logger.Info("sync manager started",
		"auto_sync", m.autoSync.Load(),
		"interval", m.interval,
		"schedule", m.opts.Schedule,
		"pending", report.Kept)
	return nil
}

// Stop unsubscribes, cancels any scheduled follow-up and waits for
// in-flight drains to finish. An active drain always completes.
func (m *Manager) Stop() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	wasRunning := m.running
	m.running = false

	if m.unsubscribe != nil {
		m.unsubscribe()
		m.unsubscribe = nil
	}
	if m.followTimer != nil && m.followTimer.Stop() {
		m.followUp.Store(false)
		m.wg.Done()
	}
	m.followTimer = nil
	m.mu.Unlock()

	if wasRunning {
		if m.ownsSched {
			m.sched.Stop()
		} else {
			_ = m.sched.RemoveJob(periodicJobID)
		}
	}

	m.wg.Wait()
	m.logger.Info("sync manager stopped")
}

// Enqueue records a mutation. If the device is online and no drain is
// active, a drain is started in the background; an active drain picks the
// item up through its follow-up.
func (m *Manager) Enqueue(ctx context.Context, n queue.NewItem) (queue.Item, error) {
	it, err := m.store.Enqueue(ctx, n)
	if err != nil {
		return queue.Item{}, err
	}
	m.logger.Debug("item enqueued",
		"id", it.ID,
		"table", it.TableName,
		"record", it.RecordID,
		"operation", it.Operation)

	if m.monitor.IsOnline() && !m.syncing.Load() {
		m.goSync("enqueue")
	}
	return it, nil
}

// Sync runs one drain cycle now and returns its aggregate result. It never
// returns an error: skipped cycles and infrastructure failures are reported
// in Result.Errors. The cycle is not cancelled with ctx.
func (m *Manager) Sync(ctx context.Context) Result {
	if !m.syncing.CompareAndSwap(false, true) {
		return skipped(ReasonInProgress)
	}
	ctx = context.WithoutCancel(ctx)

	if m.isClosed() {
		m.syncing.Store(false)
		return skipped(ReasonStopped)
	}
	if !m.monitor.CheckConnection(ctx) {
		m.syncing.Store(false)
		m.logger.Debug("sync skipped, offline")
		return skipped(ReasonOffline)
	}
	return m.drain(ctx)
}

// RetryFailedItems moves failed items back to pending with fresh attempts
// and drains. It returns how many items were reset.
func (m *Manager) RetryFailedItems(ctx context.Context) (int, Result) {
	n, err := m.store.RetryFailed(ctx)
	if err != nil {
		m.logger.Error("retry failed items", "error", err)
		return 0, Result{Errors: []string{err.Error()}}
	}
	m.logger.Info("failed items reset", "count", n)
	return n, m.Sync(ctx)
}

// ClearCompleted removes leftover completed items from the store.
func (m *Manager) ClearCompleted(ctx context.Context) (int, error) {
	return m.store.ClearCompleted(ctx)
}

// PendingItems returns pending items in drain order.
func (m *Manager) PendingItems(ctx context.Context) ([]queue.Item, error) {
	return m.store.Pending(ctx)
}

// Items lists the queue, optionally filtered by status.
func (m *Manager) Items(ctx context.Context, status queue.Status) ([]queue.Item, error) {
	if status == "" {
		return m.store.List(ctx)
	}
	return m.store.ListByStatus(ctx, status)
}

// Stats reports local queue counts and manager state.
func (m *Manager) Stats(ctx context.Context) (Stats, error) {
	local, err := m.store.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	st := Stats{
		Local:           local,
		IsOnline:        m.monitor.IsOnline(),
		IsSyncing:       m.syncing.Load(),
		AutoSyncEnabled: m.autoSync.Load(),
	}
	last, ok, err := m.store.LastSync(ctx)
	if err != nil {
		m.logger.Warn("read last sync", "error", err)
	} else if ok {
		st.LastSync = &last
	}
	return st, nil
}

// SetAutoSync toggles the periodic and connectivity triggers. Explicit
// Sync calls are unaffected.
func (m *Manager) SetAutoSync(enabled bool) {
	if m.autoSync.Swap(enabled) != enabled {
		m.logger.Info("auto sync changed", "enabled", enabled)
	}
}

// AutoSyncEnabled reports the auto-sync toggle.
func (m *Manager) AutoSyncEnabled() bool {
	return m.autoSync.Load()
}

// SetInterval changes the periodic interval. It has no effect when a cron
// schedule is configured.
func (m *Manager) SetInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("interval must be positive")
	}
	m.mu.Lock()
	if m.interval == d {
		m.mu.Unlock()
		return nil
	}
	m.interval = d
	if !m.running || m.opts.Schedule != "" {
		m.mu.Unlock()
		return nil
	}
	job := m.periodicJob()
	m.mu.Unlock()

	// UpdateJob waits for a running periodic drain, which may need mu.
	if err := m.sched.UpdateJob(job); err != nil {
		return fmt.Errorf("update periodic sync: %w", err)
	}
	m.logger.Info("sync interval changed", "interval", d)
	return nil
}

// Subscribe registers a listener and returns its unsubscribe func.
func (m *Manager) Subscribe(fn Listener) (func(), error) {
	return m.events.subscribe(fn)
}

// periodicJob must be called with mu held.
func (m *Manager) periodicJob() *scheduler.Job {
	schedule := scheduler.Every(m.interval)
	if m.opts.Schedule != "" {
		schedule = scheduler.Cron(m.opts.Schedule, m.opts.Timezone)
	}
	return &scheduler.Job{
		ID:       periodicJobID,
		Name:     "Periodic queue sync",
		Schedule: schedule,
		Enabled:  true,
		Task:     m.periodicSync,
	}
}

func (m *Manager) periodicSync(ctx context.Context) error {
	if !m.autoSync.Load() || !m.monitor.IsOnline() {
		return nil
	}
	res := m.Sync(ctx)
	if res.Success || isSkip(res) {
		return nil
	}
	if len(res.Errors) > 0 {
		return fmt.Errorf("periodic sync: %s", res.Errors[0])
	}
	return nil
}

func (m *Manager) onConnectivity(online bool) {
	if !online {
		m.logger.Info("connectivity lost, sync paused")
		return
	}
	if !m.autoSync.Load() {
		return
	}
	m.logger.Info("connectivity restored, starting sync")
	m.goSync("reconnect")
}

// goSync runs Sync in a tracked goroutine unless the manager is stopped.
func (m *Manager) goSync(trigger string) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		res := m.Sync(context.Background())
		m.logger.Debug("triggered sync finished",
			"trigger", trigger,
			"synced", res.Synced,
			"failed", res.Failed,
			"errors", len(res.Errors))
	}()
}

func (m *Manager) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func isSkip(res Result) bool {
	if res.Synced != 0 || res.Failed != 0 || len(res.Errors) != 1 {
		return false
	}
	switch res.Errors[0] {
	case ReasonInProgress, ReasonOffline, ReasonStopped:
		return true
	}
	return false
}
