// Package sessionmanager implements the Session Manager (spec §4.6):
// opaque-string-id-keyed session lookup with get-or-create semantics, an
// idle-eviction reaper, and interrupt-via-cancel.
//
// Grounded on the teacher's telegram.DefaultSessionManager RWMutex-map
// idiom (internal/interfaces/telegram/session_manager.go), restructured
// from an int64 chatID key with field-preserving reset semantics to an
// opaque string session id with TTL-based eviction instead of manual
// ClearSession calls, and on app.go's activeRuns sync.Map[int64]
// context.CancelFunc interrupt pattern, rekeyed by session id.
package sessionmanager

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/scheduler"
	"github.com/aomi-labs/orchestrator/internal/domain/session"
	domaintool "github.com/aomi-labs/orchestrator/internal/domain/tool"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
	"github.com/aomi-labs/orchestrator/internal/domain/worker"
)

// entry bundles one session's owned components plus its cancel func and
// worker lifetime, so Cancel and the reaper can tear everything down
// together.
type entry struct {
	state      *session.State
	bus        *eventbus.Bus
	wallet     *wallet.Slot
	sched      *scheduler.Handler
	worker     *worker.Worker
	cancel     context.CancelFunc
	stopWorker context.CancelFunc

	// pollCtx bounds the lifetime of any background async-completion
	// poller the application layer starts against this session's
	// scheduler handler (runtime.Runtime.asyncCompletionPoller); cancelled
	// on Evict so that poller can return instead of blocking forever.
	pollCtx    context.Context
	cancelPoll context.CancelFunc
}

// Manager owns every live session, keyed by opaque session id. Safe for
// concurrent use.
type Manager struct {
	mu      sync.RWMutex
	entries map[string]*entry

	scheduler   *scheduler.Manager
	logger      *zap.Logger
	hmacKey     []byte
	workerSetup func(*worker.Worker)

	idleTimeout      time.Duration
	cleanupInterval  time.Duration
	walletRequestTTL time.Duration

	stopReaper context.CancelFunc

	onResume func(sessionID string)

	// toolPolicy/toolRegistry implement the optional session-wide tool
	// namespace filter (spec §4.2/§4.3); both nil (the default) disables
	// filtering, offering every registered tool to every session.
	toolPolicy   *domaintool.Policy
	toolRegistry domaintool.Registry

	// restore/persist implement the optional §6.3 snapshot store; both nil
	// disables persistence entirely. Set via OnRestore/OnPersist.
	restore func(id string) (history []message.Message, processedEventIdx int, pending *wallet.Request, ok bool)
	persist func(id string, snap session.Snapshot)
}

// Config controls idle-eviction timing and session-id generation.
type Config struct {
	IdleTimeout      time.Duration // 0 disables idle eviction
	CleanupInterval  time.Duration // how often the reaper sweeps; default 1m
	WalletRequestTTL time.Duration // 0 disables wallet-approval timeout expiry
	HMACKey          []byte        // signs generated session ids; may be nil
}

// New returns a Manager with no sessions yet, and starts its reaper if
// cfg.IdleTimeout > 0 or cfg.WalletRequestTTL > 0 — the same sweep loop
// handles both idle eviction and wallet-request expiry.
func New(cfg Config, logger *zap.Logger) *Manager {
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = time.Minute
	}
	m := &Manager{
		entries:          make(map[string]*entry),
		scheduler:        scheduler.NewManager(),
		logger:           logger,
		hmacKey:          cfg.HMACKey,
		idleTimeout:      cfg.IdleTimeout,
		cleanupInterval:  cfg.CleanupInterval,
		walletRequestTTL: cfg.WalletRequestTTL,
	}
	if cfg.IdleTimeout > 0 || cfg.WalletRequestTTL > 0 {
		ctx, cancel := context.WithCancel(context.Background())
		m.stopReaper = cancel
		go m.reapLoop(ctx)
	}
	return m
}

// NewSessionID generates an opaque session id. When an HMAC key is
// configured the id is signed (uuid + "." + hex(hmac-sha256)) so a
// presented id can later be validated as one this process actually minted;
// otherwise a bare UUID is returned.
func (m *Manager) NewSessionID() string {
	id := uuid.NewString()
	if len(m.hmacKey) == 0 {
		return id
	}
	mac := hmac.New(sha256.New, m.hmacKey)
	mac.Write([]byte(id))
	return id + "." + hex.EncodeToString(mac.Sum(nil))
}

// GetOrCreate returns the session state for id, creating its backing
// event bus, wallet slot, tool scheduler handler and system worker on
// first use.
func (m *Manager) GetOrCreate(id string) *session.State {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if ok {
		e.state.Touch()
		return e.state
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok = m.entries[id]; ok {
		e.state.Touch()
		return e.state
	}

	bus := eventbus.New()
	w := wallet.NewSlot(m.logger)
	sched := m.scheduler.HandlerFor(id)
	sched.SetBus(bus)
	if m.toolPolicy != nil && m.toolRegistry != nil {
		sched.SetPolicy(domaintool.NewPolicyEnforcer(m.toolPolicy, m.toolRegistry))
	}
	st := session.New(id, bus, w, sched)

	if m.restore != nil {
		if history, idx, pending, ok := m.restore(id); ok {
			st.Restore(history, idx, pending)
			m.logger.Info("session restored from snapshot", zap.String("session_id", id))
		}
	}

	if m.onResume != nil {
		w.OnResolve(func(wallet.Response) { m.onResume(id) })
	}

	workerCtx, cancelWorker := context.WithCancel(context.Background())
	sw := worker.New(bus, m.logger, 0)
	if m.workerSetup != nil {
		m.workerSetup(sw)
	}
	go sw.Run(workerCtx, 0)

	pollCtx, cancelPoll := context.WithCancel(context.Background())
	m.entries[id] = &entry{state: st, bus: bus, wallet: w, sched: sched, worker: sw, stopWorker: cancelWorker, pollCtx: pollCtx, cancelPoll: cancelPoll}
	m.logger.Info("session created", zap.String("session_id", id))
	return st
}

// Wallet returns the wallet slot backing a session, or nil if unknown.
func (m *Manager) Wallet(id string) *wallet.Slot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.wallet
}

// SchedulerHandler returns the tool scheduler handler backing a session, or
// nil if unknown.
func (m *Manager) SchedulerHandler(id string) *scheduler.Handler {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.sched
}

// OnResume registers a callback the manager invokes when a session's
// wallet request resolves, i.e. when the session has new input the
// completion loop should pick up without a fresh user message — e.g. to
// retrigger RunTurn with an empty userText. Must be called before any
// session is created.
func (m *Manager) OnResume(fn func(sessionID string)) {
	m.mu.Lock()
	m.onResume = fn
	m.mu.Unlock()
}

// Worker returns the System Worker backing a session, or nil if unknown.
func (m *Manager) Worker(id string) *worker.Worker {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.worker
}

// OnWorkerSetup registers a callback invoked with each session's System
// Worker right after creation, so the application layer can register
// domain-specific request kinds (e.g. "gas_price") without this package
// needing to know about them.
func (m *Manager) OnWorkerSetup(fn func(*worker.Worker)) {
	m.mu.Lock()
	m.workerSetup = fn
	m.mu.Unlock()
}

// SetToolPolicy installs the namespace/tool allow-deny policy every session
// created after this call has its scheduler handler filtered through (spec
// §4.2/§4.3). Must be called before any session is created; policy may be
// nil to disable filtering again.
func (m *Manager) SetToolPolicy(policy *domaintool.Policy, registry domaintool.Registry) {
	m.mu.Lock()
	m.toolPolicy = policy
	m.toolRegistry = registry
	m.mu.Unlock()
}

// OnRestore registers the §6.3 snapshot loader, consulted once per session
// id the first time it's created in this process. Must be called before
// any session is created.
func (m *Manager) OnRestore(fn func(id string) (history []message.Message, processedEventIdx int, pending *wallet.Request, ok bool)) {
	m.mu.Lock()
	m.restore = fn
	m.mu.Unlock()
}

// OnPersist registers the §6.3 snapshot writer, invoked with a session's
// final snapshot right before Evict tears it down.
func (m *Manager) OnPersist(fn func(id string, snap session.Snapshot)) {
	m.mu.Lock()
	m.persist = fn
	m.mu.Unlock()
}

// PollContext returns a context cancelled when a session is evicted, for
// use by a long-lived background poller against that session's scheduler
// handler (e.g. runtime.Runtime.asyncCompletionPoller) so it can return
// instead of blocking forever past the session's lifetime. Returns a
// already-cancelled context if the session is unknown.
func (m *Manager) PollContext(id string) context.Context {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return e.pollCtx
}

// Bus returns the event bus backing a session, or nil if unknown.
func (m *Manager) Bus(id string) *eventbus.Bus {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	return e.bus
}

// SetRunCancel records the cancel function for a session's in-flight
// completion run, so a later Interrupt(id) can stop it. Call with nil to
// clear it once the run finishes.
func (m *Manager) SetRunCancel(id string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[id]; ok {
		e.cancel = cancel
	}
}

// Interrupt cancels a session's in-flight completion run, if any. Returns
// false if the session is unknown or has nothing running.
func (m *Manager) Interrupt(id string) bool {
	m.mu.RLock()
	e, ok := m.entries[id]
	m.mu.RUnlock()
	if !ok || e.cancel == nil {
		return false
	}
	e.cancel()
	return true
}

// Exists reports whether a session id is currently tracked.
func (m *Manager) Exists(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[id]
	return ok
}

// Evict tears down one session: stops its System Worker and drops its
// scheduler handler. Used by both the idle reaper and explicit cleanup.
func (m *Manager) Evict(id string) {
	m.mu.Lock()
	e, ok := m.entries[id]
	if ok {
		delete(m.entries, id)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.persist != nil {
		m.persist(id, e.state.Snapshot())
	}
	if e.cancel != nil {
		e.cancel()
	}
	if e.stopWorker != nil {
		e.stopWorker()
	}
	if e.cancelPoll != nil {
		e.cancelPoll()
	}
	m.scheduler.Drop(id)
	m.logger.Info("session evicted", zap.String("session_id", id))
}

// reapLoop periodically evicts sessions idle longer than idleTimeout.
func (m *Manager) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(m.cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.sweep()
		}
	}
}

// sweep evicts idle sessions and, independently, expires any wallet
// request that has outlived walletRequestTTL (spec §4.7's optional
// timeout) — resolution fires the wallet slot's OnResolve listeners
// (session.State's injected system note, and the manager's own onResume
// callback), so an expired request surfaces exactly like a real
// WalletTxResponse would.
func (m *Manager) sweep() {
	m.mu.RLock()
	var expired []string
	now := time.Now()
	wallets := make([]*wallet.Slot, 0, len(m.entries))
	for id, e := range m.entries {
		if m.idleTimeout > 0 && now.Sub(e.state.LastActivity()) > m.idleTimeout {
			expired = append(expired, id)
		}
		wallets = append(wallets, e.wallet)
	}
	m.mu.RUnlock()

	if m.walletRequestTTL > 0 {
		for _, w := range wallets {
			w.ExpireIfOlderThan(m.walletRequestTTL)
		}
	}

	for _, id := range expired {
		m.Evict(id)
	}
}

// Close stops the idle-eviction reaper. Existing sessions are left intact.
func (m *Manager) Close() {
	if m.stopReaper != nil {
		m.stopReaper()
	}
}
