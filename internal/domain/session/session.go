// Package session implements SessionState (spec §4.5): the per-session
// facade gluing chat history, the event bus, the wallet slot and the tool
// scheduler together, and exposing the tick()/apply_event()/snapshot
// operations the rest of the runtime drives it through.
//
// Grounded structurally on service.StateMachine's thread-safe
// snapshot-under-lock, listener-outside-lock idiom, generalized from one
// mutable struct to a facade composing several already-thread-safe
// components.
package session

import (
	"sync"
	"time"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/scheduler"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
)

// Snapshot is a read-only view of a session's state, safe to serialize for
// GET /api/state.
type Snapshot struct {
	SessionID         string           `json:"session_id"`
	History           []message.Message `json:"history"`
	EventCount        int              `json:"event_count"`
	ProcessedEventIdx int              `json:"processed_event_idx"`
	PendingWalletTx   *wallet.Request  `json:"pending_wallet_tx,omitempty"`
	IsProcessing      bool             `json:"is_processing"`
	LastActivity      time.Time        `json:"last_activity"`
}

// State is one session's full mutable state. The zero value is not usable;
// use New. Safe for concurrent use.
type State struct {
	mu sync.Mutex

	sessionID string
	history   *message.History
	bus       *eventbus.Bus
	wallet    *wallet.Slot
	scheduler *scheduler.Handler

	processedEventIdx int
	isProcessing      bool
	lastActivity      time.Time

	// injected holds synthetic messages queued for the completion loop's
	// next turn — e.g. the wallet resolution note. Tick drains and
	// returns it.
	injected []message.Message
}

// New returns a fresh SessionState wired to the given bus, wallet slot and
// scheduler handler (all owned by the caller — typically the application's
// session manager, one set per session id).
func New(sessionID string, bus *eventbus.Bus, w *wallet.Slot, sched *scheduler.Handler) *State {
	s := &State{
		sessionID:    sessionID,
		history:      message.NewHistory(),
		bus:          bus,
		wallet:       w,
		scheduler:    sched,
		lastActivity: time.Now(),
	}
	w.OnResolve(s.onWalletResolved)
	return s
}

// Restore hydrates a freshly-constructed session from a previously saved
// snapshot (spec §6.3), before it is handed to any caller. history replays
// in order; a pending wallet request (if any) is re-armed through the
// wallet slot's ordinary Request, which succeeds because the slot is idle
// immediately after New.
func (s *State) Restore(history []message.Message, processedEventIdx int, pending *wallet.Request) {
	s.mu.Lock()
	s.history.Append(history...)
	s.processedEventIdx = processedEventIdx
	s.mu.Unlock()

	if pending != nil {
		_ = s.wallet.Request(pending.CallID, pending.Payload)
	}
}

// Touch records activity, resetting the idle-eviction clock.
func (s *State) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// LastActivity reports when Touch was last called.
func (s *State) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetProcessing marks whether a completion is currently in flight, so
// concurrent POST /api/chat calls for the same session can be rejected.
func (s *State) SetProcessing(v bool) {
	s.mu.Lock()
	s.isProcessing = v
	s.mu.Unlock()
}

// IsProcessing reports whether a completion is currently in flight.
func (s *State) IsProcessing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isProcessing
}

// AppendUser appends a user message to history and touches the session.
func (s *State) AppendUser(text string) {
	s.mu.Lock()
	s.history.Append(message.UserText(text))
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

// History returns a snapshot copy of the chat history.
func (s *State) History() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Messages()
}

// AppendAssistant appends completion-loop output (text, tool calls and
// their results) to history. Tool results arriving as pending (the async
// ack) are recorded via message.PendingToolResult by the caller before
// calling this.
func (s *State) AppendAssistant(msgs ...message.Message) {
	s.mu.Lock()
	s.history.Append(msgs...)
	s.mu.Unlock()
}

// PendingToolCallIDs returns the call ids of AssistantToolCall entries that
// have not yet been resolved with a matching ToolResult.
func (s *State) PendingToolCallIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.PendingToolCallIDs()
}

// Tick folds any completed scheduler results into history, rewriting their
// placeholders in place, and drains any synthetic messages injected by
// ApplyEvent (e.g. a wallet resolution). It returns the messages just
// injected so the caller knows whether the completion loop should be
// retriggered. Tick never blocks — it only ever consumes what is already
// ready.
func (s *State) Tick() []message.Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range s.history.Messages() {
		if m.Kind != message.KindToolResult || !m.Pending {
			continue
		}
		callID := m.ToolResultFor
		res, err := s.scheduler.TakeCompleted(callID)
		if err != nil {
			continue // not ready yet
		}
		content := res.Output
		errText := res.Error
		if !res.Success && errText == "" {
			errText = content
		}
		s.history.ReplacePlaceholder(callID, content, errText)
	}

	drained := s.injected
	s.injected = nil
	return drained
}

// ApplyEvent applies a system event pushed through the bus to session
// state, per spec §6.1. WalletTxResponse resolves the wallet slot (which
// in turn queues an injected system note via onWalletResolved); UserRequest
// /UserResponse pass straight through to the System Worker and require no
// state change here.
func (s *State) ApplyEvent(evt sysevent.Event) {
	switch evt.Kind {
	case sysevent.KindWalletTxResponse:
		_, _ = s.wallet.Resolve(wallet.Response{Status: evt.Status, TxHash: evt.TxHash, Detail: evt.Detail})
	}
}

// onWalletResolved is registered with the wallet slot in New. It does not
// rewrite a ToolResult placeholder — the original send_transaction_to_wallet
// call was already resolved by its own immediate ack — instead it injects a
// fresh system note describing the outcome for the completion loop's next
// turn (spec §4.7, scenario S3).
func (s *State) onWalletResolved(resp wallet.Response) {
	text := "wallet transaction " + resp.Status
	if resp.TxHash != "" {
		text += ": " + resp.TxHash
	}
	if resp.Detail != "" {
		text += " (" + resp.Detail + ")"
	}

	s.mu.Lock()
	note := message.SystemNote(text)
	s.history.Append(note)
	s.injected = append(s.injected, note)
	s.mu.Unlock()
}

// Snapshot returns a serializable view of session state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		SessionID:         s.sessionID,
		History:           s.history.Messages(),
		EventCount:        s.bus.Len(),
		ProcessedEventIdx: s.processedEventIdx,
		IsProcessing:      s.isProcessing,
		LastActivity:      s.lastActivity,
	}
	if req, ok := s.wallet.Pending(); ok {
		snap.PendingWalletTx = &req
	}
	return snap
}

// AdvanceWatermark records that events up to idx have been processed
// (e.g. forwarded over SSE), so future reads can resume from there.
func (s *State) AdvanceWatermark(idx int) {
	s.mu.Lock()
	if idx > s.processedEventIdx {
		s.processedEventIdx = idx
	}
	s.mu.Unlock()
}

// Watermark returns the last processed event index.
func (s *State) Watermark() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.processedEventIdx
}
