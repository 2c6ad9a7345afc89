// Package wallet implements the per-session Wallet Protocol state machine
// (spec §4.7): a single-slot Idle→Pending→Idle cycle gating
// send_transaction_to_wallet calls against the UI's WalletTxResponse event.
//
// Grounded structurally on service.StateMachine's transition-table idiom
// (validTransitions map + listener-outside-lock notification), adapted from
// an unbounded multi-state agent lifecycle to this protocol's two states
// plus one in-flight request slot.
package wallet

import (
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State is the wallet slot's discrete state.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
)

// ErrSlotOccupied is returned by Request when a wallet transaction is
// already pending approval — the spec allows exactly one outstanding
// request per session; a second concurrent request is rejected immediately
// rather than queued (see SPEC_FULL.md Open Question decisions).
var ErrSlotOccupied = errors.New("wallet: a transaction is already pending approval")

// ErrNoPendingRequest is returned by Resolve when there is nothing to
// resolve — e.g. a stale or duplicate WalletTxResponse event.
var ErrNoPendingRequest = errors.New("wallet: no pending transaction to resolve")

// Request is the payload recorded while a transaction awaits approval.
type Request struct {
	CallID    string // the AssistantToolCall id that initiated the request
	Payload   string // opaque transaction payload shown to the user/wallet
	CreatedAt time.Time
}

// Response is the outcome of a resolved request.
type Response struct {
	Status string // e.g. "approved", "rejected"
	TxHash string
	Detail string
}

// Slot is one session's wallet protocol state. Thread-safe.
type Slot struct {
	mu        sync.Mutex
	state     State
	pending   *Request
	listeners []func(Response)
	logger    *zap.Logger
}

// NewSlot returns an idle wallet slot.
func NewSlot(logger *zap.Logger) *Slot {
	return &Slot{state: StateIdle, logger: logger}
}

// State returns the current state.
func (s *Slot) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Pending returns the in-flight request, if any.
func (s *Slot) Pending() (Request, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending == nil {
		return Request{}, false
	}
	return *s.pending, true
}

// Request transitions Idle -> Pending, recording the transaction payload.
// Called from send_transaction_to_wallet's Execute before it pushes the
// wallet request event; it is a programming error for the tool to call this
// twice for the same call id without an intervening Resolve.
func (s *Slot) Request(callID, payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state != StateIdle {
		return ErrSlotOccupied
	}
	s.state = StatePending
	s.pending = &Request{CallID: callID, Payload: payload, CreatedAt: time.Now()}
	s.logger.Info("wallet tx pending", zap.String("call_id", callID))
	return nil
}

// Resolve transitions Pending -> Idle and notifies listeners with the
// outcome. Called when a WalletTxResponse system event arrives. Unlike the
// generic async-tool placeholder/resumption mechanism, resolution here
// does not rewrite a ToolResult in chat history — it injects a fresh
// system note into the completion loop's next turn (see
// SessionState.ApplyEvent), since the original send_transaction_to_wallet
// call was already resolved by its own immediate ack.
func (s *Slot) Resolve(resp Response) (Request, error) {
	s.mu.Lock()
	if s.state != StatePending || s.pending == nil {
		s.mu.Unlock()
		return Request{}, ErrNoPendingRequest
	}
	req := *s.pending
	s.state = StateIdle
	s.pending = nil
	listeners := make([]func(Response), len(s.listeners))
	copy(listeners, s.listeners)
	s.mu.Unlock()

	s.logger.Info("wallet tx resolved",
		zap.String("call_id", req.CallID),
		zap.String("status", resp.Status),
	)

	for _, fn := range listeners {
		fn(resp)
	}
	return req, nil
}

// OnResolve registers a listener invoked (outside the slot's lock) whenever
// a pending request resolves.
func (s *Slot) OnResolve(fn func(Response)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ExpireIfOlderThan clears a pending request that has outlived ttl,
// resolving it as a synthetic timeout so the session doesn't wedge forever
// waiting on a wallet that never answered. Returns the expired request and
// true if one was cleared.
func (s *Slot) ExpireIfOlderThan(ttl time.Duration) (Request, bool) {
	s.mu.Lock()
	if s.state != StatePending || s.pending == nil || time.Since(s.pending.CreatedAt) < ttl {
		s.mu.Unlock()
		return Request{}, false
	}
	req := *s.pending
	s.mu.Unlock()

	_, err := s.Resolve(Response{Status: "timeout", Detail: "no wallet response within ttl"})
	if err != nil {
		return Request{}, false
	}
	return req, true
}
