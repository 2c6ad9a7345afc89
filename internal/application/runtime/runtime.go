// Package runtime wires the Session Manager, the Completion Loop and the
// tool registry into the single entry point the HTTP surface drives: one
// Chat/GetState/Interrupt/SystemEvent call per request, plus a background
// per-session resumer that folds in async tool results and wallet
// resolutions without waiting on a fresh user message.
//
// Grounded on app.go's top-level wiring style (a small struct bundling
// already-built components, exposing thin pass-through methods to the
// interface layer) — generalized from "one AgentLoop shared across chats"
// to "one Loop shared across sessions, each session owning its own
// history/scheduler/wallet".
package runtime

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/application/sessionmanager"
	"github.com/aomi-labs/orchestrator/internal/domain/completion"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/session"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

// ErrForbiddenEvent is returned by SystemEvent when the UI tries to push a
// system event kind it is not allowed to originate (spec §6.1).
var ErrForbiddenEvent = errors.New("runtime: event kind is not UI-ingestible")

// ErrUnknownSession is returned by GetState/Interrupt for a session id the
// manager has never seen.
var ErrUnknownSession = errors.New("runtime: unknown session id")

// ErrAlreadyProcessing is returned by Chat when a completion is already in
// flight for the session; the caller's message is not queued.
var ErrAlreadyProcessing = errors.New("runtime: session already has a completion in flight")

// ToolStream carries the tool-call/tool-result detail for one wire message,
// when that message represents a dispatched call (spec §6.1's `tool_stream?`
// field).
type ToolStream struct {
	CallID  string                 `json:"call_id"`
	Name    string                 `json:"name,omitempty"`
	Args    map[string]interface{} `json:"args,omitempty"`
	Result  string                 `json:"result,omitempty"`
	Error   string                 `json:"error,omitempty"`
	Pending bool                   `json:"pending,omitempty"`
}

// WireMessage is one chat-history entry in the shape spec'd for
// GET /api/state and friends.
type WireMessage struct {
	Sender      string      `json:"sender"`
	Content     string      `json:"content"`
	ToolStream  *ToolStream `json:"tool_stream,omitempty"`
	IsStreaming bool        `json:"is_streaming"`
}

// Snapshot is the wire shape returned by every HTTP endpoint in spec §6.1.
type Snapshot struct {
	SessionID       string           `json:"session_id"`
	Messages        []WireMessage    `json:"messages"`
	IsProcessing    bool             `json:"is_processing"`
	PendingWalletTx *string          `json:"pending_wallet_tx"`
	SystemEvents    []sysevent.Event `json:"system_events"`
}

// Runtime is the single point the HTTP interface drives sessions through.
type Runtime struct {
	manager      *sessionmanager.Manager
	loop         *completion.Loop
	systemPrompt string
	logger       *zap.Logger

	mu      sync.Mutex
	resumes map[string]chan struct{} // session id -> buffered wake signal
	started map[string]bool
}

// New returns a Runtime driving sessions through manager and loop. loop may
// be shared across every session; manager owns per-session state.
func New(manager *sessionmanager.Manager, loop *completion.Loop, systemPrompt string, logger *zap.Logger) *Runtime {
	rt := &Runtime{
		manager:      manager,
		loop:         loop,
		systemPrompt: systemPrompt,
		logger:       logger,
		resumes:      make(map[string]chan struct{}),
		started:      make(map[string]bool),
	}
	manager.OnResume(rt.signalResume)
	return rt
}

// NewSessionID delegates to the session manager.
func (rt *Runtime) NewSessionID() string { return rt.manager.NewSessionID() }

// ensure returns the session's state, starting its background resumer and
// async-completion poller the first time the session is touched.
func (rt *Runtime) ensure(id string) *session.State {
	sess := rt.manager.GetOrCreate(id)

	rt.mu.Lock()
	alreadyStarted := rt.started[id]
	if !alreadyStarted {
		rt.started[id] = true
		ch := make(chan struct{}, 1)
		rt.resumes[id] = ch
	}
	ch := rt.resumes[id]
	rt.mu.Unlock()

	if !alreadyStarted {
		go rt.asyncCompletionPoller(id)
		go rt.resumeLoop(id, ch, rt.manager.PollContext(id))
	}
	return sess
}

// notifyFor returns the Notification callback RunTurn should drive for
// sessionID: every NotifyError it emits (a CompletionError or an interrupt
// tearing down a turn, per spec §4.4's Cancellation and §7's "every
// non-recoverable error yields a SystemError visible in the snapshot") is
// turned into a SystemError event pushed onto the session's bus, so it
// shows up in the next snapshot's system_events (scenario S5).
func (rt *Runtime) notifyFor(sessionID string) func(completion.Notification) {
	return func(n completion.Notification) {
		if n.Kind != completion.NotifyError {
			return
		}
		bus := rt.manager.Bus(sessionID)
		if bus != nil {
			bus.Push(sysevent.SystemErr(n.Err))
		}
	}
}

func (rt *Runtime) signalResume(id string) {
	rt.mu.Lock()
	ch := rt.resumes[id]
	rt.mu.Unlock()
	if ch == nil {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// asyncCompletionPoller blocks on the session's scheduler handler and wakes
// the resumer whenever a long-running tool call finishes. It returns once
// the session is evicted (manager.PollContext(id) is cancelled at that
// point), so it never outlives its session.
func (rt *Runtime) asyncCompletionPoller(id string) {
	sched := rt.manager.SchedulerHandler(id)
	if sched == nil {
		return
	}
	ctx := rt.manager.PollContext(id)
	for {
		if _, ok := sched.PollNextCompletion(ctx); !ok {
			return
		}
		rt.signalResume(id)
	}
}

// resumeLoop re-drives a session's completion whenever it's signaled,
// folding in whatever Tick() has ready (async tool results, wallet notes)
// and continuing the turn with no new user text. It returns once done is
// cancelled (session eviction), so it never outlives its session.
func (rt *Runtime) resumeLoop(id string, signal <-chan struct{}, done context.Context) {
	for {
		select {
		case <-done.Done():
			return
		case _, ok := <-signal:
			if !ok {
				return
			}
		}
		sess := rt.manager.GetOrCreate(id)
		sess.Tick()
		if sess.IsProcessing() {
			// A foreground Chat() call is already driving this turn; it
			// will observe the folded-in result on its own next step.
			continue
		}
		if len(sess.PendingToolCallIDs()) == 0 {
			// Nothing actually unresolved (e.g. a stray wallet-note wake
			// with no tool calls outstanding) — nothing to resume.
			continue
		}

		sched := rt.manager.SchedulerHandler(id)
		ctx, cancel := context.WithCancel(context.Background())
		rt.manager.SetRunCancel(id, cancel)
		if err := rt.loop.RunTurn(ctx, sess, sched, rt.systemPrompt, "", rt.notifyFor(id)); err != nil {
			rt.logger.Warn("resume turn failed", zap.String("session_id", id), zap.Error(err))
		}
		rt.manager.SetRunCancel(id, nil)
	}
}

// Chat appends userText to the session (creating it if sessionID is empty
// or unseen) and drives one completion turn to a terminal or
// outstanding-async-call stopping point, returning the resulting snapshot.
func (rt *Runtime) Chat(ctx context.Context, sessionID, userText string) (Snapshot, string, error) {
	if sessionID == "" {
		sessionID = rt.manager.NewSessionID()
	}
	sess := rt.ensure(sessionID)

	if sess.IsProcessing() {
		return rt.snapshot(sessionID, sess), sessionID, ErrAlreadyProcessing
	}

	sched := rt.manager.SchedulerHandler(sessionID)
	runCtx, cancel := context.WithCancel(ctx)
	rt.manager.SetRunCancel(sessionID, cancel)
	err := rt.loop.RunTurn(runCtx, sess, sched, rt.systemPrompt, userText, rt.notifyFor(sessionID))
	rt.manager.SetRunCancel(sessionID, nil)

	return rt.snapshot(sessionID, sess), sessionID, err
}

// GetState returns a session's current snapshot, folding in anything
// Tick() has ready first.
func (rt *Runtime) GetState(sessionID string) (Snapshot, error) {
	if !rt.manager.Exists(sessionID) {
		return Snapshot{}, ErrUnknownSession
	}
	sess := rt.manager.GetOrCreate(sessionID)
	sess.Tick()
	return rt.snapshot(sessionID, sess), nil
}

// Interrupt cancels a session's in-flight completion, if any, and returns
// the resulting snapshot. It is not an error to interrupt an idle session.
func (rt *Runtime) Interrupt(sessionID string) (Snapshot, error) {
	if !rt.manager.Exists(sessionID) {
		return Snapshot{}, ErrUnknownSession
	}
	rt.manager.Interrupt(sessionID)
	sess := rt.manager.GetOrCreate(sessionID)
	return rt.snapshot(sessionID, sess), nil
}

// SystemEvent pushes a UI-originated event onto a session's bus, enforcing
// spec §6.1's ingress allowlist. Returns the event's type string on
// success, for the 202 {queued:true, event_type} response.
func (rt *Runtime) SystemEvent(sessionID string, evt sysevent.Event) (eventType string, err error) {
	if !sysevent.IngressAllowed[evt.Kind] {
		return "", ErrForbiddenEvent
	}
	sess := rt.ensure(sessionID)
	bus := rt.manager.Bus(sessionID)
	bus.Push(evt)
	sess.ApplyEvent(evt)
	return string(evt.Kind), nil
}

// snapshot renders a session's state into the spec'd wire shape, draining
// any unseen events off its bus and advancing its watermark.
func (rt *Runtime) snapshot(sessionID string, sess *session.State) Snapshot {
	snap := sess.Snapshot()

	out := Snapshot{
		SessionID:    sessionID,
		Messages:     make([]WireMessage, 0, len(snap.History)),
		IsProcessing: snap.IsProcessing,
	}
	if snap.PendingWalletTx != nil {
		payload := snap.PendingWalletTx.Payload
		out.PendingWalletTx = &payload
	}

	lastAssistantIdx := -1
	for _, m := range snap.History {
		wm := toWireMessage(m)
		out.Messages = append(out.Messages, wm)
		if m.Kind == message.KindAssistantText || m.Kind == message.KindAssistantToolCall {
			lastAssistantIdx = len(out.Messages) - 1
		}
	}
	if lastAssistantIdx >= 0 {
		out.Messages[lastAssistantIdx].IsStreaming = snap.IsProcessing
	}

	bus := rt.manager.Bus(sessionID)
	if bus != nil {
		out.SystemEvents = bus.SliceFrom(sess.Watermark())
		sess.AdvanceWatermark(bus.Len())
	}

	return out
}

func toWireMessage(m message.Message) WireMessage {
	switch m.Kind {
	case message.KindUserText:
		return WireMessage{Sender: "user", Content: m.Text}
	case message.KindAssistantText:
		return WireMessage{Sender: "assistant", Content: m.Text}
	case message.KindAssistantToolCall:
		return WireMessage{
			Sender: "assistant",
			ToolStream: &ToolStream{
				CallID: m.ToolCallID,
				Name:   m.ToolName,
				Args:   m.ToolArgs,
			},
		}
	case message.KindToolResult:
		return WireMessage{
			Sender:      "tool",
			Content:     m.Content,
			IsStreaming: m.Pending,
			ToolStream: &ToolStream{
				CallID:  m.ToolResultFor,
				Result:  m.Content,
				Error:   m.Error,
				Pending: m.Pending,
			},
		}
	case message.KindSystemNote:
		return WireMessage{Sender: "system", Content: m.Text}
	default:
		return WireMessage{Sender: "system", Content: fmt.Sprintf("unrecognized message kind %q", m.Kind)}
	}
}
