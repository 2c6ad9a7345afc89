// Package scheduler implements the per-session Tool Scheduler (spec §4.3):
// it dispatches AomiTool calls without ever blocking the completion loop,
// tracking each call through three buckets — unresolved (dispatched, no
// result yet), ongoing streams (background work in flight) and completed
// (a result ready to be folded back into chat history).
//
// Grounded on the teacher's agent_loop.go parallel tool-execution block
// (sync.WaitGroup + semaphore dispatch) restructured from "wait for every
// call before continuing" into "never wait; surface completions as they
// land", and on dangling_toolcall_middleware.go's placeholder-patch idea,
// generalized from "patch on interrupt" to "patch on async completion".
package scheduler

import (
	"context"
	"errors"
	"sync"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
	"github.com/aomi-labs/orchestrator/internal/domain/tool"
)

// ErrUnknownCall is returned by TakeCompleted when no completed result is
// registered under the given call id.
var ErrUnknownCall = errors.New("scheduler: unknown or not-yet-completed call id")

// call tracks one dispatched AssistantToolCall from enqueue to resolution.
type call struct {
	toolName string
	taskID   string
}

// Handler is one session's tool scheduler. The zero value is not usable;
// use NewHandler. A Handler is safe for concurrent use.
type Handler struct {
	mu sync.Mutex

	unresolved map[string]call        // call_id -> call, dispatched but not resolved
	streams    map[string]chan struct{} // task_id -> done signal, still running
	completed  map[string]*tool.Result // call_id -> final result, awaiting TakeCompleted

	ready chan string // call ids that just completed, for PollNextCompletion

	policy *tool.PolicyEnforcer // optional session-scoped namespace/tool filter (spec §4.3)

	// bus, if set via SetBus, receives a ToolProgress event for every
	// intermediate chunk a long-running tool emits and a terminal
	// ToolResult event when it finishes — the event-bus-mediated delivery
	// spec §9's Design Notes call "the correct design" and §4.5's snapshot
	// invariant requires ("eventual delivery for every non-ToolProgress
	// event"). nil disables this; the placeholder rewrite in session.State.
	// Tick still happens independently of whether a bus is wired.
	bus *eventbus.Bus
}

// NewHandler returns an empty scheduler handler for one session.
func NewHandler() *Handler {
	return &Handler{
		unresolved: make(map[string]call),
		streams:    make(map[string]chan struct{}),
		completed:  make(map[string]*tool.Result),
		ready:      make(chan string, 64),
	}
}

// SetBus wires the session's event bus so drain can push ToolProgress and
// ToolResult events as a long-running tool's chunks and final result
// arrive. Call once, before any call is enqueued; nil (the default) leaves
// async tool completions visible only through the placeholder rewrite in
// session.State.Tick, with no bus-visible record.
func (h *Handler) SetBus(bus *eventbus.Bus) {
	h.mu.Lock()
	h.bus = bus
	h.mu.Unlock()
}

// Enqueue dispatches an async-capable tool call. It calls RunAsync exactly
// once, which must return immediately with an ack string — the "split"
// between that immediate ack and the tool's eventual background result is
// entirely RunAsync's contract (spec §4.2): the ack satisfies history
// well-formedness right away, while the real result is collected later via
// PollNextCompletion/TakeCompleted.
//
// taskID identifies this unit of background work for progress/result
// correlation; callers typically pass the AssistantToolCall's id.
func (h *Handler) Enqueue(ctx context.Context, callID, toolName, taskID string, t tool.AsyncCapable, args map[string]interface{}) (ack string, err error) {
	resultCh := make(chan tool.Chunk, 8)

	ack, err = t.RunAsync(ctx, args, taskID, resultCh)
	if err != nil {
		return "", err
	}

	done := make(chan struct{})

	h.mu.Lock()
	h.unresolved[callID] = call{toolName: toolName, taskID: taskID}
	h.streams[taskID] = done
	h.mu.Unlock()

	go h.drain(callID, taskID, resultCh, done)

	return ack, nil
}

// drain consumes chunks until a terminal chunk (FinalResult != nil) arrives
// or the channel closes without one (treated as a silent failure), then
// promotes the call from "ongoing" to "completed" and signals readiness.
func (h *Handler) drain(callID, taskID string, resultCh <-chan tool.Chunk, done chan struct{}) {
	defer close(done)

	h.mu.Lock()
	toolName := h.unresolved[callID].toolName
	bus := h.bus
	h.mu.Unlock()

	var final *tool.Result
	for chunk := range resultCh {
		if chunk.FinalResult != nil {
			final = chunk.FinalResult
			break
		}
		if bus != nil {
			bus.Push(sysevent.Progress(taskID, toolName, chunk.Stage, "", chunk.Progress))
		}
	}
	if final == nil {
		final = &tool.Result{Success: false, Error: "tool stream closed without a final result"}
	}

	h.mu.Lock()
	delete(h.unresolved, callID)
	delete(h.streams, taskID)
	h.completed[callID] = final
	h.mu.Unlock()

	if bus != nil {
		bus.Push(sysevent.ToolResultEvent(taskID, toolName, final.Output, final.Error))
	}

	h.ready <- callID
}

// PollNextCompletion blocks until a dispatched call finishes (or ctx is
// cancelled), returning its call id. The caller must still call
// TakeCompleted to consume the result; PollNextCompletion only signals
// readiness.
func (h *Handler) PollNextCompletion(ctx context.Context) (callID string, ok bool) {
	select {
	case id := <-h.ready:
		return id, true
	case <-ctx.Done():
		return "", false
	}
}

// TakeCompleted removes and returns the final result for callID, if one is
// ready. Safe to call speculatively (e.g. after a session's idle reaper
// wakes it) — returns ErrUnknownCall when nothing is ready yet.
func (h *Handler) TakeCompleted(callID string) (*tool.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, ok := h.completed[callID]
	if !ok {
		return nil, ErrUnknownCall
	}
	delete(h.completed, callID)
	return res, nil
}

// SetPolicy installs the namespace/tool access policy this session's
// handler dispatches through (spec §4.3's per-(session, namespace-set)
// pair); nil (the default) means no restriction.
func (h *Handler) SetPolicy(p *tool.PolicyEnforcer) {
	h.mu.Lock()
	h.policy = p
	h.mu.Unlock()
}

// ToolSurface returns the tool definitions this session may see, filtered
// through the installed policy if one was set via SetPolicy, or the full
// registry otherwise — the "namespaces filtered" tool surface the
// Completion Loop builds for each turn (spec §4.4 step 2).
func (h *Handler) ToolSurface(registry tool.Registry) []tool.Definition {
	h.mu.Lock()
	p := h.policy
	h.mu.Unlock()
	if p == nil {
		return registry.List()
	}
	return p.FilteredList()
}

// Allowed reports whether toolName may be dispatched through this handler
// under the installed policy. Always true when no policy was set.
func (h *Handler) Allowed(toolName string) bool {
	h.mu.Lock()
	p := h.policy
	h.mu.Unlock()
	if p == nil {
		return true
	}
	return p.CanExecute(toolName)
}

// Pending reports the call ids still dispatched but unresolved: their
// tool has not yet delivered a final result. A call that has completed
// but whose result has not been taken is not listed.
func (h *Handler) Pending() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	ids := make([]string, 0, len(h.unresolved))
	for id := range h.unresolved {
		ids = append(ids, id)
	}
	return ids
}

// Manager owns one Handler per session, created on first use.
type Manager struct {
	mu       sync.Mutex
	handlers map[string]*Handler
}

// NewManager returns an empty scheduler manager.
func NewManager() *Manager {
	return &Manager{handlers: make(map[string]*Handler)}
}

// HandlerFor returns the scheduler Handler for sessionID, creating one if
// this is the first call for that session.
func (m *Manager) HandlerFor(sessionID string) *Handler {
	m.mu.Lock()
	defer m.mu.Unlock()

	h, ok := m.handlers[sessionID]
	if !ok {
		h = NewHandler()
		m.handlers[sessionID] = h
	}
	return h
}

// Drop removes a session's scheduler handler, e.g. on idle eviction.
func (m *Manager) Drop(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.handlers, sessionID)
}
