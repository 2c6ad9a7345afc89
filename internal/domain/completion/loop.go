// Package completion implements the Completion Loop (spec §4.4): it drives
// one user turn at a time, streaming LLM output into the session's chat
// history and dispatching tool calls through the per-session Tool Scheduler
// rather than executing them inline.
//
// Grounded on service.AgentLoop's streaming step shape
// (GenerateStream + StreamChunk forwarding, domain/service/llm_caller.go)
// generalized from "resolve every tool call before continuing" to "resolve
// sync tools before continuing, but end the turn on a well-formed pending
// placeholder when a long-running tool is dispatched" (spec §4.4 step 5,
// §4.2's run_sync/run_async split, and the dangling_toolcall_middleware
// placeholder-patch idea applied to async dispatch instead of interrupt).
package completion

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/entity"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/scheduler"
	"github.com/aomi-labs/orchestrator/internal/domain/service"
	"github.com/aomi-labs/orchestrator/internal/domain/session"
	domaintool "github.com/aomi-labs/orchestrator/internal/domain/tool"
)

// NotificationKind discriminates the UI-facing updates a turn emits.
type NotificationKind string

const (
	NotifyTextDelta NotificationKind = "text_delta"
	NotifyToolCall  NotificationKind = "tool_call"
	NotifyComplete  NotificationKind = "turn_complete"
	NotifyError     NotificationKind = "turn_error"
)

// Notification is one update emitted while a turn runs, forwarded by the
// caller onto the session's stream-out channel for the SSE/WS surface.
type Notification struct {
	Kind       NotificationKind
	Text       string
	ToolCallID string
	ToolName   string
	ToolArgs   map[string]interface{}
	Err        string
}

// Loop drives completion turns for any session, given its own chat history,
// tool scheduler handler and tool registry. A Loop instance is shared across
// sessions — it holds no per-session state.
type Loop struct {
	llm      service.LLMClient
	registry domaintool.Registry
	model    string
	maxTurns int
	logger   *zap.Logger
}

// New returns a Loop that talks to llm (typically an *llm.Router) and
// resolves tool calls against registry.
func New(llm service.LLMClient, registry domaintool.Registry, model string, logger *zap.Logger) *Loop {
	return &Loop{llm: llm, registry: registry, model: model, maxTurns: 64, logger: logger}
}

// RunTurn executes spec §4.4's per-turn algorithm: it streams one LLM
// completion, materializes tool calls into sess's history, dispatches them
// via sched (sync tools run and resolve inline; long-running tools are
// enqueued and get a pending placeholder), and — as long as every tool
// call in a step resolved synchronously — re-issues the completion until
// the model yields a terminal answer or a long-running call is left
// outstanding.
//
// userText is the new user message for a fresh turn; pass "" when this
// call is a resumption triggered by an async ToolResult or wallet event
// arriving on the bus (sess's history already carries the resolved
// placeholder / injected system note, so no new UserText is appended).
func (l *Loop) RunTurn(ctx context.Context, sess *session.State, sched *scheduler.Handler, systemPrompt, userText string, notify func(Notification)) error {
	if userText != "" {
		sess.AppendUser(userText)
	}

	sess.SetProcessing(true)
	defer sess.SetProcessing(false)

	for step := 0; step < l.maxTurns; step++ {
		resp, err := l.stream(ctx, sess, sched, systemPrompt, notify)
		if err != nil {
			l.failDangling(sess, notify, err)
			return err
		}

		if len(resp.ToolCalls) == 0 {
			if resp.Content != "" {
				sess.AppendAssistant(message.AssistantText(resp.Content))
			}
			notify(Notification{Kind: NotifyComplete, Text: resp.Content})
			return nil
		}

		anyAsync := l.dispatchToolCalls(ctx, sess, sched, resp.ToolCalls, notify)
		if anyAsync {
			// A long-running call is outstanding; the turn ends here with a
			// well-formed pending placeholder. Resumption happens later when
			// its ToolResult event arrives and rewrites the placeholder
			// (session.State.Tick + the application layer's resumption hook).
			notify(Notification{Kind: NotifyComplete})
			return nil
		}
		// Every call in this step resolved synchronously — loop back and
		// re-issue the completion with the results folded into history.
	}

	err := fmt.Errorf("completion loop: exceeded %d steps without terminating", l.maxTurns)
	l.failDangling(sess, notify, err)
	return err
}

// stream requests one streaming completion built from sess's current
// history, forwarding text deltas to notify as they arrive.
func (l *Loop) stream(ctx context.Context, sess *session.State, sched *scheduler.Handler, systemPrompt string, notify func(Notification)) (*service.LLMResponse, error) {
	req := &service.LLMRequest{
		Messages:    toLLMHistory(systemPrompt, sess.History()),
		Tools:       sched.ToolSurface(l.registry),
		Model:       l.model,
		Temperature: 0.7,
	}

	deltaCh := make(chan service.StreamChunk, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for chunk := range deltaCh {
			if chunk.DeltaText != "" {
				notify(Notification{Kind: NotifyTextDelta, Text: chunk.DeltaText})
			}
		}
	}()

	resp, err := l.llm.GenerateStream(ctx, req, deltaCh)
	close(deltaCh)
	<-done
	return resp, err
}

// dispatchToolCalls appends an AssistantToolCall for each call, then
// resolves it: synchronous tools execute immediately and append a real
// ToolResult; long-running tools enqueue via sched and append a pending
// placeholder instead. Returns true iff at least one call was dispatched
// as long-running (meaning the turn must end here).
func (l *Loop) dispatchToolCalls(ctx context.Context, sess *session.State, sched *scheduler.Handler, calls []entity.ToolCallInfo, notify func(Notification)) bool {
	anyAsync := false
	for _, tc := range calls {
		callID := tc.ID
		if callID == "" {
			callID = uuid.NewString()
		}
		sess.AppendAssistant(message.AssistantToolCall(callID, tc.Name, tc.Arguments))
		notify(Notification{Kind: NotifyToolCall, ToolCallID: callID, ToolName: tc.Name, ToolArgs: tc.Arguments})

		t, ok := l.registry.Get(tc.Name)
		if !ok {
			sess.AppendAssistant(message.ToolResult(callID, "", fmt.Sprintf("unknown tool %q", tc.Name)))
			continue
		}
		if !sched.Allowed(tc.Name) {
			sess.AppendAssistant(message.ToolResult(callID, "", fmt.Sprintf("tool %q is not permitted for this session", tc.Name)))
			continue
		}

		callCtx := domaintool.WithCallID(ctx, callID)

		if ac, ok := t.(domaintool.AsyncCapable); ok && ac.SupportsAsync() {
			ack, err := sched.Enqueue(callCtx, callID, tc.Name, callID, ac, tc.Arguments)
			if err != nil {
				sess.AppendAssistant(message.ToolResult(callID, "", err.Error()))
				continue
			}
			l.logger.Info("long-running tool dispatched",
				zap.String("call_id", callID), zap.String("tool", tc.Name), zap.String("ack", ack))
			sess.AppendAssistant(message.PendingToolResult(callID, callID))
			anyAsync = true
			continue
		}

		res, err := t.Execute(callCtx, tc.Arguments)
		if err != nil {
			sess.AppendAssistant(message.ToolResult(callID, "", err.Error()))
			continue
		}
		errText := res.Error
		if !res.Success && errText == "" {
			errText = res.Output
		}
		sess.AppendAssistant(message.ToolResult(callID, res.Output, errText))
	}
	return anyAsync
}

// failDangling patches every still-unresolved AssistantToolCall in sess's
// history with a synthetic error ToolResult, preserving well-formedness
// after a CompletionError or interrupt (spec §4.4 Cancellation).
func (l *Loop) failDangling(sess *session.State, notify func(Notification), cause error) {
	for _, callID := range sess.PendingToolCallIDs() {
		sess.AppendAssistant(message.ToolResult(callID, "", cause.Error()))
	}
	notify(Notification{Kind: NotifyError, Err: cause.Error()})
}

// toLLMHistory renders session.State's tagged-variant history into the
// provider-facing role/content message shape.
func toLLMHistory(systemPrompt string, history []message.Message) []service.LLMMessage {
	msgs := make([]service.LLMMessage, 0, len(history)+1)
	if systemPrompt != "" {
		msgs = append(msgs, service.LLMMessage{Role: "system", Content: systemPrompt})
	}
	for _, m := range history {
		switch m.Kind {
		case message.KindUserText:
			msgs = append(msgs, service.LLMMessage{Role: "user", Content: m.Text})
		case message.KindAssistantText:
			msgs = append(msgs, service.LLMMessage{Role: "assistant", Content: m.Text})
		case message.KindSystemNote:
			msgs = append(msgs, service.LLMMessage{Role: "user", Content: "[[SYSTEM: " + m.Text + "]]"})
		case message.KindAssistantToolCall:
			msgs = append(msgs, service.LLMMessage{
				Role: "assistant",
				ToolCalls: []entity.ToolCallInfo{{
					ID:        m.ToolCallID,
					Name:      m.ToolName,
					Arguments: m.ToolArgs,
				}},
			})
		case message.KindToolResult:
			content := m.Content
			if m.Error != "" {
				content = m.Content + "\nerror: " + m.Error
			}
			msgs = append(msgs, service.LLMMessage{
				Role:       "tool",
				Content:    content,
				ToolCallID: m.ToolResultFor,
			})
		}
	}
	return msgs
}
