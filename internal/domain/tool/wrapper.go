package tool

import (
	"context"
	"errors"
)

// callIDContextKey is the context key WithCallID/CallIDFromContext use to
// thread a dispatch's call id alongside ctx, rather than through a
// conventionally-named argument a tool's args map would have to carry.
type callIDContextKey struct{}

// WithCallID returns a context carrying callID, retrievable via
// CallIDFromContext. The completion loop installs this before invoking a
// tool's Execute so a tool that needs to correlate its own side effects
// (e.g. the wallet protocol's pending slot) with the AssistantToolCall
// that triggered it has a reliable source for that id.
func WithCallID(ctx context.Context, callID string) context.Context {
	return context.WithValue(ctx, callIDContextKey{}, callID)
}

// CallIDFromContext returns the call id installed by WithCallID, if any.
func CallIDFromContext(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(callIDContextKey{}).(string)
	return v, ok
}

// errNotAsyncCapable is returned by AomiWrapper.RunAsync if called on a
// wrapper whose inner tool does not implement AsyncCapable; callers must
// always check SupportsAsync first, so this only fires on a caller bug.
var errNotAsyncCapable = errors.New("tool: wrapped tool does not support async execution")

// AomiWrapper adapts any Tool to the tool-definition surface the LLM sees
// (spec §6.2): its advertised schema merges the inner tool's own parameter
// schema with two injected required fields, session_id and topic, so the
// model is steered to supply both on every call. Execute forwards args
// (session_id/topic included) straight through — tools that need to act on
// a specific session (e.g. the wallet tool) read them back out of args.
//
// Grounded on service.AgentLoop's tool-definition assembly (it already
// flattens a Tool into a domaintool.Definition for the LLM); AomiWrapper
// generalizes that flattening step to also inject the two session-routing
// fields spec'd for this runtime, and on tool.go's AsyncCapable/Namespaced
// optional-capability pattern, which it forwards unconditionally so a
// wrapped tool never silently loses its async or namespace behavior.
type AomiWrapper struct {
	inner Tool
}

// Wrap returns t wrapped with the session_id/topic schema injection. Safe
// to call on a tool that already supports AsyncCapable/Namespaced — both
// are forwarded to inner.
func Wrap(t Tool) *AomiWrapper {
	return &AomiWrapper{inner: t}
}

func (w *AomiWrapper) Name() string        { return w.inner.Name() }
func (w *AomiWrapper) Description() string { return w.inner.Description() }
func (w *AomiWrapper) Kind() Kind          { return w.inner.Kind() }

// Schema returns the inner tool's schema with session_id and topic merged
// into properties and required.
func (w *AomiWrapper) Schema() map[string]interface{} {
	base := w.inner.Schema()
	merged := make(map[string]interface{}, len(base)+1)
	for k, v := range base {
		merged[k] = v
	}
	if merged["type"] == nil {
		merged["type"] = "object"
	}

	props, _ := merged["properties"].(map[string]interface{})
	mergedProps := make(map[string]interface{}, len(props)+2)
	for k, v := range props {
		mergedProps[k] = v
	}
	mergedProps["session_id"] = map[string]interface{}{
		"type":        "string",
		"description": "The id of the session this call belongs to.",
	}
	mergedProps["topic"] = map[string]interface{}{
		"type":        "string",
		"description": "Short human-readable label for what this call is doing, shown in the UI.",
	}
	merged["properties"] = mergedProps

	required, _ := merged["required"].([]string)
	merged["required"] = appendMissing(appendMissing(required, "session_id"), "topic")

	return merged
}

func appendMissing(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

// Execute forwards to the inner tool unchanged.
func (w *AomiWrapper) Execute(ctx context.Context, args map[string]interface{}) (*Result, error) {
	return w.inner.Execute(ctx, args)
}

// Unwrap returns the wrapped tool.
func (w *AomiWrapper) Unwrap() Tool { return w.inner }

// SupportsAsync forwards to inner if it implements AsyncCapable.
func (w *AomiWrapper) SupportsAsync() bool {
	ac, ok := w.inner.(AsyncCapable)
	return ok && ac.SupportsAsync()
}

// RunAsync forwards to inner; callers must check SupportsAsync first.
func (w *AomiWrapper) RunAsync(ctx context.Context, args map[string]interface{}, taskID string, resultCh chan<- Chunk) (string, error) {
	ac, ok := w.inner.(AsyncCapable)
	if !ok {
		return "", errNotAsyncCapable
	}
	return ac.RunAsync(ctx, args, taskID, resultCh)
}

// Namespace forwards to inner if it implements Namespaced.
func (w *AomiWrapper) Namespace() string {
	if n, ok := w.inner.(Namespaced); ok {
		return n.Namespace()
	}
	return ""
}
