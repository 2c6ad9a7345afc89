package tools

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	domaintool "github.com/aomi-labs/orchestrator/internal/domain/tool"
)

// AddTool is a trivial synchronous tool: it adds two numbers. Exercises the
// sync tool-call dispatch path end to end without touching any chain
// infrastructure.
type AddTool struct{}

// NewAddTool returns a ready-to-register AddTool.
func NewAddTool() *AddTool { return &AddTool{} }

func (t *AddTool) Name() string             { return "add" }
func (t *AddTool) Description() string      { return "Add two numbers and return the sum." }
func (t *AddTool) Kind() domaintool.Kind    { return domaintool.KindThink }
func (t *AddTool) Namespace() string        { return "" }

func (t *AddTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"a": map[string]interface{}{"type": "number"},
			"b": map[string]interface{}{"type": "number"},
		},
		"required": []string{"a", "b"},
	}
}

func (t *AddTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	a, aok := toFloat(args["a"])
	b, bok := toFloat(args["b"])
	if !aok || !bok {
		return &domaintool.Result{Success: false, Error: "a and b must be numbers"}, nil
	}
	return &domaintool.Result{Success: true, Output: fmt.Sprintf("%g", a+b)}, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// LongJobTool is an AsyncCapable fixture exercising the async dispatch
// path: RunAsync returns an ack immediately, then the work finishes on a
// background goroutine after a short delay, pushing progress chunks before
// its final result.
//
// Grounded on service.AgentLoop's streaming tool-call handling generalized
// to scheduler.Handler's Enqueue/drain contract (tool.go's AsyncCapable),
// standing in for a genuinely long-running chain operation (e.g. waiting
// for transaction confirmations) without needing a live chain endpoint.
type LongJobTool struct {
	delay  time.Duration
	logger *zap.Logger
}

// NewLongJobTool returns a LongJobTool that completes after delay (default
// 2s if zero).
func NewLongJobTool(delay time.Duration, logger *zap.Logger) *LongJobTool {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	return &LongJobTool{delay: delay, logger: logger}
}

func (t *LongJobTool) Name() string             { return "long_job" }
func (t *LongJobTool) Kind() domaintool.Kind    { return domaintool.KindThink }
func (t *LongJobTool) Namespace() string        { return "" }

func (t *LongJobTool) Description() string {
	return "Run a long-running background job and report its result once done. Returns immediately with an acknowledgement; the real result arrives later."
}

func (t *LongJobTool) Schema() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"label": map[string]interface{}{
				"type":        "string",
				"description": "Human-readable description of the job, echoed back in the final result.",
			},
		},
		"required": []string{"label"},
	}
}

// Execute exists to satisfy the Tool interface; long_job is only ever
// dispatched through RunAsync by the scheduler, so this should not be
// called in practice.
func (t *LongJobTool) Execute(ctx context.Context, args map[string]interface{}) (*domaintool.Result, error) {
	return &domaintool.Result{Success: false, Error: "long_job must be dispatched asynchronously"}, nil
}

func (t *LongJobTool) SupportsAsync() bool { return true }

// RunAsync acks immediately; in the background it pushes one progress chunk
// on resultCh at once, then the final result after t.delay.
func (t *LongJobTool) RunAsync(ctx context.Context, args map[string]interface{}, taskID string, resultCh chan<- domaintool.Chunk) (string, error) {
	label, _ := args["label"].(string)

	go func() {
		defer close(resultCh)

		select {
		case resultCh <- domaintool.Chunk{TaskID: taskID, Stage: "running", Progress: 0.5}:
		case <-ctx.Done():
			return
		}

		select {
		case <-time.After(t.delay):
		case <-ctx.Done():
			resultCh <- domaintool.Chunk{TaskID: taskID, FinalResult: &domaintool.Result{
				Success: false,
				Error:   "interrupted",
			}}
			return
		}

		t.logger.Info("long_job finished", zap.String("task_id", taskID), zap.String("label", label))
		resultCh <- domaintool.Chunk{TaskID: taskID, FinalResult: &domaintool.Result{
			Success: true,
			Output:  fmt.Sprintf("job %q complete", label),
		}}
	}()

	return fmt.Sprintf("job %s started, task_id=%s", label, taskID), nil
}
