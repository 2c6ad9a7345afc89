package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/aomi-labs/orchestrator/internal/domain/tool"
)

// fakeAsyncTool acks immediately and lets the test control when/what it
// completes with, by exposing the resultCh it was handed.
type fakeAsyncTool struct {
	ack     string
	ackErr  error
	started chan chan<- tool.Chunk
}

func newFakeAsyncTool(ack string) *fakeAsyncTool {
	return &fakeAsyncTool{ack: ack, started: make(chan chan<- tool.Chunk, 1)}
}

func (f *fakeAsyncTool) SupportsAsync() bool { return true }

func (f *fakeAsyncTool) RunAsync(ctx context.Context, args map[string]interface{}, taskID string, resultCh chan<- tool.Chunk) (string, error) {
	if f.ackErr != nil {
		return "", f.ackErr
	}
	f.started <- resultCh
	return f.ack, nil
}

func TestHandler_EnqueueReturnsAckWithoutBlocking(t *testing.T) {
	h := NewHandler()
	ft := newFakeAsyncTool("send_transaction_to_wallet started, task_id: call-1")

	ctx := context.Background()
	ack, err := h.Enqueue(ctx, "call-1", "send_transaction_to_wallet", "call-1", ft, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if ack != "send_transaction_to_wallet started, task_id: call-1" {
		t.Errorf("ack = %q", ack)
	}

	if pending := h.Pending(); len(pending) != 1 || pending[0] != "call-1" {
		t.Errorf("Pending() = %v, want [call-1]", pending)
	}
}

func TestHandler_PollAndTakeCompleted(t *testing.T) {
	h := NewHandler()
	ft := newFakeAsyncTool("started")

	ctx := context.Background()
	if _, err := h.Enqueue(ctx, "call-2", "long_job", "task-2", ft, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resultCh := <-ft.started
	resultCh <- tool.Chunk{TaskID: "task-2", Stage: "running", Progress: 0.5}
	resultCh <- tool.Chunk{TaskID: "task-2", FinalResult: &tool.Result{Success: true, Output: "done"}}
	close(resultCh)

	pollCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, ok := h.PollNextCompletion(pollCtx)
	if !ok || id != "call-2" {
		t.Fatalf("PollNextCompletion: id=%q ok=%v", id, ok)
	}

	res, err := h.TakeCompleted("call-2")
	if err != nil {
		t.Fatalf("TakeCompleted: %v", err)
	}
	if !res.Success || res.Output != "done" {
		t.Errorf("TakeCompleted result = %+v", res)
	}

	if _, err := h.TakeCompleted("call-2"); err != ErrUnknownCall {
		t.Errorf("second TakeCompleted: err = %v, want ErrUnknownCall", err)
	}
	if pending := h.Pending(); len(pending) != 0 {
		t.Errorf("Pending() after take = %v, want empty", pending)
	}
}

func TestHandler_StreamClosedWithoutFinalResultIsAFailure(t *testing.T) {
	h := NewHandler()
	ft := newFakeAsyncTool("started")

	ctx := context.Background()
	if _, err := h.Enqueue(ctx, "call-3", "flaky_tool", "task-3", ft, nil); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	resultCh := <-ft.started
	close(resultCh)

	pollCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	id, ok := h.PollNextCompletion(pollCtx)
	if !ok || id != "call-3" {
		t.Fatalf("PollNextCompletion: id=%q ok=%v", id, ok)
	}

	res, err := h.TakeCompleted("call-3")
	if err != nil {
		t.Fatalf("TakeCompleted: %v", err)
	}
	if res.Success {
		t.Errorf("expected failure result, got %+v", res)
	}
}

func TestManager_HandlerForIsPerSession(t *testing.T) {
	m := NewManager()
	a := m.HandlerFor("session-a")
	b := m.HandlerFor("session-b")
	if a == b {
		t.Fatal("expected distinct handlers per session")
	}
	if m.HandlerFor("session-a") != a {
		t.Fatal("expected the same handler on repeat lookup")
	}

	m.Drop("session-a")
	if m.HandlerFor("session-a") == a {
		t.Fatal("expected a fresh handler after Drop")
	}
}
