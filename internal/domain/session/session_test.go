package session

import (
	"context"
	"testing"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/message"
	"github.com/aomi-labs/orchestrator/internal/domain/scheduler"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
	"github.com/aomi-labs/orchestrator/internal/domain/tool"
	"github.com/aomi-labs/orchestrator/internal/domain/wallet"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func newTestState() *State {
	bus := eventbus.New()
	w := wallet.NewSlot(testLogger())
	sched := scheduler.NewHandler()
	return New("sess-1", bus, w, sched)
}

func TestState_AppendAndHistory(t *testing.T) {
	s := newTestState()
	s.AppendUser("hello")
	s.AppendAssistant(message.AssistantText("hi there"))

	hist := s.History()
	if len(hist) != 2 {
		t.Fatalf("History() len = %d, want 2", len(hist))
	}
	if hist[0].Kind != message.KindUserText || hist[1].Kind != message.KindAssistantText {
		t.Fatalf("History() = %+v", hist)
	}
}

type fakeAsyncTool struct{ resultCh chan tool.Chunk }

func (f *fakeAsyncTool) SupportsAsync() bool { return true }
func (f *fakeAsyncTool) RunAsync(ctx context.Context, args map[string]interface{}, taskID string, resultCh chan<- tool.Chunk) (string, error) {
	f.resultCh = make(chan tool.Chunk, 4)
	go func() {
		for c := range f.resultCh {
			resultCh <- c
		}
	}()
	return "long_job started, task_id: " + taskID, nil
}

func TestState_TickFoldsCompletedSchedulerResultIntoPlaceholder(t *testing.T) {
	s := newTestState()
	ft := &fakeAsyncTool{}

	ack, err := s.scheduler.Enqueue(context.Background(), "call-1", "long_job", "call-1", ft, nil)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	s.AppendAssistant(
		message.AssistantToolCall("call-1", "long_job", nil),
		message.PendingToolResult("call-1", "call-1"),
	)
	_ = ack

	ft.resultCh <- tool.Chunk{FinalResult: &tool.Result{Success: true, Output: "42 gwei"}}
	close(ft.resultCh)

	_, ok := s.scheduler.PollNextCompletion(context.Background())
	if !ok {
		t.Fatal("expected a completion to be ready")
	}

	s.Tick()

	hist := s.History()
	last := hist[len(hist)-1]
	if last.Pending {
		t.Errorf("expected placeholder to be resolved, still pending: %+v", last)
	}
	if last.Content != "42 gwei" {
		t.Errorf("resolved content = %q", last.Content)
	}
}

func TestState_ApplyEventWalletResponseInjectsSystemNote(t *testing.T) {
	s := newTestState()
	if err := s.wallet.Request("call-2", `{"to":"0xabc"}`); err != nil {
		t.Fatalf("Request: %v", err)
	}

	s.ApplyEvent(sysevent.Event{Kind: sysevent.KindWalletTxResponse, Status: "approved", TxHash: "0xdead"})

	injected := s.Tick()
	if len(injected) != 1 {
		t.Fatalf("Tick() injected = %d messages, want 1", len(injected))
	}
	if injected[0].Kind != message.KindSystemNote {
		t.Errorf("injected message kind = %v", injected[0].Kind)
	}

	snap := s.Snapshot()
	if snap.PendingWalletTx != nil {
		t.Errorf("expected wallet slot cleared, got %+v", snap.PendingWalletTx)
	}
}

func TestState_Snapshot(t *testing.T) {
	s := newTestState()
	s.AppendUser("hi")
	snap := s.Snapshot()
	if snap.SessionID != "sess-1" || len(snap.History) != 1 {
		t.Fatalf("Snapshot() = %+v", snap)
	}
}
