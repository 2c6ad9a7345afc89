package worker

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/eventbus"
	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestWorker_DispatchesRegisteredKind(t *testing.T) {
	bus := eventbus.New()
	w := New(bus, testLogger(), time.Millisecond)
	w.Register("gas_price", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
		return map[string]interface{}{"gwei": 42}, nil
	})

	bus.Push(sysevent.Event{
		Kind:      sysevent.KindUserRequest,
		RequestID: "req-1",
		ReqKind:   "gas_price",
	})

	idx := w.drainOnce(context.Background(), 0)
	if idx != 1 {
		t.Fatalf("drainOnce watermark = %d, want 1", idx)
	}

	events := bus.SliceFrom(1)
	if len(events) != 1 {
		t.Fatalf("expected one UserResponse event, got %d", len(events))
	}
	resp := events[0]
	if resp.Kind != sysevent.KindUserResponse || resp.RequestID != "req-1" {
		t.Fatalf("response event = %+v", resp)
	}
	if resp.ReqPayload["gwei"] != 42 {
		t.Errorf("response payload = %+v", resp.ReqPayload)
	}
}

func TestWorker_UnknownKindRespondsWithError(t *testing.T) {
	bus := eventbus.New()
	w := New(bus, testLogger(), time.Millisecond)

	bus.Push(sysevent.Event{Kind: sysevent.KindUserRequest, RequestID: "req-2", ReqKind: "unknown_kind"})

	w.drainOnce(context.Background(), 0)

	events := bus.SliceFrom(1)
	if len(events) != 1 || events[0].Error == "" {
		t.Fatalf("expected an error UserResponse, got %+v", events)
	}
}

func TestWorker_IgnoresNonUserRequestEvents(t *testing.T) {
	bus := eventbus.New()
	w := New(bus, testLogger(), time.Millisecond)
	bus.Push(sysevent.Notice("hello"))

	idx := w.drainOnce(context.Background(), 0)
	if idx != 1 {
		t.Fatalf("watermark = %d, want 1", idx)
	}
	if got := bus.SliceFrom(1); got != nil {
		t.Errorf("expected no new events pushed, got %v", got)
	}
}

func TestWorker_RunRespectsContextCancellation(t *testing.T) {
	bus := eventbus.New()
	w := New(bus, testLogger(), time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
	defer cancel()

	done := make(chan int, 1)
	go func() { done <- w.Run(ctx, 0) }()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}
