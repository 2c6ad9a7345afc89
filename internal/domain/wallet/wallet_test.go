package wallet

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestSlot_RequestThenResolve(t *testing.T) {
	s := NewSlot(testLogger())

	var got Response
	s.OnResolve(func(r Response) { got = r })

	if err := s.Request("call-1", `{"to":"0xabc","value":"1"}`); err != nil {
		t.Fatalf("Request: %v", err)
	}
	if s.State() != StatePending {
		t.Fatalf("State after Request = %v, want Pending", s.State())
	}

	req, ok := s.Pending()
	if !ok || req.CallID != "call-1" {
		t.Fatalf("Pending() = %+v, %v", req, ok)
	}

	resolved, err := s.Resolve(Response{Status: "approved", TxHash: "0xdead"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if resolved.CallID != "call-1" {
		t.Errorf("resolved.CallID = %q", resolved.CallID)
	}
	if s.State() != StateIdle {
		t.Fatalf("State after Resolve = %v, want Idle", s.State())
	}
	if got.Status != "approved" || got.TxHash != "0xdead" {
		t.Errorf("listener got %+v", got)
	}
}

func TestSlot_SecondRequestRejectedWhilePending(t *testing.T) {
	s := NewSlot(testLogger())
	if err := s.Request("call-1", "payload-1"); err != nil {
		t.Fatalf("first Request: %v", err)
	}
	if err := s.Request("call-2", "payload-2"); err != ErrSlotOccupied {
		t.Fatalf("second Request: err = %v, want ErrSlotOccupied", err)
	}
}

func TestSlot_ResolveWithoutPendingFails(t *testing.T) {
	s := NewSlot(testLogger())
	if _, err := s.Resolve(Response{Status: "approved"}); err != ErrNoPendingRequest {
		t.Fatalf("Resolve: err = %v, want ErrNoPendingRequest", err)
	}
}

func TestSlot_ExpireIfOlderThan(t *testing.T) {
	s := NewSlot(testLogger())
	if err := s.Request("call-1", "payload"); err != nil {
		t.Fatalf("Request: %v", err)
	}

	if _, expired := s.ExpireIfOlderThan(time.Hour); expired {
		t.Fatal("should not expire a fresh request against a 1h ttl")
	}

	req, expired := s.ExpireIfOlderThan(0)
	if !expired || req.CallID != "call-1" {
		t.Fatalf("ExpireIfOlderThan(0) = %+v, %v", req, expired)
	}
	if s.State() != StateIdle {
		t.Fatalf("State after expiry = %v, want Idle", s.State())
	}
}
