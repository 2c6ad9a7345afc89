package sessionmanager

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/aomi-labs/orchestrator/internal/domain/worker"
)

func testLogger() *zap.Logger {
	logger, _ := zap.NewDevelopment()
	return logger
}

func TestManager_GetOrCreateIsIdempotent(t *testing.T) {
	m := New(Config{}, testLogger())
	defer m.Close()

	a := m.GetOrCreate("sess-1")
	b := m.GetOrCreate("sess-1")
	if a != b {
		t.Fatal("expected the same session state on repeat GetOrCreate")
	}
	if !m.Exists("sess-1") {
		t.Fatal("expected session to exist")
	}
}

func TestManager_NewSessionIDUnsignedVsSigned(t *testing.T) {
	m1 := New(Config{}, testLogger())
	defer m1.Close()
	id1 := m1.NewSessionID()
	if len(id1) != 36 {
		t.Errorf("unsigned id should be a bare uuid, got %q", id1)
	}

	m2 := New(Config{HMACKey: []byte("secret")}, testLogger())
	defer m2.Close()
	id2 := m2.NewSessionID()
	if len(id2) <= 36 {
		t.Errorf("signed id should be longer than a bare uuid, got %q", id2)
	}
}

func TestManager_InterruptCancelsRegisteredRun(t *testing.T) {
	m := New(Config{}, testLogger())
	defer m.Close()
	m.GetOrCreate("sess-1")

	ctx, cancel := context.WithCancel(context.Background())
	m.SetRunCancel("sess-1", cancel)

	if !m.Interrupt("sess-1") {
		t.Fatal("Interrupt should report success for a registered run")
	}
	select {
	case <-ctx.Done():
	default:
		t.Fatal("expected context to be cancelled")
	}

	if m.Interrupt("unknown-session") {
		t.Fatal("Interrupt on unknown session should report false")
	}
}

func TestManager_EvictRemovesSession(t *testing.T) {
	m := New(Config{}, testLogger())
	defer m.Close()
	m.GetOrCreate("sess-1")
	m.Evict("sess-1")
	if m.Exists("sess-1") {
		t.Fatal("expected session to be gone after Evict")
	}
}

func TestManager_IdleReaperEvictsStaleSessions(t *testing.T) {
	m := New(Config{IdleTimeout: 10 * time.Millisecond, CleanupInterval: 5 * time.Millisecond}, testLogger())
	defer m.Close()
	m.GetOrCreate("sess-1")

	deadline := time.Now().Add(time.Second)
	for m.Exists("sess-1") && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if m.Exists("sess-1") {
		t.Fatal("expected idle session to be reaped")
	}
}

func TestManager_WorkerSetupRegistersDomainHandlers(t *testing.T) {
	m := New(Config{}, testLogger())
	defer m.Close()

	var registered bool
	m.OnWorkerSetup(func(sw *worker.Worker) {
		sw.Register("gas_price", func(ctx context.Context, payload map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"gwei": 1}, nil
		})
		registered = true
	})

	m.GetOrCreate("sess-1")
	if !registered {
		t.Fatal("expected OnWorkerSetup callback to run for a new session")
	}
	if m.Worker("sess-1") == nil {
		t.Fatal("expected a worker to be retrievable for the session")
	}
}
