package eventbus

import (
	"sync"
	"testing"

	"github.com/aomi-labs/orchestrator/internal/domain/sysevent"
)

func TestBus_PushAndSliceFrom(t *testing.T) {
	b := New()

	if got := b.Len(); got != 0 {
		t.Fatalf("Len on empty bus: got %d, want 0", got)
	}

	b.Push(sysevent.Notice("connecting"))
	b.Push(sysevent.WalletRequest(`{"to":"0xabc"}`))
	b.Push(sysevent.Progress("task-1", "long_job", "running", "50%", 0.5))

	if got := b.Len(); got != 3 {
		t.Fatalf("Len: got %d, want 3", got)
	}

	all := b.SliceFrom(0)
	if len(all) != 3 {
		t.Fatalf("SliceFrom(0): got %d events, want 3", len(all))
	}
	if all[0].Kind != sysevent.KindSystemNotice {
		t.Errorf("all[0].Kind = %v, want SystemNotice", all[0].Kind)
	}

	tail := b.SliceFrom(2)
	if len(tail) != 1 || tail[0].Kind != sysevent.KindToolProgress {
		t.Fatalf("SliceFrom(2): got %+v, want single ToolProgress event", tail)
	}

	if got := b.SliceFrom(3); got != nil {
		t.Errorf("SliceFrom(len): got %v, want nil", got)
	}
	if got := b.SliceFrom(100); got != nil {
		t.Errorf("SliceFrom(out of range): got %v, want nil", got)
	}
	if got := b.SliceFrom(-5); len(got) != 3 {
		t.Errorf("SliceFrom(negative) should clamp to 0: got %d events", len(got))
	}
}

func TestBus_SliceFromIsACopy(t *testing.T) {
	b := New()
	b.Push(sysevent.Notice("first"))

	snap := b.SliceFrom(0)
	snap[0] = sysevent.Notice("mutated")

	if got := b.SliceFrom(0); got[0].Message != "first" {
		t.Errorf("Push-order log was mutated via a SliceFrom snapshot: got %q", got[0].Message)
	}
}

func TestBus_ConcurrentPush(t *testing.T) {
	b := New()
	const n = 200

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			b.Push(sysevent.Notice("x"))
		}()
	}
	wg.Wait()

	if got := b.Len(); got != n {
		t.Fatalf("Len after concurrent push: got %d, want %d", got, n)
	}
}
