package selection

import (
	"testing"
	"time"
)

func TestPendingFloorsAtZero(t *testing.T) {
	s := &Selection{Name: Clipboard, Enabled: true}
	s.DecLocal()
	s.DecRemote()
	if s.LocalPending() != 0 || s.RemotePending() != 0 {
		t.Fatalf("counters went negative: local=%d remote=%d", s.LocalPending(), s.RemotePending())
	}
	s.IncLocal()
	s.IncLocal()
	s.DecLocal()
	if s.LocalPending() != 1 {
		t.Fatalf("local pending = %d, want 1", s.LocalPending())
	}
}

func TestAwaitLifecycle(t *testing.T) {
	s := &Selection{Name: Primary, Enabled: true}
	if s.Awaiting() {
		t.Fatal("fresh selection should not be awaiting")
	}
	now := time.Now()
	s.StartAwait(now.Add(5 * time.Second))
	if !s.Awaiting() {
		t.Fatal("StartAwait did not mark in-flight")
	}
	if s.Expired(now) {
		t.Fatal("not yet expired")
	}
	if !s.Expired(now.Add(6 * time.Second)) {
		t.Fatal("should be expired past deadline")
	}
	s.EndAwait()
	if s.Awaiting() {
		t.Fatal("EndAwait did not clear in-flight")
	}
}

func TestQueuedTokenConsumedOnce(t *testing.T) {
	s := &Selection{Name: Clipboard, Enabled: true}
	if s.TakeQueuedToken() {
		t.Fatal("nothing queued yet")
	}
	s.QueueToken()
	s.QueueToken()
	if !s.TakeQueuedToken() {
		t.Fatal("queued token lost")
	}
	if s.TakeQueuedToken() {
		t.Fatal("queued token flag must clear on take")
	}
}

func TestRegistrySetEnabled(t *testing.T) {
	r := NewRegistry(Canonical())
	for _, n := range r.Names() {
		if !r.Get(n).Enabled {
			t.Fatalf("%s should start enabled", n)
		}
	}

	newly := r.SetEnabled([]string{Clipboard})
	if len(newly) != 0 {
		t.Fatalf("shrinking the set enabled %v", newly)
	}
	if r.Get(Primary).Enabled || r.Get(Secondary).Enabled {
		t.Fatal("PRIMARY/SECONDARY should be disabled")
	}

	newly = r.SetEnabled([]string{Clipboard, Primary})
	if len(newly) != 1 || newly[0] != Primary {
		t.Fatalf("newly enabled = %v, want [PRIMARY]", newly)
	}

	// Idempotent: same set again enables nothing new.
	if newly = r.SetEnabled([]string{Clipboard, Primary}); len(newly) != 0 {
		t.Fatalf("repeat enable returned %v", newly)
	}

	// Names outside the negotiated set are ignored.
	if newly = r.SetEnabled([]string{Clipboard, Primary, "BOGUS"}); len(newly) != 0 {
		t.Fatalf("unknown name enabled %v", newly)
	}
}

func TestRegistryResetPending(t *testing.T) {
	r := NewRegistry([]string{Clipboard, Primary})
	r.Get(Clipboard).IncLocal()
	r.Get(Clipboard).StartAwait(time.Now().Add(time.Second))
	r.Get(Primary).IncRemote()
	if r.TotalPending() != 2 {
		t.Fatalf("total pending = %d, want 2", r.TotalPending())
	}
	r.ResetPending()
	if r.TotalPending() != 0 {
		t.Fatalf("total pending after reset = %d", r.TotalPending())
	}
	if r.Get(Clipboard).Awaiting() {
		t.Fatal("reset must clear in-flight state")
	}
	if !r.Get(Clipboard).Enabled {
		t.Fatal("reset must not touch enabled flags")
	}
}

func TestParseDirection(t *testing.T) {
	for _, s := range []string{"to-server", "to-client", "both", "disabled"} {
		if _, ok := ParseDirection(s); !ok {
			t.Errorf("ParseDirection(%q) not ok", s)
		}
	}
	if _, ok := ParseDirection("sideways"); ok {
		t.Error("unknown direction accepted")
	}
	if _, ok := ParseDirection(""); ok {
		t.Error("empty direction accepted")
	}
}
