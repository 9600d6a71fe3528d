package detector

import (
	"testing"
	"time"

	"swimguard/internal/membership"
)

func newTestSweeper(tProbe time.Duration) (*Sweeper, *membership.MemberList, *membership.Dissemination) {
	list := membership.New(membership.Member{ID: "self"})
	diss := membership.NewDissemination(list, 5)
	cfg := DefaultConfig()
	cfg.TProbe = tProbe
	return NewSweeper(cfg, list, diss), list, diss
}

func TestSweeper_PromotesSuspectToConfirmedAfterTimeout(t *testing.T) {
	sw, list, _ := newTestSweeper(5 * time.Millisecond)
	list.Insert(membership.Member{ID: "a"}, membership.Alive)
	list.InsertHealth("a", membership.Suspect)

	sw.sweep() // first sweep: starts the suspicion clock
	h, _ := list.HealthOf("a")
	if h != membership.Suspect {
		t.Fatalf("expected a to remain Suspect immediately after being marked, got %v", h)
	}

	time.Sleep(200 * time.Millisecond) // well past k*ln(3)*5ms (n counts self and a)
	sw.sweep()

	h, _ = list.HealthOf("a")
	if h != membership.Confirmed {
		t.Fatalf("expected a to be Confirmed after the suspicion timeout elapsed, got %v", h)
	}
}

func TestSweeper_RefutationCancelsSuspicion(t *testing.T) {
	sw, list, _ := newTestSweeper(5 * time.Millisecond)
	list.Insert(membership.Member{ID: "a"}, membership.Alive)
	list.InsertHealth("a", membership.Suspect)

	sw.sweep()
	list.InsertHealth("a", membership.Alive) // refuted before the timeout

	time.Sleep(200 * time.Millisecond)
	sw.sweep()

	h, _ := list.HealthOf("a")
	if h != membership.Alive {
		t.Fatalf("expected refutation to prevent Confirmed promotion, got %v", h)
	}
}

func TestSweeper_PruneDepartedForgetsRemovedMembers(t *testing.T) {
	sw, list, _ := newTestSweeper(5 * time.Millisecond)
	list.Insert(membership.Member{ID: "a"}, membership.Alive)
	list.InsertHealth("a", membership.Suspect)
	sw.sweep()

	if len(sw.since) != 1 {
		t.Fatalf("expected one tracked suspicion timer, got %d", len(sw.since))
	}

	// Simulate a - never actually removed from MemberList (no deletion
	// operation exists), so exercise pruneDeparted directly against an
	// empty live set to confirm it clears stale timers.
	sw.pruneDeparted(map[string]struct{}{})

	if len(sw.since) != 0 {
		t.Fatalf("expected pruneDeparted to clear timers for ids outside the live set, got %d left", len(sw.since))
	}
}
