package membership

import "testing"

func TestRumorLog_ResolveReturnsLowestSendCountFirst(t *testing.T) {
	rl := NewRumorLog()
	rl.Push(RumorKey{Kind: "member", SubjectID: "a"})
	rl.Push(RumorKey{Kind: "member", SubjectID: "b"})

	resolver := func(k RumorKey) (MembershipRumor, bool) {
		return MembershipRumor{Member: Member{ID: k.SubjectID}}, true
	}

	first := rl.Resolve(1, 10, resolver)
	if len(first) != 1 || first[0].Member.ID != "a" {
		t.Fatalf("expected a to resolve first (FIFO, 0 sends), got %+v", first)
	}

	second := rl.Resolve(1, 10, resolver)
	if len(second) != 1 || second[0].Member.ID != "b" {
		t.Fatalf("expected b to resolve second, got %+v", second)
	}
}

func TestRumorLog_DropsAfterBudgetExhausted(t *testing.T) {
	rl := NewRumorLog()
	key := RumorKey{Kind: "member", SubjectID: "a"}
	rl.Push(key)

	resolver := func(k RumorKey) (MembershipRumor, bool) {
		return MembershipRumor{Member: Member{ID: k.SubjectID}}, true
	}

	budget := maxSends(1) // n=1 cluster size
	for i := 0; i < budget; i++ {
		out := rl.Resolve(1, 1, resolver)
		if len(out) != 1 {
			t.Fatalf("round %d: expected the rumor still queued, got %d results", i, len(out))
		}
	}

	out := rl.Resolve(1, 1, resolver)
	if len(out) != 0 {
		t.Fatalf("expected the rumor to have been dropped after %d sends, still got %d", budget, len(out))
	}
}

func TestRumorLog_PushResetsSendCountOnRepush(t *testing.T) {
	rl := NewRumorLog()
	key := RumorKey{Kind: "member", SubjectID: "a"}
	resolver := func(k RumorKey) (MembershipRumor, bool) {
		return MembershipRumor{Member: Member{ID: k.SubjectID}}, true
	}

	rl.Push(key)
	budget := maxSends(1)
	for i := 0; i < budget; i++ {
		rl.Resolve(1, 1, resolver)
	}
	// Exhausted now; repush should revive it.
	rl.Push(key)
	out := rl.Resolve(1, 1, resolver)
	if len(out) != 1 {
		t.Fatal("expected repush to revive a dropped rumor")
	}
}

func TestRumorLog_UnresolvableKeyIsDroppedWithoutConsumingBudget(t *testing.T) {
	rl := NewRumorLog()
	rl.Push(RumorKey{Kind: "member", SubjectID: "gone"})

	out := rl.Resolve(5, 1, func(RumorKey) (MembershipRumor, bool) {
		return MembershipRumor{}, false
	})
	if len(out) != 0 {
		t.Fatalf("expected no payload for an unresolvable key, got %d", len(out))
	}
	if rl.Len() != 0 {
		t.Fatalf("expected the unresolvable key to be dropped from the queue, Len()=%d", rl.Len())
	}
}
