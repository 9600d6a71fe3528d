package cluster

import (
	"context"
	"fmt"
	"testing"
	"time"

	"swimguard/internal/membership"
	"swimguard/internal/transport"
)

// testNet meshes several Cluster instances over one MemoryBus, porting
// the scaled multi-node scenarios from the original habitat_swim
// integration suite (components/swim/tests/integration.rs) onto
// transport.MemoryBus instead of real sockets. This is also the
// harness that exercises ≥3 nodes doing live indirect probing at
// once — the configuration that requires pendingForward entries to
// never collide with an unrelated node's own pendingAck entry.
type testNet struct {
	t       *testing.T
	bus     *transport.MemoryBus
	members []*Cluster
}

func newTestNet(t *testing.T, n int, persistent map[int]bool) *testNet {
	t.Helper()
	bus := transport.NewMemoryBus()
	cfg := fastConfig()

	net := &testNet{t: t, bus: bus}
	for i := 0; i < n; i++ {
		addr := fmt.Sprintf("m%d", i)
		m := membership.Member{ID: addr, Address: addr, Persistent: persistent[i]}
		c := New(cfg, m, bus.Socket(addr), Callbacks{})
		c.Start()
		net.members = append(net.members, c)
	}
	return net
}

func (n *testNet) stopAll() {
	for _, c := range n.members {
		c.Stop()
	}
}

// mesh connects every member to every other member directly.
func (n *testNet) mesh() {
	for i, a := range n.members {
		for j, b := range n.members {
			if i == j {
				continue
			}
			a.Connect(b.Self())
		}
	}
}

// connect links only members i and j, relying on gossip to spread the
// rest of the membership view (the "unmeshed" scenarios).
func (n *testNet) connect(i, j int) {
	n.members[i].Connect(n.members[j].Self())
	n.members[j].Connect(n.members[i].Self())
}

func (n *testNet) pause(i int) {
	n.members[i].Network().Pause()
}

func (n *testNet) blacklist(i, j int) {
	a, b := n.members[i].Self().Address, n.members[j].Self().Address
	n.members[i].Network().Blacklist(a, b)
	n.members[j].Network().Blacklist(a, b)
}

func (n *testNet) addrsOf(idx []int) []string {
	out := make([]string, len(idx))
	for k, i := range idx {
		out[k] = n.members[i].Self().Address
	}
	return out
}

func (n *testNet) partition(setA, setB []int) {
	a, b := n.addrsOf(setA), n.addrsOf(setB)
	for _, i := range setA {
		n.members[i].Network().Partition(a, b)
	}
	for _, i := range setB {
		n.members[i].Network().Partition(a, b)
	}
}

func (n *testNet) unpartition(setA, setB []int) {
	a, b := n.addrsOf(setA), n.addrsOf(setB)
	for _, i := range setA {
		n.members[i].Network().Heal(a, b)
	}
	for _, i := range setB {
		n.members[i].Network().Heal(a, b)
	}
}

func (n *testNet) waitForRounds(t *testing.T, rounds uint64) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for _, c := range n.members {
		if !c.WaitForRounds(ctx, rounds) {
			t.Fatalf("a member never completed %d more probe rounds", rounds)
		}
	}
}

// waitForHealthOf blocks until observer's view of subject reaches
// want, or ctx expires.
func (n *testNet) waitForHealthOf(ctx context.Context, observer, subject int, want membership.Health) bool {
	subjectID := n.members[subject].Self().ID
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		for _, m := range n.members[observer].Members() {
			if m.Member.ID == subjectID && m.Health == want {
				return true
			}
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// waitForHealthOfAll blocks until every member other than subject
// agrees subject's health is want — the single-index form of the
// original suite's assert_wait_for_health_of! macro.
func (n *testNet) waitForHealthOfAll(ctx context.Context, subject int, want membership.Health) bool {
	for i := range n.members {
		if i == subject {
			continue
		}
		if !n.waitForHealthOf(ctx, i, subject, want) {
			return false
		}
	}
	return true
}

// waitForCrossHealth blocks until every member of setA agrees on
// want for every member of setB and vice versa — the two-set form
// used by the partition scenarios.
func (n *testNet) waitForCrossHealth(ctx context.Context, setA, setB []int, want membership.Health) bool {
	for _, o := range setA {
		for _, s := range setB {
			if !n.waitForHealthOf(ctx, o, s, want) {
				return false
			}
		}
	}
	for _, o := range setB {
		for _, s := range setA {
			if !n.waitForHealthOf(ctx, o, s, want) {
				return false
			}
		}
	}
	return true
}

// waitForFullMesh blocks until every member considers every other
// member Alive.
func (n *testNet) waitForFullMesh(ctx context.Context) bool {
	for i := range n.members {
		for j := range n.members {
			if i == j {
				continue
			}
			if !n.waitForHealthOf(ctx, i, j, membership.Alive) {
				return false
			}
		}
	}
	return true
}

func rangeInts(a, b int) []int {
	out := make([]int, 0, b-a)
	for i := a; i < b; i++ {
		out = append(out, i)
	}
	return out
}

func TestIntegration_TwoMembersMeshedConfirmOne(t *testing.T) {
	net := newTestNet(t, 2, nil)
	defer net.stopAll()
	net.mesh()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if !net.waitForHealthOf(ctx, 1, 0, membership.Alive) {
		t.Fatal("member 1 never saw member 0 as alive")
	}

	net.pause(0)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if !net.waitForHealthOf(ctx2, 1, 0, membership.Confirmed) {
		t.Fatal("member 1 never confirmed member 0 down")
	}
}

func TestIntegration_SixMembersMeshedConfirmOne(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.mesh()

	net.pause(0)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if !net.waitForHealthOfAll(ctx, 0, membership.Confirmed) {
		t.Fatal("not every member confirmed member 0 down")
	}
}

// TestIntegration_SixMembersMeshedBlacklistStaysAliveViaIndirectProbe
// is also the scenario that exercises ≥3 nodes doing live direct and
// indirect probing at once: while 0 and 1 can't reach each other
// directly, every other member keeps probing both of them directly
// AND may simultaneously be relaying an indirect PingReq for 0 or 1.
// A relay that reused the requester's raw seq for its own outbound
// ping (instead of minting a fresh local one) could cross-complete an
// unrelated direct probe here and flap a member that is, in fact,
// still alive.
func TestIntegration_SixMembersMeshedBlacklistStaysAliveViaIndirectProbe(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.mesh()

	net.blacklist(0, 1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !net.waitForHealthOfAll(ctx, 1, membership.Alive) {
		t.Fatal("member 1 should have stayed alive (confirmed via indirect probe through relays), but flapped")
	}
	if !net.waitForHealthOfAll(ctx, 0, membership.Alive) {
		t.Fatal("member 0 should have stayed alive (confirmed via indirect probe through relays), but flapped")
	}
}

func TestIntegration_SixMembersMeshedPartitionBothSidesConfirmed(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.mesh()

	setA, setB := rangeInts(0, 3), rangeInts(3, 6)
	net.partition(setA, setB)

	ctx, cancel := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel()
	if !net.waitForCrossHealth(ctx, setA, setB, membership.Confirmed) {
		t.Fatal("both sides of the partition should have confirmed the other side down")
	}
}

func TestIntegration_SixMembersUnmeshedBecomeFullyMeshedViaGossip(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.connect(0, 1)
	net.connect(1, 2)
	net.connect(2, 3)
	net.connect(3, 4)
	net.connect(4, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if !net.waitForFullMesh(ctx) {
		t.Fatal("gossip never fully meshed a chain-connected six-member cluster")
	}
}

func TestIntegration_SixMembersUnmeshedConfirmOne(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.connect(0, 1)
	net.connect(1, 2)
	net.connect(2, 3)
	net.connect(3, 4)
	net.connect(4, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if !net.waitForFullMesh(ctx) {
		cancel()
		t.Fatal("gossip never fully meshed the cluster before the failure phase")
	}
	cancel()

	net.pause(0)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 8*time.Second)
	defer cancel2()
	if !net.waitForHealthOfAll(ctx2, 0, membership.Confirmed) {
		t.Fatal("not every member confirmed member 0 down")
	}
}

func TestIntegration_SixMembersUnmeshedPartitionAndRejoinNoPersistentPeers(t *testing.T) {
	net := newTestNet(t, 6, nil)
	defer net.stopAll()
	net.connect(0, 1)
	net.connect(1, 2)
	net.connect(2, 3)
	net.connect(3, 4)
	net.connect(4, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if !net.waitForFullMesh(ctx) {
		cancel()
		t.Fatal("gossip never fully meshed the cluster before the partition phase")
	}
	cancel()

	setA, setB := rangeInts(0, 3), rangeInts(3, 6)
	net.partition(setA, setB)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 8*time.Second)
	if !net.waitForCrossHealth(ctx2, setA, setB, membership.Confirmed) {
		cancel2()
		t.Fatal("both sides of the partition should have confirmed the other side down")
	}
	cancel2()

	net.unpartition(setA, setB)
	net.waitForRounds(t, 1)

	// No persistent peers on either side means once a member is
	// Confirmed down, the probe ring stops trying it — healing the
	// network doesn't, by itself, bring it back.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel3()
	if !net.waitForCrossHealth(ctx3, setA, setB, membership.Confirmed) {
		t.Fatal("expected both sides to remain confirmed down without a persistent peer to re-probe them")
	}
}

func TestIntegration_SixMembersUnmeshedPartitionAndRejoinPersistentPeers(t *testing.T) {
	net := newTestNet(t, 6, map[int]bool{0: true, 4: true})
	defer net.stopAll()
	net.connect(0, 1)
	net.connect(1, 2)
	net.connect(2, 3)
	net.connect(3, 4)
	net.connect(4, 5)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if !net.waitForFullMesh(ctx) {
		cancel()
		t.Fatal("gossip never fully meshed the cluster before the partition phase")
	}
	cancel()

	setA, setB := rangeInts(0, 3), rangeInts(3, 6)
	net.partition(setA, setB)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 8*time.Second)
	if !net.waitForCrossHealth(ctx2, setA, setB, membership.Confirmed) {
		cancel2()
		t.Fatal("both sides of the partition should have confirmed the other side down")
	}
	cancel2()

	net.unpartition(setA, setB)
	net.waitForRounds(t, 1)

	// 0 and 4 are persistent, so once the network heals they keep
	// being probed even while Confirmed, and the whole cluster should
	// recover to Alive.
	ctx3, cancel3 := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel3()
	if !net.waitForCrossHealth(ctx3, setA, setB, membership.Alive) {
		t.Fatal("expected persistent peers to heal the partition back to alive")
	}
}

func TestIntegration_OneHundredMembersMeshedConfirmOne(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping hundred-node mesh scenario in -short mode")
	}
	net := newTestNet(t, 100, nil)
	defer net.stopAll()
	net.mesh()

	net.pause(0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if !net.waitForHealthOfAll(ctx, 0, membership.Confirmed) {
		t.Fatal("not every member confirmed member 0 down in a hundred-member mesh")
	}
}
