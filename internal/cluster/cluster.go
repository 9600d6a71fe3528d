// Package cluster wires membership, dissemination, the probe ring,
// the failure detector and the transport layer together into one
// running member process, the way the teacher's GossipManager
// (internal/gossip/manager.go) wires its pieces. It owns the single
// inbound-processing task the spec's §5 describes as distinct from
// the probe-round task: for every frame the transport hands up, apply
// its piggybacked rumors first, then dispatch by Kind.
package cluster

import (
	"context"
	"sync"
	"time"

	"swimguard/internal/detector"
	"swimguard/internal/membership"
	"swimguard/internal/probering"
	"swimguard/internal/transport"
)

// Callbacks lets a caller observe membership events without polling,
// mirroring the teacher's SetCallbacks(onJoin, onLeave, onFail).
type Callbacks struct {
	OnAlive     func(membership.MembershipRumor)
	OnSuspect   func(membership.MembershipRumor)
	OnConfirmed func(membership.MembershipRumor)
}

// FeedEvent is one health transition pushed to live feed subscribers
// (§6.3). One is published for each member that appears or changes
// health while an inbound frame is handled or while Connect adds a
// peer. Transitions the probe loop or the suspicion sweeper make on
// their own (a target marked Suspect after a failed probe, a Suspect
// promoted to Confirmed) are not diffed by that path and produce no
// event unless they happen while a frame is being handled.
type FeedEvent struct {
	Type   string                     `json:"type"`
	Member membership.MembershipRumor `json:"member"`
}

// Cluster is one running SWIM member: its membership view, rumor
// dissemination, probe cursor, failure detector and network socket.
type Cluster struct {
	cfg  detector.Config
	list *membership.MemberList
	diss *membership.Dissemination
	ring *probering.Ring
	net  *transport.Network
	fd   *detector.FailureDetector
	sw   *detector.Sweeper

	selfMu sync.RWMutex
	self   membership.Member

	cb Callbacks

	feedMu   sync.Mutex
	feedSubs map[chan FeedEvent]struct{}

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Cluster bound to socket, self-identified as self.
// Callers typically obtain socket from transport.ListenUDP for real
// use or a transport.MemoryBus for tests.
func New(cfg detector.Config, self membership.Member, socket transport.Socket, cb Callbacks) *Cluster {
	list := membership.New(self)
	diss := membership.NewDissemination(list, cfg.MaxPiggyback)
	ring := probering.New()
	net := transport.NewNetwork(socket)

	c := &Cluster{
		cfg:      cfg,
		list:     list,
		diss:     diss,
		ring:     ring,
		net:      net,
		cb:       cb,
		self:     self,
		feedSubs: make(map[chan FeedEvent]struct{}),
	}
	c.fd = detector.New(cfg, list, diss, ring, net, c.currentSelf)
	c.sw = detector.NewSweeper(cfg, list, diss)
	return c
}

func (c *Cluster) currentSelf() membership.Member {
	c.selfMu.RLock()
	id := c.self.ID
	c.selfMu.RUnlock()
	return c.list.MembershipFor(id).Member
}

// Start launches the probe loop, the suspicion sweeper and the
// inbound-frame processor. Stop must eventually be called to release
// their goroutines.
func (c *Cluster) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel

	c.wg.Add(3)
	go func() { defer c.wg.Done(); c.fd.Run(ctx) }()
	go func() { defer c.wg.Done(); c.sw.Run(ctx) }()
	go func() { defer c.wg.Done(); c.processInbound(ctx) }()
}

// Stop cancels every owned goroutine and closes the network.
func (c *Cluster) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.net.Close()
	c.wg.Wait()
}

// processInbound is the §5 "inbound processor" task: apply piggyback
// rumors, then dispatch by frame kind to the detector.
func (c *Cluster) processInbound(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r, ok := <-c.net.Inbound():
			if !ok {
				return
			}
			c.handleFrame(r)
		}
	}
}

func (c *Cluster) handleFrame(r transport.Received) {
	before := snapshotHealth(c.list)
	c.diss.Receive(detector.FromWire(r.Frame.Rumors))

	switch r.Frame.Kind {
	case transport.Ping:
		c.fd.HandlePing(r.From, r.Frame)
	case transport.Ack:
		c.fd.HandleAck(r.From, r.Frame)
	case transport.PingReq:
		c.fd.HandlePingReq(r.From, r.Frame)
	}

	c.fireCallbacks(before)
}

// fireCallbacks diffs the membership view against a before-snapshot
// and fires whichever of Callbacks applies to each change, and
// publishes the same transition to every live feed subscriber (§6.3).
// It runs only around inbound frame handling and Connect, so it sees
// only what changed between its before-snapshot and its own scan.
func (c *Cluster) fireCallbacks(before map[string]membership.Health) {
	for _, m := range c.list.Members() {
		prior, existed := before[m.Member.ID]
		if existed && prior == m.Health {
			continue
		}
		switch m.Health {
		case membership.Alive:
			if c.cb.OnAlive != nil {
				c.cb.OnAlive(m)
			}
			c.publishFeedEvent(FeedEvent{Type: "alive", Member: m})
		case membership.Suspect:
			if c.cb.OnSuspect != nil {
				c.cb.OnSuspect(m)
			}
			c.publishFeedEvent(FeedEvent{Type: "suspect", Member: m})
		case membership.Confirmed:
			if c.cb.OnConfirmed != nil {
				c.cb.OnConfirmed(m)
			}
			c.publishFeedEvent(FeedEvent{Type: "confirmed", Member: m})
		}
	}
}

// Subscribe registers a new live feed listener and returns its event
// channel plus an unsubscribe func the caller must eventually call.
// The channel is closed once unsubscribe runs.
func (c *Cluster) Subscribe() (<-chan FeedEvent, func()) {
	ch := make(chan FeedEvent, 32)
	c.feedMu.Lock()
	c.feedSubs[ch] = struct{}{}
	c.feedMu.Unlock()

	unsubscribe := func() {
		c.feedMu.Lock()
		if _, ok := c.feedSubs[ch]; ok {
			delete(c.feedSubs, ch)
			close(ch)
		}
		c.feedMu.Unlock()
	}
	return ch, unsubscribe
}

func (c *Cluster) publishFeedEvent(ev FeedEvent) {
	c.feedMu.Lock()
	defer c.feedMu.Unlock()
	for ch := range c.feedSubs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber: drop rather than block the inbound
			// processor task.
		}
	}
}

func snapshotHealth(list *membership.MemberList) map[string]membership.Health {
	members := list.Members()
	out := make(map[string]membership.Health, len(members))
	for _, m := range members {
		out[m.Member.ID] = m.Health
	}
	return out
}

// Connect is the connect(a, b) test hook applied locally: it seeds
// peer as an Alive member of this cluster's view so the next probe
// round can reach it, the way a real deployment's seed-node bootstrap
// does (§6.5). A peer that changes this view is published to the
// callbacks and feed subscribers like any other transition.
func (c *Cluster) Connect(peer membership.Member) {
	before := snapshotHealth(c.list)
	if c.list.Insert(peer, membership.Alive) {
		c.diss.Announce(peer.ID)
	}
	c.fireCallbacks(before)
}

// Members returns the current membership view for introspection.
func (c *Cluster) Members() []membership.MembershipRumor { return c.list.Members() }

// Self returns this cluster's own current member record.
func (c *Cluster) Self() membership.Member { return c.currentSelf() }

// Network exposes the transport for the API layer's test hooks
// (pause/resume/blacklist/partition).
func (c *Cluster) Network() *transport.Network { return c.net }

// Rounds reports how many probe rounds have completed, for
// wait_for_rounds(n).
func (c *Cluster) Rounds() uint64 { return c.fd.Round() }

// RumorKeys exposes the dissemination log's queue for introspection.
func (c *Cluster) RumorKeys() map[membership.RumorKey]int { return c.diss.Log.Keys() }

// WaitForRounds blocks until at least n additional probe rounds have
// elapsed or ctx is cancelled, polling at a short fixed interval; it
// backs the integration suite's wait_for_rounds(n) test hook (§6.5).
func (c *Cluster) WaitForRounds(ctx context.Context, n uint64) bool {
	target := c.Rounds() + n
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		if c.Rounds() >= target {
			return true
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
