package detector

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"swimguard/internal/membership"
	"swimguard/internal/probering"
	"swimguard/internal/transport"
)

// Sender is the outbound half of the network façade the detector
// needs: encode-and-send one frame to one address.
type Sender interface {
	Send(addr string, f transport.Frame, keep int) error
}

// FailureDetector runs the probe round described in §4.2: pick a
// target, direct Ping, fall back to indirect PingReq via K relays,
// mark Suspect on total failure.
type FailureDetector struct {
	cfg  Config
	list *membership.MemberList
	diss *membership.Dissemination
	ring *probering.Ring
	net  Sender
	self func() membership.Member // reads current self record (incarnation may bump)

	seq     uint64
	round   uint64
	roundsSincePersistentProbe map[string]int

	pendingMu      sync.Mutex
	pendingAck     map[uint64]chan struct{}
	pendingForward map[uint64]forwardEntry // our own relay seq -> original requester + their seq

	persistentMu sync.Mutex
}

// forwardEntry tracks one in-flight relayed probe: the requester we
// must echo the Ack back to, and the seq they used so the Ack frame
// we send them correlates with their own pendingAck entry. The key
// into pendingForward is always a seq this node minted itself via
// nextSeq(), never the foreign seq the requester sent us — reusing a
// foreign seq would let it collide with an unrelated local probe's
// own seq, since per-node counters aren't namespaced against each
// other.
type forwardEntry struct {
	requester    string
	requesterSeq uint64
}

// New creates a FailureDetector. self returns the current (member,
// address) this process probes under; it's a func rather than a
// value because incarnation can change out from under it via
// self-refutation.
func New(cfg Config, list *membership.MemberList, diss *membership.Dissemination, ring *probering.Ring, net Sender, self func() membership.Member) *FailureDetector {
	return &FailureDetector{
		cfg:                        cfg,
		list:                       list,
		diss:                       diss,
		ring:                       ring,
		net:                        net,
		self:                       self,
		pendingAck:                 make(map[uint64]chan struct{}),
		pendingForward:             make(map[uint64]forwardEntry),
		roundsSincePersistentProbe: make(map[string]int),
	}
}

// Round reports how many probe rounds have elapsed, for the
// integration suite's wait_for_rounds(n) hook.
func (fd *FailureDetector) Round() uint64 { return atomic.LoadUint64(&fd.round) }

// Run drives one probe round every cfg.TProbe until ctx is cancelled.
func (fd *FailureDetector) Run(ctx context.Context) {
	ticker := time.NewTicker(fd.cfg.TProbe)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fd.probeRound(ctx)
			atomic.AddUint64(&fd.round, 1)
		}
	}
}

func (fd *FailureDetector) nextSeq() uint64 {
	return atomic.AddUint64(&fd.seq, 1)
}

// probeRound picks a target via the probe ring and runs the
// direct/indirect probe sequence against it.
func (fd *FailureDetector) probeRound(ctx context.Context) {
	self := fd.self()
	fd.ring.Sync(memberIDs(fd.list, self.ID))

	target, ok := fd.pickTarget(self)
	if !ok {
		return
	}

	seq := fd.nextSeq()
	ackCh := make(chan struct{}, 1)
	fd.pendingMu.Lock()
	fd.pendingAck[seq] = ackCh
	fd.pendingMu.Unlock()
	defer func() {
		fd.pendingMu.Lock()
		delete(fd.pendingAck, seq)
		fd.pendingMu.Unlock()
	}()

	fd.sendPing(self, target.Member.Address, seq, "")

	timer := time.NewTimer(fd.cfg.TDirect)
	defer timer.Stop()
	select {
	case <-ackCh:
		fd.recordAlive(target.Member.ID, target.Member.Address, target.Member.Incarnation)
		return
	case <-timer.C:
	case <-ctx.Done():
		return
	}

	relays := fd.list.PingreqTargets(self.ID, target.Member.ID)
	for _, relay := range relays {
		fd.sendPingReq(self, relay.Member.Address, target.Member.ID, seq)
	}

	timer2 := time.NewTimer(fd.cfg.TIndirect)
	defer timer2.Stop()
	select {
	case <-ackCh:
		fd.recordAlive(target.Member.ID, target.Member.Address, target.Member.Incarnation)
		return
	case <-timer2.C:
	case <-ctx.Done():
		return
	}

	if fd.list.InsertHealth(target.Member.ID, membership.Suspect) {
		fd.diss.Announce(target.Member.ID)
	}
}

// pickTarget advances the probe ring, skipping Confirmed members
// unless they're persistent. Each id is considered at most once per
// call (one call per round), and it reports false when no member is
// eligible. A persistent Confirmed member's counter advances once per
// round in which the scan reaches it, and it is probed when the
// counter reaches PersistentEveryNRounds; the scan stops at the first
// eligible target, so with other live members in the ring that takes
// more than PersistentEveryNRounds rounds.
func (fd *FailureDetector) pickTarget(self membership.Member) (membership.MembershipRumor, bool) {
	seen := make(map[string]bool)
	for attempts := 2 * fd.list.Len(); attempts > 0; attempts-- {
		id, ok, _ := fd.ring.Next(self.ID)
		if !ok {
			return membership.MembershipRumor{}, false
		}
		if seen[id] {
			continue
		}
		seen[id] = true

		health, present := fd.list.HealthOf(id)
		if !present {
			continue
		}
		m := fd.list.MembershipFor(id)

		if health != membership.Confirmed {
			return m, true
		}
		if !m.Member.Persistent {
			continue
		}
		if fd.dueForPersistentProbe(id) {
			return m, true
		}
	}
	return membership.MembershipRumor{}, false
}

func (fd *FailureDetector) dueForPersistentProbe(id string) bool {
	fd.persistentMu.Lock()
	defer fd.persistentMu.Unlock()
	fd.roundsSincePersistentProbe[id]++
	if fd.roundsSincePersistentProbe[id] >= fd.cfg.PersistentEveryNRounds {
		fd.roundsSincePersistentProbe[id] = 0
		return true
	}
	return false
}

// recordAlive applies a successful (direct or indirect) probe
// response: the target stays/becomes Alive.
func (fd *FailureDetector) recordAlive(id, addr string, knownIncarnation uint64) {
	health, present := fd.list.HealthOf(id)
	if present && health == membership.Alive {
		// Already alive: nothing changed, avoid a pointless regossip.
		return
	}

	m := membership.Member{ID: id, Incarnation: knownIncarnation, Address: addr}
	if present {
		existing := fd.list.MembershipFor(id)
		m.Persistent = existing.Member.Persistent
		if existing.Member.Incarnation > knownIncarnation {
			m.Incarnation = existing.Member.Incarnation
		}
	}
	if fd.list.Insert(m, membership.Alive) {
		fd.diss.Announce(id)
	}
}

func (fd *FailureDetector) sendPing(self membership.Member, addr string, seq uint64, forwardedTo string) {
	frame := fd.buildFrame(self, transport.Ping, seq, forwardedTo)
	fd.net.Send(addr, frame, 0)
}

func (fd *FailureDetector) sendAck(self membership.Member, addr string, seq uint64) {
	frame := fd.buildFrame(self, transport.Ack, seq, "")
	fd.net.Send(addr, frame, 0)
}

func (fd *FailureDetector) sendPingReq(self membership.Member, addr, targetID string, seq uint64) {
	frame := fd.buildFrame(self, transport.PingReq, seq, targetID)
	fd.net.Send(addr, frame, 0)
}

func (fd *FailureDetector) buildFrame(self membership.Member, kind transport.Kind, seq uint64, forwardedTo string) transport.Frame {
	rumors := fd.diss.Attach()
	return transport.Frame{
		SenderID:          self.ID,
		SenderIncarnation: self.Incarnation,
		SenderAddress:     self.Address,
		Kind:              kind,
		ForwardedTo:       forwardedTo,
		SeqNo:             seq,
		Rumors:            toWire(rumors),
	}
}

// HandlePing responds to an incoming direct probe with an Ack and
// notes the sender as alive.
func (fd *FailureDetector) HandlePing(from string, frame transport.Frame) {
	self := fd.self()
	fd.noteSenderAlive(frame.SenderID, frame.SenderAddress, frame.SenderIncarnation)
	fd.sendAck(self, from, frame.SeqNo)
}

// HandleAck completes a pending local probe wait, or — if this node
// was acting as a relay for an indirect probe — forwards the ack on
// to the original requester.
func (fd *FailureDetector) HandleAck(from string, frame transport.Frame) {
	fd.noteSenderAlive(frame.SenderID, frame.SenderAddress, frame.SenderIncarnation)

	fd.pendingMu.Lock()
	ch, isLocal := fd.pendingAck[frame.SeqNo]
	fwd, isForward := fd.pendingForward[frame.SeqNo]
	if isForward {
		delete(fd.pendingForward, frame.SeqNo)
	}
	fd.pendingMu.Unlock()

	if isLocal {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
	if isForward {
		self := fd.self()
		fd.net.Send(fwd.requester, fd.buildFrame(self, transport.Ack, fwd.requesterSeq, ""), 0)
	}
}

// HandlePingReq relays an indirect probe: it pings the requested
// target itself and remembers to forward whatever Ack comes back to
// the original requester.
func (fd *FailureDetector) HandlePingReq(from string, frame transport.Frame) {
	targetID := frame.ForwardedTo
	if targetID == "" {
		return
	}
	if _, present := fd.list.HealthOf(targetID); !present {
		return // don't know this member: can't help, advisory only
	}
	target := fd.list.MembershipFor(targetID)

	relaySeq := fd.nextSeq()
	fd.pendingMu.Lock()
	fd.pendingForward[relaySeq] = forwardEntry{requester: from, requesterSeq: frame.SeqNo}
	fd.pendingMu.Unlock()

	self := fd.self()
	fd.sendPing(self, target.Member.Address, relaySeq, "")
}

// noteSenderAlive records that a peer just communicated with us,
// which is itself evidence of liveness (§4.2 "target stays/becomes
// Alive"). Any existing Persistent flag is preserved since the frame
// envelope doesn't carry it — that detail rides along on piggybacked
// rumors instead.
func (fd *FailureDetector) noteSenderAlive(id, addr string, incarnation uint64) {
	if id == "" || id == fd.self().ID {
		return
	}
	m := membership.Member{ID: id, Incarnation: incarnation, Address: addr}
	if _, present := fd.list.HealthOf(id); present {
		existing := fd.list.MembershipFor(id)
		m.Persistent = existing.Member.Persistent
		if existing.Member.Incarnation > incarnation {
			m.Incarnation = existing.Member.Incarnation
		}
	}
	if fd.list.Insert(m, membership.Alive) {
		fd.diss.Announce(id)
	}
}

func memberIDs(list *membership.MemberList, self string) []string {
	snap := list.Members()
	ids := make([]string, 0, len(snap))
	for _, m := range snap {
		ids = append(ids, m.Member.ID)
	}
	return ids
}

func toWire(rumors []membership.MembershipRumor) []transport.WireRumor {
	out := make([]transport.WireRumor, 0, len(rumors))
	for _, r := range rumors {
		out = append(out, transport.WireRumor{
			MemberID:          r.Member.ID,
			MemberAddress:     r.Member.Address,
			MemberIncarnation: r.Member.Incarnation,
			MemberPersistent:  r.Member.Persistent,
			Health:            toWireHealth(r.Health),
		})
	}
	return out
}

func toWireHealth(h membership.Health) transport.WireHealth {
	switch h {
	case membership.Alive:
		return transport.WireAlive
	case membership.Suspect:
		return transport.WireSuspect
	case membership.Confirmed:
		return transport.WireConfirmed
	default:
		return transport.WireAlive
	}
}

func fromWireHealth(h transport.WireHealth) membership.Health {
	switch h {
	case transport.WireSuspect:
		return membership.Suspect
	case transport.WireConfirmed:
		return membership.Confirmed
	default:
		return membership.Alive
	}
}

// FromWire converts a frame's attached rumors back into the core's
// MembershipRumor shape. Exported so the cluster orchestrator's
// inbound-processor task (§5) can feed them to Dissemination.Receive
// without reaching into detector internals.
func FromWire(rumors []transport.WireRumor) []membership.MembershipRumor {
	out := make([]membership.MembershipRumor, 0, len(rumors))
	for _, r := range rumors {
		out = append(out, membership.MembershipRumor{
			Member: membership.Member{
				ID:          r.MemberID,
				Address:     r.MemberAddress,
				Incarnation: r.MemberIncarnation,
				Persistent:  r.MemberPersistent,
			},
			Health: fromWireHealth(r.Health),
		})
	}
	return out
}
