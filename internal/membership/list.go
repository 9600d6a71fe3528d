package membership

import (
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
)

// K is the default number of indirect-probe relays pingreq_targets
// returns (§4.1 of the spec).
const K = 5

// entry is the internal record kept per member id.
type entry struct {
	member Member
	health Health
}

// MemberList is the concurrent mapping of member id -> (member, health).
// It is the only shared mutable object in the system; every operation
// acquires the single coarse lock for its whole duration, because
// insert's decision depends on an atomic observation of
// (incarnation, health) and members()/check_list() must observe a
// consistent snapshot too. Finer-grained locking would be an
// optimization, never a correctness requirement.
type MemberList struct {
	mu       sync.Mutex
	rng      *rand.Rand
	entries  map[string]*entry
	selfID   string
	poisoned atomic.Bool
}

// New creates an empty MemberList that knows its own id for
// self-refutation purposes (§4.5). self is inserted Alive immediately.
func New(self Member) *MemberList {
	l := &MemberList{
		rng:     rand.New(rand.NewSource(rand.Int63())),
		entries: make(map[string]*entry),
		selfID:  self.ID,
	}
	l.entries[self.ID] = &entry{member: self, health: Alive}
	return l
}

// locked runs fn with the coarse lock held, implementing the
// panic -> poison -> fatal discipline spec.md §5/§7.5 describes as
// "lock poisoning". Go's sync.Mutex doesn't poison itself the way
// Rust's does, so it's reproduced explicitly: any panic inside fn
// marks the list poisoned before propagating, and every subsequent
// call panics immediately instead of touching the (possibly torn)
// map.
func (l *MemberList) locked(fn func()) {
	if l.poisoned.Load() {
		panic("membership: MemberList is poisoned by a prior panic")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			l.poisoned.Store(true)
			panic(r)
		}
	}()
	fn()
}

// decide implements the §4.1 decision table. It returns whether the
// incoming (incarnation, health) should be accepted and whether
// acceptance should be re-gossiped. present is false when id has no
// current entry.
func decide(present bool, curInc, inInc uint64, curHealth, inHealth Health) (accept, regossip bool) {
	if !present {
		return true, true
	}
	if curInc > inInc {
		return false, false
	}
	if curInc < inInc {
		return true, true
	}
	// Equal incarnation: consult the health lattice.
	if curHealth == Confirmed {
		return false, false
	}
	if curHealth == inHealth {
		return false, false
	}
	if curHealth.Less(inHealth) {
		return true, true
	}
	// inHealth < curHealth at equal incarnation: incoming is stale.
	return false, false
}

// Insert merges a received rumor into the list. It returns true iff
// the rumor is novel or strictly refines current belief and therefore
// should be re-gossiped.
func (l *MemberList) Insert(m Member, h Health) (changed bool) {
	l.locked(func() {
		cur, present := l.entries[m.ID]

		var curInc uint64
		curHealth := Alive
		if present {
			curInc = cur.member.Incarnation
			curHealth = cur.health
		}

		accept, regossip := decide(present, curInc, m.Incarnation, curHealth, h)

		if accept && m.ID == l.selfID && h != Alive {
			// Self-refutation (§4.5): never let a non-Alive verdict
			// about ourselves stand. Bump past whatever incarnation
			// is being claimed and republish Alive.
			newInc := m.Incarnation
			if curInc > newInc {
				newInc = curInc
			}
			newInc++
			l.entries[m.ID] = &entry{
				member: Member{ID: m.ID, Incarnation: newInc, Address: cur.member.Address, Persistent: cur.member.Persistent},
				health: Alive,
			}
			changed = true
			return
		}

		if !accept {
			changed = false
			return
		}

		l.entries[m.ID] = &entry{member: m, health: h}
		changed = regossip
	})
	return changed
}

// InsertHealth is the local-only health poke used by the failure
// detector: it writes unconditionally if different from the current
// health and reports whether anything changed. It never touches
// incarnation.
func (l *MemberList) InsertHealth(id string, h Health) (changed bool) {
	l.locked(func() {
		e, present := l.entries[id]
		if !present {
			return
		}
		if e.health == h {
			return
		}
		e.health = h
		changed = true
	})
	return changed
}

// HealthOf is a read-only lookup of a member's current health.
func (l *MemberList) HealthOf(id string) (h Health, ok bool) {
	l.locked(func() {
		e, present := l.entries[id]
		if !present {
			return
		}
		h, ok = e.health, true
	})
	return h, ok
}

// MembershipFor builds a (member, health) snapshot for transmission.
// Looking up an id that was never inserted is a programmer error
// (caller contract: must have inserted first) and panics loudly
// rather than return a zero value that could be mistaken for real
// data.
func (l *MemberList) MembershipFor(id string) MembershipRumor {
	var out MembershipRumor
	found := false
	l.locked(func() {
		e, present := l.entries[id]
		if !present {
			return
		}
		out = MembershipRumor{Member: e.member, Health: e.health}
		found = true
	})
	if !found {
		panic(fmt.Sprintf("membership: MembershipFor called on absent id %q", id))
	}
	return out
}

// Members returns every current member view. Order is irrelevant.
func (l *MemberList) Members() []MembershipRumor {
	var out []MembershipRumor
	l.locked(func() {
		out = make([]MembershipRumor, 0, len(l.entries))
		for _, e := range l.entries {
			out = append(out, MembershipRumor{Member: e.member, Health: e.health})
		}
	})
	return out
}

// CheckList returns all members except exclude, in a uniformly random
// order drawn fresh per call. The failure detector does not call it:
// its probe order comes from probering.Ring.
func (l *MemberList) CheckList(exclude string) []MembershipRumor {
	var out []MembershipRumor
	l.locked(func() {
		out = make([]MembershipRumor, 0, len(l.entries))
		for id, e := range l.entries {
			if id == exclude {
				continue
			}
			out = append(out, MembershipRumor{Member: e.member, Health: e.health})
		}
		l.rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	})
	return out
}

// PingreqTargets returns up to K members chosen uniformly at random
// from the list minus {sender, target}. Fewer than K is acceptable;
// the count is advisory, not a precondition.
func (l *MemberList) PingreqTargets(sender, target string) []MembershipRumor {
	var out []MembershipRumor
	l.locked(func() {
		candidates := make([]MembershipRumor, 0, len(l.entries))
		for id, e := range l.entries {
			if id == sender || id == target {
				continue
			}
			candidates = append(candidates, MembershipRumor{Member: e.member, Health: e.health})
		}
		l.rng.Shuffle(len(candidates), func(i, j int) { candidates[i], candidates[j] = candidates[j], candidates[i] })
		if len(candidates) > K {
			candidates = candidates[:K]
		}
		out = candidates
	})
	return out
}

// Len reports the current member count, used to scale suspicion
// timeouts and dissemination budgets logarithmically with cluster size.
func (l *MemberList) Len() int {
	n := 0
	l.locked(func() { n = len(l.entries) })
	return n
}

// SelfID returns the id this list was constructed with.
func (l *MemberList) SelfID() string { return l.selfID }
