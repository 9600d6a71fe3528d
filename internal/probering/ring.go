// Package probering gives the failure detector a stateful cursor over
// the member set so that every live member is probed roughly once per
// full cycle before any repeats (§4.2). It is adapted from the
// teacher's consistent-hash ring: same shape (a mutex-guarded slice
// rebuilt on membership change), different purpose — instead of
// hashing keys to a clockwise position for sharding, it holds a
// shuffled round-robin order and hands out the next id on each call,
// reshuffling once the order is exhausted.
package probering

import (
	"math/rand"
	"sort"
	"sync"
)

// Ring is a round-robin cursor over a set of member ids.
type Ring struct {
	mu     sync.Mutex
	order  []string
	cursor int
	rng    *rand.Rand
}

// New creates an empty Ring.
func New() *Ring {
	return &Ring{rng: rand.New(rand.NewSource(rand.Int63()))}
}

// Sync replaces the ring's member set with ids, reshuffling only when
// the set actually changed so that a probe round in progress keeps its
// cursor position when membership is stable.
func (r *Ring) Sync(ids []string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sameSet(r.order, ids) {
		return
	}

	fresh := append([]string(nil), ids...)
	r.rng.Shuffle(len(fresh), func(i, j int) { fresh[i], fresh[j] = fresh[j], fresh[i] })
	r.order = fresh
	r.cursor = 0
}

// Next returns the next id in the round-robin order, excluding self.
// exhausted is true when this call wrapped the ring back to the start
// (a full cycle has now been offered), at which point the order is
// reshuffled for the next cycle so repeated full cycles don't replay
// an identical sequence.
func (r *Ring) Next(self string) (id string, ok bool, exhausted bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.order) == 0 {
		return "", false, false
	}

	for attempts := 0; attempts < len(r.order)+1; attempts++ {
		if r.cursor >= len(r.order) {
			r.rng.Shuffle(len(r.order), func(i, j int) { r.order[i], r.order[j] = r.order[j], r.order[i] })
			r.cursor = 0
			exhausted = true
		}
		candidate := r.order[r.cursor]
		r.cursor++
		if candidate != self {
			return candidate, true, exhausted
		}
	}
	return "", false, exhausted
}

func sameSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	sa := append([]string(nil), a...)
	sb := append([]string(nil), b...)
	sort.Strings(sa)
	sort.Strings(sb)
	for i := range sa {
		if sa[i] != sb[i] {
			return false
		}
	}
	return true
}
