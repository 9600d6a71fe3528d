package detector

import (
	"context"
	"math"
	"sync"
	"time"

	"swimguard/internal/membership"
)

// Sweeper periodically scans the Suspect set and promotes any member
// that has stayed Suspect for longer than its suspicion timeout to
// Confirmed (§4.3). The timeout scales with cluster size so a bigger
// cluster gives a suspected member more chances to be vouched for
// before it's declared down.
type Sweeper struct {
	cfg  Config
	list *membership.MemberList
	diss *membership.Dissemination

	mu      sync.Mutex
	since   map[string]time.Time
}

// NewSweeper builds a suspicion sweeper sharing the detector's config,
// member list and dissemination log.
func NewSweeper(cfg Config, list *membership.MemberList, diss *membership.Dissemination) *Sweeper {
	return &Sweeper{
		cfg:   cfg,
		list:  list,
		diss:  diss,
		since: make(map[string]time.Time),
	}
}

// Run scans every cfg.TProbe until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TProbe)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep()
		}
	}
}

// suspicionTimeout returns k*ln(n+1)*T_probe, the window a Suspect
// member is given to refute before being Confirmed (§4.3).
func (s *Sweeper) suspicionTimeout(n int) time.Duration {
	factor := s.cfg.SuspicionK * math.Log(float64(n+1))
	if factor < 1 {
		factor = 1
	}
	return time.Duration(factor * float64(s.cfg.TProbe))
}

func (s *Sweeper) sweep() {
	members := s.list.Members()
	n := len(members)
	timeout := s.suspicionTimeout(n)
	now := time.Now()

	live := make(map[string]struct{}, n)
	for _, m := range members {
		live[m.Member.ID] = struct{}{}

		if m.Health != membership.Suspect {
			s.forget(m.Member.ID)
			continue
		}

		start := s.markSuspectSeen(m.Member.ID, now)
		if now.Sub(start) < timeout {
			continue
		}

		if s.list.InsertHealth(m.Member.ID, membership.Confirmed) {
			s.diss.Announce(m.Member.ID)
		}
		s.forget(m.Member.ID)
	}

	s.pruneDeparted(live)
}

// markSuspectSeen records the first sweep at which id was observed
// Suspect and returns that timestamp.
func (s *Sweeper) markSuspectSeen(id string, now time.Time) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.since[id]; ok {
		return t
	}
	s.since[id] = now
	return now
}

func (s *Sweeper) forget(id string) {
	s.mu.Lock()
	delete(s.since, id)
	s.mu.Unlock()
}

// pruneDeparted drops suspicion timers for members no longer in the
// list at all, so a since-map entry can't outlive its member.
func (s *Sweeper) pruneDeparted(live map[string]struct{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.since {
		if _, ok := live[id]; !ok {
			delete(s.since, id)
		}
	}
}
