package membership

// Dissemination ties a MemberList to a RumorLog, implementing the
// anti-entropy loop of §4.4: every outgoing frame piggybacks a bounded
// number of unsent membership rumors, and every accepted incoming
// rumor is re-queued for further spreading.
type Dissemination struct {
	List         *MemberList
	Log          *RumorLog
	MaxPiggyback int
}

// NewDissemination wires a MemberList to a fresh RumorLog with the
// given per-frame piggyback budget (default 5 per §4.4).
func NewDissemination(list *MemberList, maxPiggyback int) *Dissemination {
	if maxPiggyback <= 0 {
		maxPiggyback = 5
	}
	return &Dissemination{List: list, Log: NewRumorLog(), MaxPiggyback: maxPiggyback}
}

// Attach resolves up to MaxPiggyback rumors to ride along with the
// next outgoing frame.
func (d *Dissemination) Attach() []MembershipRumor {
	n := d.List.Len()
	return d.Log.Resolve(d.MaxPiggyback, n, func(key RumorKey) (MembershipRumor, bool) {
		if key.Kind != "member" {
			return MembershipRumor{}, false
		}
		if _, ok := d.List.HealthOf(key.SubjectID); !ok {
			return MembershipRumor{}, false
		}
		return d.List.MembershipFor(key.SubjectID), true
	})
}

// Receive applies each rumor attached to an incoming frame and
// re-queues any that the MemberList accepted, closing the gossip
// loop: a rumor that changed our belief is worth spreading further.
func (d *Dissemination) Receive(rumors []MembershipRumor) (accepted int) {
	for _, r := range rumors {
		if d.List.Insert(r.Member, r.Health) {
			d.Log.Push(MemberRumorKey(r.Member.ID))
			accepted++
		}
	}
	return accepted
}

// Announce pushes a locally originated membership change (e.g. a
// Suspect->Confirmed promotion from the suspicion timer, or a probe
// recovering a node to Alive) onto the rumor log so it disseminates
// on the next outgoing frame.
func (d *Dissemination) Announce(id string) {
	d.Log.Push(MemberRumorKey(id))
}
