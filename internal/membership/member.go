// Package membership implements the in-memory membership table: the
// merge rules that reconcile conflicting health reports about cluster
// members and decide which reports are worth re-gossiping.
package membership

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Health is an observer's belief about a member's liveness. The zero
// value is Alive so a freshly constructed Member defaults sanely.
type Health int

const (
	Alive Health = iota
	Suspect
	Confirmed
)

func (h Health) String() string {
	switch h {
	case Alive:
		return "alive"
	case Suspect:
		return "suspected"
	case Confirmed:
		return "confirmed"
	default:
		return "unknown"
	}
}

// rank gives Health its lattice order: Alive < Suspect < Confirmed.
func (h Health) rank() int { return int(h) }

// Less reports whether h is strictly below other in the health lattice.
func (h Health) Less(other Health) bool { return h.rank() < other.rank() }

// Member is the immutable-per-incarnation identity and address tuple.
// Only the process owning ID may ever increment Incarnation.
type Member struct {
	ID          string
	Incarnation uint64
	Address     string
	Persistent  bool
}

// NewMemberID generates a fresh 128-bit id, rendered as the 32-char
// lowercase hex string spec.md requires (a UUID with its dashes
// stripped — already lowercase from the uuid package).
func NewMemberID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// MembershipRumor is a (Member, Health, observed-at) triple. The
// timestamp is advisory, used only for suspicion timing; what is
// authoritative is (ID, Incarnation, Health).
type MembershipRumor struct {
	Member     Member
	Health     Health
	ObservedAt time.Time
}

// RumorKey identifies a piece of gossip in the dissemination pipeline.
// Membership rumors use Kind "member" with SubjectID = member id; the
// shape is kept generic so non-membership rumors (service announcements,
// application-level events) could share the same log and loop.
type RumorKey struct {
	Kind      string
	SubjectID string
}

// MemberRumorKey builds the RumorKey for a membership change about id.
func MemberRumorKey(id string) RumorKey {
	return RumorKey{Kind: "member", SubjectID: id}
}
