// Package detector drives the SWIM-style failure detection protocol:
// a periodic probe round (direct probe, indirect probe via relays,
// suspicion timeout) that mutates a membership.MemberList and feeds
// its dissemination loop (§4.2-§4.3 of the spec).
package detector

import "time"

// Config holds the tunables of one probe round, named and defaulted
// the way the teacher's GossipConfig is (internal/gossip/gossip.go).
type Config struct {
	TProbe       time.Duration // how often a probe round runs
	TDirect      time.Duration // direct-probe ack timeout
	TIndirect    time.Duration // indirect-probe ack timeout
	SuspicionK   float64       // suspicion timeout scaling constant (k~=5)
	MaxPiggyback int           // rumors attached per outgoing frame

	// PersistentEveryNRounds throttles probing of Confirmed persistent
	// members so partition healing stays detectable without spamming
	// a peer we believe is dead (§4.2).
	PersistentEveryNRounds int
}

// DefaultConfig returns the spec's stated defaults.
func DefaultConfig() Config {
	return Config{
		TProbe:                 1 * time.Second,
		TDirect:                333 * time.Millisecond, // ~T_probe/3
		TIndirect:              667 * time.Millisecond, // remainder of the interval
		SuspicionK:             5,
		MaxPiggyback:           5,
		PersistentEveryNRounds: 10,
	}
}
