// Package transport is the boundary between the gossip core and the
// outside world: it turns codec frames into events for the core and
// accepts outgoing frames from it (§6 of the spec). The wire codec
// itself — mapping a Frame to/from a UDP datagram — is treated as an
// external collaborator by the core, so it lives here rather than in
// package membership/detector, which never import net or encoding/json.
package transport

import (
	"encoding/json"
	"fmt"
)

// Kind is the SWIM message kind carried by a Frame.
type Kind string

const (
	Ping    Kind = "ping"
	Ack     Kind = "ack"
	PingReq Kind = "pingreq"
)

// WireHealth mirrors membership.Health on the wire as the three-valued
// enumeration the codec contract (§6) specifies.
type WireHealth string

const (
	WireAlive     WireHealth = "ALIVE"
	WireSuspect   WireHealth = "SUSPECT"
	WireConfirmed WireHealth = "CONFIRMED"
)

// WireRumor is one attached membership rumor.
type WireRumor struct {
	MemberID          string     `json:"member_id"`
	MemberAddress     string     `json:"member_address"`
	MemberIncarnation uint64     `json:"member_incarnation"`
	MemberPersistent  bool       `json:"member_persistent"`
	Health            WireHealth `json:"health"`
}

// Frame is one decoded codec message: one per UDP datagram.
type Frame struct {
	SenderID          string      `json:"sender_id"`
	SenderIncarnation uint64      `json:"sender_incarnation"`
	SenderAddress     string      `json:"sender_address"`
	Kind              Kind        `json:"kind"`
	ForwardedTo       string      `json:"forwarded_to,omitempty"`
	SeqNo             uint64      `json:"seq"`
	Rumors            []WireRumor `json:"rumors,omitempty"`
}

// MaxFrameBytes is the MTU this codec targets (§5: "outbound frames
// are size-capped so piggybacked rumors may be truncated").
const MaxFrameBytes = 1400

// Encode marshals f to JSON, truncating trailing piggyback rumors
// (lowest-send-count first, since Dissemination.Attach appends in that
// order) until the frame fits MaxFrameBytes. keep is the number of
// leading rumors that must never be truncated — the rumor the frame
// is explicitly carrying, if any (§5 priority rule).
func Encode(f Frame, keep int) ([]byte, error) {
	for {
		data, err := json.Marshal(f)
		if err != nil {
			return nil, fmt.Errorf("transport: encode frame: %w", err)
		}
		if len(data) <= MaxFrameBytes || len(f.Rumors) <= keep {
			return data, nil
		}
		f.Rumors = f.Rumors[:len(f.Rumors)-1]
	}
}

// Decode unmarshals a received datagram into a Frame. A malformed
// datagram is a DecodeError: the caller counts and drops it, it must
// never poison the MemberList.
func Decode(data []byte) (Frame, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return Frame{}, fmt.Errorf("transport: decode frame: %w", err)
	}
	return f, nil
}
