package transport

import (
	"fmt"
	"net"
	"sync"
	"time"
)

// Received is one decoded frame handed up to the core, paired with
// the address it actually arrived from as the socket reports it. For
// UDP that need not match the SenderAddress the peer advertises (for
// example ":7946" advertised, "10.0.0.5:7946" observed).
type Received struct {
	From  string
	Frame Frame
}

// Socket is the raw send/receive primitive Network drives. UDPSocket
// and MemorySocket both implement it; Network itself never touches
// net.Conn or a channel directly, so test hooks (pause/blacklist/
// partition) apply identically to real UDP traffic and in-process
// tests.
type Socket interface {
	Send(addr string, data []byte) error
	Inbound() <-chan Received
	LocalAddr() string
	Close() error
}

// Network is the thin boundary that turns codec frames into events
// for the core and accepts outgoing frames from it (§6). It owns the
// pause/blacklist/partition test hooks the integration suite requires;
// they are enforced here rather than in Socket so every transport
// implementation gets them identically.
type Network struct {
	socket Socket

	mu         sync.RWMutex
	paused     bool
	blacklist  map[pairKey]struct{}
	decodeErrs uint64

	inbound chan Received
	done    chan struct{}
}

type pairKey struct{ a, b string }

func pair(a, b string) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// decodeErrorReporter lets Network attach its own decode-error counter
// onto a Socket that can report them, alongside any caller-supplied
// logging hook. UDPSocket implements it; MemorySocket has no wire
// decode path to report on and doesn't.
type decodeErrorReporter interface {
	AddDecodeErrorHook(func(error))
}

// NewNetwork wraps a Socket with the test-hook discipline.
func NewNetwork(socket Socket) *Network {
	n := &Network{
		socket:    socket,
		blacklist: make(map[pairKey]struct{}),
		inbound:   make(chan Received, 256),
		done:      make(chan struct{}),
	}
	if reporter, ok := socket.(decodeErrorReporter); ok {
		reporter.AddDecodeErrorHook(n.countDecodeError)
	}
	go n.pump()
	return n
}

func (n *Network) pump() {
	for {
		select {
		case <-n.done:
			return
		case r, ok := <-n.socket.Inbound():
			if !ok {
				return
			}
			if n.dropped(r.From) {
				continue
			}
			select {
			case n.inbound <- r:
			case <-n.done:
				return
			}
		}
	}
}

// LocalAddr returns this member's own address as the socket sees it.
func (n *Network) LocalAddr() string { return n.socket.LocalAddr() }

// Inbound is the stream of frames accepted by the pause/blacklist
// filters, ready for the dissemination loop to process.
func (n *Network) Inbound() <-chan Received { return n.inbound }

// Send encodes and sends f to addr, unless pause or a blacklist entry
// silently drops it (test hooks, §6). keep is forwarded to Encode so
// MTU truncation never drops a frame's own explicit payload.
func (n *Network) Send(addr string, f Frame, keep int) error {
	if n.dropped(addr) {
		return nil
	}
	data, err := Encode(f, keep)
	if err != nil {
		return err
	}
	return n.socket.Send(addr, data)
}

func (n *Network) dropped(peerAddr string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.paused {
		return true
	}
	_, blocked := n.blacklist[pair(n.socket.LocalAddr(), peerAddr)]
	return blocked
}

// Pause silently drops all inbound and outbound traffic.
func (n *Network) Pause() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = true
}

// Resume undoes Pause.
func (n *Network) Resume() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.paused = false
}

// Blacklist drops any datagram whose (sender, receiver) equals (a, b)
// or (b, a).
func (n *Network) Blacklist(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.blacklist[pair(a, b)] = struct{}{}
}

// Unblacklist removes a previously applied Blacklist(a, b).
func (n *Network) Unblacklist(a, b string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.blacklist, pair(a, b))
}

// Partition blacklists every pair crossing the cut between setA and
// setB, simulating a network split for the integration suite.
func (n *Network) Partition(setA, setB []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range setA {
		for _, b := range setB {
			n.blacklist[pair(a, b)] = struct{}{}
		}
	}
}

// Heal reverses a prior Partition.
func (n *Network) Heal(setA, setB []string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, a := range setA {
		for _, b := range setB {
			delete(n.blacklist, pair(a, b))
		}
	}
}

// DecodeErrors reports how many malformed datagrams have been dropped.
func (n *Network) DecodeErrors() uint64 {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.decodeErrs
}

func (n *Network) countDecodeError(error) {
	n.mu.Lock()
	n.decodeErrs++
	n.mu.Unlock()
}

// Close shuts the network down.
func (n *Network) Close() error {
	close(n.done)
	return n.socket.Close()
}

// UDPSocket is the production Socket: one UDP listener per member.
type UDPSocket struct {
	conn    *net.UDPConn
	inbound chan Received
	closing chan struct{}

	hooksMu sync.Mutex
	hooks   []func(error)
}

// ListenUDP opens a UDP socket on bindAddr (e.g. ":7946") and starts
// its receive loop. onDecodeError, if non-nil, is called for malformed
// datagrams (counted, dropped — never poisons the core, §7.2);
// NewNetwork adds a second hook of its own via AddDecodeErrorHook so
// Network.DecodeErrors() stays accurate regardless of what the caller
// passes here.
func ListenUDP(bindAddr string, onDecodeError func(error)) (*UDPSocket, error) {
	addr, err := net.ResolveUDPAddr("udp", bindAddr)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve bind addr: %w", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("transport: listen udp: %w", err)
	}

	s := &UDPSocket{
		conn:    conn,
		inbound: make(chan Received, 256),
		closing: make(chan struct{}),
	}
	if onDecodeError != nil {
		s.hooks = append(s.hooks, onDecodeError)
	}
	go s.receiveLoop()
	return s, nil
}

// AddDecodeErrorHook registers an additional callback invoked whenever
// a datagram fails to decode, alongside any hook passed to ListenUDP.
func (s *UDPSocket) AddDecodeErrorHook(hook func(error)) {
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, hook)
}

func (s *UDPSocket) reportDecodeError(err error) {
	s.hooksMu.Lock()
	hooks := make([]func(error), len(s.hooks))
	copy(hooks, s.hooks)
	s.hooksMu.Unlock()
	for _, h := range hooks {
		h(err)
	}
}

func (s *UDPSocket) receiveLoop() {
	buf := make([]byte, 65536)
	for {
		select {
		case <-s.closing:
			return
		default:
		}

		s.conn.SetReadDeadline(time.Now().Add(1 * time.Second))
		n, from, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			select {
			case <-s.closing:
				return
			default:
				continue
			}
		}

		frame, err := Decode(buf[:n])
		if err != nil {
			s.reportDecodeError(err)
			continue
		}

		select {
		case s.inbound <- Received{From: from.String(), Frame: frame}:
		case <-s.closing:
			return
		}
	}
}

func (s *UDPSocket) Send(addr string, data []byte) error {
	dst, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("transport: resolve peer addr: %w", err)
	}
	_, err = s.conn.WriteToUDP(data, dst)
	return err
}

func (s *UDPSocket) Inbound() <-chan Received { return s.inbound }
func (s *UDPSocket) LocalAddr() string        { return s.conn.LocalAddr().String() }
func (s *UDPSocket) Close() error {
	select {
	case <-s.closing:
		return nil // already closed
	default:
	}
	close(s.closing)
	return s.conn.Close()
}
