package linklayer

import (
	"errors"
	"sync"

	"github.com/tiva-iot/netstack/frame"
)

// ErrClosed is returned by Receive once the Buffered conn has been closed
// and its queue drained.
var ErrClosed = errors.New("linklayer: connection closed")

// Buffered is an in-memory Conn used by tests to drive the DHCP/TCP FSMs
// without a real NIC, mirroring the teacher's buffered-pipe test fake
// (test/setup_test.go's packet.TestNewBufferedConn). Every frame handed to
// Send is both recorded (for assertions via Sent) and, if a peer is wired
// via NewBufferedPair, delivered onto the peer's inbox for Receive.
type Buffered struct {
	mu     sync.Mutex
	cond   *sync.Cond
	inbox  [][]byte
	sent   []frame.Ether
	closed bool
	peer   *Buffered
}

// NewBufferedPair returns two Buffered conns wired to each other: a frame
// sent on a arrives on b's Receive and vice versa.
func NewBufferedPair() (a, b *Buffered) {
	a = NewBuffered()
	b = NewBuffered()
	a.peer = b
	b.peer = a
	return a, b
}

// NewBuffered returns a standalone Buffered conn with no peer; tests feed
// it inbound frames with Inject and assert on outbound ones with Sent.
func NewBuffered() *Buffered {
	b := &Buffered{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send implements Conn: it always records ether for Sent, and additionally
// enqueues it on the peer's inbox when one is wired.
func (b *Buffered) Send(ether frame.Ether) error {
	cp := append(frame.Ether(nil), ether...)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.sent = append(b.sent, cp)
	b.mu.Unlock()

	if b.peer == nil {
		return nil
	}
	return b.peer.Inject(cp)
}

// Inject enqueues ether directly onto this conn's own inbox, as if it had
// arrived over the wire.
func (b *Buffered) Inject(ether frame.Ether) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrClosed
	}
	b.inbox = append(b.inbox, append(frame.Ether(nil), ether...))
	b.cond.Signal()
	return nil
}

// Receive implements Conn: it blocks until a frame is available or the
// conn is closed.
func (b *Buffered) Receive(buf []byte) (frame.Ether, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for len(b.inbox) == 0 && !b.closed {
		b.cond.Wait()
	}
	if len(b.inbox) == 0 {
		return nil, ErrClosed
	}
	next := b.inbox[0]
	b.inbox = b.inbox[1:]
	n := copy(buf, next)
	return frame.Ether(buf[:n]), nil
}

// TryReceive is Receive's non-blocking counterpart: it reports false at
// once when no frame is queued instead of waiting for one.
func (b *Buffered) TryReceive(buf []byte) (frame.Ether, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.inbox) == 0 {
		return nil, false
	}
	next := b.inbox[0]
	b.inbox = b.inbox[1:]
	n := copy(buf, next)
	return frame.Ether(buf[:n]), true
}

// Sent returns every frame handed to Send, in order.
func (b *Buffered) Sent() []frame.Ether {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]frame.Ether, len(b.sent))
	copy(out, b.sent)
	return out
}

// Close implements Conn: it wakes any blocked Receive with ErrClosed.
func (b *Buffered) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	b.cond.Broadcast()
	return nil
}
