// Package transport provides the bounded-wait UDP link to a single sbRIO
// endpoint. The socket is connected (associated with one peer); sends are
// best-effort single datagrams and receives are raced against a kernel read
// deadline so the control loop can never stall on a silent controller.
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"
)

// OutcomeKind classifies the result of a bounded receive.
type OutcomeKind int

const (
	// Data means a datagram arrived before the deadline.
	Data OutcomeKind = iota
	// TimedOut means the deadline expired with nothing received.
	TimedOut
	// Failed means the receive ended with a transport-level error.
	Failed
)

// Outcome is the result of a single Receive call. Payload is only valid for
// Data outcomes and only until the next Receive on the same endpoint; callers
// that keep it must copy.
type Outcome struct {
	Kind    OutcomeKind
	Payload []byte
	Err     error
}

func (k OutcomeKind) String() string {
	switch k {
	case Data:
		return "data"
	case TimedOut:
		return "timed-out"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Conn is the minimal surface the endpoint needs from a connected UDP socket.
// It exists so the link loop can be tested against MockConn without sockets.
type Conn interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// Endpoint is a point-to-point datagram link to one controller.
//
// State machine: idle until Connect succeeds, then available for Send and
// Receive until Close. There is no reconnect; the owner builds a new Endpoint.
//
// Concurrency contract: Connect belongs to the owner before the loop starts;
// Send and Receive belong to the single loop goroutine; Close may be called
// from any goroutine and unblocks an in-flight Receive. The conn pointer is
// never cleared after Connect, so Close never races the loop's reads of it.
type Endpoint struct {
	raddr     *net.UDPAddr
	conn      Conn
	buf       []byte
	closeOnce sync.Once
}

// NewEndpoint resolves the controller address. It does not open a socket;
// call Connect for that.
func NewEndpoint(host string, port int, maxFrame int) (*Endpoint, error) {
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("transport: port %d out of range", port)
	}
	raddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		return nil, fmt.Errorf("transport: resolve %s:%d: %w", host, port, err)
	}
	if maxFrame <= 0 {
		maxFrame = 512
	}
	return &Endpoint{raddr: raddr, buf: make([]byte, maxFrame)}, nil
}

// Connect associates the socket with the controller. After Connect, reads
// only accept datagrams from that peer and sends need no explicit address.
func (e *Endpoint) Connect() error {
	if e.conn != nil {
		return nil
	}
	conn, err := net.DialUDP("udp4", nil, e.raddr)
	if err != nil {
		return fmt.Errorf("transport: connect %s: %w", e.raddr, err)
	}
	e.conn = conn
	return nil
}

// connectWith injects a pre-built connection; used by tests.
func (e *Endpoint) connectWith(c Conn) { e.conn = c }

// RemoteAddr returns the controller address the endpoint was built for.
func (e *Endpoint) RemoteAddr() *net.UDPAddr { return e.raddr }

// Send transmits one datagram. Failures are not retried; the next control
// tick resends whatever state is still dirty.
func (e *Endpoint) Send(frame []byte) error {
	if e.conn == nil {
		return errors.New("transport: send before connect")
	}
	n, err := e.conn.Write(frame)
	if err != nil {
		return fmt.Errorf("transport: send: %w", err)
	}
	if n != len(frame) {
		return fmt.Errorf("transport: short send: %d of %d bytes", n, len(frame))
	}
	return nil
}

// Receive waits at most timeout for one datagram. The wait bound comes from
// a read deadline on the socket: the kernel timer races the blocked read and
// cancels it on expiry, so the call returns within timeout plus scheduling
// slack whether or not the controller is transmitting. A deadline expiry is
// reported as TimedOut, distinct from Failed; closing the endpoint from
// another goroutine unblocks an in-flight Receive with a Failed outcome.
func (e *Endpoint) Receive(timeout time.Duration) Outcome {
	if e.conn == nil {
		return Outcome{Kind: Failed, Err: errors.New("transport: receive before connect")}
	}
	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return Outcome{Kind: Failed, Err: fmt.Errorf("transport: set deadline: %w", err)}
	}

	n, err := e.conn.Read(e.buf)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return Outcome{Kind: TimedOut}
		}
		return Outcome{Kind: Failed, Err: err}
	}
	return Outcome{Kind: Data, Payload: e.buf[:n]}
}

// Close shuts the socket. Any goroutine blocked in Receive is unblocked
// promptly with net.ErrClosed rather than left hanging. Close is safe to
// call before Connect and more than once.
func (e *Endpoint) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.conn != nil {
			err = e.conn.Close()
		}
	})
	return err
}
