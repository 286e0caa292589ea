package transport

import (
	"net"
	"sync"
	"time"
)

// MockConn implements Conn for testing the link loop without real sockets.
// Reads drain the queued datagrams in order; once the queue is empty every
// read reports a deadline timeout, which is what a silent controller looks
// like to the endpoint.
type MockConn struct {
	mu        sync.Mutex
	queue     [][]byte
	sent      [][]byte
	readErr   error
	writeErr  error
	closed    bool
	deadline  time.Time
	readDelay time.Duration
}

// NewMockConn returns an empty mock connection.
func NewMockConn() *MockConn {
	return &MockConn{}
}

// QueueDatagram appends a datagram for a future Read to return.
func (m *MockConn) QueueDatagram(b []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data := make([]byte, len(b))
	copy(data, b)
	m.queue = append(m.queue, data)
}

// FailNextRead makes the next Read return err instead of data or a timeout.
func (m *MockConn) FailNextRead(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readErr = err
}

// FailWrites makes every Write return err.
func (m *MockConn) FailWrites(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writeErr = err
}

// SetReadDelay makes each Read block for d before completing, to exercise
// the deadline bound.
func (m *MockConn) SetReadDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readDelay = d
}

// Sent returns copies of every datagram written so far.
func (m *MockConn) Sent() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][]byte, len(m.sent))
	for i, b := range m.sent {
		out[i] = append([]byte(nil), b...)
	}
	return out
}

// Closed reports whether Close has been called.
func (m *MockConn) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *MockConn) Read(b []byte) (int, error) {
	m.mu.Lock()
	delay := m.readDelay
	m.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.readErr != nil {
		err := m.readErr
		m.readErr = nil
		return 0, err
	}
	if len(m.queue) == 0 {
		return 0, &net.OpError{Op: "read", Net: "udp", Err: &timeoutError{}}
	}
	pkt := m.queue[0]
	m.queue = m.queue[1:]
	return copy(b, pkt), nil
}

func (m *MockConn) Write(b []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return 0, net.ErrClosed
	}
	if m.writeErr != nil {
		return 0, m.writeErr
	}
	m.sent = append(m.sent, append([]byte(nil), b...))
	return len(b), nil
}

func (m *MockConn) SetReadDeadline(t time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadline = t
	return nil
}

func (m *MockConn) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ConnectMock wires a mock connection into an endpoint, skipping the real
// socket dial.
func (e *Endpoint) ConnectMock(c Conn) {
	e.connectWith(c)
}

// timeoutError implements net.Error for deadline-expiry simulation.
type timeoutError struct{}

func (e *timeoutError) Error() string   { return "i/o timeout" }
func (e *timeoutError) Timeout() bool   { return true }
func (e *timeoutError) Temporary() bool { return true }
