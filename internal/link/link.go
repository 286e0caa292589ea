// Package link runs the control-rate loop for one sbRIO endpoint: once per
// tick it drains pending setpoint/enable writes into a command frame,
// transmits it, performs one bounded receive, decodes any telemetry into the
// shared joint state, and tracks link health.
package link

import (
	"fmt"
	"sync"
	"time"

	"github.com/aau-robotics/davinci-link/internal/jointstate"
	"github.com/aau-robotics/davinci-link/internal/monitoring"
	"github.com/aau-robotics/davinci-link/internal/timeutil"
	"github.com/aau-robotics/davinci-link/internal/transport"
	"github.com/aau-robotics/davinci-link/internal/wire"
)

// Defaults match the control rate the sbRIO firmware runs at.
const (
	DefaultTickPeriod           = 2 * time.Millisecond
	DefaultReceiveTimeout       = 2 * time.Millisecond
	DefaultMissWarnThreshold    = 10
	DefaultMissTimeoutThreshold = 20
)

// Transport is the surface the loop needs from the datagram link. A real
// *transport.Endpoint satisfies it; tests substitute a scripted fake.
type Transport interface {
	Connect() error
	Send(frame []byte) error
	Receive(timeout time.Duration) transport.Outcome
	Close() error
}

// Config describes one endpoint link. Zero durations and thresholds take the
// defaults above; misconfiguration is the only error surfaced synchronously,
// everything after construction is reflected in link status instead.
type Config struct {
	Host   string
	Port   int
	Joints int

	// JointNames labels the joints in wire order. Optional; defaults to
	// joint_0..joint_{N-1}.
	JointNames []string

	TickPeriod           time.Duration
	ReceiveTimeout       time.Duration
	MissWarnThreshold    uint
	MissTimeoutThreshold uint

	// Transport overrides the UDP endpoint; used by tests.
	Transport Transport
	// Clock overrides wall time; used by tests.
	Clock timeutil.Clock
}

// Link is the bidirectional real-time link to one endpoint. External callers
// interact only through the shared-state entry points and status queries;
// the tick goroutine owns the transport and codec exclusively.
type Link struct {
	format wire.Format
	names  []string

	tickPeriod     time.Duration
	receiveTimeout time.Duration
	missWarn       uint
	missTimeout    uint

	state *jointstate.State
	tr    Transport
	clock timeutil.Clock
	stats *Stats

	mu          sync.Mutex
	connected   bool
	initialized bool
	misses      uint

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// New validates the configuration and builds an unconnected link.
func New(cfg Config) (*Link, error) {
	format, err := wire.NewFormat(cfg.Joints)
	if err != nil {
		return nil, err
	}

	names := cfg.JointNames
	if names == nil {
		names = make([]string, cfg.Joints)
		for i := range names {
			names[i] = fmt.Sprintf("joint_%d", i)
		}
	}
	if len(names) != cfg.Joints {
		return nil, fmt.Errorf("link: %d joint names for %d joints", len(names), cfg.Joints)
	}

	if cfg.TickPeriod == 0 {
		cfg.TickPeriod = DefaultTickPeriod
	}
	if cfg.ReceiveTimeout == 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	if cfg.MissWarnThreshold == 0 {
		cfg.MissWarnThreshold = DefaultMissWarnThreshold
	}
	if cfg.MissTimeoutThreshold == 0 {
		cfg.MissTimeoutThreshold = DefaultMissTimeoutThreshold
	}
	if cfg.TickPeriod < 0 || cfg.ReceiveTimeout < 0 {
		return nil, fmt.Errorf("link: negative tick period or receive timeout")
	}
	if cfg.MissWarnThreshold >= cfg.MissTimeoutThreshold {
		return nil, fmt.Errorf("link: warn threshold %d must be below timeout threshold %d",
			cfg.MissWarnThreshold, cfg.MissTimeoutThreshold)
	}

	tr := cfg.Transport
	if tr == nil {
		if cfg.Host == "" {
			return nil, fmt.Errorf("link: endpoint host is required")
		}
		// Allow a little slack over the nominal telemetry size; the
		// controller may pad its datagrams.
		ep, err := transport.NewEndpoint(cfg.Host, cfg.Port, format.TelemetrySize()+64)
		if err != nil {
			return nil, err
		}
		tr = ep
	}

	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}

	return &Link{
		format:         format,
		names:          names,
		tickPeriod:     cfg.TickPeriod,
		receiveTimeout: cfg.ReceiveTimeout,
		missWarn:       cfg.MissWarnThreshold,
		missTimeout:    cfg.MissTimeoutThreshold,
		state:          jointstate.New(cfg.Joints),
		tr:             tr,
		clock:          clock,
		stats:          newStats(),
		done:           make(chan struct{}),
	}, nil
}

// Connect associates the transport with the controller, seeds the initial
// control state (all motors enabled, setpoints at zero, both marked unsent)
// and starts the tick goroutine.
func (l *Link) Connect() error {
	if err := l.tr.Connect(); err != nil {
		return err
	}

	l.state.Seed()

	l.mu.Lock()
	l.connected = true
	l.initialized = true
	l.mu.Unlock()

	l.wg.Add(1)
	go l.run()
	return nil
}

func (l *Link) run() {
	defer l.wg.Done()

	ticker := l.clock.NewTicker(l.tickPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-l.done:
			return
		case <-ticker.C():
		}
		l.tick()
	}
}

// tick performs one send/receive cycle. Every failure inside a tick is
// contained within it: logged, counted, reflected in status, never escalated
// to the caller.
func (l *Link) tick() {
	if setpoints, enables, ok := l.state.TakeOutgoingIfDirty(); ok {
		frame, err := l.format.EncodeCommand(setpoints, enables)
		if err != nil {
			// Unreachable while state and format share a joint count,
			// but a codec refusal must not kill the loop.
			monitoring.Logf("link: encode failed: %v", err)
		} else if err := l.tr.Send(frame); err != nil {
			monitoring.Logf("link: send failed: %v", err)
			l.stats.addSendFailure()
			// Raise the dirty flags again so the freshest state goes
			// out next tick rather than being dropped.
			l.state.MarkDirty()
		} else {
			l.stats.addSent()
		}
	}

	start := l.clock.Now()
	out := l.tr.Receive(l.receiveTimeout)
	switch out.Kind {
	case transport.Data:
		positions, velocities, efforts, active, err := l.format.DecodeTelemetry(out.Payload)
		if err != nil {
			// Malformed frame: discard, count the miss, touch nothing.
			monitoring.Logf("link: discarding telemetry frame: %v", err)
			l.stats.addDecodeFailure()
			l.recordMiss()
			return
		}
		if err := l.state.ApplyIncoming(positions, velocities, efforts, active); err != nil {
			monitoring.Logf("link: apply telemetry: %v", err)
			l.recordMiss()
			return
		}
		l.stats.addReceived(l.clock.Since(start))
		l.resetMisses()

	case transport.TimedOut:
		l.recordMiss()

	case transport.Failed:
		select {
		case <-l.done:
			// Teardown in progress; the closed socket is expected.
		default:
			monitoring.Logf("link: receive error: %v", out.Err)
		}
		l.recordMiss()
	}
}

func (l *Link) recordMiss() {
	l.stats.addMiss()

	l.mu.Lock()
	l.misses++
	misses := l.misses
	l.mu.Unlock()

	// Escalating, observational-only health warnings; the loop keeps going.
	switch misses {
	case l.missWarn:
		monitoring.Logf("link: no telemetry for %d ticks", misses)
	case l.missTimeout:
		monitoring.Logf("link: no telemetry for %d ticks, link considered timed out", misses)
	}
}

func (l *Link) resetMisses() {
	l.mu.Lock()
	l.misses = 0
	l.mu.Unlock()
}

// Connected reports whether the transport association is established. It
// stays true through telemetry droughts; only teardown clears it.
func (l *Link) Connected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

// Initialized reports whether the initial control state has been seeded.
func (l *Link) Initialized() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.initialized
}

// ConsecutiveMisses returns the number of ticks since the last decoded
// telemetry frame.
func (l *Link) ConsecutiveMisses() uint {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.misses
}

// Joints returns the joint count of the endpoint.
func (l *Link) Joints() int { return l.format.Joints() }

// JointNames returns the joint labels in wire order.
func (l *Link) JointNames() []string {
	return append([]string(nil), l.names...)
}

// SetSetpoints queues a full set of joint setpoints for the next tick.
func (l *Link) SetSetpoints(values []float64) error {
	return l.state.SetSetpoints(values)
}

// SetEnables queues a full set of motor enable flags for the next tick.
func (l *Link) SetEnables(flags []bool) error {
	return l.state.SetEnables(flags)
}

// SetEnable queues an enable change for a single motor.
func (l *Link) SetEnable(joint int, enable bool) error {
	return l.state.SetEnable(joint, enable)
}

// Snapshot returns a consistent copy of the shared joint state.
func (l *Link) Snapshot() jointstate.Snapshot {
	return l.state.Snapshot()
}

// Stats returns a summary of tick statistics since construction.
func (l *Link) Stats() Summary {
	return l.stats.Summary()
}

// Close stops the loop from beginning a new tick, closes the transport so an
// in-flight receive unblocks, and joins the tick goroutine before returning.
func (l *Link) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.closeErr = l.tr.Close()
		l.wg.Wait()

		l.mu.Lock()
		l.connected = false
		l.mu.Unlock()
	})
	return l.closeErr
}
