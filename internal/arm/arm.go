// Package arm congregates the per-endpoint links of a robot arm behind one
// flat joint-vector interface. It replicates link state into aggregate
// vectors so control code reads and writes plain slices without touching the
// per-link locks; the replication is explicit via Read and Write, once per
// control cycle.
package arm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aau-robotics/davinci-link/internal/link"
)

// connectPollInterval paces the wait for all endpoints to come up.
const connectPollInterval = 100 * time.Millisecond

// ErrNotInitialized reports use of the aggregate vectors before Connect has
// established every endpoint.
var ErrNotInitialized = errors.New("arm: not initialized")

// Arm drives one or more endpoint links as a single robot. Joint and motor
// vectors are the links' vectors concatenated in configuration order.
type Arm struct {
	links []*link.Link
	names []string

	mu          sync.Mutex
	positions   []float64
	velocities  []float64
	efforts     []float64
	setpoints   []float64
	initialized bool
}

// Diagnostics summarises per-motor drive state for health reporting.
type Diagnostics struct {
	AllActive bool
	Motors    map[string]bool
}

// New builds an arm from one link config per endpoint. Link construction
// errors surface immediately; nothing is connected yet.
func New(cfgs []link.Config) (*Arm, error) {
	if len(cfgs) == 0 {
		return nil, errors.New("arm: at least one endpoint is required")
	}

	a := &Arm{}
	seen := make(map[string]bool)
	for i, cfg := range cfgs {
		l, err := link.New(cfg)
		if err != nil {
			return nil, fmt.Errorf("arm: endpoint %d: %w", i, err)
		}
		for _, name := range l.JointNames() {
			if seen[name] {
				return nil, fmt.Errorf("arm: duplicate joint name %q", name)
			}
			seen[name] = true
			a.names = append(a.names, name)
		}
		a.links = append(a.links, l)
	}

	n := len(a.names)
	a.positions = make([]float64, n)
	a.velocities = make([]float64, n)
	a.efforts = make([]float64, n)
	a.setpoints = make([]float64, n)
	return a, nil
}

// Links exposes the underlying links for status reporting and recording.
func (a *Arm) Links() []*link.Link {
	return append([]*link.Link(nil), a.links...)
}

// Connect brings up every endpoint, retrying until all are connected and
// initialized or the context is cancelled. Endpoints that connected before a
// cancellation are torn down again.
func (a *Arm) Connect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for {
		allUp := true
		for _, l := range a.links {
			if l.Connected() {
				continue
			}
			if err := l.Connect(); err != nil {
				allUp = false
			}
		}
		if allUp {
			break
		}
		select {
		case <-ctx.Done():
			a.Close()
			return ctx.Err()
		case <-time.After(connectPollInterval):
		}
	}

	for {
		allInit := true
		for _, l := range a.links {
			if !l.Initialized() {
				allInit = false
			}
		}
		if allInit {
			break
		}
		select {
		case <-ctx.Done():
			a.Close()
			return ctx.Err()
		case <-time.After(connectPollInterval):
		}
	}

	a.mu.Lock()
	a.initialized = true
	a.mu.Unlock()
	return nil
}

// Initialized reports whether every endpoint has established control state.
func (a *Arm) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// JointNames returns all joint names in vector order.
func (a *Arm) JointNames() []string {
	return append([]string(nil), a.names...)
}

// MotorNames returns the motor names; motors are named after their joints.
func (a *Arm) MotorNames() []string {
	return a.JointNames()
}

// Read replicates the latest telemetry from every link into the aggregate
// position, velocity and effort vectors.
func (a *Arm) Read() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}

	offset := 0
	for _, l := range a.links {
		snap := l.Snapshot()
		copy(a.positions[offset:], snap.Positions)
		copy(a.velocities[offset:], snap.Velocities)
		copy(a.efforts[offset:], snap.Efforts)
		offset += l.Joints()
	}
	return nil
}

// Write scatters the aggregate setpoint vector back to the links, marking
// each endpoint's state for transmission on its next tick.
func (a *Arm) Write() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return ErrNotInitialized
	}

	offset := 0
	for _, l := range a.links {
		n := l.Joints()
		if err := l.SetSetpoints(a.setpoints[offset : offset+n]); err != nil {
			return fmt.Errorf("arm: write endpoint: %w", err)
		}
		offset += n
	}
	return nil
}

// Positions returns a copy of the aggregate position vector as of the last
// Read.
func (a *Arm) Positions() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.positions...)
}

// Velocities returns a copy of the aggregate velocity vector.
func (a *Arm) Velocities() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.velocities...)
}

// Efforts returns a copy of the aggregate effort vector.
func (a *Arm) Efforts() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.efforts...)
}

// Setpoints returns a copy of the aggregate setpoint vector.
func (a *Arm) Setpoints() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.setpoints...)
}

// SetSetpoints replaces the aggregate setpoint vector; it reaches the wire
// on the next Write.
func (a *Arm) SetSetpoints(values []float64) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(values) != len(a.setpoints) {
		return fmt.Errorf("arm: expected %d setpoints, got %d", len(a.setpoints), len(values))
	}
	copy(a.setpoints, values)
	return nil
}

// ActiveVector returns the peer-reported motor active flags in vector order.
func (a *Arm) ActiveVector() []bool {
	var active []bool
	for _, l := range a.links {
		active = append(active, l.Snapshot().Active...)
	}
	return active
}

// ActiveMotors returns the names of motors the controllers report engaged.
func (a *Arm) ActiveMotors() []string {
	return a.motorsWhere(func(snap []bool, i int) bool { return snap[i] })
}

// EnabledMotors returns the names of motors with their drive output enabled.
func (a *Arm) EnabledMotors() []string {
	var names []string
	offset := 0
	for _, l := range a.links {
		snap := l.Snapshot()
		for i, enabled := range snap.Enabled {
			if enabled {
				names = append(names, a.names[offset+i])
			}
		}
		offset += l.Joints()
	}
	return names
}

func (a *Arm) motorsWhere(pred func(active []bool, i int) bool) []string {
	var names []string
	offset := 0
	for _, l := range a.links {
		snap := l.Snapshot()
		for i := range snap.Active {
			if pred(snap.Active, i) {
				names = append(names, a.names[offset+i])
			}
		}
		offset += l.Joints()
	}
	return names
}

// EnableMotor enables or disables the drive output of a single named motor.
func (a *Arm) EnableMotor(name string, enable bool) error {
	offset := 0
	for _, l := range a.links {
		for i := 0; i < l.Joints(); i++ {
			if a.names[offset+i] == name {
				return l.SetEnable(i, enable)
			}
		}
		offset += l.Joints()
	}
	return fmt.Errorf("arm: no motor %q", name)
}

// Diagnostics reports each motor's active state plus an overall flag.
func (a *Arm) Diagnostics() Diagnostics {
	diag := Diagnostics{AllActive: true, Motors: make(map[string]bool)}
	active := a.ActiveVector()
	for i, name := range a.names {
		diag.Motors[name] = active[i]
		if !active[i] {
			diag.AllActive = false
		}
	}
	return diag
}

// Close tears down every link, joining each tick loop. The first error is
// returned; teardown continues regardless.
func (a *Arm) Close() error {
	var firstErr error
	for _, l := range a.links {
		if err := l.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.mu.Lock()
	a.initialized = false
	a.mu.Unlock()
	return firstErr
}
