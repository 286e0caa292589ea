// Package jointstate holds the joint-state surface shared between the
// control-rate loop and external callers. A single coarse mutex covers every
// field: related fields mutate together, so one lock per state keeps
// multi-field updates atomic and makes torn reads impossible. At a 2 ms tick
// the contention cost is irrelevant.
package jointstate

import (
	"fmt"
	"sync"
)

// ErrLengthMismatch reports a write whose slice length does not match the
// joint count the state was sized for.
type ErrLengthMismatch struct {
	Want, Got int
}

func (e *ErrLengthMismatch) Error() string {
	return fmt.Sprintf("jointstate: expected %d values, got %d", e.Want, e.Got)
}

// State is the shared store for one endpoint. All slices are sized once at
// construction and never grow; callers always pass and receive copies, never
// references into the store.
type State struct {
	mu sync.Mutex

	setpoints []float64
	enabled   []bool

	positions  []float64
	velocities []float64
	efforts    []float64
	active     []bool

	setpointsDirty bool
	enablesDirty   bool
}

// Snapshot is a consistent point-in-time copy of the state.
type Snapshot struct {
	Setpoints  []float64
	Enabled    []bool
	Positions  []float64
	Velocities []float64
	Efforts    []float64
	Active     []bool
}

// New builds a State for n joints. Setpoints, telemetry and enables start at
// zero/false; active starts all-true and mirrors peer telemetry once the
// first frame arrives.
func New(n int) *State {
	s := &State{
		setpoints:  make([]float64, n),
		enabled:    make([]bool, n),
		positions:  make([]float64, n),
		velocities: make([]float64, n),
		efforts:    make([]float64, n),
		active:     make([]bool, n),
	}
	for i := range s.active {
		s.active[i] = true
	}
	return s
}

// Joints returns the joint count the state was sized for.
func (s *State) Joints() int { return len(s.setpoints) }

// Seed establishes the initial control state: all motors enabled, setpoints
// at zero, and both dirty flags raised so the first tick transmits a full
// command frame.
func (s *State) Seed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.setpoints {
		s.setpoints[i] = 0
		s.enabled[i] = true
	}
	s.setpointsDirty = true
	s.enablesDirty = true
}

// SetSetpoints overwrites the full setpoint array and marks it unsent.
func (s *State) SetSetpoints(values []float64) error {
	if len(values) != len(s.setpoints) {
		return &ErrLengthMismatch{Want: len(s.setpoints), Got: len(values)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.setpoints, values)
	s.setpointsDirty = true
	return nil
}

// SetEnables overwrites the full enable array and marks it unsent.
func (s *State) SetEnables(flags []bool) error {
	if len(flags) != len(s.enabled) {
		return &ErrLengthMismatch{Want: len(s.enabled), Got: len(flags)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.enabled, flags)
	s.enablesDirty = true
	return nil
}

// SetEnable flips a single motor's enable flag, leaving the others as they
// are, and marks the enables unsent.
func (s *State) SetEnable(joint int, enable bool) error {
	if joint < 0 || joint >= len(s.enabled) {
		return fmt.Errorf("jointstate: joint index %d out of range [0,%d)", joint, len(s.enabled))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled[joint] = enable
	s.enablesDirty = true
	return nil
}

// TakeOutgoingIfDirty copies out the setpoints and enables and clears both
// dirty flags if either was set. The check, copy and clear happen under one
// lock hold so a concurrent writer can never be half-captured. The returned
// slices are the caller's to keep.
func (s *State) TakeOutgoingIfDirty() (setpoints []float64, enables []bool, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.setpointsDirty && !s.enablesDirty {
		return nil, nil, false
	}
	setpoints = append([]float64(nil), s.setpoints...)
	enables = append([]bool(nil), s.enabled...)
	s.setpointsDirty = false
	s.enablesDirty = false
	return setpoints, enables, true
}

// MarkDirty raises both dirty flags again. The loop calls this after a send
// failure so the freshest state is retransmitted on the next tick instead of
// being dropped.
func (s *State) MarkDirty() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setpointsDirty = true
	s.enablesDirty = true
}

// ApplyIncoming overwrites all four telemetry arrays as one atomic update.
func (s *State) ApplyIncoming(positions, velocities, efforts []float64, active []bool) error {
	n := len(s.positions)
	if len(positions) != n || len(velocities) != n || len(efforts) != n || len(active) != n {
		return &ErrLengthMismatch{Want: n, Got: len(positions)}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copy(s.positions, positions)
	copy(s.velocities, velocities)
	copy(s.efforts, efforts)
	copy(s.active, active)
	return nil
}

// Snapshot returns a consistent copy of every field.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Setpoints:  append([]float64(nil), s.setpoints...),
		Enabled:    append([]bool(nil), s.enabled...),
		Positions:  append([]float64(nil), s.positions...),
		Velocities: append([]float64(nil), s.velocities...),
		Efforts:    append([]float64(nil), s.efforts...),
		Active:     append([]bool(nil), s.active...),
	}
}
