package arm

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/aau-robotics/davinci-link/internal/link"
	"github.com/aau-robotics/davinci-link/internal/monitoring"
	"github.com/aau-robotics/davinci-link/internal/transport"
	"github.com/aau-robotics/davinci-link/internal/wire"
)

func TestMain(m *testing.M) {
	restore := monitoring.Mute()
	defer restore()
	m.Run()
}

// scriptedTransport hands back queued telemetry frames and reports timeouts
// once the queue drains.
type scriptedTransport struct {
	mu    sync.Mutex
	queue [][]byte
	sent  [][]byte
}

func (s *scriptedTransport) Connect() error { return nil }

func (s *scriptedTransport) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = append(s.sent, append([]byte(nil), frame...))
	return nil
}

func (s *scriptedTransport) Receive(timeout time.Duration) transport.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return transport.Outcome{Kind: transport.TimedOut}
	}
	frame := s.queue[0]
	s.queue = s.queue[1:]
	return transport.Outcome{Kind: transport.Data, Payload: frame}
}

func (s *scriptedTransport) Close() error { return nil }

func (s *scriptedTransport) queueTelemetry(t *testing.T, positions, velocities, efforts []float64, active []bool) {
	t.Helper()
	f, err := wire.NewFormat(len(positions))
	if err != nil {
		t.Fatal(err)
	}
	frame, err := f.EncodeTelemetry(positions, velocities, efforts, active)
	if err != nil {
		t.Fatal(err)
	}
	s.mu.Lock()
	s.queue = append(s.queue, frame)
	s.mu.Unlock()
}

func twoLinkConfigs() ([]link.Config, []*scriptedTransport) {
	t1 := &scriptedTransport{}
	t2 := &scriptedTransport{}
	cfgs := []link.Config{
		{
			Joints:     2,
			JointNames: []string{"shoulder", "elbow"},
			TickPeriod: time.Millisecond,
			Transport:  t1,
		},
		{
			Joints:     3,
			JointNames: []string{"roll", "pitch", "jaw"},
			TickPeriod: time.Millisecond,
			Transport:  t2,
		},
	}
	return cfgs, []*scriptedTransport{t1, t2}
}

func connectedArm(t *testing.T) (*Arm, []*scriptedTransport) {
	t.Helper()
	cfgs, trs := twoLinkConfigs()
	a, err := New(cfgs)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, trs
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal("condition not met within deadline")
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Error("no error for empty endpoint list")
	}

	cfgs, _ := twoLinkConfigs()
	cfgs[1].JointNames = []string{"shoulder", "x", "y"}
	if _, err := New(cfgs); err == nil {
		t.Error("no error for duplicate joint name across endpoints")
	}
}

func TestJointNames_Concatenated(t *testing.T) {
	cfgs, _ := twoLinkConfigs()
	a, err := New(cfgs)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"shoulder", "elbow", "roll", "pitch", "jaw"}
	if diff := cmp.Diff(want, a.JointNames()); diff != "" {
		t.Errorf("joint names mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(want, a.MotorNames()); diff != "" {
		t.Errorf("motor names mismatch (-want +got):\n%s", diff)
	}
}

func TestReadWrite_BeforeConnect(t *testing.T) {
	cfgs, _ := twoLinkConfigs()
	a, err := New(cfgs)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Read(); err != ErrNotInitialized {
		t.Errorf("Read before Connect: got %v, want ErrNotInitialized", err)
	}
	if err := a.Write(); err != ErrNotInitialized {
		t.Errorf("Write before Connect: got %v, want ErrNotInitialized", err)
	}
}

func TestConnect_CancelledContext(t *testing.T) {
	cfgs, _ := twoLinkConfigs()
	a, err := New(cfgs)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := a.Connect(ctx); err != context.Canceled {
		t.Errorf("Connect with cancelled context: got %v, want context.Canceled", err)
	}
}

func TestRead_ReplicatesTelemetry(t *testing.T) {
	a, trs := connectedArm(t)

	trs[0].queueTelemetry(t, []float64{1, 2}, []float64{0.1, 0.2}, []float64{10, 20}, []bool{true, true})
	trs[1].queueTelemetry(t, []float64{3, 4, 5}, []float64{0.3, 0.4, 0.5}, []float64{30, 40, 50}, []bool{true, false, true})

	waitFor(t, func() bool {
		links := a.Links()
		return links[0].Stats().FramesReceived > 0 && links[1].Stats().FramesReceived > 0
	})

	if err := a.Read(); err != nil {
		t.Fatalf("Read: %v", err)
	}

	wantPos := []float64{1, 2, 3, 4, 5}
	gotPos := a.Positions()
	for i := range wantPos {
		if diff := gotPos[i] - wantPos[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("position[%d] = %v, want %v", i, gotPos[i], wantPos[i])
		}
	}
	gotEff := a.Efforts()
	wantEff := []float64{10, 20, 30, 40, 50}
	for i := range wantEff {
		if diff := gotEff[i] - wantEff[i]; diff > 1e-4 || diff < -1e-4 {
			t.Errorf("effort[%d] = %v, want %v", i, gotEff[i], wantEff[i])
		}
	}

	wantActive := []bool{true, true, true, false, true}
	if diff := cmp.Diff(wantActive, a.ActiveVector()); diff != "" {
		t.Errorf("active vector mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"shoulder", "elbow", "roll", "jaw"}, a.ActiveMotors()); diff != "" {
		t.Errorf("active motors mismatch (-want +got):\n%s", diff)
	}

	diag := a.Diagnostics()
	if diag.AllActive {
		t.Error("AllActive true with an inactive motor")
	}
	if diag.Motors["pitch"] {
		t.Error("pitch reported active")
	}
}

func TestWrite_ScattersSetpoints(t *testing.T) {
	a, trs := connectedArm(t)

	if err := a.SetSetpoints([]float64{1, 2, 3, 4, 5}); err != nil {
		t.Fatal(err)
	}
	if err := a.Write(); err != nil {
		t.Fatalf("Write: %v", err)
	}

	// The tick loops pick the setpoints up and frame them.
	f2, _ := wire.NewFormat(2)
	f3, _ := wire.NewFormat(3)
	waitFor(t, func() bool {
		trs[0].mu.Lock()
		defer trs[0].mu.Unlock()
		for _, frame := range trs[0].sent {
			sp, _, err := f2.DecodeCommand(frame)
			if err == nil && sp[0] > 0.5 {
				return true
			}
		}
		return false
	})
	waitFor(t, func() bool {
		trs[1].mu.Lock()
		defer trs[1].mu.Unlock()
		for _, frame := range trs[1].sent {
			sp, _, err := f3.DecodeCommand(frame)
			if err == nil && sp[2] > 4.5 {
				return true
			}
		}
		return false
	})

	if err := a.SetSetpoints([]float64{1, 2}); err == nil {
		t.Error("no error for short setpoint vector")
	}
}

func TestEnableMotor_ReachesLink(t *testing.T) {
	a, _ := connectedArm(t)

	if err := a.EnableMotor("pitch", false); err != nil {
		t.Fatalf("EnableMotor: %v", err)
	}
	waitFor(t, func() bool {
		for _, name := range a.EnabledMotors() {
			if name == "pitch" {
				return false
			}
		}
		return true
	})

	if err := a.EnableMotor("wrist", true); err == nil {
		t.Error("no error for unknown motor name")
	}
}

func TestClose_Disconnects(t *testing.T) {
	a, _ := connectedArm(t)
	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if a.Initialized() {
		t.Error("still initialized after Close")
	}
	if err := a.Read(); err != ErrNotInitialized {
		t.Errorf("Read after Close: got %v, want ErrNotInitialized", err)
	}
}
