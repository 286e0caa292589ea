package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aau-robotics/davinci-link/internal/arm"
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

type scriptedTransport struct {
	mu    sync.Mutex
	queue [][]byte
}

func (s *scriptedTransport) Connect() error    { return nil }
func (s *scriptedTransport) Send([]byte) error { return nil }
func (s *scriptedTransport) Close() error      { return nil }

func (s *scriptedTransport) Receive(time.Duration) transport.Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return transport.Outcome{Kind: transport.TimedOut}
	}
	frame := s.queue[0]
	s.queue = s.queue[1:]
	return transport.Outcome{Kind: transport.Data, Payload: frame}
}

func testServer(t *testing.T) (*Server, *scriptedTransport) {
	t.Helper()

	tr := &scriptedTransport{}
	a, err := arm.New([]link.Config{{
		Joints:     2,
		JointNames: []string{"roll", "pitch"},
		TickPeriod: time.Millisecond,
		Transport:  tr,
	}})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := a.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { a.Close() })
	return NewServer(a), tr
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestShowStatus(t *testing.T) {
	s, tr := testServer(t)

	f, _ := wire.NewFormat(2)
	frame, _ := f.EncodeTelemetry([]float64{1, 2}, []float64{0, 0}, []float64{0, 0}, []bool{true, false})
	tr.mu.Lock()
	tr.queue = append(tr.queue, frame)
	tr.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.arm.Links()[0].Stats().FramesReceived > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	rec := do(t, s, http.MethodGet, "/api/status", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if !resp.Initialized {
		t.Error("initialized false")
	}
	if resp.AllActive {
		t.Error("all_active true with pitch inactive")
	}
	if len(resp.Links) != 1 || !resp.Links[0].Connected {
		t.Errorf("links = %+v", resp.Links)
	}
	if resp.Links[0].FramesReceived == 0 {
		t.Error("frames_received = 0 after telemetry")
	}
}

func TestShowJoints(t *testing.T) {
	s, tr := testServer(t)

	f, _ := wire.NewFormat(2)
	frame, _ := f.EncodeTelemetry([]float64{0.25, -0.5}, []float64{1, -1}, []float64{3, 4}, []bool{true, true})
	tr.mu.Lock()
	tr.queue = append(tr.queue, frame)
	tr.mu.Unlock()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.arm.Links()[0].Stats().FramesReceived > 0 {
			break
		}
		time.Sleep(time.Millisecond)
	}

	rec := do(t, s, http.MethodGet, "/api/joints", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var resp jointsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Names) != 2 || resp.Names[0] != "roll" {
		t.Errorf("names = %v", resp.Names)
	}
	if diff := resp.Positions[0] - 0.25; diff > 1e-6 || diff < -1e-6 {
		t.Errorf("positions = %v", resp.Positions)
	}
	if len(resp.Enabled) != 2 {
		t.Errorf("enabled motors = %v", resp.Enabled)
	}
}

func TestSetSetpoints(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodPost, "/api/setpoints", `{"setpoints": [0.5, -0.5]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	got := s.arm.Setpoints()
	if got[0] != 0.5 || got[1] != -0.5 {
		t.Errorf("setpoints = %v", got)
	}

	rec = do(t, s, http.MethodPost, "/api/setpoints", `{"setpoints": [1]}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("short vector: status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/setpoints", `not json`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad body: status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodGet, "/api/setpoints", "")
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d", rec.Code)
	}
}

func TestEnableMotor(t *testing.T) {
	s, _ := testServer(t)

	rec := do(t, s, http.MethodPost, "/api/motors/enable", `{"motor": "pitch", "enable": false}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	for _, name := range s.arm.EnabledMotors() {
		if name == "pitch" {
			t.Error("pitch still enabled")
		}
	}

	rec = do(t, s, http.MethodPost, "/api/motors/enable", `{"motor": "wrist", "enable": true}`)
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown motor: status = %d", rec.Code)
	}

	rec = do(t, s, http.MethodPost, "/api/motors/enable", `{"enable": true}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("missing name: status = %d", rec.Code)
	}
}
