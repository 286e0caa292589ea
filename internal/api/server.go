// Package api exposes the robot over a small JSON HTTP surface: link health,
// joint state, setpoint and motor-enable commands.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/aau-robotics/davinci-link/internal/arm"
	"github.com/aau-robotics/davinci-link/internal/httputil"
	"github.com/aau-robotics/davinci-link/internal/monitoring"
	"github.com/aau-robotics/davinci-link/internal/version"
)

type Server struct {
	arm     *arm.Arm
	started time.Time
}

func NewServer(a *arm.Arm) *Server {
	return &Server{arm: a, started: time.Now()}
}

func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", s.showStatus)
	mux.HandleFunc("/api/joints", s.showJoints)
	mux.HandleFunc("/api/setpoints", s.setSetpoints)
	mux.HandleFunc("/api/motors/enable", s.enableMotor)
	return mux
}

// Handler wraps the mux in the request logging middleware.
func (s *Server) Handler() http.Handler {
	return LoggingMiddleware(s.ServeMux())
}

type linkStatus struct {
	Joints         []string `json:"joints"`
	Connected      bool     `json:"connected"`
	Initialized    bool     `json:"initialized"`
	Misses         uint     `json:"consecutive_misses"`
	FramesSent     uint64   `json:"frames_sent"`
	FramesReceived uint64   `json:"frames_received"`
	SendFailures   uint64   `json:"send_failures"`
	DecodeFailures uint64   `json:"decode_failures"`
	RecvLatencyUs  float64  `json:"recv_latency_mean_us"`
}

type statusResponse struct {
	Version       string          `json:"version"`
	UptimeSeconds float64         `json:"uptime_seconds"`
	Initialized   bool            `json:"initialized"`
	AllActive     bool            `json:"all_active"`
	Motors        map[string]bool `json:"motors"`
	Links         []linkStatus    `json:"links"`
}

func (s *Server) showStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	diag := s.arm.Diagnostics()
	resp := statusResponse{
		Version:       version.Version,
		UptimeSeconds: time.Since(s.started).Seconds(),
		Initialized:   s.arm.Initialized(),
		AllActive:     diag.AllActive,
		Motors:        diag.Motors,
	}
	for _, l := range s.arm.Links() {
		stats := l.Stats()
		resp.Links = append(resp.Links, linkStatus{
			Joints:         l.JointNames(),
			Connected:      l.Connected(),
			Initialized:    l.Initialized(),
			Misses:         l.ConsecutiveMisses(),
			FramesSent:     stats.FramesSent,
			FramesReceived: stats.FramesReceived,
			SendFailures:   stats.SendFailures,
			DecodeFailures: stats.DecodeFailures,
			RecvLatencyUs:  float64(stats.RecvLatencyMean.Microseconds()),
		})
	}
	httputil.WriteJSONOK(w, resp)
}

type jointsResponse struct {
	Names      []string  `json:"names"`
	Positions  []float64 `json:"positions"`
	Velocities []float64 `json:"velocities"`
	Efforts    []float64 `json:"efforts"`
	Setpoints  []float64 `json:"setpoints"`
	Active     []bool    `json:"active"`
	Enabled    []string  `json:"enabled_motors"`
}

func (s *Server) showJoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	if err := s.arm.Read(); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to read joint state: %v", err))
		return
	}
	httputil.WriteJSONOK(w, jointsResponse{
		Names:      s.arm.JointNames(),
		Positions:  s.arm.Positions(),
		Velocities: s.arm.Velocities(),
		Efforts:    s.arm.Efforts(),
		Setpoints:  s.arm.Setpoints(),
		Active:     s.arm.ActiveVector(),
		Enabled:    s.arm.EnabledMotors(),
	})
}

type setpointsRequest struct {
	Setpoints []float64 `json:"setpoints"`
}

func (s *Server) setSetpoints(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req setpointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.arm.SetSetpoints(req.Setpoints); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err := s.arm.Write(); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to write setpoints: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type enableRequest struct {
	Motor  string `json:"motor"`
	Enable bool   `json:"enable"`
}

func (s *Server) enableMotor(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	var req enableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Motor == "" {
		httputil.BadRequest(w, "motor name is required")
		return
	}
	if err := s.arm.EnableMotor(req.Motor, req.Enable); err != nil {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%d] %s %s %.2fms",
			lrw.statusCode, r.Method, r.RequestURI,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}
