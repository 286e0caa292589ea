package link

import (
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// latencyWindow bounds the receive-latency sample buffer. At a 2 ms tick
// this covers roughly the last second of traffic.
const latencyWindow = 512

// Stats accumulates per-link tick counters and receive-latency samples.
type Stats struct {
	mu             sync.Mutex
	framesSent     uint64
	framesReceived uint64
	sendFailures   uint64
	decodeFailures uint64
	misses         uint64

	latencies [latencyWindow]float64
	next      int
	filled    bool
}

// Summary is a point-in-time view of link statistics. Latency figures cover
// the most recent window of received frames.
type Summary struct {
	FramesSent     uint64
	FramesReceived uint64
	SendFailures   uint64
	DecodeFailures uint64
	Misses         uint64

	LatencySamples    int
	RecvLatencyMean   time.Duration
	RecvLatencyStdDev time.Duration
}

func newStats() *Stats {
	return &Stats{}
}

func (s *Stats) addSent() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesSent++
}

func (s *Stats) addSendFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendFailures++
}

func (s *Stats) addDecodeFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decodeFailures++
}

func (s *Stats) addMiss() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.misses++
}

func (s *Stats) addReceived(latency time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.framesReceived++
	s.latencies[s.next] = latency.Seconds()
	s.next++
	if s.next == latencyWindow {
		s.next = 0
		s.filled = true
	}
}

// Summary computes the current counters and latency statistics.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	samples := s.next
	if s.filled {
		samples = latencyWindow
	}

	out := Summary{
		FramesSent:     s.framesSent,
		FramesReceived: s.framesReceived,
		SendFailures:   s.sendFailures,
		DecodeFailures: s.decodeFailures,
		Misses:         s.misses,
		LatencySamples: samples,
	}
	if samples > 0 {
		window := s.latencies[:samples]
		mean := stat.Mean(window, nil)
		out.RecvLatencyMean = time.Duration(mean * float64(time.Second))
		if samples > 1 {
			out.RecvLatencyStdDev = time.Duration(stat.StdDev(window, nil) * float64(time.Second))
		}
	}
	return out
}
