// sbrio-sim stands in for an sbRIO joint controller during development. It
// listens for command frames on UDP, tracks each setpoint with a simple
// first-order response and answers every command with a telemetry frame.
// Motors report active exactly when the command enables them.
package main

import (
	"flag"
	"log"
	"net"
	"sync/atomic"
	"time"

	"github.com/aau-robotics/davinci-link/internal/wire"
)

var (
	listen = flag.String("listen", ":5002", "UDP listen address")
	joints = flag.Int("joints", 7, "Number of joints to simulate")
	// Fraction of the setpoint error closed per command frame.
	gain = flag.Float64("gain", 0.2, "Position tracking gain per frame")
)

func main() {
	flag.Parse()

	format, err := wire.NewFormat(*joints)
	if err != nil {
		log.Fatalf("invalid joint count: %v", err)
	}

	addr, err := net.ResolveUDPAddr("udp4", *listen)
	if err != nil {
		log.Fatal(err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		log.Fatal(err)
	}
	defer conn.Close()
	log.Printf("simulating %d joints on %s", *joints, conn.LocalAddr())

	var frameCount int64
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			frames := atomic.SwapInt64(&frameCount, 0)
			if frames > 0 {
				log.Printf("%.1f command frames/sec", float64(frames)/5)
			}
		}
	}()

	positions := make([]float64, *joints)
	velocities := make([]float64, *joints)
	efforts := make([]float64, *joints)

	buf := make([]byte, format.CommandSize()+64)
	var lastFrame time.Time

	for {
		n, peer, err := conn.ReadFromUDP(buf)
		if err != nil {
			log.Printf("read error: %v", err)
			continue
		}
		atomic.AddInt64(&frameCount, 1)

		setpoints, enabled, err := format.DecodeCommand(buf[:n])
		if err != nil {
			log.Printf("dropping %d byte frame from %s: %v", n, peer, err)
			continue
		}

		now := time.Now()
		dt := now.Sub(lastFrame).Seconds()
		lastFrame = now

		for i := range positions {
			if !enabled[i] {
				velocities[i] = 0
				efforts[i] = 0
				continue
			}
			step := (setpoints[i] - positions[i]) * *gain
			positions[i] += step
			if dt > 0 {
				velocities[i] = step / dt
			}
			efforts[i] = step * 10
		}

		telemetry, err := format.EncodeTelemetry(positions, velocities, efforts, enabled)
		if err != nil {
			log.Printf("encode telemetry: %v", err)
			continue
		}
		if _, err := conn.WriteToUDP(telemetry, peer); err != nil {
			log.Printf("write to %s: %v", peer, err)
		}
	}
}
