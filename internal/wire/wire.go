// Package wire implements the fixed-layout binary frames exchanged with an
// sbRIO motion controller over UDP.
//
// The format is position-addressed with no length or type tags: the link runs
// at a millisecond control period and parsing must stay allocation-light and
// deterministic.
//
// Command frame (host -> controller), for joint count N:
//
//	offset 4*i   4 bytes  big-endian float32 setpoint for joint i
//	offset 4*N   1 byte   enable bitmask, bit i (LSB first) = joint i
//
// Telemetry frame (controller -> host):
//
//	offset 4*i        4 bytes  big-endian float32 position, joint i
//	offset 4N + 4*i   4 bytes  big-endian float32 velocity, joint i
//	offset 8N + 4*i   4 bytes  big-endian float32 effort, joint i
//	offset 12N        1 byte   active bitmask, same bit order
//
// Trailing bytes after the telemetry bitmask are ignored; the controller is
// allowed to pad its datagrams.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Value width on the wire. The sbRIO sends IEEE-754 single precision.
const FloatLength = 4

var (
	// ErrLengthMismatch reports an encode call whose slices do not match the
	// configured joint count.
	ErrLengthMismatch = errors.New("wire: slice length does not match joint count")

	// ErrShortFrame reports a telemetry frame with fewer bytes than the
	// configured joint count requires.
	ErrShortFrame = errors.New("wire: telemetry frame too short")
)

// Format describes the frame layout for a single endpoint. A Format is
// immutable after construction.
type Format struct {
	joints int
}

// NewFormat returns the frame format for an endpoint driving n joints.
func NewFormat(n int) (Format, error) {
	if n < 1 {
		return Format{}, fmt.Errorf("wire: joint count must be at least 1, got %d", n)
	}
	if n > 8 {
		// One bitmask byte on the wire limits an endpoint to 8 joints.
		return Format{}, fmt.Errorf("wire: joint count %d exceeds bitmask capacity of 8", n)
	}
	return Format{joints: n}, nil
}

// Joints returns the joint count the format was built for.
func (f Format) Joints() int { return f.joints }

// CommandSize returns the exact size of an encoded command frame in bytes.
func (f Format) CommandSize() int { return f.joints*FloatLength + 1 }

// TelemetrySize returns the minimum size of a decodable telemetry frame.
func (f Format) TelemetrySize() int { return f.joints*FloatLength*3 + 1 }

// EncodeCommand serialises joint setpoints and motor enable flags into a
// command frame. Both slices must have exactly Joints() elements.
func (f Format) EncodeCommand(setpoints []float64, enabled []bool) ([]byte, error) {
	if len(setpoints) != f.joints || len(enabled) != f.joints {
		return nil, fmt.Errorf("%w: got %d setpoints and %d enables for %d joints",
			ErrLengthMismatch, len(setpoints), len(enabled), f.joints)
	}

	frame := make([]byte, f.CommandSize())
	for i, sp := range setpoints {
		bits := math.Float32bits(float32(sp))
		binary.BigEndian.PutUint32(frame[i*FloatLength:], bits)
	}
	frame[f.joints*FloatLength] = PackFlags(enabled)
	return frame, nil
}

// DecodeCommand is the inverse of EncodeCommand. It is used by the endpoint
// simulator and by tests; the driver itself only encodes commands.
func (f Format) DecodeCommand(frame []byte) (setpoints []float64, enabled []bool, err error) {
	if len(frame) < f.CommandSize() {
		return nil, nil, fmt.Errorf("%w: need %d bytes, got %d",
			ErrShortFrame, f.CommandSize(), len(frame))
	}

	setpoints = make([]float64, f.joints)
	for i := range setpoints {
		bits := binary.BigEndian.Uint32(frame[i*FloatLength:])
		setpoints[i] = float64(math.Float32frombits(bits))
	}
	enabled = UnpackFlags(frame[f.joints*FloatLength], f.joints)
	return setpoints, enabled, nil
}

// EncodeTelemetry serialises joint telemetry into the controller's frame
// layout. The driver never sends telemetry; this exists for the endpoint
// simulator and for round-trip tests.
func (f Format) EncodeTelemetry(positions, velocities, efforts []float64, active []bool) ([]byte, error) {
	if len(positions) != f.joints || len(velocities) != f.joints ||
		len(efforts) != f.joints || len(active) != f.joints {
		return nil, fmt.Errorf("%w: telemetry blocks must each have %d values",
			ErrLengthMismatch, f.joints)
	}

	frame := make([]byte, f.TelemetrySize())
	blockLen := f.joints * FloatLength
	for i := 0; i < f.joints; i++ {
		binary.BigEndian.PutUint32(frame[i*FloatLength:], math.Float32bits(float32(positions[i])))
		binary.BigEndian.PutUint32(frame[blockLen+i*FloatLength:], math.Float32bits(float32(velocities[i])))
		binary.BigEndian.PutUint32(frame[2*blockLen+i*FloatLength:], math.Float32bits(float32(efforts[i])))
	}
	frame[3*blockLen] = PackFlags(active)
	return frame, nil
}

// DecodeTelemetry parses a telemetry frame into position, velocity and effort
// arrays plus the motor active flags. Values are widened to float64 for the
// rest of the system. Frames shorter than TelemetrySize() fail with
// ErrShortFrame; longer frames are accepted and the tail ignored.
func (f Format) DecodeTelemetry(frame []byte) (positions, velocities, efforts []float64, active []bool, err error) {
	if len(frame) < f.TelemetrySize() {
		return nil, nil, nil, nil, fmt.Errorf("%w: need %d bytes, got %d",
			ErrShortFrame, f.TelemetrySize(), len(frame))
	}

	positions = make([]float64, f.joints)
	velocities = make([]float64, f.joints)
	efforts = make([]float64, f.joints)
	blockLen := f.joints * FloatLength
	for i := 0; i < f.joints; i++ {
		positions[i] = decodeFloat(frame, i*FloatLength)
		velocities[i] = decodeFloat(frame, blockLen+i*FloatLength)
		efforts[i] = decodeFloat(frame, 2*blockLen+i*FloatLength)
	}
	active = UnpackFlags(frame[3*blockLen], f.joints)
	return positions, velocities, efforts, active, nil
}

func decodeFloat(frame []byte, offset int) float64 {
	bits := binary.BigEndian.Uint32(frame[offset:])
	return float64(math.Float32frombits(bits))
}

// PackFlags packs up to 8 flags into one byte, bit i = flags[i] with bit 0
// the least significant. Flags beyond the eighth are ignored.
func PackFlags(flags []bool) byte {
	var b byte
	for i, set := range flags {
		if i == 8 {
			break
		}
		if set {
			b |= 1 << uint(i)
		}
	}
	return b
}

// UnpackFlags expands a bitmask byte into n flags using the same bit order as
// PackFlags.
func UnpackFlags(b byte, n int) []bool {
	flags := make([]bool, n)
	for i := 0; i < n && i < 8; i++ {
		flags[i] = b&(1<<uint(i)) != 0
	}
	return flags
}
