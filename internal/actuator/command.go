// Package actuator encodes winch motor commands into 8-byte CAN frames and
// drives the winch from bus directives.
package actuator

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FrameSize is the fixed length of every command and reply frame.
const FrameSize = 8

// maxDurationMs is the largest duration the 3-byte field can carry.
const maxDurationMs = 1<<24 - 1

var (
	ErrUnsupportedCommand = errors.New("unsupported control type")
	ErrInvalidIndicator   = errors.New("indicator id out of range")
	ErrInvalidDuration    = errors.New("duration must not be negative")
	ErrMalformedFrame     = errors.New("malformed frame")
)

// Kind selects the control type of a Command.
type Kind uint8

const (
	KindStart Kind = iota + 1
	KindStop
	KindTorque
	KindSpeed
	KindPosition
	KindReadIndicator
)

// Opcodes by control type.
const (
	OpStart         byte = 0x91
	OpStop          byte = 0x92
	OpTorque        byte = 0x93
	OpSpeed         byte = 0x94
	OpPosition      byte = 0x95
	OpReadIndicator byte = 0xB4
)

var opcodes = map[Kind]byte{
	KindStart:         OpStart,
	KindStop:          OpStop,
	KindTorque:        OpTorque,
	KindSpeed:         OpSpeed,
	KindPosition:      OpPosition,
	KindReadIndicator: OpReadIndicator,
}

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindTorque:
		return "torque"
	case KindSpeed:
		return "speed"
	case KindPosition:
		return "position"
	case KindReadIndicator:
		return "read_indicator"
	default:
		return "kind(" + strconv.Itoa(int(k)) + ")"
	}
}

// ParseKind maps a control type name to its Kind, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "start":
		return KindStart, nil
	case "stop":
		return KindStop, nil
	case "torque":
		return KindTorque, nil
	case "speed":
		return KindSpeed, nil
	case "position":
		return KindPosition, nil
	case "read_indicator", "indicator":
		return KindReadIndicator, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedCommand, s)
}

// Command is a single motor directive. Value and Duration are used by the
// torque, speed and position kinds; Indicator by KindReadIndicator.
type Command struct {
	Kind      Kind
	Value     float32
	Duration  time.Duration
	Indicator Indicator
}

func Start() Command { return Command{Kind: KindStart} }
func Stop() Command  { return Command{Kind: KindStop} }

// Torque holds value N.m for d.
func Torque(value float32, d time.Duration) Command {
	return Command{Kind: KindTorque, Value: value, Duration: d}
}

// Speed spins at value RPM for d. Negative values reverse.
func Speed(value float32, d time.Duration) Command {
	return Command{Kind: KindSpeed, Value: value, Duration: d}
}

// Position moves to value radians within d.
func Position(value float32, d time.Duration) Command {
	return Command{Kind: KindPosition, Value: value, Duration: d}
}

func ReadIndicator(id Indicator) Command {
	return Command{Kind: KindReadIndicator, Indicator: id}
}

// HasValue reports whether the command carries a value and duration.
func (c Command) HasValue() bool {
	return c.Kind == KindTorque || c.Kind == KindSpeed || c.Kind == KindPosition
}

// String is the human description used in logs.
func (c Command) String() string {
	secs := strconv.FormatFloat(c.Duration.Seconds(), 'f', -1, 64)
	val := strconv.FormatFloat(float64(c.Value), 'f', -1, 32)
	switch c.Kind {
	case KindStart:
		return "Start Motor"
	case KindStop:
		return "Stop Motor"
	case KindTorque:
		return fmt.Sprintf("Torque Control (%s N.m for %ss)", val, secs)
	case KindSpeed:
		return fmt.Sprintf("Speed Control (%s RPM for %ss)", val, secs)
	case KindPosition:
		return fmt.Sprintf("Position Control (%s rad for %ss)", val, secs)
	case KindReadIndicator:
		return "Read " + c.Indicator.String()
	default:
		return c.Kind.String()
	}
}

// Frame is one 8-byte command or reply.
type Frame [FrameSize]byte

// Encode builds the frame for c. Value-bearing commands carry the value as a
// little-endian float32 in bytes 1-4 and the low three bytes of the duration
// in milliseconds in bytes 5-7; every other byte is zero.
func Encode(c Command) (Frame, error) {
	var f Frame
	op, ok := opcodes[c.Kind]
	if !ok {
		return f, fmt.Errorf("%w: %s", ErrUnsupportedCommand, c.Kind)
	}
	f[0] = op

	switch {
	case c.Kind == KindReadIndicator:
		if !c.Indicator.Valid() {
			return Frame{}, fmt.Errorf("%w: 0x%02X", ErrInvalidIndicator, uint8(c.Indicator))
		}
		f[1] = byte(c.Indicator)
	case c.HasValue():
		if c.Duration < 0 {
			return Frame{}, fmt.Errorf("%w: %s", ErrInvalidDuration, c.Duration)
		}
		binary.LittleEndian.PutUint32(f[1:5], math.Float32bits(c.Value))
		ms := uint32(c.Duration.Milliseconds() & maxDurationMs)
		f[5] = byte(ms)
		f[6] = byte(ms >> 8)
		f[7] = byte(ms >> 16)
	}
	return f, nil
}

// EncodeAll encodes every command, stopping at the first failure so that
// no partial batch is ever sent.
func EncodeAll(cmds ...Command) ([]Frame, error) {
	frames := make([]Frame, 0, len(cmds))
	for _, c := range cmds {
		f, err := Encode(c)
		if err != nil {
			return nil, err
		}
		frames = append(frames, f)
	}
	return frames, nil
}

// Opcode returns byte 0.
func (f Frame) Opcode() byte {
	return f[0]
}

// Hex formats the frame as upper-case space separated bytes.
func (f Frame) Hex() string {
	var b strings.Builder
	b.Grow(FrameSize * 3)
	for i, v := range f {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%02X", v)
	}
	return b.String()
}

func (f Frame) String() string {
	return f.Hex()
}

// JoinHex joins frames in issue order with ';' for a single transport call.
func JoinHex(frames ...Frame) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = f.Hex()
	}
	return strings.Join(parts, ";")
}

// ParseFrameHex parses "94 00 00 A0 41 D0 07 00". Separators are optional.
func ParseFrameHex(s string) (Frame, error) {
	var f Frame
	raw, err := hex.DecodeString(strings.Join(strings.Fields(s), ""))
	if err != nil {
		return f, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if len(raw) != FrameSize {
		return f, fmt.Errorf("%w: %d bytes", ErrMalformedFrame, len(raw))
	}
	copy(f[:], raw)
	return f, nil
}

// DecodeValue recovers the value and duration of a value-bearing frame.
func DecodeValue(f Frame) (float32, time.Duration) {
	v := math.Float32frombits(binary.LittleEndian.Uint32(f[1:5]))
	ms := uint32(f[5]) | uint32(f[6])<<8 | uint32(f[7])<<16
	return v, time.Duration(ms) * time.Millisecond
}

// Decode reverses Encode.
func Decode(f Frame) (Command, error) {
	for k, op := range opcodes {
		if op != f[0] {
			continue
		}
		c := Command{Kind: k}
		switch {
		case k == KindReadIndicator:
			c.Indicator = Indicator(f[1])
		case c.HasValue():
			c.Value, c.Duration = DecodeValue(f)
		}
		return c, nil
	}
	return Command{}, fmt.Errorf("%w: opcode 0x%02X", ErrUnsupportedCommand, f[0])
}
