package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"go.bug.st/serial"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
)

// USB-CAN-A framing.
const (
	frameStart    byte = 0xAA
	frameEnd      byte = 0x55
	settingsMagic byte = 0x55
	settingsType  byte = 0x12
	dataFlags     byte = 0xC0
	extendedFlag  byte = 0x20
	settingsSize       = 20
)

var (
	ErrReplyTimeout     = errors.New("no reply frame before timeout")
	ErrUnsupportedSpeed = errors.New("unsupported CAN bus speed")
)

// canSpeeds maps bus speeds in bit/s to adapter speed codes.
var canSpeeds = map[int]byte{
	1000000: 0x01,
	800000:  0x02,
	500000:  0x03,
	400000:  0x04,
	250000:  0x05,
	200000:  0x06,
	125000:  0x07,
	100000:  0x08,
	50000:   0x09,
	20000:   0x0A,
	10000:   0x0B,
	5000:    0x0C,
}

// Port is the part of a serial port the transport needs.
type Port interface {
	io.ReadWriteCloser
	SetReadTimeout(t time.Duration) error
}

// SerialConfig configures the direct serial transport.
type SerialConfig struct {
	Device       string
	BaudRate     int
	CANSpeed     int
	MotorID      int
	ReplyTimeout time.Duration
}

// SerialConfigFrom maps the config file section.
func SerialConfigFrom(cfg config.TransportConfig) SerialConfig {
	return SerialConfig{
		Device:       cfg.Device,
		BaudRate:     cfg.BaudRate,
		CANSpeed:     cfg.CANSpeed,
		MotorID:      cfg.MotorID,
		ReplyTimeout: cfg.Timeout,
	}
}

// SettingsPacket builds the fixed 20-byte adapter configuration packet for
// standard frames in normal mode with an open filter.
func SettingsPacket(canSpeed int) ([]byte, error) {
	code, ok := canSpeeds[canSpeed]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedSpeed, canSpeed)
	}
	p := make([]byte, settingsSize)
	p[0] = frameStart
	p[1] = settingsMagic
	p[2] = settingsType
	p[3] = code
	p[4] = 0x01 // standard frames
	// 5-8 filter id, 9-12 mask id
	p[13] = 0x00 // normal mode
	p[14] = 0x01
	var sum int
	for _, b := range p[2 : settingsSize-1] {
		sum += int(b)
	}
	p[settingsSize-1] = byte(sum & 0xFF)
	return p, nil
}

// EncodeDataFrame wraps a CAN payload for the adapter.
func EncodeDataFrame(id uint16, data []byte) ([]byte, error) {
	if len(data) > actuator.FrameSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds %d", len(data), actuator.FrameSize)
	}
	out := make([]byte, 0, 5+len(data))
	out = append(out, frameStart, dataFlags|byte(len(data)), byte(id), byte(id>>8))
	out = append(out, data...)
	return append(out, frameEnd), nil
}

// nextDataFrame finds the first complete data frame in buf. consumed is the
// number of leading bytes that can be dropped; ok is false while a frame is
// still incomplete.
func nextDataFrame(buf []byte) (id uint32, data []byte, consumed int, ok bool) {
	for start := 0; start < len(buf); start++ {
		if buf[start] != frameStart {
			continue
		}
		rest := buf[start:]
		if len(rest) < 2 {
			return 0, nil, start, false
		}
		typ := rest[1]
		if typ&dataFlags != dataFlags {
			continue
		}
		dlc := int(typ & 0x0F)
		if dlc > actuator.FrameSize {
			continue
		}
		idLen := 2
		if typ&extendedFlag != 0 {
			idLen = 4
		}
		total := 2 + idLen + dlc + 1
		if len(rest) < total {
			return 0, nil, start, false
		}
		if rest[total-1] != frameEnd {
			continue
		}
		for i := 0; i < idLen; i++ {
			id |= uint32(rest[2+i]) << (8 * i)
		}
		data = make([]byte, dlc)
		copy(data, rest[2+idLen:2+idLen+dlc])
		return id, data, start + total, true
	}
	return 0, nil, len(buf), false
}

// Serial speaks the USB-CAN-A protocol directly.
type Serial struct {
	mu      sync.Mutex
	port    Port
	cfg     SerialConfig
	pending []byte
	logger  *slog.Logger
}

// OpenSerial opens the adapter device and configures the bus.
func OpenSerial(cfg SerialConfig, logger *slog.Logger) (*Serial, error) {
	if cfg.BaudRate == 0 {
		cfg.BaudRate = 2000000
	}
	port, err := serial.Open(cfg.Device, &serial.Mode{
		BaudRate: cfg.BaudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.TwoStopBits,
	})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", cfg.Device, err)
	}
	s, err := NewSerial(port, cfg, logger)
	if err != nil {
		port.Close()
		return nil, err
	}
	return s, nil
}

// NewSerial configures an already open port.
func NewSerial(port Port, cfg SerialConfig, logger *slog.Logger) (*Serial, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CANSpeed == 0 {
		cfg.CANSpeed = 500000
	}
	if cfg.MotorID == 0 {
		cfg.MotorID = 1
	}
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = time.Second
	}
	settings, err := SettingsPacket(cfg.CANSpeed)
	if err != nil {
		return nil, err
	}
	if _, err := port.Write(settings); err != nil {
		return nil, fmt.Errorf("write adapter settings: %w", err)
	}
	return &Serial{
		port:   port,
		cfg:    cfg,
		logger: logger.With("component", "serial", "device", cfg.Device),
	}, nil
}

// Send writes every frame in order. Indicator reads wait for one reply frame
// from the motor.
func (s *Serial) Send(ctx context.Context, frames ...actuator.Frame) (actuator.Reply, error) {
	if len(frames) == 0 {
		return actuator.Reply{}, ErrNoFrames
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range frames {
		if err := ctx.Err(); err != nil {
			return actuator.Reply{}, err
		}
		raw, err := EncodeDataFrame(uint16(s.cfg.MotorID), f[:])
		if err != nil {
			return actuator.Reply{}, err
		}
		if _, err := s.port.Write(raw); err != nil {
			return actuator.Reply{}, fmt.Errorf("write frame %s: %w", f.Hex(), err)
		}
	}

	if frames[len(frames)-1].Opcode() != actuator.OpReadIndicator {
		return actuator.Reply{}, nil
	}

	data, err := s.readReply(ctx)
	if err != nil {
		return actuator.Reply{}, err
	}
	var reply actuator.Reply
	if len(data) == actuator.FrameSize {
		var f actuator.Frame
		copy(f[:], data)
		reply.Frames = []actuator.Frame{f}
		reply.Stdout = "Received: " + f.Hex()
	}
	return reply, nil
}

func (s *Serial) readReply(ctx context.Context) ([]byte, error) {
	deadline := time.Now().Add(s.cfg.ReplyTimeout)
	buf := make([]byte, 64)
	for {
		if _, data, n, ok := nextDataFrame(s.pending); ok || n > 0 {
			s.pending = s.pending[n:]
			if ok {
				return data, nil
			}
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrReplyTimeout
		}
		if err := s.port.SetReadTimeout(remaining); err != nil {
			return nil, fmt.Errorf("set read timeout: %w", err)
		}
		n, err := s.port.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("read reply: %w", err)
		}
		if n == 0 {
			return nil, ErrReplyTimeout
		}
		s.pending = append(s.pending, buf[:n]...)
	}
}

// Close releases the port.
func (s *Serial) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.port.Close()
}
