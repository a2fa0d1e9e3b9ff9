// Package transport delivers winch frames to the motor over the CAN bus.
package transport

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
)

var ErrNoFrames = errors.New("no frames to send")

// Transport sends frame batches in order and reports what came back.
type Transport interface {
	actuator.Sender
	Close() error
}

// New creates the transport named by cfg.Type.
func New(cfg config.TransportConfig, logger *slog.Logger) (Transport, error) {
	switch strings.ToLower(cfg.Type) {
	case "canusb", "":
		return NewCANUSB(CANUSBConfigFrom(cfg), logger), nil
	case "serial":
		return OpenSerial(SerialConfigFrom(cfg), logger)
	case "dryrun":
		return NewRecorder(logger), nil
	default:
		return nil, fmt.Errorf("unknown transport type: %s", cfg.Type)
	}
}
