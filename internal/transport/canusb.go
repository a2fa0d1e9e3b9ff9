package transport

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
)

// CANUSBConfig configures the canusb command line adapter.
type CANUSBConfig struct {
	Binary        string
	Device        string
	CANSpeed      int
	BaudRate      int
	MotorID       int
	Retries       int
	RetryInterval time.Duration
	Timeout       time.Duration
}

// CANUSBConfigFrom maps the config file section.
func CANUSBConfigFrom(cfg config.TransportConfig) CANUSBConfig {
	return CANUSBConfig{
		Binary:        cfg.Binary,
		Device:        cfg.Device,
		CANSpeed:      cfg.CANSpeed,
		BaudRate:      cfg.BaudRate,
		MotorID:       cfg.MotorID,
		Retries:       cfg.Retries,
		RetryInterval: cfg.RetryInterval,
		Timeout:       cfg.Timeout,
	}
}

func (c CANUSBConfig) withDefaults() CANUSBConfig {
	if c.Binary == "" {
		c.Binary = "canusb"
	}
	if c.Device == "" {
		c.Device = "/dev/ttyUSB0"
	}
	if c.CANSpeed == 0 {
		c.CANSpeed = 500000
	}
	if c.BaudRate == 0 {
		c.BaudRate = 2000000
	}
	if c.MotorID == 0 {
		c.MotorID = 1
	}
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = 50 * time.Millisecond
	}
	return c
}

// runFunc executes the adapter once and captures its output.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr string, err error)

func execRun(ctx context.Context, name string, args ...string) (string, string, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}

// CANUSB sends each batch through one invocation of the canusb program,
// which writes the semicolon separated frames in order.
type CANUSB struct {
	cfg    CANUSBConfig
	run    runFunc
	logger *slog.Logger
}

// NewCANUSB creates the command line transport.
func NewCANUSB(cfg CANUSBConfig, logger *slog.Logger) *CANUSB {
	if logger == nil {
		logger = slog.Default()
	}
	return &CANUSB{
		cfg:    cfg.withDefaults(),
		run:    execRun,
		logger: logger.With("component", "canusb"),
	}
}

// Args returns the adapter arguments for a batch.
func (c *CANUSB) Args(frames ...actuator.Frame) []string {
	return []string{
		"-d", c.cfg.Device,
		"-s", strconv.Itoa(c.cfg.CANSpeed),
		"-b", strconv.Itoa(c.cfg.BaudRate),
		"-i", strconv.FormatInt(int64(c.cfg.MotorID), 16),
		"-j", actuator.JoinHex(frames...),
		"-n", "1",
		"-m", "2",
	}
}

// Send runs the adapter with bounded retries. A missing binary is not
// retried.
func (c *CANUSB) Send(ctx context.Context, frames ...actuator.Frame) (actuator.Reply, error) {
	if len(frames) == 0 {
		return actuator.Reply{}, ErrNoFrames
	}
	args := c.Args(frames...)

	var reply actuator.Reply
	attempt := 0
	op := func() error {
		attempt++
		runCtx := ctx
		if c.cfg.Timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
			defer cancel()
		}

		stdout, stderr, err := c.run(runCtx, c.cfg.Binary, args...)
		reply = actuator.Reply{Stdout: stdout, Stderr: stderr}
		if err == nil {
			return nil
		}
		if errors.Is(err, exec.ErrNotFound) {
			return backoff.Permanent(err)
		}
		c.logger.Warn("canusb invocation failed", "attempt", attempt, "error", err, "stderr", stderr)
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.cfg.RetryInterval
	b.MaxInterval = 20 * c.cfg.RetryInterval
	b.MaxElapsedTime = 0

	err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, uint64(c.cfg.Retries)), ctx))
	if err != nil {
		return reply, fmt.Errorf("canusb %s after %d attempt(s): %w", actuator.JoinHex(frames...), attempt, err)
	}
	c.logger.Debug("canusb sent", "frames", args[9], "stdout", reply.Stdout)
	return reply, nil
}

// Close is a no-op; every Send owns its process.
func (c *CANUSB) Close() error {
	return nil
}
