package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/node"
)

var ErrUsage = errors.New("usage error")

// parseIndicator accepts decimal or 0x-prefixed ids.
func parseIndicator(s string) (actuator.Indicator, error) {
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("%w: indicator id %q: %v", ErrUsage, s, err)
	}
	id := actuator.Indicator(v)
	if !id.Valid() {
		return 0, fmt.Errorf("%w: 0x%02X", actuator.ErrInvalidIndicator, v)
	}
	return id, nil
}

// parseControl reads "kind [value seconds]", the bench control form.
func parseControl(args []string) (actuator.Command, error) {
	if len(args) == 0 {
		return actuator.Command{}, fmt.Errorf("%w: control needs a type", ErrUsage)
	}
	kind, err := actuator.ParseKind(args[0])
	if err != nil {
		return actuator.Command{}, err
	}
	cmd := actuator.Command{Kind: kind}
	switch {
	case kind == actuator.KindReadIndicator:
		return actuator.Command{}, fmt.Errorf("%w: use the indicator command", ErrUsage)
	case !cmd.HasValue():
		if len(args) != 1 {
			return actuator.Command{}, fmt.Errorf("%w: %s takes no arguments", ErrUsage, kind)
		}
		return cmd, nil
	case len(args) != 3:
		return actuator.Command{}, fmt.Errorf("%w: %s takes a value and a duration in seconds", ErrUsage, kind)
	}

	value, err := strconv.ParseFloat(args[1], 32)
	if err != nil {
		return actuator.Command{}, fmt.Errorf("%w: value %q", ErrUsage, args[1])
	}
	secs, err := strconv.ParseFloat(args[2], 64)
	if err != nil || secs < 0 {
		return actuator.Command{}, fmt.Errorf("%w: duration %q", ErrUsage, args[2])
	}
	cmd.Value = float32(value)
	cmd.Duration = time.Duration(secs * float64(time.Second))
	return cmd, nil
}

// waitStopped polls until the deferred stop has been sent or ctx is done.
func waitStopped(ctx context.Context, w *actuator.Winch) error {
	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for w.State().StopPending {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

func oneShot(ctx context.Context, n *node.Node, out io.Writer, command string, args []string) error {
	cfg := config.GetWinchConfig()
	c, err := startController(cfg, n.Logger)
	if err != nil {
		return err
	}
	return runOneShot(ctx, c, cfg, n.Logger, out, command, args)
}

func runOneShot(ctx context.Context, c *controller, cfg config.WinchConfig, logger *slog.Logger, out io.Writer, command string, args []string) (err error) {
	budget := sendBudget(cfg.Transport)
	defer func() {
		c.stopLoop()
		<-c.loopDone
		if closeErr := c.transport.Close(); err == nil {
			err = closeErr
		}
	}()

	callCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()

	switch command {
	case "up", "down":
		if err := c.winch.HandleDirective(callCtx, command); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, cfg.RunTime+cfg.SettleDelay+2*budget)
		defer cancel()
		if err := waitStopped(waitCtx, c.winch); err != nil {
			logger.Warn("Deferred stop did not run, stopping now", "error", err)
			stopCtx, cancel := context.WithTimeout(context.Background(), budget)
			defer cancel()
			return c.winch.Stop(stopCtx)
		}
		return nil

	case "stop":
		return c.winch.Stop(callCtx)

	case "control":
		cmd, err := parseControl(args)
		if err != nil {
			return err
		}
		if err := c.winch.Control(callCtx, cmd); err != nil {
			return err
		}
		if cmd.Duration <= 0 {
			return nil
		}
		waitCtx, cancel := context.WithTimeout(ctx, cmd.Duration+2*budget)
		defer cancel()
		return waitStopped(waitCtx, c.winch)

	case "status":
		data, err := json.MarshalIndent(c.winch.Status(callCtx), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, string(data))
		return err

	case "indicator":
		if len(args) != 1 {
			return fmt.Errorf("%w: indicator takes one id", ErrUsage)
		}
		id, err := parseIndicator(args[0])
		if err != nil {
			return err
		}
		v, ok := c.winch.ReadIndicator(callCtx, id)
		if !ok {
			return fmt.Errorf("no reply for %s", id)
		}
		_, err = fmt.Fprintf(out, "%s = %g %s\n", id.Name(), v, id.Unit())
		return err

	default:
		return fmt.Errorf("%w: unknown command %q", ErrUsage, command)
	}
}
