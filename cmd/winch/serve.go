package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/node"
	"github.com/hydrodrone/mission/internal/scheduler"
	"github.com/hydrodrone/mission/internal/storage"
	"github.com/hydrodrone/mission/internal/transport"
	"github.com/hydrodrone/mission/pkg/streaming"
)

func winchConfigFrom(c config.WinchConfig) actuator.WinchConfig {
	return actuator.WinchConfig{
		Speed:       float32(c.Speed),
		RunTime:     c.RunTime,
		SettleDelay: c.SettleDelay,
		SendTimeout: c.Transport.Timeout,
	}
}

// sendBudget bounds one transport call including its retries.
func sendBudget(c config.TransportConfig) time.Duration {
	timeout := c.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return timeout*time.Duration(max(c.Retries, 0)+1) + c.RetryInterval*time.Duration(max(c.Retries, 0))
}

// controller is a winch on a running scheduler loop.
type controller struct {
	winch     *actuator.Winch
	transport transport.Transport
	loop      *scheduler.Loop
	stopLoop  context.CancelFunc
	loopDone  chan struct{}
}

func startController(cfg config.WinchConfig, logger *slog.Logger) (*controller, error) {
	tr, err := transport.New(cfg.Transport, logger)
	if err != nil {
		return nil, fmt.Errorf("open transport: %w", err)
	}
	return startControllerOn(tr, cfg, logger), nil
}

func startControllerOn(tr transport.Transport, cfg config.WinchConfig, logger *slog.Logger) *controller {
	loop := scheduler.New(clockwork.NewRealClock(), logger)
	ctx, cancel := context.WithCancel(context.Background())
	c := &controller{
		winch:     actuator.NewWinch(loop, tr, winchConfigFrom(cfg), logger),
		transport: tr,
		loop:      loop,
		stopLoop:  cancel,
		loopDone:  make(chan struct{}),
	}
	go func() {
		defer close(c.loopDone)
		_ = loop.Run(ctx)
	}()
	return c
}

// Close stops the motor, then the loop and the transport.
func (c *controller) Close(ctx context.Context) error {
	stopErr := c.winch.Stop(ctx)
	c.stopLoop()
	<-c.loopDone
	if err := c.transport.Close(); err != nil {
		return err
	}
	return stopErr
}

// subscribe wires the winch to the bus topics it serves.
func (c *controller) subscribe(d *dispatcher.Dispatcher, logger *slog.Logger, timeout func() (context.Context, context.CancelFunc)) {
	d.Subscribe(streaming.TopicWinch, func(m dispatcher.Message) error {
		var token string
		if err := streaming.Decode(m.Payload, &token); err != nil {
			return err
		}
		c.loop.Post("directive "+token, func() {
			ctx, cancel := timeout()
			defer cancel()
			if err := c.winch.HandleDirective(ctx, token); err != nil {
				logger.Warn("Winch directive failed", "token", token, "error", err)
			}
		})
		return nil
	}, dispatcher.Logged())

	d.Subscribe(streaming.TopicIMU, func(m dispatcher.Message) error {
		var zacc float64
		if err := streaming.Decode(m.Payload, &zacc); err != nil {
			return err
		}
		logger.Debug("IMU data", "zacc", zacc)
		return nil
	})
}

func serve(ctx context.Context, n *node.Node) error {
	cfg := config.GetWinchConfig()
	motorID := uint8(cfg.Transport.MotorID)

	c, err := startController(cfg, n.Logger)
	if err != nil {
		return err
	}
	sendTimeout := func() (context.Context, context.CancelFunc) {
		return context.WithTimeout(context.Background(), sendBudget(cfg.Transport))
	}

	d, err := n.NewDispatcher()
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	st := n.OpenStorage()
	defer func() {
		closeCtx, cancel := sendTimeout()
		defer cancel()
		if err := c.Close(closeCtx); err != nil {
			n.Logger.Error("Failed to stop winch", "error", err)
		}
		d.Close()
		if err := st.Close(); err != nil {
			n.Logger.Error("Failed to close storage backend", "error", err)
		}
	}()

	storage.NewRecorder(st, storage.RunMeta{}, motorID,
		n.Zerolog.With().Str("component", "recorder").Logger()).Attach(d, 1000)
	if im := n.ConnectInflux(ctx, d, motorID); im != nil {
		n.OnClose(im)
	}

	c.subscribe(d, n.Logger, sendTimeout)

	bridge, err := n.StartBridge(d, []string{streaming.TopicMotorStatus}, []string{streaming.TopicWinch, streaming.TopicIMU})
	if err != nil {
		return err
	}
	if bridge != nil {
		n.OnClose(bridge)
	} else {
		n.Logger.Warn("Bus disabled, the winch only serves local directives")
	}

	if cfg.StatusInterval > 0 {
		c.loop.Every(cfg.StatusInterval, "status", func() {
			pollCtx, cancel := sendTimeout()
			defer cancel()
			if err := d.PublishPayload(streaming.TopicMotorStatus, c.winch.Status(pollCtx)); err != nil {
				n.Logger.Warn("Failed to publish motor status", "error", err)
			}
		})
	}

	n.Logger.Info("Winch node ready",
		"transport", cfg.Transport.Type,
		"motor", motorID,
		"speed", cfg.Speed,
		"statusInterval", cfg.StatusInterval)
	<-ctx.Done()
	return ctx.Err()
}
