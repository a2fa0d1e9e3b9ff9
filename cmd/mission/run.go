package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/hydrodrone/mission/internal/api"
	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/geo"
	"github.com/hydrodrone/mission/internal/mission"
	"github.com/hydrodrone/mission/internal/model"
	"github.com/hydrodrone/mission/internal/monitor"
	"github.com/hydrodrone/mission/internal/node"
	"github.com/hydrodrone/mission/internal/route"
	"github.com/hydrodrone/mission/internal/scheduler"
	"github.com/hydrodrone/mission/internal/storage"
	"github.com/hydrodrone/mission/internal/vehicle"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// rtlTimeout bounds the return-to-launch sent when the run is interrupted.
const rtlTimeout = 5 * time.Second

func newVehicle(n *node.Node, cfg config.VehicleConfig, groundStation geo.Position, d *dispatcher.Dispatcher) (vehicle.Adapter, error) {
	switch strings.ToLower(cfg.Type) {
	case "sim":
		return vehicle.NewSim(groundStation), nil
	case "mavlink", "":
		return vehicle.NewMAVLink(vehicle.MAVLinkConfig{
			SystemID: cfg.SystemID,
			Home:     cfg.Home,
			OnIMU: func(zacc float64) {
				_ = d.PublishPayload(streaming.TopicIMU, zacc)
			},
		}, n.Logger), nil
	default:
		return nil, fmt.Errorf("unknown vehicle type: %s", cfg.Type)
	}
}

func runMission(ctx context.Context, n *node.Node, mcfg config.MissionConfig) error {
	vcfg := config.GetVehicleConfig()
	motorID := uint8(config.GetWinchConfig().Transport.MotorID)

	cfg, err := mission.ConfigFrom(mcfg)
	if err != nil {
		return err
	}
	plan, err := route.Compute(mcfg.Waypoints)
	if err != nil {
		return fmt.Errorf("plan route: %w", err)
	}
	order := make([]string, len(plan.Route))
	for i, wp := range plan.Route {
		order[i] = wp.Name
	}
	n.Logger.Info("Route planned", "order", order, "cost", plan.Cost)

	d, err := n.NewDispatcher()
	if err != nil {
		return fmt.Errorf("create dispatcher: %w", err)
	}
	st := n.OpenStorage()
	var shutdownOnce sync.Once
	shutdown := func() {
		shutdownOnce.Do(func() {
			d.Close()
			if err := st.Close(); err != nil {
				n.Logger.Error("Failed to close storage backend", "error", err)
			}
		})
	}
	defer shutdown()

	storage.NewRecorder(st, storage.RunMeta{Route: plan.Route, Cost: plan.Cost, Config: mcfg}, motorID,
		n.Zerolog.With().Str("component", "recorder").Logger()).Attach(d, 1000)

	if im := n.ConnectInflux(ctx, d, motorID); im != nil {
		n.OnClose(im)
	}

	bridge, err := n.StartBridge(d, []string{streaming.TopicVision, streaming.TopicMissionState, streaming.TopicIMU}, nil)
	if err != nil {
		n.Logger.Warn("Bus bridge unavailable, directives stay local", "error", err)
	} else if bridge != nil {
		n.OnClose(bridge)
	}

	v, err := newVehicle(n, vcfg, mcfg.GroundStation, d)
	if err != nil {
		return err
	}
	n.OnClose(v)

	connectCtx, cancel := context.WithTimeout(ctx, vcfg.ConnectTimeout)
	err = v.Connect(connectCtx, vcfg.Endpoint)
	if err == nil {
		err = v.SetMode(connectCtx, vcfg.Mode)
	}
	cancel()
	if err != nil {
		return fmt.Errorf("prepare vehicle: %w", err)
	}
	n.Logger.Info("Vehicle ready", "type", vcfg.Type, "endpoint", vcfg.Endpoint, "mode", vcfg.Mode)

	loop := scheduler.New(clockwork.NewRealClock(), n.Logger)
	loopCtx, stopLoop := context.WithCancel(context.Background())
	loopDone := make(chan struct{})
	go func() {
		defer close(loopDone)
		_ = loop.Run(loopCtx)
	}()
	defer func() {
		stopLoop()
		<-loopDone
	}()

	seq := mission.NewSequencer(loop, v, d, plan, cfg, n.Logger)
	n.SetContext(seq.Context())

	if mon := config.GetMonitorConfig(); mon.StatusFile != "" {
		svc := monitor.NewService(monitor.Dependencies{
			Mission:  seq.Context(),
			Pending:  st.Pending,
			Path:     mon.StatusFile,
			Interval: mon.Interval,
			Logger:   n.Logger,
		})
		if err := svc.Start(); err != nil {
			n.Logger.Warn("Status monitor disabled", "error", err)
		} else {
			defer svc.Stop()
		}
	}

	started := time.Now()
	if err := seq.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}

	runErr := seq.Wait(ctx)
	if errors.Is(runErr, context.Canceled) && seq.State() != mission.StateLanded {
		n.Logger.Warn("Mission interrupted, returning to launch", "state", seq.State().String())
		rtlCtx, cancel := context.WithTimeout(context.Background(), rtlTimeout)
		if err := v.ReturnToLaunch(rtlCtx); err != nil {
			n.Logger.Error("Return to launch failed", "error", err)
		}
		cancel()
	}
	stopLoop()
	<-loopDone

	visited := seq.Visited()
	outcome := model.OutcomeCompleted
	if len(visited) < len(plan.Route) {
		outcome = model.OutcomePartial
	}
	n.Logger.Info("Mission finished",
		"run", seq.RunID(),
		"outcome", outcome,
		"visited", visited,
		"abandoned", seq.Abandoned(),
		"battery", seq.Battery(),
		"duration", time.Since(started))

	shutdown()

	if ac := config.GetArchiveConfig(); ac.Enabled && st.DumpPath != "" {
		meta := api.RunMetadata{
			RunID:    seq.RunID(),
			Outcome:  outcome,
			Planned:  len(plan.Route),
			Visited:  len(visited),
			Duration: time.Since(started),
		}
		if err := api.New(ac.URL, ac.Secret).Upload(st.DumpPath, meta); err != nil {
			n.Logger.Error("Failed to upload run database", "error", err, "path", st.DumpPath)
		} else {
			n.Logger.Info("Uploaded run database", "path", st.DumpPath, "url", ac.URL)
		}
	}
	return runErr
}
