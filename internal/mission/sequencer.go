// Package mission sequences a water delivery run: takeoff, refill at the
// resource point, one drop per feasible waypoint, return to launch. Every
// step is a deferred task on a scheduler loop, and a periodic check may
// preempt the sequence to recharge at the ground station.
package mission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hydrodrone/mission/internal/config"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/feasibility"
	"github.com/hydrodrone/mission/internal/geo"
	"github.com/hydrodrone/mission/internal/queue"
	"github.com/hydrodrone/mission/internal/route"
	"github.com/hydrodrone/mission/internal/scheduler"
	"github.com/hydrodrone/mission/internal/vehicle"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// FullBattery is the charge after a recharge.
const FullBattery = 100.0

var ErrAlreadyStarted = errors.New("mission already started")

// State is a main-sequence phase.
type State int

const (
	StateIdle State = iota
	StateTakeoff
	StateTransitToResource
	StateLoading
	StateTransitToTarget
	StateUnloading
	StateReturnToLaunch
	StateLanded
)

var stateNames = [...]string{
	StateIdle:              "Idle",
	StateTakeoff:           "Takeoff",
	StateTransitToResource: "TransitToResource",
	StateLoading:           "Loading",
	StateTransitToTarget:   "TransitToTarget",
	StateUnloading:         "Unloading",
	StateReturnToLaunch:    "ReturnToLaunch",
	StateLanded:            "Landed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Publisher is the bus the sequencer announces directives and events on.
type Publisher interface {
	Publish(dispatcher.Message) error
}

// Config holds the sequencing parameters.
type Config struct {
	GroundStation   geo.Position
	ResourcePoint   geo.Position
	TakeoffAltitude float64
	Battery         float64
	Efficiency      float64
	LowBattery      float64
	RechargeRadius  float64
	LandedRadius    float64

	TakeoffDelay       time.Duration
	ClimbDelay         time.Duration
	TransitDelay       time.Duration
	RechargeInterval   time.Duration
	ChargeDuration     time.Duration
	LandedPollInterval time.Duration
}

// DefaultConfig returns the field defaults.
func DefaultConfig() Config {
	return Config{
		GroundStation:      geo.Position{0, 0, 0},
		ResourcePoint:      geo.Position{50, 50, 20},
		TakeoffAltitude:    20,
		Battery:            FullBattery,
		Efficiency:         2,
		LowBattery:         10,
		RechargeRadius:     100,
		LandedRadius:       1,
		TakeoffDelay:       time.Second,
		ClimbDelay:         2 * time.Second,
		TransitDelay:       2 * time.Second,
		RechargeInterval:   10 * time.Second,
		ChargeDuration:     3 * time.Second,
		LandedPollInterval: time.Second,
	}
}

// ConfigFrom validates the loaded mission config and copies it as is; the
// config layer supplies the defaults.
func ConfigFrom(c config.MissionConfig) (Config, error) {
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return Config{
		GroundStation:      c.GroundStation.Clone(),
		ResourcePoint:      c.ResourcePoint.Clone(),
		TakeoffAltitude:    c.TakeoffAltitude,
		Battery:            c.Battery,
		Efficiency:         c.Efficiency,
		LowBattery:         c.LowBattery,
		RechargeRadius:     c.RechargeRadius,
		LandedRadius:       c.LandedRadius,
		TakeoffDelay:       c.TakeoffDelay,
		ClimbDelay:         c.ClimbDelay,
		TransitDelay:       c.TransitDelay,
		RechargeInterval:   c.RechargeInterval,
		ChargeDuration:     c.ChargeDuration,
		LandedPollInterval: c.LandedPollInterval,
	}, nil
}

// Sequencer drives one mission run. All of its steps execute on the
// scheduler loop; mu guards the state for readers on other goroutines.
type Sequencer struct {
	loop    *scheduler.Loop
	vehicle vehicle.Adapter
	oracle  *feasibility.Oracle
	bus     Publisher
	logger  *slog.Logger
	cfg     Config
	snap    *Context

	mu        sync.Mutex
	ctx       context.Context
	runID     string
	started   bool
	finished  bool
	state     State
	charging  bool
	battery   float64
	current   geo.Waypoint
	target    string
	route     *queue.Queue[geo.Waypoint]
	planned   int
	cost      float64
	visited   []string
	abandoned []string
	err       error

	step     scheduler.Slot
	wake     scheduler.Slot
	recharge *scheduler.Handle
	resume   func()
	done     chan struct{}
}

// NewSequencer prepares a run over plan. bus may be nil.
func NewSequencer(loop *scheduler.Loop, v vehicle.Adapter, bus Publisher, plan route.Plan, cfg Config, logger *slog.Logger) *Sequencer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		loop:    loop,
		vehicle: v,
		oracle:  feasibility.New(plan.Table, cfg.GroundStation),
		bus:     bus,
		logger:  logger.With("component", "mission"),
		cfg:     cfg,
		snap:    NewContext(),
		battery: cfg.Battery,
		current: geo.Waypoint{Name: geo.GroundStationName, Position: cfg.GroundStation.Clone()},
		route:   queue.New(plan.Route...),
		planned: len(plan.Route),
		cost:    plan.Cost,
		done:    make(chan struct{}),
	}
}

// Start schedules takeoff and the recharge check. ctx is used for every
// vehicle call of the run.
func (s *Sequencer) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return ErrAlreadyStarted
	}
	s.started = true
	s.ctx = ctx
	s.runID = uuid.NewString()

	s.logger.Info("Mission started",
		"run", s.runID,
		"waypoints", s.planned,
		"routeCost", s.cost,
		"battery", s.battery)
	s.setState(StateIdle)

	s.recharge = s.loop.Every(s.cfg.RechargeInterval, "recharge-check", s.checkRecharge)
	s.step.Schedule(s.loop, s.cfg.TakeoffDelay, "takeoff", s.takeoff)
	return nil
}

// Wait blocks until the run finishes or ctx is done.
func (s *Sequencer) Wait(ctx context.Context) error {
	select {
	case <-s.done:
		return s.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the run has finished.
func (s *Sequencer) Done() <-chan struct{} {
	return s.done
}

// Err returns the vehicle failures recorded during the run.
func (s *Sequencer) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// RunID returns the identifier assigned by Start.
func (s *Sequencer) RunID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runID
}

// State returns the current main-sequence phase.
func (s *Sequencer) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Battery returns the estimated battery percentage.
func (s *Sequencer) Battery() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.battery
}

// Visited returns the names of the waypoints served so far, in order.
func (s *Sequencer) Visited() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.visited...)
}

// Abandoned returns the waypoints dropped after an infeasible hop.
func (s *Sequencer) Abandoned() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.abandoned...)
}

// Remaining returns the waypoints still to visit.
func (s *Sequencer) Remaining() []geo.Waypoint {
	return s.route.Snapshot()
}

// Context exposes the live snapshot, e.g. for log enrichment.
func (s *Sequencer) Context() *Context {
	return s.snap
}

func (s *Sequencer) takeoff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.setState(StateTakeoff)
	if !s.liftOff() {
		return
	}
	s.step.Schedule(s.loop, s.cfg.ClimbDelay, "transit-to-resource", s.toResource)
}

// liftOff arms and climbs. It reports false after a failure was handled.
func (s *Sequencer) liftOff() bool {
	s.logger.Info("Takeoff initiated", "altitude", s.cfg.TakeoffAltitude)
	if err := s.vehicle.Arm(s.ctx); err != nil {
		s.fail("arm", err)
		return false
	}
	s.vehicleEvent("arm")
	if err := s.vehicle.Takeoff(s.ctx, s.cfg.TakeoffAltitude); err != nil {
		s.fail("takeoff", err)
		return false
	}
	s.vehicleEvent("takeoff")
	return true
}

func (s *Sequencer) toResource() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.directive(streaming.DirectiveGo)
	s.setState(StateTransitToResource)
	s.flyToResource()
}

func (s *Sequencer) flyToResource() {
	s.logger.Info("Moving to target location", "target", geo.ResourcePointName)
	if err := s.vehicle.GlobalTarget(s.ctx, s.cfg.ResourcePoint); err != nil {
		s.fail("global_target", err)
		return
	}
	s.vehicleEvent("global_target")
	s.step.Schedule(s.loop, s.cfg.TransitDelay, "loading", s.load)
}

func (s *Sequencer) load() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.current = geo.Waypoint{Name: geo.ResourcePointName, Position: s.cfg.ResourcePoint.Clone()}
	s.setState(StateLoading)
	s.directive(streaming.DirectiveRefill)
	s.nextTarget()
}

// nextTarget checks the front waypoint and either flies to it or abandons
// the rest of the route.
func (s *Sequencer) nextTarget() {
	wp, ok := s.route.Peek()
	if !ok {
		s.returnToLaunch("route complete")
		return
	}

	v, err := s.oracle.Assess(s.current, wp, s.battery, s.cfg.Efficiency)
	if err != nil {
		s.fail("feasibility", err)
		return
	}
	s.emit(streaming.KindVerdict, wp.Name, verdictExtra(v))

	if !v.Feasible {
		for _, left := range s.route.GetAndEmpty() {
			s.abandoned = append(s.abandoned, left.Name)
		}
		s.logger.Warn("Hop not feasible, abandoning route",
			"target", wp.Name,
			"battery", s.battery,
			"rangeAtTarget", v.RangeAtTarget,
			"targetToBase", v.TargetToBase,
			"abandoned", len(s.abandoned))
		s.returnToLaunch("infeasible hop")
		return
	}

	s.logger.Info("Moving to target location", "target", wp.Name, "distance", v.DistanceToTarget)
	if err := s.vehicle.GlobalTarget(s.ctx, wp.Position); err != nil {
		s.fail("global_target", err)
		return
	}
	s.current = wp
	s.target = wp.Name
	s.vehicleEvent("global_target")
	s.setState(StateTransitToTarget)

	hop := v.DistanceToTarget
	s.step.Schedule(s.loop, s.cfg.TransitDelay, "unload "+wp.Name, func() { s.unload(hop) })
}

func (s *Sequencer) unload(hop float64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.battery = clampBattery(s.battery - hop/s.cfg.Efficiency)
	s.setState(StateUnloading)
	s.directive(streaming.DirectiveRelease)
	if wp, ok := s.route.Pop(); ok {
		s.visited = append(s.visited, wp.Name)
	}
	s.target = ""
	s.nextTarget()
}

func (s *Sequencer) returnToLaunch(reason string) {
	if s.state == StateReturnToLaunch || s.state == StateLanded {
		return
	}
	s.step.Cancel()
	s.target = ""

	s.logger.Info("Returning to launch", "reason", reason)
	if err := s.vehicle.ReturnToLaunch(s.ctx); err != nil {
		s.record("rtl", err)
		s.finish()
		return
	}
	s.vehicleEvent("rtl")
	s.setState(StateReturnToLaunch)
	s.step.Schedule(s.loop, s.cfg.LandedPollInterval, "landed-poll", s.pollLanded)
}

func (s *Sequencer) pollLanded() {
	s.mu.Lock()
	defer s.mu.Unlock()

	pos, err := s.vehicle.GetLocalPosition(s.ctx)
	if err == nil && s.vehicle.IsNearWaypoint(pos, s.cfg.GroundStation, s.cfg.LandedRadius) {
		s.setState(StateLanded)
		s.logger.Info("Mission complete",
			"visited", len(s.visited),
			"abandoned", len(s.abandoned),
			"battery", s.battery)
		s.finish()
		return
	}
	if err != nil {
		s.logger.Warn("Reading position while landing", "error", err)
	}
	s.step.Schedule(s.loop, s.cfg.LandedPollInterval, "landed-poll", s.pollLanded)
}

// checkRecharge preempts the run to recharge when the vehicle is near the
// ground station with a low battery.
func (s *Sequencer) checkRecharge() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.finished || s.charging {
		return
	}
	pos, err := s.vehicle.GetLocalPosition(s.ctx)
	if err != nil {
		s.logger.Warn("Recharge check skipped", "error", err)
		return
	}
	if s.battery > s.cfg.LowBattery || !s.vehicle.IsNearWaypoint(pos, s.cfg.GroundStation, s.cfg.RechargeRadius) {
		return
	}

	returning := s.state == StateReturnToLaunch
	s.logger.Info("Recharge opportunity", "battery", s.battery, "state", s.state.String())
	if !returning {
		if err := s.vehicle.ReturnToLaunch(s.ctx); err != nil {
			s.record("rtl", err)
			return
		}
		s.vehicleEvent("rtl")
		s.step.Cancel()
		s.resume = s.resumeFor(s.state)
	}

	s.charging = true
	s.emit(streaming.KindRecharge, "charging", nil)
	s.wake.Schedule(s.loop, s.cfg.ChargeDuration, "charged", s.charged)
}

func (s *Sequencer) charged() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.charging = false
	s.battery = FullBattery
	s.current = geo.Waypoint{Name: geo.GroundStationName, Position: s.cfg.GroundStation.Clone()}
	s.logger.Info("Battery is charged")
	s.emit(streaming.KindRecharge, "charged", nil)

	resume := s.resume
	s.resume = nil
	if resume == nil {
		return
	}
	if !s.liftOff() {
		return
	}
	s.step.Schedule(s.loop, s.cfg.ClimbDelay, "resume", resume)
}

// resumeFor returns the step that continues the sequence after a recharge
// taken while in st.
func (s *Sequencer) resumeFor(st State) func() {
	switch st {
	case StateIdle, StateTakeoff:
		return s.toResource
	case StateTransitToResource:
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.flyToResource()
		}
	default:
		return func() {
			s.mu.Lock()
			defer s.mu.Unlock()
			s.nextTarget()
		}
	}
}

// fail records a vehicle failure and heads home if the run can no longer
// progress.
func (s *Sequencer) fail(op string, err error) {
	s.record(op, err)
	if s.state < StateReturnToLaunch {
		s.returnToLaunch(op + " failed")
		return
	}
	s.finish()
}

func (s *Sequencer) record(op string, err error) {
	err = fmt.Errorf("%s: %w", op, err)
	s.err = errors.Join(s.err, err)
	s.logger.Error("Vehicle command failed", "op", op, "error", err)
	s.emit(streaming.KindVehicle, op, map[string]any{"error": err.Error()})
}

func (s *Sequencer) finish() {
	if s.finished {
		return
	}
	s.finished = true
	s.recharge.Cancel()
	s.wake.Cancel()
	s.step.Cancel()
	s.charging = false
	s.updateSnapshot()
	close(s.done)
}

func (s *Sequencer) setState(st State) {
	prev := s.state
	s.state = st
	if prev != st {
		s.logger.Info("State transition", "from", prev.String(), "to", st.String())
	}
	s.emit(streaming.KindTransition, st.String(), nil)
}

func (s *Sequencer) directive(token string) {
	s.logger.Info("Directive", "topic", streaming.TopicVision, "token", token)
	if s.bus != nil {
		if err := s.bus.Publish(dispatcher.Message{
			Topic:     streaming.TopicVision,
			Payload:   token,
			Timestamp: s.loop.Now(),
		}); err != nil {
			s.logger.Warn("Publishing directive", "token", token, "error", err)
		}
	}
	s.emit(streaming.KindDirective, token, nil)
}

func (s *Sequencer) vehicleEvent(op string) {
	s.emit(streaming.KindVehicle, op, nil)
}

// emit publishes a mission_state event and refreshes the snapshot.
func (s *Sequencer) emit(kind, detail string, extra map[string]any) {
	s.updateSnapshot()
	if s.bus == nil {
		return
	}
	ev := streaming.MissionState{
		RunID:     s.runID,
		Time:      s.loop.Now(),
		Kind:      kind,
		State:     s.state.String(),
		Charging:  s.charging,
		Battery:   s.battery,
		Position:  s.current.Position.Clone(),
		Target:    s.target,
		Detail:    detail,
		Visited:   len(s.visited),
		Remaining: s.route.Len(),
		Extra:     extra,
	}
	if err := s.bus.Publish(dispatcher.Message{
		Topic:     streaming.TopicMissionState,
		Payload:   ev,
		Timestamp: ev.Time,
	}); err != nil {
		s.logger.Debug("Publishing mission state", "error", err)
	}
}

func (s *Sequencer) updateSnapshot() {
	s.snap.Set(Snapshot{
		RunID:     s.runID,
		State:     s.state,
		Charging:  s.charging,
		Battery:   s.battery,
		Visited:   len(s.visited),
		Remaining: s.route.Len(),
		Target:    s.target,
	})
}

func verdictExtra(v feasibility.Verdict) map[string]any {
	return map[string]any{
		"feasible":         v.Feasible,
		"distanceToTarget": v.DistanceToTarget,
		"fromCache":        v.FromCache,
		"batteryAtTarget":  v.BatteryAtTarget,
		"rangeAtTarget":    v.RangeAtTarget,
		"targetToBase":     v.TargetToBase,
	}
}

func clampBattery(b float64) float64 {
	return math.Max(0, math.Min(FullBattery, b))
}
