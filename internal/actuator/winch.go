package actuator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/hydrodrone/mission/internal/scheduler"
	"github.com/hydrodrone/mission/internal/telemetry"
)

// Winch directive tokens received on the bus.
const (
	DirectiveUp   = "UP"
	DirectiveDown = "DOWN"
)

var ErrUnknownDirective = errors.New("unknown winch directive")

// Reply is what a transport captured for one Send.
type Reply struct {
	Stdout string
	Stderr string
	// Frames holds reply frames for transports that read them back directly.
	Frames []Frame
}

// IndicatorValue decodes an indicator reading from the reply, preferring
// binary frames over captured text.
func (r Reply) IndicatorValue() (float32, bool) {
	for i := len(r.Frames) - 1; i >= 0; i-- {
		if v, ok := DecodeIndicatorFrame(r.Frames[i][:]); ok {
			return v, true
		}
	}
	return DecodeIndicatorReply(r.Stdout)
}

// Sender delivers frames to the motor in the order given.
type Sender interface {
	Send(ctx context.Context, frames ...Frame) (Reply, error)
}

// Direction of winch travel.
type Direction int

const (
	DirectionNone Direction = iota
	DirectionUp
	DirectionDown
)

func (d Direction) String() string {
	switch d {
	case DirectionUp:
		return "up"
	case DirectionDown:
		return "down"
	default:
		return "none"
	}
}

// Opposite reports whether d and o are both set and differ.
func (d Direction) Opposite(o Direction) bool {
	return d != DirectionNone && o != DirectionNone && d != o
}

// MotorState is the winch's view of the motor. Direction keeps the last
// commanded direction after the motor stops.
type MotorState struct {
	Running     bool      `json:"running"`
	Direction   Direction `json:"direction"`
	Speed       float32   `json:"speed"`
	LastCommand time.Time `json:"lastCommand"`
	StopPending bool      `json:"stopPending"`
}

// WinchConfig holds the movement profile.
type WinchConfig struct {
	// Speed is the magnitude in RPM; DOWN negates it.
	Speed float32
	// RunTime is the speed command duration and the deferred stop delay.
	RunTime time.Duration
	// SettleDelay separates the Stop and the new Speed on a reversal.
	SettleDelay time.Duration
	// SendTimeout bounds transport calls made from deferred tasks.
	SendTimeout time.Duration
}

// DefaultWinchConfig returns the profile of the payload winch.
func DefaultWinchConfig() WinchConfig {
	return WinchConfig{
		Speed:       20,
		RunTime:     2 * time.Second,
		SettleDelay: 100 * time.Millisecond,
		SendTimeout: 5 * time.Second,
	}
}

// Winch turns UP/DOWN directives into motor frames. All timed behaviour is
// scheduled on the loop; nothing sleeps.
type Winch struct {
	mu     sync.Mutex
	cfg    WinchConfig
	loop   *scheduler.Loop
	sender Sender
	logger *slog.Logger

	state        MotorState
	pendingStop  scheduler.Slot
	pendingStart scheduler.Slot
	// epoch invalidates deferred tasks that were already dequeued when
	// their slot was replaced.
	epoch uint64
	speed telemetry.Estimator
}

// NewWinch creates a winch controller sending through s.
func NewWinch(loop *scheduler.Loop, s Sender, cfg WinchConfig, logger *slog.Logger) *Winch {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultWinchConfig()
	if cfg.Speed == 0 {
		cfg.Speed = def.Speed
	}
	if cfg.RunTime <= 0 {
		cfg.RunTime = def.RunTime
	}
	if cfg.SettleDelay < 0 {
		cfg.SettleDelay = def.SettleDelay
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = def.SendTimeout
	}
	return &Winch{
		cfg:    cfg,
		loop:   loop,
		sender: s,
		logger: logger.With("component", "winch"),
	}
}

// State returns a copy of the motor state.
func (w *Winch) State() MotorState {
	w.mu.Lock()
	defer w.mu.Unlock()
	st := w.state
	st.StopPending = w.pendingStop.Pending()
	return st
}

// HandleDirective dispatches a bus token.
func (w *Winch) HandleDirective(ctx context.Context, token string) error {
	w.logger.Info("Winch directive", "token", token)
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case DirectiveUp:
		return w.Up(ctx)
	case DirectiveDown:
		return w.Down(ctx)
	}
	w.logger.Warn("Ignoring winch directive", "token", token)
	return fmt.Errorf("%w: %q", ErrUnknownDirective, token)
}

// Up raises the payload.
func (w *Winch) Up(ctx context.Context) error {
	return w.move(ctx, DirectionUp)
}

// Down lowers the payload.
func (w *Winch) Down(ctx context.Context) error {
	return w.move(ctx, DirectionDown)
}

func (w *Winch) move(ctx context.Context, dir Direction) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.epoch++
	w.pendingStart.Cancel()

	if !w.state.Direction.Opposite(dir) {
		return w.start(ctx, dir)
	}

	w.pendingStop.Cancel()
	if err := w.send(ctx, Stop()); err != nil {
		return err
	}
	w.state.Running = false
	w.state.Speed = 0
	w.state.LastCommand = w.loop.Now()

	epoch := w.epoch
	w.pendingStart.Schedule(w.loop, w.cfg.SettleDelay, "winch start "+dir.String(), func() {
		ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout)
		defer cancel()

		w.mu.Lock()
		defer w.mu.Unlock()
		if w.epoch != epoch {
			return
		}
		if err := w.start(ctx, dir); err != nil {
			w.logger.Error("Deferred winch start failed", "direction", dir, "error", err)
		}
	})
	return nil
}

// start sends Speed+Start and arms the deferred stop. Callers hold w.mu.
func (w *Winch) start(ctx context.Context, dir Direction) error {
	speed := w.cfg.Speed
	if dir == DirectionDown {
		speed = -speed
	}
	if err := w.send(ctx, Speed(speed, w.cfg.RunTime), Start()); err != nil {
		return err
	}

	w.state = MotorState{
		Running:     true,
		Direction:   dir,
		Speed:       speed,
		LastCommand: w.loop.Now(),
	}
	w.armStop(w.cfg.RunTime)
	return nil
}

// armStop replaces the deferred stop. Callers hold w.mu.
func (w *Winch) armStop(d time.Duration) {
	epoch := w.epoch
	w.pendingStop.Schedule(w.loop, d, "winch auto-stop", func() { w.autoStop(epoch) })
}

func (w *Winch) autoStop(epoch uint64) {
	ctx, cancel := context.WithTimeout(context.Background(), w.cfg.SendTimeout)
	defer cancel()

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.epoch != epoch {
		return
	}
	if err := w.send(ctx, Stop()); err != nil {
		w.logger.Error("Winch auto-stop failed", "error", err)
		return
	}
	w.state.Running = false
	w.state.Speed = 0
	w.state.LastCommand = w.loop.Now()
}

// Stop halts the motor now and drops any deferred start or stop.
func (w *Winch) Stop(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.epoch++
	w.pendingStart.Cancel()
	w.pendingStop.Cancel()
	if err := w.send(ctx, Stop()); err != nil {
		return err
	}
	w.state.Running = false
	w.state.Speed = 0
	w.state.LastCommand = w.loop.Now()
	return nil
}

// Control sends an arbitrary command, as "control_type value seconds" would
// on the bench. A timed command replaces the deferred stop.
func (w *Winch) Control(ctx context.Context, c Command) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.send(ctx, c); err != nil {
		return err
	}
	w.state.LastCommand = w.loop.Now()
	switch {
	case c.Kind == KindStart:
		w.state.Running = true
	case c.Kind == KindStop || c.HasValue():
		w.epoch++
		w.pendingStart.Cancel()
		w.pendingStop.Cancel()
		if c.Kind == KindStop {
			w.state.Running = false
			w.state.Speed = 0
		}
		if c.Kind == KindSpeed {
			w.state.Speed = c.Value
			switch {
			case c.Value > 0:
				w.state.Direction = DirectionUp
			case c.Value < 0:
				w.state.Direction = DirectionDown
			}
		}
		if c.HasValue() && c.Duration > 0 {
			w.armStop(c.Duration)
		}
	}
	return nil
}

// ReadIndicator queries one indicator. A failed or malformed reply is logged
// and reported as absent.
func (w *Winch) ReadIndicator(ctx context.Context, id Indicator) (float32, bool) {
	f, err := Encode(ReadIndicator(id))
	if err != nil {
		w.logger.Error("Cannot encode indicator read", "indicator", uint8(id), "error", err)
		return 0, false
	}
	reply, err := w.sender.Send(ctx, f)
	if err != nil {
		w.logger.Warn("Indicator read failed", "indicator", id.String(), "error", err)
		return 0, false
	}
	v, ok := reply.IndicatorValue()
	if !ok {
		w.logger.Warn("Malformed indicator reply", "indicator", id.String(), "stdout", reply.Stdout)
	}
	return v, ok
}

// send encodes and transmits cmds as one batch. Callers hold w.mu.
func (w *Winch) send(ctx context.Context, cmds ...Command) error {
	frames, err := EncodeAll(cmds...)
	if err != nil {
		return err
	}
	desc := make([]string, len(cmds))
	for i, c := range cmds {
		desc[i] = c.String()
	}
	w.logger.Debug("Sending winch frames", "description", strings.Join(desc, " + "), "frames", JoinHex(frames...))

	reply, err := w.sender.Send(ctx, frames...)
	if err != nil {
		return fmt.Errorf("send %s: %w", strings.Join(desc, " + "), err)
	}
	if reply.Stderr != "" {
		w.logger.Warn("Transport reported", "stderr", reply.Stderr)
	}
	return nil
}
