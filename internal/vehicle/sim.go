package vehicle

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/hydrodrone/mission/internal/geo"
)

// Command is one call recorded by Sim.
type Command struct {
	Name string
	Args []any
}

func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	parts := make([]string, len(c.Args))
	for i, a := range c.Args {
		parts[i] = fmt.Sprint(a)
	}
	return c.Name + "(" + strings.Join(parts, ", ") + ")"
}

// Sim is an in-memory vehicle that moves instantly to every target and
// records the commands it receives.
type Sim struct {
	mu        sync.Mutex
	home      geo.Position
	position  geo.Position
	connected bool
	armed     bool
	mode      string
	commands  []Command
	fail      map[string]error
}

// NewSim creates a simulated vehicle parked at home.
func NewSim(home geo.Position) *Sim {
	if home == nil {
		home = geo.Position{0, 0, 0}
	}
	return &Sim{
		home:     home.Clone(),
		position: home.Clone(),
		fail:     make(map[string]error),
	}
}

// FailOn makes the named command return err. A nil err clears it.
func (s *Sim) FailOn(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		delete(s.fail, name)
		return
	}
	s.fail[name] = err
}

// SetPosition moves the vehicle without a command.
func (s *Sim) SetPosition(p geo.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.position = p.Clone()
}

// Commands returns the recorded command log.
func (s *Sim) Commands() []Command {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Command(nil), s.commands...)
}

// Count returns how many times name was called.
func (s *Sim) Count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, c := range s.commands {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Armed reports the arming state.
func (s *Sim) Armed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.armed
}

// Mode returns the last mode set.
func (s *Sim) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// record logs the call and returns the injected failure, if any. Callers
// hold s.mu.
func (s *Sim) record(name string, args ...any) error {
	s.commands = append(s.commands, Command{Name: name, Args: args})
	return s.fail[name]
}

func (s *Sim) Connect(_ context.Context, endpoint string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("connect", endpoint); err != nil {
		return err
	}
	s.connected = true
	return nil
}

func (s *Sim) SetMode(_ context.Context, mode string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("set_mode", mode); err != nil {
		return err
	}
	if _, ok := ModeNumber(mode); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	s.mode = mode
	return nil
}

func (s *Sim) Arm(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("arm"); err != nil {
		return err
	}
	s.armed = true
	return nil
}

func (s *Sim) Takeoff(_ context.Context, altitude float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("takeoff", altitude); err != nil {
		return err
	}
	p := s.position.Clone()
	if len(p) > 2 {
		p[2] = altitude
	}
	s.position = p
	return nil
}

func (s *Sim) GlobalTarget(_ context.Context, pos geo.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("global_target", pos.String()); err != nil {
		return err
	}
	s.position = pos.Clone()
	return nil
}

func (s *Sim) GetLocalPosition(_ context.Context) (geo.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.fail["get_local_position"]; err != nil {
		return nil, err
	}
	return s.position.Clone(), nil
}

func (s *Sim) IsNearWaypoint(pos, reference geo.Position, radius float64) bool {
	return Near(pos, reference, radius)
}

func (s *Sim) ReturnToLaunch(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record("rtl"); err != nil {
		return err
	}
	s.position = s.home.Clone()
	s.armed = false
	return nil
}

func (s *Sim) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = false
	return nil
}
