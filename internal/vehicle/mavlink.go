package vehicle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3"
	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/hydrodrone/mission/internal/geo"
)

var (
	ErrCommandRejected = errors.New("command rejected by autopilot")
	ErrNoAck           = errors.New("no command acknowledgement")
	ErrBadEndpoint     = errors.New("unsupported endpoint")
)

// positionTargetMask ignores velocity, acceleration and yaw so only the
// position fields of SET_POSITION_TARGET_GLOBAL_INT are used.
const positionTargetMask = 0b0000_1101_1111_1000

const (
	autopilotComponent = 1
	customModeEnabled  = 1
	heartbeatID        = 0
)

// MAVLinkConfig configures the MAVLink adapter.
type MAVLinkConfig struct {
	SystemID   int
	Home       geo.Home
	AckTimeout time.Duration
	// OnIMU receives the vertical acceleration of every HIGHRES_IMU message.
	OnIMU func(zacc float64)
}

// MAVLink drives an ArduPilot vehicle over gomavlib.
type MAVLink struct {
	cfg    MAVLinkConfig
	logger *slog.Logger
	start  time.Time

	mu        sync.Mutex
	node      *gomavlib.Node
	target    uint8
	position  geo.Position
	heartbeat chan struct{}
	acks      map[common.MAV_CMD]chan common.MAV_RESULT
	done      chan struct{}
}

// NewMAVLink creates an unconnected adapter.
func NewMAVLink(cfg MAVLinkConfig, logger *slog.Logger) *MAVLink {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SystemID == 0 {
		cfg.SystemID = 10
	}
	if cfg.AckTimeout <= 0 {
		cfg.AckTimeout = 3 * time.Second
	}
	return &MAVLink{
		cfg:       cfg,
		logger:    logger.With("component", "mavlink"),
		start:     time.Now(),
		heartbeat: make(chan struct{}),
		acks:      make(map[common.MAV_CMD]chan common.MAV_RESULT),
	}
}

// ParseEndpoint converts "udp:host:port", "udpout:host:port",
// "tcp:host:port" or "serial:/dev/tty:baud" into a gomavlib endpoint.
func ParseEndpoint(endpoint string) (gomavlib.EndpointConf, error) {
	scheme, rest, ok := strings.Cut(endpoint, ":")
	if !ok || rest == "" {
		return nil, fmt.Errorf("%w: %q", ErrBadEndpoint, endpoint)
	}
	switch scheme {
	case "udp", "udpin":
		return gomavlib.EndpointUDPServer{Address: rest}, nil
	case "udpout", "udpc":
		return gomavlib.EndpointUDPClient{Address: rest}, nil
	case "tcp":
		return gomavlib.EndpointTCPClient{Address: rest}, nil
	case "serial":
		dev, baud, ok := strings.Cut(rest, ":")
		if !ok {
			return gomavlib.EndpointSerial{Device: dev, Baud: 57600}, nil
		}
		b, err := strconv.Atoi(baud)
		if err != nil {
			return nil, fmt.Errorf("%w: bad baud rate %q", ErrBadEndpoint, baud)
		}
		return gomavlib.EndpointSerial{Device: dev, Baud: b}, nil
	}
	return nil, fmt.Errorf("%w: %q", ErrBadEndpoint, endpoint)
}

// Connect opens the endpoint and waits for the first autopilot heartbeat.
func (m *MAVLink) Connect(ctx context.Context, endpoint string) error {
	ep, err := ParseEndpoint(endpoint)
	if err != nil {
		return err
	}
	node, err := gomavlib.NewNode(gomavlib.NodeConf{
		Endpoints:   []gomavlib.EndpointConf{ep},
		Dialect:     common.Dialect,
		OutVersion:  gomavlib.V2,
		OutSystemID: byte(m.cfg.SystemID),
	})
	if err != nil {
		return fmt.Errorf("create mavlink node: %w", err)
	}

	m.mu.Lock()
	m.node = node
	m.done = make(chan struct{})
	m.mu.Unlock()

	go m.readLoop(node, m.done)

	m.logger.Info("Waiting for heartbeat", "endpoint", endpoint)
	select {
	case <-m.heartbeat:
		m.logger.Info("Vehicle connected", "system", m.targetSystem())
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for heartbeat on %s: %w", endpoint, ctx.Err())
	}
}

func (m *MAVLink) readLoop(node *gomavlib.Node, done chan struct{}) {
	defer close(done)
	for evt := range node.Events() {
		frm, ok := evt.(*gomavlib.EventFrame)
		if !ok {
			continue
		}
		m.handle(frm)
	}
}

func (m *MAVLink) handle(frm *gomavlib.EventFrame) {
	if frm.Message().GetID() == heartbeatID {
		m.mu.Lock()
		if m.target == 0 {
			m.target = frm.SystemID()
			close(m.heartbeat)
		}
		m.mu.Unlock()
		return
	}

	switch msg := frm.Message().(type) {
	case *common.MessageLocalPositionNed:
		m.mu.Lock()
		// NED to the local frame: z is up.
		m.position = geo.Position{float64(msg.X), float64(msg.Y), -float64(msg.Z)}
		m.mu.Unlock()

	case *common.MessageHighresImu:
		if m.cfg.OnIMU != nil {
			m.cfg.OnIMU(float64(msg.Zacc))
		}

	case *common.MessageCommandAck:
		m.mu.Lock()
		ch, ok := m.acks[msg.Command]
		m.mu.Unlock()
		if ok {
			select {
			case ch <- msg.Result:
			default:
			}
		}
	}
}

func (m *MAVLink) targetSystem() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.target
}

func (m *MAVLink) write(msg any) error {
	m.mu.Lock()
	node, target := m.node, m.target
	m.mu.Unlock()
	if node == nil || target == 0 {
		return ErrNotConnected
	}
	switch v := msg.(type) {
	case *common.MessageCommandLong:
		v.TargetSystem = target
		v.TargetComponent = autopilotComponent
		node.WriteMessageAll(v)
	case *common.MessageSetPositionTargetGlobalInt:
		v.TargetSystem = target
		v.TargetComponent = autopilotComponent
		node.WriteMessageAll(v)
	default:
		return fmt.Errorf("unsupported message %T", msg)
	}
	return nil
}

// command sends COMMAND_LONG and waits for its acknowledgement.
func (m *MAVLink) command(ctx context.Context, cmd common.MAV_CMD, params ...float32) error {
	var p [7]float32
	copy(p[:], params)

	ack := make(chan common.MAV_RESULT, 1)
	m.mu.Lock()
	m.acks[cmd] = ack
	m.mu.Unlock()
	defer func() {
		m.mu.Lock()
		delete(m.acks, cmd)
		m.mu.Unlock()
	}()

	err := m.write(&common.MessageCommandLong{
		Command: cmd,
		Param1:  p[0],
		Param2:  p[1],
		Param3:  p[2],
		Param4:  p[3],
		Param5:  p[4],
		Param6:  p[5],
		Param7:  p[6],
	})
	if err != nil {
		return err
	}

	timer := time.NewTimer(m.cfg.AckTimeout)
	defer timer.Stop()
	select {
	case res := <-ack:
		if res != common.MAV_RESULT_ACCEPTED && res != common.MAV_RESULT_IN_PROGRESS {
			return fmt.Errorf("%w: %v result %v", ErrCommandRejected, cmd, res)
		}
		return nil
	case <-timer.C:
		return fmt.Errorf("%w: %v", ErrNoAck, cmd)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *MAVLink) SetMode(ctx context.Context, mode string) error {
	n, ok := ModeNumber(mode)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	m.logger.Info("Setting mode", "mode", mode)
	return m.command(ctx, common.MAV_CMD_DO_SET_MODE, customModeEnabled, float32(n))
}

func (m *MAVLink) Arm(ctx context.Context) error {
	m.logger.Info("Arming")
	return m.command(ctx, common.MAV_CMD_COMPONENT_ARM_DISARM, 1)
}

func (m *MAVLink) Takeoff(ctx context.Context, altitude float64) error {
	m.logger.Info("Taking off", "altitude", altitude)
	return m.command(ctx, common.MAV_CMD_NAV_TAKEOFF, 0, 0, 0, 0, 0, 0, float32(altitude))
}

// GlobalTarget flies to a local position converted to global coordinates
// around the configured home.
func (m *MAVLink) GlobalTarget(_ context.Context, pos geo.Position) error {
	lat, lon, _, err := geo.LocalToGlobal(m.cfg.Home, pos)
	if err != nil {
		return err
	}
	var alt float64
	if len(pos) > 2 {
		alt = pos[2]
	}
	m.logger.Info("Global target", "position", pos.String(), "lat", lat, "lon", lon)
	return m.write(&common.MessageSetPositionTargetGlobalInt{
		TimeBootMs:      uint32(time.Since(m.start).Milliseconds()),
		CoordinateFrame: common.MAV_FRAME_GLOBAL_RELATIVE_ALT_INT,
		TypeMask:        common.POSITION_TARGET_TYPEMASK(positionTargetMask),
		LatInt:          int32(lat * 1e7),
		LonInt:          int32(lon * 1e7),
		Alt:             float32(alt),
	})
}

func (m *MAVLink) GetLocalPosition(_ context.Context) (geo.Position, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.position == nil {
		return nil, ErrNoPosition
	}
	return m.position.Clone(), nil
}

func (m *MAVLink) IsNearWaypoint(pos, reference geo.Position, radius float64) bool {
	return Near(pos, reference, radius)
}

func (m *MAVLink) ReturnToLaunch(ctx context.Context) error {
	m.logger.Info("Return to launch")
	return m.command(ctx, common.MAV_CMD_NAV_RETURN_TO_LAUNCH)
}

// Close shuts the node down and waits for the reader to exit.
func (m *MAVLink) Close() error {
	m.mu.Lock()
	node, done := m.node, m.done
	m.node = nil
	m.mu.Unlock()
	if node == nil {
		return nil
	}
	node.Close()
	<-done
	return nil
}
