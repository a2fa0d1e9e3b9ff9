package streaming

import (
	"encoding/json"
	"fmt"
	"time"
)

// Topic names shared by the mission, the winch node and the relay.
const (
	TopicVision       = "go_vision"
	TopicWinch        = "go_winch"
	TopicIMU          = "imu"
	TopicMissionState = "mission_state"
	TopicMotorStatus  = "motor_status"
)

// Directive tokens carried as plain strings.
const (
	DirectiveGo      = "GO"
	DirectiveRefill  = "REFILL"
	DirectiveRelease = "RELEASE"
	DirectiveUp      = "UP"
	DirectiveDown    = "DOWN"
)

// Mission event kinds.
const (
	KindTransition = "transition"
	KindDirective  = "directive"
	KindVehicle    = "vehicle"
	KindVerdict    = "verdict"
	KindRecharge   = "recharge"
)

// Envelope wraps all messages sent over the WebSocket.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// NewEnvelope marshals payload under the given topic.
func NewEnvelope(topic string, payload any) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", topic, err)
	}
	return Envelope{Type: topic, Payload: raw}, nil
}

// Directive decodes a string payload.
func (e Envelope) Directive() (string, error) {
	var s string
	if err := json.Unmarshal(e.Payload, &s); err != nil {
		return "", fmt.Errorf("decode %s directive: %w", e.Type, err)
	}
	return s, nil
}

// Vector is a 3-axis reading.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// MissionState is published on every sequencer event.
type MissionState struct {
	RunID     string         `json:"runId"`
	Time      time.Time      `json:"time"`
	Kind      string         `json:"kind"`
	State     string         `json:"state"`
	Charging  bool           `json:"charging"`
	Battery   float64        `json:"battery"`
	Position  []float64      `json:"position"`
	Target    string         `json:"target,omitempty"`
	Detail    string         `json:"detail,omitempty"`
	Visited   int            `json:"visited"`
	Remaining int            `json:"remaining"`
	Extra     map[string]any `json:"extra,omitempty"`
}

// Decode copies a bus payload into out. Payloads published in-process carry
// the typed value; payloads relayed from another node carry raw JSON.
func Decode[T any](payload any, out *T) error {
	switch p := payload.(type) {
	case T:
		*out = p
		return nil
	case *T:
		if p == nil {
			return fmt.Errorf("nil %T payload", p)
		}
		*out = *p
		return nil
	case json.RawMessage:
		return json.Unmarshal(p, out)
	case []byte:
		return json.Unmarshal(p, out)
	default:
		return fmt.Errorf("unexpected payload %T", payload)
	}
}
