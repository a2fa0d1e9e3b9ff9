package storage

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"

	"github.com/hydrodrone/mission/internal/actuator"
	"github.com/hydrodrone/mission/internal/dispatcher"
	"github.com/hydrodrone/mission/internal/geo"
	"github.com/hydrodrone/mission/internal/model"
	"github.com/hydrodrone/mission/pkg/streaming"
)

// RunMeta describes the planned run attached to a new MissionRun row.
type RunMeta struct {
	Route  []geo.Waypoint
	Cost   float64
	Config any
}

// Recorder turns mission_state and motor_status messages into backend
// writes. A run row is created on the first event of a run id and closed
// when the run lands.
type Recorder struct {
	backend Backend
	meta    RunMeta
	motorID uint8
	log     zerolog.Logger

	mu   sync.Mutex
	runs map[string]bool
}

// NewRecorder returns a recorder writing to backend. motorID tags motor
// samples.
func NewRecorder(backend Backend, meta RunMeta, motorID uint8, log zerolog.Logger) *Recorder {
	return &Recorder{
		backend: backend,
		meta:    meta,
		motorID: motorID,
		log:     log,
		runs:    make(map[string]bool),
	}
}

// Attach subscribes the recorder to d with buffered delivery, so storage
// latency never blocks the publisher.
func (r *Recorder) Attach(d *dispatcher.Dispatcher, buffer int) {
	d.Subscribe(streaming.TopicMissionState, r.HandleMissionState, dispatcher.Buffered(buffer), dispatcher.Blocking())
	d.Subscribe(streaming.TopicMotorStatus, r.HandleMotorStatus, dispatcher.Buffered(buffer))
}

// HandleMissionState records one mission event.
func (r *Recorder) HandleMissionState(m dispatcher.Message) error {
	var ev streaming.MissionState
	if err := streaming.Decode(m.Payload, &ev); err != nil {
		return err
	}
	if ev.RunID == "" {
		return fmt.Errorf("mission state without run id")
	}

	if err := r.ensureRun(ev); err != nil {
		return err
	}

	row, err := EventFrom(ev)
	if err != nil {
		return err
	}
	if err := r.backend.RecordEvent(&row); err != nil {
		return fmt.Errorf("record event: %w", err)
	}

	if ev.Kind == streaming.KindTransition && ev.State == "Landed" {
		return r.endRun(ev)
	}
	return nil
}

// HandleMotorStatus records one winch status poll.
func (r *Recorder) HandleMotorStatus(m dispatcher.Message) error {
	var st actuator.MotorStatus
	if err := streaming.Decode(m.Payload, &st); err != nil {
		return err
	}
	sample := SampleFrom(st, r.motorID)
	if err := r.backend.RecordMotorSample(&sample); err != nil {
		return fmt.Errorf("record motor sample: %w", err)
	}
	return nil
}

func (r *Recorder) ensureRun(ev streaming.MissionState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[ev.RunID]; ok {
		return nil
	}

	run := model.MissionRun{
		ID:        ev.RunID,
		StartedAt: ev.Time,
		Outcome:   model.OutcomeRunning,
		Planned:   uint(len(r.meta.Route)),
		RouteCost: r.meta.Cost,
	}
	if line, err := geo.RouteLine(r.meta.Route); err == nil {
		run.Route = line
	}
	if raw, err := json.Marshal(r.meta.Route); err == nil {
		run.Waypoints = datatypes.JSON(raw)
	}
	if r.meta.Config != nil {
		if raw, err := json.Marshal(r.meta.Config); err == nil {
			run.Config = datatypes.JSON(raw)
		}
	}

	if err := r.backend.StartRun(&run); err != nil {
		return err
	}
	r.runs[ev.RunID] = false
	r.log.Info().Str("run", ev.RunID).Msg("Recording mission run")
	return nil
}

func (r *Recorder) endRun(ev streaming.MissionState) error {
	r.mu.Lock()
	if r.runs[ev.RunID] {
		r.mu.Unlock()
		return nil
	}
	r.runs[ev.RunID] = true
	r.mu.Unlock()

	outcome := model.OutcomeCompleted
	var abandoned uint
	planned := len(r.meta.Route)
	if ev.Visited < planned {
		outcome = model.OutcomePartial
		abandoned = uint(planned - ev.Visited - ev.Remaining)
	}
	return r.backend.EndRun(RunEnd{
		ID:        ev.RunID,
		EndedAt:   ev.Time,
		Outcome:   outcome,
		Visited:   uint(ev.Visited),
		Abandoned: abandoned,
	})
}

// EventFrom converts a mission_state payload into its row.
func EventFrom(ev streaming.MissionState) (model.MissionEvent, error) {
	row := model.MissionEvent{
		Time:     ev.Time,
		RunID:    ev.RunID,
		Kind:     ev.Kind,
		State:    ev.State,
		Charging: ev.Charging,
		Battery:  ev.Battery,
		Target:   ev.Target,
		Detail:   ev.Detail,
	}
	if len(ev.Position) > 0 {
		point, err := geo.Point(ev.Position)
		if err != nil {
			return model.MissionEvent{}, fmt.Errorf("event position %v: %w", ev.Position, err)
		}
		row.Position = point
	}
	if len(ev.Extra) > 0 {
		raw, err := json.Marshal(ev.Extra)
		if err != nil {
			return model.MissionEvent{}, fmt.Errorf("event extra: %w", err)
		}
		row.Extra = datatypes.JSON(raw)
	}
	return row, nil
}

// SampleFrom converts a winch status poll into its row.
func SampleFrom(st actuator.MotorStatus, motorID uint8) model.MotorSample {
	state := "stopped"
	if st.State.Running {
		state = "running " + st.State.Direction.String()
	}
	return model.MotorSample{
		Time:            st.Time,
		MotorID:         motorID,
		State:           state,
		Voltage:         st.Voltage,
		Power:           st.Power,
		CurrentQ:        st.CurrentQ,
		CurrentD:        st.CurrentD,
		MechanicalAngle: st.MechanicalAngle,
		GearAngle:       st.GearAngle,
		ActualSpeed:     st.ActualSpeed,
	}
}
