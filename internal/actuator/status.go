package actuator

import (
	"context"
	"time"

	"github.com/hydrodrone/mission/internal/telemetry"
)

// MotorStatus is one status poll. Every field is always present; readings
// the motor did not answer are nil.
type MotorStatus struct {
	Time            time.Time  `json:"time"`
	State           MotorState `json:"state"`
	Voltage         *float64   `json:"voltage"`
	Power           *float64   `json:"power"`
	CurrentQ        *float64   `json:"currentQ"`
	CurrentD        *float64   `json:"currentD"`
	MechanicalAngle *float64   `json:"mechanicalAngle"`
	GearAngle       *float64   `json:"gearAngle"`
	// ActualSpeed is RPM derived from the previous gear angle reading.
	ActualSpeed *float64 `json:"actualSpeed"`
}

// StatusIndicators are the indicators read by Status, in order.
var StatusIndicators = []Indicator{BusVoltage, Power, CurrentQ, CurrentD, MechanicalAngle, GearAngle}

// Status reads the status indicators and estimates the shaft speed from the
// gear angle. A missing gear angle leaves the estimator untouched.
func (w *Winch) Status(ctx context.Context) MotorStatus {
	st := MotorStatus{Time: w.loop.Now(), State: w.State()}

	for _, id := range StatusIndicators {
		v, ok := w.ReadIndicator(ctx, id)
		if !ok {
			continue
		}
		f := float64(v)
		switch id {
		case BusVoltage:
			st.Voltage = &f
		case Power:
			st.Power = &f
		case CurrentQ:
			st.CurrentQ = &f
		case CurrentD:
			st.CurrentD = &f
		case MechanicalAngle:
			st.MechanicalAngle = &f
		case GearAngle:
			st.GearAngle = &f
		}
	}

	if st.GearAngle != nil {
		if rpm, ok := w.speed.Observe(telemetry.AngleSample{Angle: *st.GearAngle, Time: st.Time}); ok {
			st.ActualSpeed = &rpm
		}
	}
	return st
}
