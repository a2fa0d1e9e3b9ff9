// Package model defines the database schema shared by the storage backends.
package model

import (
	"database/sql"
	"time"

	geom "github.com/peterstace/simplefeatures/geom"
	"gorm.io/datatypes"
)

// DatabaseModels is a list of all the structs exported here which represent tables in the database schema
var DatabaseModels = []interface{}{
	&MissionRun{},
	&MissionEvent{},
	&MotorSample{},
}

// Run outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomePartial   = "partial"
)

////////////////////////
// MISSION MODELS
////////////////////////

// MissionRun is one sequencer run from takeoff to landing.
type MissionRun struct {
	ID        string          `json:"id" gorm:"primarykey;size:36"` // uuid assigned when the run starts
	StartedAt time.Time       `json:"startedAt"`
	EndedAt   sql.NullTime    `json:"endedAt" gorm:"default:NULL"`
	Outcome   string          `json:"outcome" gorm:"size:16;default:'running'"`
	Planned   uint            `json:"planned"`             // waypoints in the planned route
	Visited   uint            `json:"visited"`             // waypoints served before landing
	Abandoned uint            `json:"abandoned"`           // waypoints dropped after an infeasible hop
	RouteCost float64         `json:"routeCost"`           // closed tour length from the ground station
	Route     geom.LineString `json:"route"`               // planned tour, ground station first
	Waypoints datatypes.JSON  `json:"waypoints"`           // planned waypoints in visiting order
	Config    datatypes.JSON  `json:"config"`              // sequencing parameters of the run
	Events    []MissionEvent  `json:"events,omitempty" gorm:"foreignkey:RunID"`
}

func (*MissionRun) TableName() string {
	return "mission_runs"
}

// MissionEvent is a mission_state event: a transition, directive, vehicle
// command, feasibility verdict or recharge.
type MissionEvent struct {
	ID       uint           `json:"id" gorm:"primarykey;autoIncrement;"`
	Time     time.Time      `json:"time" gorm:"index:idx_missionevent_time"`
	RunID    string         `json:"runId" gorm:"size:36;index:idx_missionevent_run_id"`
	Kind     string         `json:"kind" gorm:"size:16;index:idx_missionevent_kind"`
	State    string         `json:"state" gorm:"size:32"`     // main-sequence state when emitted
	Charging bool           `json:"charging" gorm:"default:false"`
	Battery  float64        `json:"battery"`                  // estimated percentage
	Position geom.Point     `json:"position"`                 // last reached position, local frame
	Target   string         `json:"target" gorm:"size:64"`    // waypoint being served
	Detail   string         `json:"detail" gorm:"size:128"`   // state name, token, command or waypoint
	Extra    datatypes.JSON `json:"extra"`                    // verdict figures or error text
}

func (*MissionEvent) TableName() string {
	return "mission_events"
}

////////////////////////
// WINCH MODELS
////////////////////////

// MotorSample is one winch status poll. Readings the motor did not answer
// are NULL.
type MotorSample struct {
	ID              uint      `json:"id" gorm:"primarykey;autoIncrement;"`
	Time            time.Time `json:"time" gorm:"index:idx_motorsample_time"`
	MotorID         uint8     `json:"motorId" gorm:"index:idx_motorsample_motor_id"`
	State           string    `json:"state" gorm:"size:16"`
	Voltage         *float64  `json:"voltage"`
	Power           *float64  `json:"power"`
	CurrentQ        *float64  `json:"currentQ"`
	CurrentD        *float64  `json:"currentD"`
	MechanicalAngle *float64  `json:"mechanicalAngle"`
	GearAngle       *float64  `json:"gearAngle"`
	ActualSpeed     *float64  `json:"actualSpeed"` // RPM
}

func (*MotorSample) TableName() string {
	return "motor_samples"
}
