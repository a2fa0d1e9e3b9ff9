package actuator

import (
	"bufio"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
	"strings"
)

// Indicator identifies a motor telemetry value readable with OpReadIndicator.
type Indicator uint8

const (
	BusVoltage Indicator = iota
	BoardTemperature
	MotorTemperature
	Power
	PhaseCurrentA
	PhaseCurrentB
	PhaseCurrentC
	CurrentAlpha
	CurrentBeta
	CurrentQ
	CurrentD
	TargetCurrentQ
	TargetCurrentD
	VoltageQ
	VoltageD
	VoltageAlpha
	VoltageBeta
	ElectricalAngle
	MechanicalAngle
	GearAngle
)

// MaxIndicator is the highest valid indicator id.
const MaxIndicator = GearAngle

type indicatorInfo struct {
	name string
	unit string
}

var indicators = [...]indicatorInfo{
	BusVoltage:       {"Bus Voltage", "V"},
	BoardTemperature: {"Driver Board Temperature", "°C"},
	MotorTemperature: {"Motor Temperature", "°C"},
	Power:            {"Power", "W"},
	PhaseCurrentA:    {"Phase Current Ia", "A"},
	PhaseCurrentB:    {"Phase Current Ib", "A"},
	PhaseCurrentC:    {"Phase Current Ic", "A"},
	CurrentAlpha:     {"Current Ialpha", "A"},
	CurrentBeta:      {"Current Ibeta", "A"},
	CurrentQ:         {"Current Iq", "A"},
	CurrentD:         {"Current Id", "A"},
	TargetCurrentQ:   {"Target Current Iq", "A"},
	TargetCurrentD:   {"Target Current Id", "A"},
	VoltageQ:         {"Voltage Vq", "V"},
	VoltageD:         {"Voltage Vd", "V"},
	VoltageAlpha:     {"Voltage Valpha", "V"},
	VoltageBeta:      {"Voltage Vbeta", "V"},
	ElectricalAngle:  {"Electrical Angle", "rad"},
	MechanicalAngle:  {"Mechanical Angle", "rad"},
	GearAngle:        {"Gear Mechanical Angle", "rad"},
}

// Valid reports whether id is in 0x00-0x13.
func (id Indicator) Valid() bool {
	return id <= MaxIndicator
}

// Name returns the indicator name without its unit.
func (id Indicator) Name() string {
	if !id.Valid() {
		return fmt.Sprintf("Indicator 0x%02X", uint8(id))
	}
	return indicators[id].name
}

// Unit returns the unit symbol, empty for unknown ids.
func (id Indicator) Unit() string {
	if !id.Valid() {
		return ""
	}
	return indicators[id].unit
}

func (id Indicator) String() string {
	if !id.Valid() {
		return id.Name()
	}
	return fmt.Sprintf("%s (%s)", id.Name(), id.Unit())
}

// replyPrefix starts the line canusb prints for each received frame.
const replyPrefix = "Received:"

// DecodeIndicatorReply extracts the indicator value from captured adapter
// output. It looks for the first "Received: b0 .. b7" line and decodes the
// last four data bytes as a little-endian float32. Output without such a
// line, or with unparsable bytes, yields ok == false.
func DecodeIndicatorReply(output string) (value float32, ok bool) {
	sc := bufio.NewScanner(strings.NewReader(output))
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 || fields[0] != replyPrefix {
			continue
		}
		if len(fields) < 1+FrameSize {
			return 0, false
		}
		raw, err := hex.DecodeString(strings.Join(fields[1:1+FrameSize], ""))
		if err != nil || len(raw) != FrameSize {
			return 0, false
		}
		return DecodeIndicatorFrame(raw)
	}
	return 0, false
}

// DecodeIndicatorFrame decodes the value of a binary reply frame.
func DecodeIndicatorFrame(data []byte) (value float32, ok bool) {
	if len(data) != FrameSize {
		return 0, false
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(data[FrameSize-4:])), true
}
