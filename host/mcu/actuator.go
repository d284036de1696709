package mcu

import (
	"fmt"
	"math"
	"strings"
	"time"

	"gobldc/config"
	"gobldc/core"
	"gobldc/protocol"
)

// ActuatorState is a decoded actuator_state response in SI units
type ActuatorState struct {
	OID             uint8
	MotorAngle      float64 // rad
	JointAngle      float64 // rad
	Angle           float64 // electrical, rad
	Velocity        float64 // electrical, rad/s
	WheelAngle      float64 // rad
	IntegratedAngle float64 // rad
	Sector          int
	Duty            float64
	Flags           uint8
	MotorReads      uint32
	JointReads      uint32
}

var flagNames = []struct {
	bit  uint8
	name string
}{
	{core.FlagMeasuring, "measuring"},
	{core.FlagServoOn, "servo"},
	{core.FlagHoleFixed, "hole"},
	{core.FlagStale, "stale"},
	{core.FlagSensorError, "sensor_error"},
	{core.FlagLoopRunning, "loop"},
}

// FlagNames lists the set flags
func (s ActuatorState) FlagNames() []string {
	var names []string
	for _, f := range flagNames {
		if s.Flags&f.bit != 0 {
			names = append(names, f.name)
		}
	}
	return names
}

// Faulted reports a latched stale-sensor or bus fault
func (s ActuatorState) Faulted() bool {
	return s.Flags&(core.FlagStale|core.FlagSensorError) != 0
}

func (s ActuatorState) String() string {
	return fmt.Sprintf("oid=%d motor=%.4f joint=%.4f angle=%.4f vel=%.2f wheel=%.4f integrated=%.4f sector=%d duty=%.4f reads=%d/%d flags=[%s]",
		s.OID, s.MotorAngle, s.JointAngle, s.Angle, s.Velocity, s.WheelAngle, s.IntegratedAngle,
		s.Sector, s.Duty, s.MotorReads, s.JointReads, strings.Join(s.FlagNames(), ","))
}

func decodeActuatorState(msg Message) ActuatorState {
	return ActuatorState{
		OID:             uint8(msg.Int("oid")),
		MotorAngle:      fromMicro(msg.Int("motor_angle")),
		JointAngle:      fromMicro(msg.Int("joint_angle")),
		Angle:           fromMicro(msg.Int("angle")),
		Velocity:        float64(msg.Int("velocity")) / 1000,
		WheelAngle:      fromMicro(msg.Int("wheel_angle")),
		IntegratedAngle: fromMicro(msg.Int("integrated_angle")),
		Sector:          int(msg.Int("sector")),
		Duty:            fromRatio(msg.Int("duty")),
		Flags:           uint8(msg.Int("flags")),
		MotorReads:      uint32(msg.Int("motor_reads")),
		JointReads:      uint32(msg.Int("joint_reads")),
	}
}

// Event is one entry of the firmware event ring
type Event struct {
	OID   uint8
	Type  uint8
	Name  string
	Clock uint32
	V1    uint32
	V2    uint32
}

func (e Event) String() string {
	return fmt.Sprintf("clock=%d oid=%d %s v1=%d v2=%d", e.Clock, e.OID, e.Name, e.V1, e.V2)
}

// Measure starts or stops sensor polling
func (m *MCU) Measure(oid uint8, enable bool) error {
	return m.SendCommand("actuator_measure", oid, enable)
}

// ReadJoint requests one joint encoder read out of turn
func (m *MCU) ReadJoint(oid uint8) error {
	return m.SendCommand("actuator_read_joint", oid)
}

// Servo enables or disables driving
func (m *MCU) Servo(oid uint8, enable bool) error {
	return m.SendCommand("actuator_servo", oid, enable)
}

// WriteDuty sets the commanded duty in [-1, 1]; the firmware clamps it to the max duty
func (m *MCU) WriteDuty(oid uint8, duty float64) error {
	return m.SendCommand("actuator_write", oid, toRatio(duty))
}

// SetMaxDuty sets the duty clamp in [0, 1]
func (m *MCU) SetMaxDuty(oid uint8, ratio float64) error {
	r := toRatio(ratio)
	if r < 0 {
		r = 0
	}
	return m.SendCommand("actuator_set_max_duty", oid, r)
}

// ControlHole drives one sector open loop, bypassing the duty clamp
func (m *MCU) ControlHole(oid uint8, sector int, duty float64) error {
	if sector < 0 || sector >= core.SectorCount {
		return fmt.Errorf("sector %d out of range 0..%d", sector, core.SectorCount-1)
	}
	return m.SendCommand("actuator_control_hole", oid, sector, toRatio(duty))
}

// SetOffsets sets the motor and joint zero offsets and the sector zero angle, in rad
func (m *MCU) SetOffsets(oid uint8, motor, joint, sectorZero float64) error {
	return m.SendCommand("actuator_set_offsets", oid, toMicro(motor), toMicro(joint), toMicro(sectorZero))
}

// ResetFault clears latched sensor and stale faults
func (m *MCU) ResetFault(oid uint8) error {
	return m.SendCommand("actuator_reset_fault", oid)
}

// QueryActuator returns a snapshot of one actuator
func (m *MCU) QueryActuator(oid uint8) (ActuatorState, error) {
	msg, err := m.QueryMatch("actuator_state", func(msg Message) bool {
		return uint8(msg.Int("oid")) == oid
	}, "actuator_query", oid)
	if err != nil {
		return ActuatorState{}, err
	}
	return decodeActuatorState(msg), nil
}

// EmergencyStop shuts every actuator down. The firmware refuses to drive
// until the host reconnects.
func (m *MCU) EmergencyStop() error {
	return m.SendCommand("emergency_stop")
}

// SetDebug switches the firmware debug console on or off
func (m *MCU) SetDebug(enable bool) error {
	return m.SendCommand("set_debug", enable)
}

// GetClock returns the firmware timer
func (m *MCU) GetClock() (uint32, error) {
	msg, err := m.Query("clock", "get_clock")
	if err != nil {
		return 0, err
	}
	return uint32(msg.Int("clock")), nil
}

// ConfigState is a decoded config response
type ConfigState struct {
	IsConfig   bool
	CRC        uint32
	IsShutdown bool
}

// GetConfig returns the firmware configuration and shutdown state
func (m *MCU) GetConfig() (ConfigState, error) {
	msg, err := m.Query("config", "get_config")
	if err != nil {
		return ConfigState{}, err
	}
	return ConfigState{
		IsConfig:   msg.Int("is_config") != 0,
		CRC:        uint32(msg.Int("crc")),
		IsShutdown: msg.Int("is_shutdown") != 0,
	}, nil
}

// DumpEvents returns the firmware event ring, oldest first. A get_clock sent
// behind dump_events marks the end of the dump.
func (m *MCU) DumpEvents() ([]Event, error) {
	m.queryMu.Lock()
	defer m.queryMu.Unlock()

	if err := m.SendCommand("dump_events"); err != nil {
		return nil, err
	}
	if err := m.SendCommand("get_clock"); err != nil {
		return nil, err
	}

	var events []Event
	deadline := time.Now().Add(m.timeout)
	for {
		msg, err := m.receive(time.Until(deadline))
		if err != nil {
			return events, fmt.Errorf("reading event dump: %w", err)
		}
		switch msg.Name {
		case "clock":
			return events, nil
		case "actuator_event":
			typ := uint8(msg.Int("type"))
			events = append(events, Event{
				OID:   uint8(msg.Int("oid")),
				Type:  typ,
				Name:  m.EnumName("event_type", int(typ)),
				Clock: uint32(msg.Int("clock")),
				V1:    uint32(msg.Int("v1")),
				V2:    uint32(msg.Int("v2")),
			})
		}
	}
}

// Reconnect restarts the link sequence, which the firmware treats as a new
// host and clears its shutdown state
func (m *MCU) Reconnect() error {
	if !m.connected {
		return ErrNotConnected
	}
	// The firmware only sees a restart when it expects another sequence
	if m.transport.Sequence() == protocol.SeqDest {
		if _, err := m.GetClock(); err != nil {
			return err
		}
	}
	m.transport.Reset()
	_, err := m.GetConfig()
	return err
}

// ApplyCalibration writes a configured actuator's offsets and duty clamp and
// starts polling if the configuration asks for it
func (m *MCU) ApplyCalibration(a config.Actuator) error {
	if err := m.SetOffsets(a.OID, a.MotorOffset, a.JointOffset, a.SectorZero); err != nil {
		return fmt.Errorf("%s: set offsets: %w", a.Name, err)
	}
	if err := m.SetMaxDuty(a.OID, a.MaxDuty); err != nil {
		return fmt.Errorf("%s: set max duty: %w", a.Name, err)
	}
	if a.Measure {
		if err := m.Measure(a.OID, true); err != nil {
			return fmt.Errorf("%s: measure: %w", a.Name, err)
		}
	}
	return nil
}

func fromMicro(v int64) float64 {
	return float64(int32(v)) / core.MicroradPerRad
}

func fromRatio(v int64) float64 {
	return float64(int32(v)) / core.RatioScale
}

func saturate(v float64) int32 {
	v = math.Round(v)
	switch {
	case math.IsNaN(v):
		return 0
	case v >= math.MaxInt32:
		return math.MaxInt32
	case v <= math.MinInt32:
		return math.MinInt32
	}
	return int32(v)
}

func toMicro(rad float64) int32 {
	return saturate(rad * core.MicroradPerRad)
}

func toRatio(v float64) int32 {
	return saturate(v * core.RatioScale)
}
