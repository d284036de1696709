package core

import "errors"

var (
	ErrUnknownActuator = errors.New("actuator: unknown oid")
	ErrActuatorExists  = errors.New("actuator: oid already registered")
	ErrShutdown        = errors.New("actuator: firmware is shut down")
)

// DefaultI2CBus is the bus both encoders share on the reference board
const DefaultI2CBus = I2CBusID(1)

// ActuatorConfig is everything needed to build one actuator
type ActuatorConfig struct {
	BusID  I2CBusID
	Sensor AngleSensorConfig
	Motor  MotorConfig
}

// DefaultActuatorConfig returns the reference actuator: AS5048B motor encoder,
// AS5600 joint encoder, 42-transition motor with an 87:1 reduction
func DefaultActuatorConfig() ActuatorConfig {
	return ActuatorConfig{
		BusID:  DefaultI2CBus,
		Sensor: DefaultAngleSensorConfig(),
		Motor:  DefaultMotorConfig(),
	}
}

// State flag bits reported in actuator_state
const (
	FlagMeasuring = 1 << iota
	FlagServoOn
	FlagHoleFixed
	FlagStale
	FlagSensorError
	FlagLoopRunning
)

// Actuator bundles the angle sensor, the motor controller and its control loop
type Actuator struct {
	oid    uint8
	Sensor *DualAngleSensor
	Motor  *BLDCMotor
	Loop   *ControlLoop
}

// ActuatorState is a snapshot of one actuator
type ActuatorState struct {
	MotorAngle      float32
	JointAngle      float32
	Angle           float32
	Velocity        float32
	WheelAngle      float32
	IntegratedAngle float32
	Sector          int
	Duty            float32
	Flags           uint8
	MotorReads      uint32
	JointReads      uint32
}

// NewActuator builds the sensor on busID of bus and the motor on bridge.
// The control loop is created stopped; measuring or driving starts it.
func NewActuator(bus AsyncI2CDriver, bridge BridgeOutput, cfg ActuatorConfig) *Actuator {
	sensor := NewDualAngleSensor(bus, cfg.BusID, cfg.Sensor)
	motor := NewBLDCMotor(sensor, bridge, cfg.Motor)
	return &Actuator{
		Sensor: sensor,
		Motor:  motor,
		Loop:   NewControlLoop(0, motor, sensor, cfg.Motor.ControlFrequency),
	}
}

func (a *Actuator) OID() uint8 {
	return a.oid
}

// Measure enables or disables continuous sensor polling.
// Returns false when the first request could not be issued.
func (a *Actuator) Measure(enable bool) bool {
	if !enable {
		a.Sensor.StopMeasure()
		RecordEvent(EvtMeasureStop, a.oid, GetTime(), 0, 0)
		return true
	}

	ok := a.Sensor.StartMeasure()
	var v1 uint32
	if ok {
		v1 = 1
	}
	RecordEvent(EvtMeasureStart, a.oid, GetTime(), v1, 0)
	a.Loop.Start()
	return ok
}

// Servo enables or disables driving
func (a *Actuator) Servo(enable bool) error {
	if !enable {
		a.Motor.ServoOff()
		RecordEvent(EvtServoOff, a.oid, GetTime(), 0, 0)
		return nil
	}
	if IsShutdown() {
		return ErrShutdown
	}
	a.Motor.ServoOn()
	RecordEvent(EvtServoOn, a.oid, GetTime(), 0, 0)
	a.Loop.Start()
	return nil
}

// ControlHole drives one sector open loop until the next Servo call
func (a *Actuator) ControlHole(sector int, duty float32) error {
	if IsShutdown() {
		return ErrShutdown
	}
	a.Motor.ControlHole(sector, duty)
	RecordEvent(EvtHoleFix, a.oid, GetTime(), uint32(mod6(sector)), uint32(toRatio(duty)))
	a.Loop.Start()
	return nil
}

// SetOffsets sets both encoder zero offsets and the sector calibration
func (a *Actuator) SetOffsets(motor, joint, sectorZero float32) {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	a.Sensor.SetMotorOffsetAngleRad(motor)
	a.Sensor.SetJointOffsetAngleRad(joint)
	a.Motor.SetSectorZeroAngle(sectorZero)
}

// ResetFault clears the stale-sensor and sensor-bus faults.
// Polling resumes if measuring is still enabled.
func (a *Actuator) ResetFault() {
	a.Motor.ResetFault()
	a.Sensor.ResetError()
	if a.Sensor.Measuring() && !a.Sensor.Busy() {
		a.Sensor.StartMeasure()
	}
	RecordEvent(EvtFaultReset, a.oid, GetTime(), a.Loop.Faults(), 0)
}

// Shutdown switches the bridge off, stops polling and stops the control loop
func (a *Actuator) Shutdown() {
	a.Motor.ServoOff()
	a.Sensor.StopMeasure()
	a.Loop.Stop()
	RecordEvent(EvtEmergencyStop, a.oid, GetTime(), 0, 0)
}

// Flags returns the Flag* bits of the current state
func (a *Actuator) Flags() uint8 {
	var f uint8
	if a.Sensor.Measuring() {
		f |= FlagMeasuring
	}
	if a.Motor.Enabled() {
		f |= FlagServoOn
	}
	if a.Motor.HoleFixed() {
		f |= FlagHoleFixed
	}
	if a.Motor.Stale() {
		f |= FlagStale
	}
	if a.Sensor.Error() {
		f |= FlagSensorError
	}
	if a.Loop.Running() {
		f |= FlagLoopRunning
	}
	return f
}

// State returns a snapshot of the sensor and controller, taken with
// completion notifications masked so both channels come from the same instant
func (a *Actuator) State() ActuatorState {
	state := disableInterrupts()
	defer restoreInterrupts(state)

	return ActuatorState{
		MotorAngle:      a.Sensor.MotorAngleRad(),
		JointAngle:      a.Sensor.JointAngleRad(),
		Angle:           a.Motor.AngleRad(),
		Velocity:        a.Motor.Velocity(),
		WheelAngle:      a.Motor.WheelAngleRad(),
		IntegratedAngle: a.Motor.IntegratedAngleRad(),
		Sector:          a.Motor.HoleState(),
		Duty:            a.Motor.Read(),
		Flags:           a.Flags(),
		MotorReads:      a.Sensor.MotorReadCounter(),
		JointReads:      a.Sensor.JointReadCounter(),
	}
}

// Actuators are created at boot and only touched from the main loop
var actuators = make(map[uint8]*Actuator)

// RegisterActuator makes an actuator reachable by oid from host commands
func RegisterActuator(oid uint8, a *Actuator) error {
	if _, exists := actuators[oid]; exists {
		return ErrActuatorExists
	}
	a.oid = oid
	a.Loop.oid = oid
	actuators[oid] = a
	return nil
}

// GetActuator looks up a registered actuator
func GetActuator(oid uint8) (*Actuator, error) {
	a, ok := actuators[oid]
	if !ok {
		return nil, ErrUnknownActuator
	}
	return a, nil
}

// ShutdownAllActuators shuts every registered actuator down
func ShutdownAllActuators() {
	for _, a := range actuators {
		a.Shutdown()
	}
}

// UnregisterAllActuators shuts down and forgets every actuator
func UnregisterAllActuators() {
	ShutdownAllActuators()
	actuators = make(map[uint8]*Actuator)
}
