// Six-step BLDC commutation and velocity estimation
// The continuous electrical angle is resynchronized from the motor encoder whenever
// a fresh sample arrives and extrapolated from the velocity estimate in between.
package core

import "math"

// Motor defaults
const (
	SectorCount              = 6
	SensorTransitions        = 42
	DefaultLeadTime          = 0.00045
	DefaultVelocitySmoothing = 0.005
	DefaultReductionRatio    = 87.0
	DefaultControlFrequency  = 20000.0
	DefaultStaleTickLimit    = 400 // 20 ms at 20 kHz
)

// sectorTable gives the u, v, w drive for each sector: 1 high, -1 low, 0 floating
var sectorTable = [SectorCount][NumPhases]int8{
	{0, -1, 1},
	{1, -1, 0},
	{1, 0, -1},
	{0, 1, -1},
	{-1, 1, 0},
	{-1, 0, 1},
}

// SectorDrive returns the drive triple for a sector (sector is reduced mod 6)
func SectorDrive(sector int) [NumPhases]int8 {
	return sectorTable[mod6(sector)]
}

// MotorAngleSource is the part of the angle sensor the controller reads
type MotorAngleSource interface {
	MotorAngleRad() float32
	MotorReadCounter() uint32
}

// MotorConfig holds the controller constants
type MotorConfig struct {
	SectorWidth       float32 // electrical sector width in rad
	LeadTime          float32 // forward compensation for commutation latency, s
	VelocitySmoothing float32 // exponential smoothing factor per tick
	ReductionRatio    float32 // motor turns per output turn
	ControlFrequency  float32 // Update calls per second
	MaxDutyRatio      float32
	SectorZeroAngle   float32
	StaleTickLimit    uint32 // consecutive driving Updates without a motor sample before faulting; 0 disables
}

// DefaultMotorConfig returns the constants of the reference actuator
func DefaultMotorConfig() MotorConfig {
	return MotorConfig{
		SectorWidth:       float32(2 * math.Pi / SensorTransitions),
		LeadTime:          DefaultLeadTime,
		VelocitySmoothing: DefaultVelocitySmoothing,
		ReductionRatio:    DefaultReductionRatio,
		ControlFrequency:  DefaultControlFrequency,
		MaxDutyRatio:      1.0,
		StaleTickLimit:    DefaultStaleTickLimit,
	}
}

// BLDCMotor is the commutation and velocity controller for one motor.
// All methods run in main-loop context.
type BLDCMotor struct {
	sensor MotorAngleSource
	bridge BridgeOutput
	cfg    MotorConfig

	duty      float32
	maxRatio  float32
	enabled   bool
	holeFixed bool
	sector    int

	sectorZero float32
	angle      float32
	prevAngle  float32
	velocity   float32
	integrated float32
	wheel      float32

	lastCounter uint32
	staleTicks  uint32
	stale       bool

	// last levels written to the bridge
	high [NumPhases]float32
	low  [NumPhases]bool
}

// NewBLDCMotor creates a disabled controller and writes duty 0, switching every phase off
func NewBLDCMotor(sensor MotorAngleSource, bridge BridgeOutput, cfg MotorConfig) *BLDCMotor {
	m := &BLDCMotor{
		sensor:     sensor,
		bridge:     bridge,
		cfg:        cfg,
		maxRatio:   clamp(cfg.MaxDutyRatio, 0, 1),
		sectorZero: cfg.SectorZeroAngle,
	}

	for p := PhaseU; p < NumPhases; p++ {
		bridge.SetHighDuty(p, 0)
		bridge.SetLow(p, false)
	}
	m.Write(0)
	return m
}

// Update advances the angle, velocity and sector estimate by one control period.
// Returns false while the stale-sensor fault is latched.
func (m *BLDCMotor) Update() bool {
	if m.stale {
		return false
	}

	counter := m.sensor.MotorReadCounter()
	if counter != m.lastCounter {
		m.angle = m.sectorZero + m.cfg.SectorWidth + float32(TwoPi) - m.sensor.MotorAngleRad()
		m.staleTicks = 0
	} else {
		m.angle += m.velocity / m.cfg.ControlFrequency
		m.staleTicks++
	}
	m.lastCounter = counter

	delta := AngleDiff(m.angle, m.prevAngle)
	alpha := m.cfg.VelocitySmoothing
	m.velocity = (1-alpha)*m.velocity + alpha*delta*m.cfg.ControlFrequency
	m.prevAngle = m.angle

	m.integrated += delta / m.cfg.ReductionRatio
	m.wheel = WrapPi(m.wheel + delta/m.cfg.ReductionRatio)

	lead := m.angle + m.velocity*m.cfg.LeadTime
	m.sector = mod6(int(math.Floor(float64(lead / m.cfg.SectorWidth))))

	if m.cfg.StaleTickLimit > 0 && m.staleTicks >= m.cfg.StaleTickLimit && m.driving() {
		m.stale = true
		m.driveOff()
		return false
	}
	return true
}

// Commutate reapplies the drive decision for the current sector and duty
func (m *BLDCMotor) Commutate() {
	if m.holeFixed {
		return
	}
	if !m.enabled || m.stale {
		m.driveOff()
		return
	}

	dir := 1
	if m.duty < 0 {
		dir = -2
	}
	next := (m.sector + dir + SectorCount) % SectorCount
	m.driveSector(next)
}

// ServoOn enables driving. The previous angle is re-anchored so enabling
// does not inject a velocity transient.
func (m *BLDCMotor) ServoOn() {
	m.enabled = true
	m.holeFixed = false
	m.prevAngle = m.angle
	m.staleTicks = 0
}

// ServoOff disables driving and switches every phase off
func (m *BLDCMotor) ServoOff() {
	m.enabled = false
	m.holeFixed = false
	m.driveOff()
}

// Write sets the commanded duty, clamped to ±MaxDutyRatio, and applies it immediately
func (m *BLDCMotor) Write(duty float32) {
	m.duty = clamp(duty, -m.maxRatio, m.maxRatio)
	m.Commutate()
}

// Read returns the commanded duty
func (m *BLDCMotor) Read() float32 {
	return m.duty
}

// SetMaxDutyRatio clamps ratio to [0, 1] and re-clamps the current duty
func (m *BLDCMotor) SetMaxDutyRatio(ratio float32) {
	m.maxRatio = clamp(ratio, 0, 1)
	m.Write(m.duty)
}

// MaxDutyRatio returns the duty clamp
func (m *BLDCMotor) MaxDutyRatio() float32 {
	return m.maxRatio
}

// ControlHole drives one sector open loop at duty, bypassing the duty clamp.
// The override holds until ServoOn or ServoOff.
func (m *BLDCMotor) ControlHole(sector int, duty float32) {
	if m.stale {
		return
	}
	if !m.holeFixed {
		m.staleTicks = 0
	}
	m.holeFixed = true
	m.duty = duty
	m.driveSector(mod6(sector))
}

// driving reports whether the bridge may be switching; staleness only faults then
func (m *BLDCMotor) driving() bool {
	return m.enabled || m.holeFixed
}

func (m *BLDCMotor) driveSector(sector int) {
	d := sectorTable[sector]
	m.drive(d[PhaseU], d[PhaseV], d[PhaseW])
}

func (m *BLDCMotor) driveOff() {
	m.drive(0, 0, 0)
}

// drive applies one table entry per phase: 1 drives the high side at |duty|,
// -1 turns the low side on, 0 floats both. Every switch that turns off is written
// before any switch that turns on, so no phase has both sides on at any point.
func (m *BLDCMotor) drive(u, v, w int8) {
	level := m.duty
	if level < 0 {
		level = -level
	}

	var high [NumPhases]float32
	var low [NumPhases]bool
	for p, s := range [NumPhases]int8{u, v, w} {
		if s == 1 {
			high[p] = level
		}
		low[p] = s == -1
	}

	for p := PhaseU; p < NumPhases; p++ {
		if high[p] == 0 && m.high[p] != 0 {
			m.bridge.SetHighDuty(p, 0)
		}
		if !low[p] && m.low[p] {
			m.bridge.SetLow(p, false)
		}
	}
	for p := PhaseU; p < NumPhases; p++ {
		if high[p] != 0 && high[p] != m.high[p] {
			m.bridge.SetHighDuty(p, high[p])
		}
		if low[p] && !m.low[p] {
			m.bridge.SetLow(p, true)
		}
	}
	m.high = high
	m.low = low
}

// HoleState returns the current sector, 0..5
func (m *BLDCMotor) HoleState() int {
	return m.sector
}

// IntegratedAngleRad returns the unwrapped output-shaft angle accumulated since start
func (m *BLDCMotor) IntegratedAngleRad() float32 {
	return m.integrated
}

// WheelAngleRad returns the output-shaft angle wrapped into (-π, π]
func (m *BLDCMotor) WheelAngleRad() float32 {
	return m.wheel
}

// AngleRad returns the continuous electrical angle
func (m *BLDCMotor) AngleRad() float32 {
	return m.angle
}

// Velocity returns the smoothed electrical velocity in rad/s
func (m *BLDCMotor) Velocity() float32 {
	return m.velocity
}

// SetSectorZeroAngle sets the calibration offset between sensor zero and sector zero
func (m *BLDCMotor) SetSectorZeroAngle(rad float32) {
	m.sectorZero = rad
}

// SectorZeroAngle returns the calibration offset
func (m *BLDCMotor) SectorZeroAngle() float32 {
	return m.sectorZero
}

func (m *BLDCMotor) Enabled() bool {
	return m.enabled
}

func (m *BLDCMotor) HoleFixed() bool {
	return m.holeFixed
}

// Stale reports the latched stale-sensor fault
func (m *BLDCMotor) Stale() bool {
	return m.stale
}

// ResetFault clears the stale-sensor fault. Driving resumes on the next Commutate
// if the servo is still on; the angle resyncs on the next fresh sample.
func (m *BLDCMotor) ResetFault() {
	m.stale = false
	m.staleTicks = 0
}

func mod6(n int) int {
	n %= SectorCount
	if n < 0 {
		n += SectorCount
	}
	return n
}

func clamp(v, lo, hi float32) float32 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
