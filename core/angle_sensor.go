// Dual-channel angle sensor
// Polls a motor encoder (AS5048B) and a joint encoder (AS5600) sharing one I2C bus
// with a transmit/receive ping-pong driven entirely by completion callbacks.
package core

import (
	"math"
	"sync/atomic"

	"tinygo.org/x/drivers/as560x"
)

// AngleChannel selects one of the two encoders on the bus
type AngleChannel uint8

const (
	ChannelMotor AngleChannel = iota
	ChannelJoint
	numAngleChannels
)

func (c AngleChannel) String() string {
	switch c {
	case ChannelMotor:
		return "motor"
	case ChannelJoint:
		return "joint"
	default:
		return "unknown"
	}
}

// CountLayout describes how the two received bytes form a raw count
type CountLayout uint8

const (
	// LayoutSplit14 is a 14-bit count: 8 high bits in byte 0, 6 low bits in byte 1 (AS5048B)
	LayoutSplit14 CountLayout = iota
	// LayoutLinear12 is a 12-bit big-endian count (AS5600)
	LayoutLinear12
)

// Count assembles the raw count from the receive buffer
func (l CountLayout) Count(rx [2]byte) uint16 {
	switch l {
	case LayoutSplit14:
		return uint16(rx[0])<<6 | uint16(rx[1]&0x3F)
	default:
		return (uint16(rx[0])<<8 | uint16(rx[1])) & 0x0FFF
	}
}

// PollPolicy decides the order in which channels are serviced
type PollPolicy uint8

const (
	// PollAlternate services motor, joint, motor, joint, ... A joint request
	// only changes the order before the first service; afterwards it is
	// absorbed by the next regular joint slot and adds no extra read.
	PollAlternate PollPolicy = iota
	// PollMotorPriority services the motor every cycle and the joint only on request
	PollMotorPriority
)

// Sensor wire constants
const (
	MotorSensorAddress  = 0x40 // AS5048B
	MotorAngleRegister  = 0xFF
	MotorDegreesPerCnt  = 0.021973997 // 360 / 2^14
	JointDegreesPerCnt  = 0.087912087 // 360 / 4095
	angleSensorRxLength = 2
)

// ChannelConfig is the fixed wire description of one encoder
type ChannelConfig struct {
	Address         I2CAddress
	Register        uint8
	DegreesPerCount float64
	Layout          CountLayout
	// Inverted negates the angle after wrapping.
	// The motor encoder is mounted facing the rotor, so its sense is reversed
	// relative to the joint encoder. Needs confirmation on a calibrated rig.
	Inverted bool
}

// Decode converts received bytes into a wrapped radian angle with offset removed
func (c ChannelConfig) Decode(rx [2]byte, offsetRad float32) float32 {
	count := c.Layout.Count(rx)
	rad := float64(count) * c.DegreesPerCount * math.Pi / 180.0
	angle := WrapPi(float32(rad - float64(offsetRad)))
	if c.Inverted {
		angle = -angle
	}
	return angle
}

// AngleSensorConfig holds the construction-time configuration of the sensor
type AngleSensorConfig struct {
	Motor  ChannelConfig
	Joint  ChannelConfig
	Policy PollPolicy
}

// DefaultAngleSensorConfig returns the AS5048B motor / AS5600 joint layout
func DefaultAngleSensorConfig() AngleSensorConfig {
	return AngleSensorConfig{
		Motor: ChannelConfig{
			Address:         MotorSensorAddress,
			Register:        MotorAngleRegister,
			DegreesPerCount: MotorDegreesPerCnt,
			Layout:          LayoutSplit14,
			Inverted:        true,
		},
		Joint: ChannelConfig{
			Address:         I2CAddress(as560x.DefaultAddress),
			Register:        as560x.ANGLE,
			DegreesPerCount: JointDegreesPerCnt,
			Layout:          LayoutLinear12,
		},
		Policy: PollAlternate,
	}
}

// DualAngleSensor owns the bus and the latest sample of each channel.
//
// Samples, counters and flags cross the interrupt/main-loop boundary and are
// atomics. The channel bookkeeping (current, last, served) and the bus buffers
// are only touched by the request chain, which is strictly sequential.
type DualAngleSensor struct {
	bus      AsyncI2CDriver
	busID    I2CBusID
	channels [numAngleChannels]ChannelConfig
	policy   PollPolicy

	measuring      atomic.Bool
	inFlight       atomic.Bool
	errFlag        atomic.Bool
	jointRequested atomic.Bool

	samples  [numAngleChannels]atomic.Uint32 // float32 bits
	counters [numAngleChannels]atomic.Uint32
	offsets  [numAngleChannels]atomic.Uint32 // float32 bits, applied
	staged   [numAngleChannels]atomic.Uint32 // float32 bits, waiting for a transfer boundary
	pending  [numAngleChannels]atomic.Bool

	current AngleChannel
	last    AngleChannel
	served  bool

	txBuf [1]byte
	rxBuf [angleSensorRxLength]byte
}

// NewDualAngleSensor creates the sensor and registers it as the completion
// handler for busID. One sensor owns the bus.
func NewDualAngleSensor(bus AsyncI2CDriver, busID I2CBusID, cfg AngleSensorConfig) *DualAngleSensor {
	s := &DualAngleSensor{
		bus:    bus,
		busID:  busID,
		policy: cfg.Policy,
	}
	s.channels[ChannelMotor] = cfg.Motor
	s.channels[ChannelJoint] = cfg.Joint

	bus.SetCompletionHandler(busID, s)
	return s
}

// StartMeasure enables continuous polling and issues the first request.
// If a transfer from a previous run is still in flight the chain simply continues.
func (s *DualAngleSensor) StartMeasure() bool {
	s.measuring.Store(true)
	if s.inFlight.Load() {
		return true
	}
	s.served = false
	return s.SendMeasureAngleRequest()
}

// StopMeasure disables polling. A transfer in flight still completes,
// but no new request is issued afterwards.
func (s *DualAngleSensor) StopMeasure() {
	s.measuring.Store(false)
}

// Measuring reports whether continuous polling is enabled
func (s *DualAngleSensor) Measuring() bool {
	return s.measuring.Load()
}

// Busy reports whether a transfer is in flight
func (s *DualAngleSensor) Busy() bool {
	return s.inFlight.Load()
}

// RequestReadJointAngle asks for one joint read out of turn
func (s *DualAngleSensor) RequestReadJointAngle() {
	s.jointRequested.Store(true)
}

// nextChannel applies the poll policy and consumes a joint request when the joint is chosen
func (s *DualAngleSensor) nextChannel() AngleChannel {
	if s.policy == PollMotorPriority {
		if s.jointRequested.Swap(false) {
			return ChannelJoint
		}
		return ChannelMotor
	}

	if !s.served {
		if s.jointRequested.Swap(false) {
			return ChannelJoint
		}
		return ChannelMotor
	}
	if s.last == ChannelMotor {
		s.jointRequested.Store(false)
		return ChannelJoint
	}
	// Never two joint reads back to back; a pending request waits for the next joint slot
	return ChannelMotor
}

// SendMeasureAngleRequest picks the next channel and transmits its register address.
// A transmit that cannot be issued sets the sticky error flag.
func (s *DualAngleSensor) SendMeasureAngleRequest() bool {
	ch := s.nextChannel()
	cfg := &s.channels[ch]

	s.current = ch
	s.last = ch
	s.served = true
	s.txBuf[0] = cfg.Register

	s.inFlight.Store(true)
	if !s.bus.StartTransmit(s.busID, cfg.Address, s.txBuf[:]) {
		s.fail()
		return false
	}
	return true
}

// receiveAngleRequest issues the two-byte read for the channel being serviced
func (s *DualAngleSensor) receiveAngleRequest() bool {
	cfg := &s.channels[s.current]
	return s.bus.StartReceive(s.busID, cfg.Address, s.rxBuf[:])
}

// fail ends the cycle with the sticky error set. Offsets staged during the
// cycle take effect now that the bus is idle.
func (s *DualAngleSensor) fail() {
	s.inFlight.Store(false)
	s.applyStagedOffsets()
	s.errFlag.Store(true)
}

// I2CTransmitComplete continues the cycle with the receive half
func (s *DualAngleSensor) I2CTransmitComplete(bus I2CBusID) {
	if bus != s.busID {
		return
	}
	if !s.measuring.Load() {
		s.inFlight.Store(false)
		s.applyStagedOffsets()
		return
	}
	if !s.receiveAngleRequest() {
		s.fail()
	}
}

// I2CReceiveComplete decodes and publishes the sample, then starts the next cycle
func (s *DualAngleSensor) I2CReceiveComplete(bus I2CBusID) {
	if bus != s.busID {
		return
	}

	ch := s.current
	offset := math.Float32frombits(s.offsets[ch].Load())
	angle := s.channels[ch].Decode(s.rxBuf, offset)

	// Sample first, counter second: a reader that sees the new count sees the new sample
	s.samples[ch].Store(math.Float32bits(angle))
	s.counters[ch].Add(1)

	s.inFlight.Store(false)
	s.applyStagedOffsets()

	if !s.measuring.Load() {
		return
	}
	s.SendMeasureAngleRequest()
}

// I2CTransferError aborts the cycle and latches the error
func (s *DualAngleSensor) I2CTransferError(bus I2CBusID, err error) {
	if bus != s.busID {
		return
	}
	s.fail()
}

// MotorAngleRad returns the last decoded motor angle
func (s *DualAngleSensor) MotorAngleRad() float32 {
	return math.Float32frombits(s.samples[ChannelMotor].Load())
}

// JointAngleRad returns the last decoded joint angle
func (s *DualAngleSensor) JointAngleRad() float32 {
	return math.Float32frombits(s.samples[ChannelJoint].Load())
}

// MotorReadCounter counts decoded motor samples
func (s *DualAngleSensor) MotorReadCounter() uint32 {
	return s.counters[ChannelMotor].Load()
}

// JointReadCounter counts decoded joint samples
func (s *DualAngleSensor) JointReadCounter() uint32 {
	return s.counters[ChannelJoint].Load()
}

// Error reports the sticky bus fault flag
func (s *DualAngleSensor) Error() bool {
	return s.errFlag.Load()
}

// ResetError clears the sticky bus fault flag. Polling is not resumed.
func (s *DualAngleSensor) ResetError() {
	s.errFlag.Store(false)
}

// SetMotorOffsetAngleRad sets the motor zero offset.
// The offset only changes between transfers: while a transfer is in flight it
// is staged and applied when that transfer ends, whether it completes, fails
// or is cut short by StopMeasure.
func (s *DualAngleSensor) SetMotorOffsetAngleRad(rad float32) {
	s.setOffset(ChannelMotor, rad)
}

// SetJointOffsetAngleRad sets the joint zero offset (same staging rules as the motor)
func (s *DualAngleSensor) SetJointOffsetAngleRad(rad float32) {
	s.setOffset(ChannelJoint, rad)
}

// MotorOffsetAngleRad returns the applied motor offset
func (s *DualAngleSensor) MotorOffsetAngleRad() float32 {
	return math.Float32frombits(s.offsets[ChannelMotor].Load())
}

// JointOffsetAngleRad returns the applied joint offset
func (s *DualAngleSensor) JointOffsetAngleRad() float32 {
	return math.Float32frombits(s.offsets[ChannelJoint].Load())
}

func (s *DualAngleSensor) setOffset(ch AngleChannel, rad float32) {
	s.staged[ch].Store(math.Float32bits(rad))
	s.pending[ch].Store(true)
	if !s.inFlight.Load() {
		s.applyStagedOffsets()
	}
}

func (s *DualAngleSensor) applyStagedOffsets() {
	for ch := range s.pending {
		if s.pending[ch].Swap(false) {
			s.offsets[ch].Store(s.staged[ch].Load())
		}
	}
}
