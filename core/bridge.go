// Three-phase half-bridge output
// High sides are hardware PWM channels, low sides plain GPIO switches.
package core

// Phase is one of the three motor phases
type Phase uint8

const (
	PhaseU Phase = iota
	PhaseV
	PhaseW
	NumPhases
)

func (p Phase) String() string {
	switch p {
	case PhaseU:
		return "U"
	case PhaseV:
		return "V"
	case PhaseW:
		return "W"
	default:
		return "?"
	}
}

// BridgeOutput is the synchronous switch interface the motor controller drives.
// Writes always succeed from the caller's point of view.
type BridgeOutput interface {
	// SetHighDuty sets the high-side duty of a phase, 0 (off) to 1 (fully on)
	SetHighDuty(p Phase, duty float32)

	// SetLow switches the low side of a phase fully on or off
	SetLow(p Phase, on bool)
}

// BridgePins maps phases to hardware
type BridgePins struct {
	High       [NumPhases]PWMPin
	Low        [NumPhases]GPIOPin
	CycleTicks uint32 // PWM period in timer ticks
}

// PWMBridge implements BridgeOutput with a PWM driver and a GPIO driver
type PWMBridge struct {
	pwm      PWMDriver
	gpio     GPIODriver
	pins     BridgePins
	maxValue float32
}

// NewPWMBridge configures all six switches and leaves them off.
// Configuration errors are returned; later writes drop driver errors.
func NewPWMBridge(pwm PWMDriver, gpio GPIODriver, pins BridgePins) (*PWMBridge, error) {
	for p := PhaseU; p < NumPhases; p++ {
		if err := gpio.ConfigureOutput(pins.Low[p]); err != nil {
			return nil, err
		}
		if err := gpio.SetPin(pins.Low[p], false); err != nil {
			return nil, err
		}
		if _, err := pwm.ConfigureHardwarePWM(pins.High[p], pins.CycleTicks); err != nil {
			return nil, err
		}
	}

	b := &PWMBridge{
		pwm:      pwm,
		gpio:     gpio,
		pins:     pins,
		maxValue: float32(pwm.GetMaxValue()),
	}
	b.Off()
	return b, nil
}

// SetHighDuty writes duty scaled to the PWM range; out-of-range duty is clamped
func (b *PWMBridge) SetHighDuty(p Phase, duty float32) {
	if p >= NumPhases {
		return
	}
	if duty < 0 {
		duty = 0
	} else if duty > 1 {
		duty = 1
	}
	_ = b.pwm.SetDutyCycle(b.pins.High[p], PWMValue(duty*b.maxValue+0.5))
}

// SetLow switches a low side
func (b *PWMBridge) SetLow(p Phase, on bool) {
	if p >= NumPhases {
		return
	}
	_ = b.gpio.SetPin(b.pins.Low[p], on)
}

// Off turns every switch off, high sides first
func (b *PWMBridge) Off() {
	for p := PhaseU; p < NumPhases; p++ {
		b.SetHighDuty(p, 0)
	}
	for p := PhaseU; p < NumPhases; p++ {
		b.SetLow(p, false)
	}
}

// Release returns the high-side pins to GPIO mode. Used on shutdown.
func (b *PWMBridge) Release() {
	b.Off()
	for p := PhaseU; p < NumPhases; p++ {
		_ = b.pwm.DisablePWM(b.pins.High[p])
	}
}
