//go:build rp2040

package main

import (
	"errors"
	"gobldc/core"
	"machine"

	tinygopwm "github.com/ralvarezdev/tinygo-pwm"
)

// pwmMax is the duty resolution handed to the bridge
const pwmMax = 1000

var errPWMNotConfigured = errors.New("pwm: pin not configured")

type pwmChannel struct {
	slice   tinygopwm.PWM
	channel uint8
}

// RP2040PWMDriver drives the high-side switches from the hardware PWM slices.
// GPIO n belongs to slice (n>>1)&7, channel A for even pins and B for odd.
type RP2040PWMDriver struct {
	channels map[core.PWMPin]pwmChannel
}

func NewRP2040PWMDriver() *RP2040PWMDriver {
	return &RP2040PWMDriver{
		channels: make(map[core.PWMPin]pwmChannel),
	}
}

func (d *RP2040PWMDriver) GetMaxValue() uint32 {
	return pwmMax
}

// ConfigureHardwarePWM sets the slice period from cycleTicks of the system timer.
// Pins sharing a slice share its period; the last configuration wins.
func (d *RP2040PWMDriver) ConfigureHardwarePWM(pin core.PWMPin, cycleTicks uint32) (uint32, error) {
	slice := pwmSlice(uint8((pin >> 1) & 0x7))

	period := uint64(cycleTicks) * 1000000000 / core.TimerFreq
	if err := slice.Configure(machine.PWMConfig{Period: period}); err != nil {
		return 0, err
	}

	ch, err := slice.Channel(machine.Pin(pin))
	if err != nil {
		return 0, err
	}
	tinygopwm.SetDuty(slice, ch, 0, pwmMax)
	d.channels[pin] = pwmChannel{slice: slice, channel: ch}
	return cycleTicks, nil
}

// SetDutyCycle sets value/pwmMax of the slice period
func (d *RP2040PWMDriver) SetDutyCycle(pin core.PWMPin, value core.PWMValue) error {
	c, ok := d.channels[pin]
	if !ok {
		return errPWMNotConfigured
	}
	if value > pwmMax {
		value = pwmMax
	}
	tinygopwm.SetDuty(c.slice, c.channel, uint32(value), pwmMax)
	return nil
}

// DisablePWM holds the output low. TinyGo has no way to return the pin to GPIO mode.
func (d *RP2040PWMDriver) DisablePWM(pin core.PWMPin) error {
	c, ok := d.channels[pin]
	if !ok {
		return nil
	}
	tinygopwm.SetDuty(c.slice, c.channel, 0, pwmMax)
	delete(d.channels, pin)
	return nil
}

// pwmSlice returns TinyGo's unexported *pwmGroup for slice n
func pwmSlice(n uint8) tinygopwm.PWM {
	switch n {
	case 0:
		return machine.PWM0
	case 1:
		return machine.PWM1
	case 2:
		return machine.PWM2
	case 3:
		return machine.PWM3
	case 4:
		return machine.PWM4
	case 5:
		return machine.PWM5
	case 6:
		return machine.PWM6
	default:
		return machine.PWM7
	}
}
