//go:build rp2040

package main

import (
	"gobldc/core"
	"machine"
)

// RPGPIODriver drives the low-side switches as plain outputs
type RPGPIODriver struct {
	pins map[core.GPIOPin]machine.Pin
}

func NewRPGPIODriver() *RPGPIODriver {
	return &RPGPIODriver{
		pins: make(map[core.GPIOPin]machine.Pin),
	}
}

// ConfigureOutput is idempotent; GPIO numbers map directly to machine pins
func (d *RPGPIODriver) ConfigureOutput(pin core.GPIOPin) error {
	if _, exists := d.pins[pin]; exists {
		return nil
	}
	p := machine.Pin(pin)
	p.Configure(machine.PinConfig{Mode: machine.PinOutput})
	d.pins[pin] = p
	return nil
}

func (d *RPGPIODriver) SetPin(pin core.GPIOPin, value bool) error {
	p, exists := d.pins[pin]
	if !exists {
		if err := d.ConfigureOutput(pin); err != nil {
			return err
		}
		p = d.pins[pin]
	}
	p.Set(value)
	return nil
}

func (d *RPGPIODriver) GetPin(pin core.GPIOPin) (bool, error) {
	p, exists := d.pins[pin]
	if !exists {
		return false, nil
	}
	return p.Get(), nil
}
