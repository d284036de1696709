//go:build rp2040

package main

import (
	"errors"
	"gobldc/core"
	"machine"
)

// Both encoders share I2C1 on the reference board
const (
	encoderSDA       = machine.GPIO6
	encoderSCL       = machine.GPIO7
	encoderFrequency = 400 * machine.KHz
)

// configureEncoderBus brings up the shared encoder bus. The returned bus is
// blocking; the probe uses it directly before the deferred driver takes over.
func configureEncoderBus() (*machine.I2C, error) {
	bus := machine.I2C1
	err := bus.Configure(machine.I2CConfig{
		Frequency: encoderFrequency,
		SDA:       encoderSDA,
		SCL:       encoderSCL,
	})
	if err != nil {
		return nil, err
	}
	return bus, nil
}

// attachEncoderBus probes the joint encoder once and hands the bus to a
// deferred driver serviced from the main loop
func attachEncoderBus(bus *machine.I2C) *core.DeferredI2C {
	probe, err := core.ProbeJointEncoder(bus, 0)
	switch {
	case errors.Is(err, core.ErrJointMagnetMissing):
		println("joint encoder: no magnet")
	case err != nil:
		println("joint encoder: probe failed:", err.Error())
	default:
		println("joint encoder: magnet", probe.StrengthString(), "raw", probe.RawAngle)
	}

	d := core.NewDeferredI2C()
	d.AttachBus(core.DefaultI2CBus, bus)
	return d
}
