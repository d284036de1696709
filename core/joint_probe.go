package core

import (
	"errors"
	"math"

	"tinygo.org/x/drivers"
	"tinygo.org/x/drivers/as560x"
)

var ErrJointMagnetMissing = errors.New("joint encoder: no magnet detected")

// JointProbe is the joint encoder state read once at boot, before async polling owns the bus
type JointProbe struct {
	Detected bool
	Strength as560x.MagnetStrength
	RawAngle uint16 // native 12-bit count
}

// AngleRad converts the probed RAW_ANGLE count with the joint channel scale.
// The polled channel reads the ANGLE register, which the AS5600 derives from
// RAW_ANGLE through its ZPOS/MPOS range, so the two agree only with the
// factory (unprogrammed) range.
func (p JointProbe) AngleRad() float32 {
	return WrapPi(float32(float64(p.RawAngle) * JointDegreesPerCnt * math.Pi / 180.0))
}

// StrengthString names the magnet strength for the debug log
func (p JointProbe) StrengthString() string {
	switch p.Strength {
	case as560x.MagnetTooWeak:
		return "weak"
	case as560x.MagnetTooStrong:
		return "strong"
	default:
		return "ok"
	}
}

// ProbeJointEncoder checks the AS5600 magnet and reads its raw angle over a blocking bus.
// A zero addr selects the device default. When the magnet is missing the probe is still
// returned alongside ErrJointMagnetMissing.
func ProbeJointEncoder(bus drivers.I2C, addr uint8) (JointProbe, error) {
	var probe JointProbe

	dev := as560x.NewAS5600(bus)
	if err := dev.Configure(as560x.Config{Address: addr}); err != nil {
		return probe, err
	}

	detected, strength, err := dev.MagnetStatus()
	if err != nil {
		return probe, err
	}
	probe.Detected = detected
	probe.Strength = strength

	raw, _, err := dev.RawAngle(as560x.ANGLE_NATIVE)
	if err != nil {
		return probe, err
	}
	probe.RawAngle = raw

	if !detected {
		return probe, ErrJointMagnetMissing
	}
	return probe, nil
}
