package core

import (
	"errors"
	"math"
	"testing"

	"tinygo.org/x/drivers/as560x"
)

// registerBus answers register reads from a per-register value table; two-byte reads are big-endian
type registerBus struct {
	addr  uint16
	regs  map[uint8]uint16
	reads []uint8
	err   error
}

func newAS5600Bus() *registerBus {
	return &registerBus{
		addr: uint16(as560x.DefaultAddress),
		regs: make(map[uint8]uint16),
	}
}

func (b *registerBus) Tx(addr uint16, w, r []byte) error {
	if b.err != nil {
		return b.err
	}
	if addr != b.addr {
		return errors.New("nack")
	}
	if len(w) == 0 || len(r) == 0 {
		return nil
	}
	reg := w[0]
	b.reads = append(b.reads, reg)
	v := b.regs[reg]
	if len(r) >= 2 {
		r[0] = byte(v >> 8)
		r[1] = byte(v)
	} else {
		r[0] = byte(v)
	}
	return nil
}

func TestProbeJointEncoderDetected(t *testing.T) {
	bus := newAS5600Bus()
	bus.regs[as560x.STATUS] = as560x.STATUS_MD
	bus.regs[as560x.RAW_ANGLE] = 1024

	probe, err := ProbeJointEncoder(bus, 0)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !probe.Detected {
		t.Error("Expected magnet detected")
	}
	if probe.Strength != as560x.MagnetOk || probe.StrengthString() != "ok" {
		t.Errorf("Expected strength ok, got %s", probe.StrengthString())
	}
	if probe.RawAngle != 1024 {
		t.Errorf("Expected raw angle 1024, got %d", probe.RawAngle)
	}

	// 1024 counts is a quarter turn
	if math.Abs(float64(probe.AngleRad())-math.Pi/2) > 1e-3 {
		t.Errorf("Expected angle π/2, got %v", probe.AngleRad())
	}
}

func TestProbeJointEncoderMagnetMissing(t *testing.T) {
	bus := newAS5600Bus()
	bus.regs[as560x.STATUS] = as560x.STATUS_ML

	probe, err := ProbeJointEncoder(bus, 0)
	if !errors.Is(err, ErrJointMagnetMissing) {
		t.Fatalf("Expected ErrJointMagnetMissing, got %v", err)
	}
	if probe.StrengthString() != "weak" {
		t.Errorf("Expected weak magnet, got %s", probe.StrengthString())
	}
}

func TestProbeJointEncoderCustomAddress(t *testing.T) {
	bus := newAS5600Bus()
	bus.addr = 0x37
	bus.regs[as560x.STATUS] = as560x.STATUS_MD

	if _, err := ProbeJointEncoder(bus, 0x37); err != nil {
		t.Errorf("Expected probe at 0x37 to succeed, got %v", err)
	}
	if _, err := ProbeJointEncoder(bus, 0); err == nil {
		t.Error("Expected probe at default address to fail")
	}
}

func TestProbeJointEncoderBusError(t *testing.T) {
	bus := newAS5600Bus()
	bus.err = errors.New("bus stuck")

	if _, err := ProbeJointEncoder(bus, 0); err == nil {
		t.Error("Expected bus error to propagate")
	}
}
