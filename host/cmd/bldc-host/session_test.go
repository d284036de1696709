package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"
	"testing"

	"gobldc/config"
	"gobldc/host/mcu"
)

// recordingLink logs every call as "name oid args"
type recordingLink struct {
	calls []string
	state mcu.ActuatorState
	err   error
}

func (l *recordingLink) record(format string, args ...interface{}) error {
	l.calls = append(l.calls, fmt.Sprintf(format, args...))
	return l.err
}

func (l *recordingLink) Measure(oid uint8, enable bool) error {
	return l.record("measure %d %v", oid, enable)
}
func (l *recordingLink) ReadJoint(oid uint8) error { return l.record("joint %d", oid) }
func (l *recordingLink) Servo(oid uint8, enable bool) error {
	return l.record("servo %d %v", oid, enable)
}
func (l *recordingLink) WriteDuty(oid uint8, duty float64) error {
	return l.record("duty %d %v", oid, duty)
}
func (l *recordingLink) SetMaxDuty(oid uint8, ratio float64) error {
	return l.record("maxduty %d %v", oid, ratio)
}
func (l *recordingLink) ControlHole(oid uint8, sector int, duty float64) error {
	return l.record("hole %d %d %v", oid, sector, duty)
}
func (l *recordingLink) SetOffsets(oid uint8, motor, joint, sectorZero float64) error {
	return l.record("offsets %d %v %v %v", oid, motor, joint, sectorZero)
}
func (l *recordingLink) ResetFault(oid uint8) error { return l.record("reset %d", oid) }
func (l *recordingLink) QueryActuator(oid uint8) (mcu.ActuatorState, error) {
	err := l.record("query %d", oid)
	st := l.state
	st.OID = oid
	return st, err
}
func (l *recordingLink) EmergencyStop() error { return l.record("estop") }
func (l *recordingLink) Reconnect() error     { return l.record("reconnect") }
func (l *recordingLink) DumpEvents() ([]mcu.Event, error) {
	return []mcu.Event{{OID: 2, Type: 3, Name: "SERVO_ON", Clock: 10}}, l.record("events")
}
func (l *recordingLink) GetClock() (uint32, error) { return 1234, l.record("clock") }
func (l *recordingLink) SetDebug(enable bool) error {
	return l.record("debug %v", enable)
}
func (l *recordingLink) ApplyCalibration(a config.Actuator) error {
	return l.record("calibrate %s %d", a.Name, a.OID)
}
func (l *recordingLink) PrintDictionary(w io.Writer) {
	fmt.Fprintln(w, "dictionary")
}

func newTestSession() (*session, *recordingLink, *bytes.Buffer) {
	l := &recordingLink{}
	cfg := config.DefaultConfig()
	cfg.Actuators = []config.Actuator{
		{Name: "hip", OID: 1, MaxDuty: 1},
		{Name: "knee", OID: 2, MaxDuty: 0.5},
	}
	s := newSession(l, cfg)
	out := &bytes.Buffer{}
	s.out = out
	return s, l, out
}

func TestSessionCommands(t *testing.T) {
	s, l, _ := newTestSession()

	lines := []string{
		"measure on",
		"servo off",
		"duty -0.25",
		"maxduty 0.5",
		"hole 4 0.1",
		"offsets 0.1 -0.2 0.3",
		"joint",
		"reset",
		"estop",
		"debug on",
		"use knee",
		"servo on",
	}
	for _, line := range lines {
		if err := s.exec(line); err != nil {
			t.Fatalf("%q failed: %v", line, err)
		}
	}

	expected := []string{
		"measure 1 true",
		"servo 1 false",
		"duty 1 -0.25",
		"maxduty 1 0.5",
		"hole 1 4 0.1",
		"offsets 1 0.1 -0.2 0.3",
		"joint 1",
		"reset 1",
		"estop",
		"debug true",
		"servo 2 true",
	}
	if len(l.calls) != len(expected) {
		t.Fatalf("Expected %d calls, got %d: %v", len(expected), len(l.calls), l.calls)
	}
	for i := range expected {
		if l.calls[i] != expected[i] {
			t.Errorf("Call %d: expected %q, got %q", i, expected[i], l.calls[i])
		}
	}
}

func TestSessionUsage(t *testing.T) {
	s, l, _ := newTestSession()

	for _, line := range []string{
		"measure",
		"servo maybe",
		"duty",
		"hole 1",
		"offsets 1 2",
		"watch",
		"watch 0",
		"use",
		"bogus",
	} {
		if err := s.exec(line); !errors.Is(err, errUsage) {
			t.Errorf("%q: expected usage error, got %v", line, err)
		}
	}

	if err := s.exec("duty 1.5"); err == nil {
		t.Error("Expected duty above 1 to be rejected")
	}
	if err := s.exec("maxduty -0.1"); err == nil {
		t.Error("Expected negative ratio to be rejected")
	}
	if err := s.exec("offsets a b c"); err == nil {
		t.Error("Expected non-numeric offsets to be rejected")
	}
	if err := s.exec("use elbow"); !errors.Is(err, errUnknownActuator) {
		t.Errorf("Expected errUnknownActuator, got %v", err)
	}
	if len(l.calls) != 0 {
		t.Errorf("Expected no calls for rejected commands, got %v", l.calls)
	}
}

func TestSessionUseByOID(t *testing.T) {
	s, l, out := newTestSession()

	if err := s.exec("use 9"); err != nil {
		t.Fatalf("use failed: %v", err)
	}
	if err := s.exec("joint"); err != nil {
		t.Fatalf("joint failed: %v", err)
	}
	if l.calls[0] != "joint 9" {
		t.Errorf("Expected joint on oid 9, got %q", l.calls[0])
	}
	if !strings.Contains(out.String(), "oid 9") {
		t.Errorf("Expected selection message, got %q", out.String())
	}
}

func TestSessionOutput(t *testing.T) {
	s, l, out := newTestSession()
	l.state = mcu.ActuatorState{Sector: 4, Duty: 0.5, Flags: 0x03}

	if err := s.exec("watch 2 0"); err != nil {
		t.Fatalf("watch failed: %v", err)
	}
	if n := strings.Count(out.String(), "sector=4"); n != 2 {
		t.Errorf("Expected 2 state lines, got %d in %q", n, out.String())
	}
	if !strings.Contains(out.String(), "flags=[measuring,servo]") {
		t.Errorf("Expected flag names, got %q", out.String())
	}

	out.Reset()
	if err := s.exec("events"); err != nil {
		t.Fatalf("events failed: %v", err)
	}
	if !strings.Contains(out.String(), "SERVO_ON") {
		t.Errorf("Expected event listing, got %q", out.String())
	}

	out.Reset()
	if err := s.exec("clock"); err != nil {
		t.Fatalf("clock failed: %v", err)
	}
	if out.String() != "clock=1234\n" {
		t.Errorf("Expected clock=1234, got %q", out.String())
	}

	out.Reset()
	if err := s.exec("calibrate"); err != nil {
		t.Fatalf("calibrate failed: %v", err)
	}
	if l.calls[len(l.calls)-1] != "calibrate knee 2" {
		t.Errorf("Expected both actuators calibrated, got %v", l.calls)
	}
}

func TestSessionPropagatesLinkErrors(t *testing.T) {
	s, l, _ := newTestSession()
	l.err = errors.New("ack timeout")

	if err := s.exec("servo on"); err == nil || err.Error() != "ack timeout" {
		t.Errorf("Expected link error, got %v", err)
	}
	if err := s.exec("state"); err == nil {
		t.Error("Expected state to report the link error")
	}
}
