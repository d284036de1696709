package core

import (
	"errors"
	"math"
	"testing"

	"gobldc/protocol"
)

const testOID = 7

type testActuator struct {
	a      *Actuator
	d      *DeferredI2C
	fake   *fakeI2CBus
	bridge *recordingBridge
}

func setupActuator(t *testing.T, cfg ActuatorConfig) *testActuator {
	t.Helper()
	resetScheduler(t, 0)
	UnregisterAllActuators()
	ResetFirmwareState()
	InitCoreCommands()
	InitActuatorCommands()

	fake := newFakeI2CBus()
	d := NewDeferredI2C()
	d.AttachBus(cfg.BusID, fake)
	bridge := &recordingBridge{}
	a := NewActuator(d, bridge, cfg)
	if err := RegisterActuator(testOID, a); err != nil {
		t.Fatalf("RegisterActuator failed: %v", err)
	}

	t.Cleanup(func() {
		UnregisterAllActuators()
		ResetFirmwareState()
		SetGlobalTransport(nil)
		timerList = nil
	})
	return &testActuator{a: a, d: d, fake: fake, bridge: bridge}
}

func dispatchNamed(t *testing.T, name string, args ...int32) error {
	t.Helper()
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("Command %s not registered", name)
	}
	var data []byte
	for _, v := range args {
		data = protocol.AppendVLQInt(data, v)
	}
	return DispatchCommand(cmd.ID, &data)
}

type sentResponse struct {
	id   uint32
	args []byte
}

// captureResponses routes SendResponse into a scratch buffer
func captureResponses() *protocol.ScratchOutput {
	out := protocol.NewScratchOutput()
	SetGlobalTransport(protocol.NewTransport(out, nil))
	return out
}

// splitResponses cuts the captured frames apart
func splitResponses(t *testing.T, out *protocol.ScratchOutput) []sentResponse {
	t.Helper()
	var sent []sentResponse
	b := out.Result()
	for len(b) > 0 {
		n := int(b[0])
		if n < protocol.FrameMinSize || n > len(b) {
			t.Fatalf("Malformed frame length %d", n)
		}
		payload := append([]byte(nil), b[protocol.FrameHeaderSize:n-protocol.FrameTrailerSize]...)
		id, err := protocol.DecodeVLQUint(&payload)
		if err != nil {
			t.Fatalf("Bad response id: %v", err)
		}
		sent = append(sent, sentResponse{id: id, args: payload})
		b = b[n:]
	}
	return sent
}

func responseID(t *testing.T, name string) uint32 {
	t.Helper()
	cmd, ok := GetGlobalRegistry().GetCommandByName(name)
	if !ok {
		t.Fatalf("Response %s not registered", name)
	}
	return uint32(cmd.ID)
}

func TestRegisterActuator(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())

	if err := RegisterActuator(testOID, ta.a); !errors.Is(err, ErrActuatorExists) {
		t.Errorf("Expected ErrActuatorExists, got %v", err)
	}
	if a, err := GetActuator(testOID); err != nil || a != ta.a {
		t.Errorf("Expected registered actuator, got %v %v", a, err)
	}
	if ta.a.OID() != testOID {
		t.Errorf("Expected oid %d, got %d", testOID, ta.a.OID())
	}
	if _, err := GetActuator(testOID + 1); !errors.Is(err, ErrUnknownActuator) {
		t.Errorf("Expected ErrUnknownActuator, got %v", err)
	}
	if err := dispatchNamed(t, "actuator_servo", testOID+1, 1); !errors.Is(err, ErrUnknownActuator) {
		t.Errorf("Expected command on unknown oid to fail, got %v", err)
	}
}

func TestActuatorQueryReportsState(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())
	out := captureResponses()

	ta.fake.data[MotorSensorAddress] = [2]byte{0x40, 0x00}

	if err := dispatchNamed(t, "actuator_measure", testOID, 1); err != nil {
		t.Fatalf("actuator_measure failed: %v", err)
	}
	runCycles(ta.d, 2)

	if err := dispatchNamed(t, "actuator_servo", testOID, 1); err != nil {
		t.Fatalf("actuator_servo failed: %v", err)
	}
	if err := dispatchNamed(t, "actuator_write", testOID, 5000); err != nil {
		t.Fatalf("actuator_write failed: %v", err)
	}
	if ta.a.Motor.Read() != 0.5 {
		t.Errorf("Expected duty 0.5, got %v", ta.a.Motor.Read())
	}
	if err := dispatchNamed(t, "actuator_set_max_duty", testOID, 2500); err != nil {
		t.Fatalf("actuator_set_max_duty failed: %v", err)
	}
	if ta.a.Motor.Read() != 0.25 {
		t.Errorf("Expected duty re-clamped to 0.25, got %v", ta.a.Motor.Read())
	}

	if err := dispatchNamed(t, "actuator_query", testOID); err != nil {
		t.Fatalf("actuator_query failed: %v", err)
	}
	sent := splitResponses(t, out)
	if len(sent) != 1 || sent[0].id != responseID(t, "actuator_state") {
		t.Fatalf("Expected one actuator_state response, got %v", sent)
	}

	args := sent[0].args
	var fields [12]int32
	for i := range fields {
		v, err := protocol.DecodeVLQInt(&args)
		if err != nil {
			t.Fatalf("Field %d: %v", i, err)
		}
		fields[i] = v
	}

	if fields[0] != testOID {
		t.Errorf("Expected oid %d, got %d", testOID, fields[0])
	}
	if math.Abs(float64(fields[1])+math.Pi/2*1e6) > 200 {
		t.Errorf("Expected motor angle near -π/2 µrad, got %d", fields[1])
	}
	if fields[8] != 2500 {
		t.Errorf("Expected duty 2500, got %d", fields[8])
	}
	expectedFlags := int32(FlagMeasuring | FlagServoOn | FlagLoopRunning)
	if fields[9] != expectedFlags {
		t.Errorf("Expected flags 0x%02x, got 0x%02x", expectedFlags, fields[9])
	}
	if fields[10] != 1 || fields[11] != 1 {
		t.Errorf("Expected 1/1 reads, got %d/%d", fields[10], fields[11])
	}
}

func TestActuatorControlHoleCommand(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())

	if err := dispatchNamed(t, "actuator_control_hole", testOID, 8, 3000); err != nil {
		t.Fatalf("actuator_control_hole failed: %v", err)
	}
	if !ta.a.Motor.HoleFixed() {
		t.Error("Expected hole override active")
	}
	if expected := SectorDrive(2); ta.bridge.state() != expected {
		t.Errorf("Expected sector 8 to drive sector 2 %v, got %v", expected, ta.bridge.state())
	}

	events := RecentEvents()
	last := events[len(events)-1]
	if last.EventType != EvtHoleFix || last.Value1 != 2 || last.Value2 != 3000 {
		t.Errorf("Expected HOLE_FIX sector 2 duty 3000, got %+v", last)
	}
}

func TestActuatorSetOffsetsCommand(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())

	if err := dispatchNamed(t, "actuator_set_offsets", testOID, 1000000, -500000, 250000); err != nil {
		t.Fatalf("actuator_set_offsets failed: %v", err)
	}
	if ta.a.Sensor.MotorOffsetAngleRad() != 1.0 {
		t.Errorf("Expected motor offset 1.0, got %v", ta.a.Sensor.MotorOffsetAngleRad())
	}
	if ta.a.Sensor.JointOffsetAngleRad() != -0.5 {
		t.Errorf("Expected joint offset -0.5, got %v", ta.a.Sensor.JointOffsetAngleRad())
	}
	if ta.a.Motor.SectorZeroAngle() != 0.25 {
		t.Errorf("Expected sector zero 0.25, got %v", ta.a.Motor.SectorZeroAngle())
	}

	if err := dispatchNamed(t, "actuator_set_offsets", testOID, 1); err == nil {
		t.Error("Expected truncated arguments to fail")
	}
}

func TestActuatorReadJointCommand(t *testing.T) {
	cfg := DefaultActuatorConfig()
	cfg.Sensor.Policy = PollMotorPriority
	ta := setupActuator(t, cfg)

	ta.a.Measure(true)
	runCycles(ta.d, 2)
	if ta.a.Sensor.JointReadCounter() != 0 {
		t.Fatalf("Expected no joint reads without a request, got %d", ta.a.Sensor.JointReadCounter())
	}

	if err := dispatchNamed(t, "actuator_read_joint", testOID); err != nil {
		t.Fatalf("actuator_read_joint failed: %v", err)
	}
	runCycles(ta.d, 2)
	if ta.a.Sensor.JointReadCounter() != 1 {
		t.Errorf("Expected one joint read, got %d", ta.a.Sensor.JointReadCounter())
	}
}

func TestActuatorResetFaultResumesPolling(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())

	ta.a.Measure(true)
	ta.fake.err = errors.New("nack")
	ta.d.Service()

	if ta.a.Flags()&FlagSensorError == 0 {
		t.Fatal("Expected sensor error flag")
	}

	ta.fake.err = nil
	if err := dispatchNamed(t, "actuator_reset_fault", testOID); err != nil {
		t.Fatalf("actuator_reset_fault failed: %v", err)
	}
	if ta.a.Sensor.Error() {
		t.Error("Expected sensor error cleared")
	}
	if !ta.a.Sensor.Busy() {
		t.Error("Expected polling resumed")
	}

	runCycles(ta.d, 1)
	if ta.a.Sensor.MotorReadCounter() != 1 {
		t.Errorf("Expected a motor read after reset, got %d", ta.a.Sensor.MotorReadCounter())
	}
	if countEvents(EvtFaultReset) != 1 {
		t.Error("Expected a FAULT_RESET event")
	}
}

func TestEmergencyStopShutsActuatorsDown(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())
	out := captureResponses()

	ta.a.Measure(true)
	if err := ta.a.Servo(true); err != nil {
		t.Fatalf("Servo failed: %v", err)
	}
	ta.a.Motor.Write(0.5)
	if ta.bridge.off() {
		t.Fatal("Expected the bridge driving before the stop")
	}

	if err := dispatchNamed(t, "emergency_stop"); err != nil {
		t.Fatalf("emergency_stop failed: %v", err)
	}

	if !IsShutdown() {
		t.Error("Expected shutdown state")
	}
	if !ta.bridge.off() {
		t.Errorf("Expected all phases off, got %v", ta.bridge.state())
	}
	if f := ta.a.Flags(); f&(FlagMeasuring|FlagServoOn|FlagLoopRunning) != 0 {
		t.Errorf("Expected measuring, servo and loop stopped, flags 0x%02x", f)
	}

	sent := splitResponses(t, out)
	if len(sent) != 1 || sent[0].id != responseID(t, "shutdown") {
		t.Errorf("Expected a shutdown response, got %v", sent)
	}

	if err := dispatchNamed(t, "actuator_servo", testOID, 1); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown for servo on, got %v", err)
	}
	if err := dispatchNamed(t, "actuator_control_hole", testOID, 1, 1000); !errors.Is(err, ErrShutdown) {
		t.Errorf("Expected ErrShutdown for control hole, got %v", err)
	}
	if err := dispatchNamed(t, "actuator_servo", testOID, 0); err != nil {
		t.Errorf("Expected servo off to be allowed, got %v", err)
	}

	ResetFirmwareState()
	if err := ta.a.Servo(true); err != nil {
		t.Errorf("Expected servo allowed after reset, got %v", err)
	}
}

func TestActuatorLoopDrivesFromSensor(t *testing.T) {
	ta := setupActuator(t, DefaultActuatorConfig())

	ta.a.Measure(true)
	ta.a.Servo(true)
	ta.a.Motor.Write(0.3)

	// Sensor cycles and control ticks interleaved as in the main loop
	for i := 0; i < 100; i++ {
		ta.d.Service()
		advance(50, 50)
	}

	if ta.a.Loop.Ticks() != 100 {
		t.Errorf("Expected 100 control ticks, got %d", ta.a.Loop.Ticks())
	}
	if ta.a.Motor.Stale() {
		t.Error("Expected no stale fault while the sensor is polled")
	}
	if ta.bridge.violations != 0 {
		t.Errorf("Expected no shoot-through, got %d", ta.bridge.violations)
	}
	if expected := SectorDrive(ta.a.Motor.HoleState() + 1); ta.bridge.state() != expected {
		t.Errorf("Expected drive %v, got %v", expected, ta.bridge.state())
	}
}

func TestWireUnitConversions(t *testing.T) {
	if toMicro(1.5) != 1500000 {
		t.Errorf("Expected 1500000 µrad, got %d", toMicro(1.5))
	}
	if toMicro(1e6) != math.MaxInt32 || toMicro(-1e6) != math.MinInt32 {
		t.Error("Expected out-of-range angles to saturate")
	}
	if toMicro(float32(math.NaN())) != 0 {
		t.Error("Expected NaN to encode as 0")
	}
	if toRatio(-0.25) != -2500 {
		t.Errorf("Expected -2500, got %d", toRatio(-0.25))
	}
	if fromRatio(-2500) != -0.25 {
		t.Errorf("Expected -0.25, got %v", fromRatio(-2500))
	}
}
