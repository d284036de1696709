package core

import "strconv"

// SensorFaultSource reports a latched sensor bus fault
type SensorFaultSource interface {
	Error() bool
	MotorReadCounter() uint32
	JointReadCounter() uint32
}

// maxCatchUpPeriods bounds how far behind the loop may fall before it skips
// ahead instead of running the missed ticks back to back
const maxCatchUpPeriods = 4

// ControlLoop runs Update and Commutate of one motor at a fixed rate on the
// timer scheduler. Faults are recorded in the event ring on the transition.
type ControlLoop struct {
	oid    uint8
	motor  *BLDCMotor
	sensor SensorFaultSource
	timer  Timer
	period uint32

	running      bool
	ticks        uint32
	faults       uint32
	overruns     uint32
	wasStale     bool
	wasSensorErr bool
}

// NewControlLoop creates a stopped loop calling the motor at frequency hz
func NewControlLoop(oid uint8, motor *BLDCMotor, sensor SensorFaultSource, hz float32) *ControlLoop {
	l := &ControlLoop{
		oid:    oid,
		motor:  motor,
		sensor: sensor,
		period: TimerPeriod(hz),
	}
	l.timer.Handler = l.tick
	return l
}

// Start schedules the first tick one period from now
func (l *ControlLoop) Start() {
	if l.running {
		return
	}
	l.running = true
	l.timer.WakeTime = GetTime() + l.period
	ScheduleTimer(&l.timer)
}

// Stop removes the loop from the scheduler. The bridge keeps its last state;
// callers switch it off through the motor.
func (l *ControlLoop) Stop() {
	if !l.running {
		return
	}
	l.running = false
	CancelTimer(&l.timer)
}

func (l *ControlLoop) tick(t *Timer) uint8 {
	if !l.running {
		return SF_DONE
	}
	l.ticks++

	ok := l.motor.Update()
	l.motor.Commutate()

	if !ok && !l.wasStale {
		l.faults++
		RecordEvent(EvtStaleSensor, l.oid, currentTime, l.ticks, l.sensor.MotorReadCounter())
		DebugAsync("actuator " + strconv.Itoa(int(l.oid)) + ": motor sensor stale, bridge off")
	}
	l.wasStale = !ok

	sensorErr := l.sensor.Error()
	if sensorErr && !l.wasSensorErr {
		l.faults++
		RecordEvent(EvtSensorError, l.oid, currentTime, l.sensor.MotorReadCounter(), l.sensor.JointReadCounter())
	}
	l.wasSensorErr = sensorErr

	t.WakeTime += l.period
	if behind := currentTime - t.WakeTime; int32(behind) > int32(maxCatchUpPeriods*l.period) {
		l.overruns++
		RecordEvent(EvtLoopOverrun, l.oid, currentTime, behind/l.period, 0)
		t.WakeTime = currentTime + l.period
	}
	return SF_RESCHEDULE
}

// Running reports whether the loop is scheduled
func (l *ControlLoop) Running() bool {
	return l.running
}

// Period returns the tick interval in timer ticks
func (l *ControlLoop) Period() uint32 {
	return l.period
}

// Ticks counts executed control periods
func (l *ControlLoop) Ticks() uint32 {
	return l.ticks
}

// Faults counts stale-sensor and sensor-bus fault transitions
func (l *ControlLoop) Faults() uint32 {
	return l.faults
}

// Overruns counts the times the loop fell too far behind and skipped ahead
func (l *ControlLoop) Overruns() uint32 {
	return l.overruns
}
