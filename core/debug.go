package core

import "strconv"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// ActuatorEvent captures a state change of an actuator for post-mortem analysis
type ActuatorEvent struct {
	EventType uint8
	OID       uint8
	Clock     uint32
	Value1    uint32
	Value2    uint32
}

// Event type codes
const (
	EvtMeasureStart  = 1 // polling enabled; v1 = StartMeasure result
	EvtMeasureStop   = 2
	EvtServoOn       = 3
	EvtServoOff      = 4
	EvtStaleSensor   = 5 // v1 = loop tick, v2 = motor read counter
	EvtSensorError   = 6 // v1 = motor reads, v2 = joint reads
	EvtHoleFix       = 7 // v1 = sector, v2 = duty in 1/10000
	EvtFaultReset    = 8
	EvtEmergencyStop = 9
	EvtLoopOverrun   = 10 // v1 = ticks behind
)

const EventRingSize = 32

var (
	debugPrintln DebugWriter = func(s string) {}

	// Disabled by default; enable with set_debug enable=1
	debugEnabled bool = false

	eventRing     [EventRingSize]ActuatorEvent
	eventRingHead uint8

	debugChan chan string
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// InitAsyncDebug starts the goroutine draining DebugAsync messages.
// Call this from main() after SetDebugWriter.
func InitAsyncDebug() {
	debugChan = make(chan string, 16)
	go debugOutputWorker()
}

func debugOutputWorker() {
	for msg := range debugChan {
		if debugPrintln != nil {
			debugPrintln(msg)
		}
	}
}

// DebugPrintln writes a debug message synchronously when debug output is enabled
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// DebugAsync queues a debug message without blocking; it is dropped if the queue is full
func DebugAsync(msg string) {
	if debugChan != nil {
		select {
		case debugChan <- msg:
		default:
		}
	}
}

// RecordEvent appends an event to the ring, overwriting the oldest.
// Main-loop context only.
func RecordEvent(eventType, oid uint8, clock, value1, value2 uint32) {
	idx := eventRingHead
	eventRing[idx] = ActuatorEvent{
		EventType: eventType,
		OID:       oid,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	eventRingHead = (idx + 1) % EventRingSize
}

// RecentEvents returns the recorded events, oldest first
func RecentEvents() []ActuatorEvent {
	events := make([]ActuatorEvent, 0, EventRingSize)
	for i := uint8(0); i < EventRingSize; i++ {
		evt := eventRing[(eventRingHead+i)%EventRingSize]
		if evt.EventType != 0 {
			events = append(events, evt)
		}
	}
	return events
}

// EventName returns the log name of an event type
func EventName(eventType uint8) string {
	switch eventType {
	case EvtMeasureStart:
		return "MEASURE_START"
	case EvtMeasureStop:
		return "MEASURE_STOP"
	case EvtServoOn:
		return "SERVO_ON"
	case EvtServoOff:
		return "SERVO_OFF"
	case EvtStaleSensor:
		return "STALE_SENSOR!"
	case EvtSensorError:
		return "SENSOR_ERROR!"
	case EvtHoleFix:
		return "HOLE_FIX"
	case EvtFaultReset:
		return "FAULT_RESET"
	case EvtEmergencyStop:
		return "ESTOP!"
	case EvtLoopOverrun:
		return "LOOP_OVERRUN"
	default:
		return "UNKNOWN"
	}
}

// DumpEventRing writes the ring through the debug writer, oldest first.
// Call on shutdown or from a host request, never from the control loop.
func DumpEventRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[EVENTS] === Event Ring Dump ===")
	for _, evt := range RecentEvents() {
		debugPrintln("[EVENTS] " + EventName(evt.EventType) +
			" oid=" + strconv.Itoa(int(evt.OID)) +
			" clock=" + strconv.FormatUint(uint64(evt.Clock), 10) +
			" v1=" + strconv.FormatUint(uint64(evt.Value1), 10) +
			" v2=" + strconv.FormatUint(uint64(evt.Value2), 10))
	}
	debugPrintln("[EVENTS] === End Dump ===")
}

// ClearEventRing empties the ring
func ClearEventRing() {
	for i := range eventRing {
		eventRing[i] = ActuatorEvent{}
	}
	eventRingHead = 0
}
