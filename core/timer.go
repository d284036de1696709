package core

import "sync/atomic"

// TimerFreq is the rate of the system tick counter (RP2040 microsecond timer)
const TimerFreq = 1000000

var (
	// systemTicks is copied from the hardware counter by the main loop and
	// read from command handlers and timer callbacks
	systemTicks atomic.Uint32

	// uptimeHigh counts wraps of systemTicks seen by SetTime
	uptimeHigh atomic.Uint32
)

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return systemTicks.Load()
}

// SetTime publishes a new hardware tick value. A value below the previous
// one is taken as a 32-bit wrap.
func SetTime(ticks uint32) {
	if prev := systemTicks.Swap(ticks); ticks < prev {
		uptimeHigh.Add(1)
	}
}

// GetUptime returns 64-bit uptime in timer ticks
func GetUptime() uint64 {
	return uint64(uptimeHigh.Load())<<32 | uint64(GetTime())
}

// TimerPeriod returns the number of ticks between calls at frequency hz, at least 1
func TimerPeriod(hz float32) uint32 {
	if hz <= 0 {
		return 1
	}
	p := uint32(float32(TimerFreq)/hz + 0.5)
	if p == 0 {
		p = 1
	}
	return p
}

// ProcessTimers runs every scheduled timer that is due
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
