//go:build rp2040

package main

import (
	"gobldc/core"
	"runtime/volatile"
	"unsafe"
)

// RP2040 timer peripheral, a free-running 64-bit microsecond counter. The
// core extends the low word itself.
const (
	timerBase     = 0x40054000
	timerTIMERAWL = timerBase + 0x28
)

var timerRAWL = (*volatile.Register32)(unsafe.Pointer(uintptr(timerTIMERAWL)))

// InitClock publishes the MCU name; the core already publishes CLOCK_FREQ
func InitClock() {
	core.RegisterConstant("MCU", "rp2040")
}

// GetHardwareTime returns the low 32 bits of the microsecond counter
func GetHardwareTime() uint32 {
	return timerRAWL.Get()
}

// UpdateSystemTime copies the hardware counter into the core timer
func UpdateSystemTime() {
	core.SetTime(GetHardwareTime())
}
