//go:build !tinygo

package core

type interruptState uintptr

// Host builds have no interrupts; notifications run on the caller's goroutine
func disableInterrupts() interruptState {
	return 0
}

func restoreInterrupts(interruptState) {}
