//go:build rp2040

package main

import (
	"gobldc/core"
	"gobldc/protocol"
	"machine"
	"time"
)

// Reference board wiring: high sides on PWM slices 5-7 channel A, low sides
// on the neighbouring B pins driven as plain GPIO
var bridgePins = core.BridgePins{
	High:       [core.NumPhases]core.PWMPin{10, 12, 14},
	Low:        [core.NumPhases]core.GPIOPin{11, 13, 15},
	CycleTicks: 50, // 20 kHz at the 1 MHz system timer
}

const actuatorOID = 0

var (
	inputBuffer  *protocol.FifoBuffer
	outputBuffer *protocol.ScratchOutput
	transport    *protocol.Transport
	encoders     *core.DeferredI2C

	msgerrors                uint32
	usbWasDisconnected       bool
	consecutiveWriteFailures uint32
)

func main() {
	// Clear any watchdog state left from a previous reset
	err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 0})
	if err != nil {
		return
	}

	InitUSB()
	InitClock()

	core.SetDebugWriter(func(s string) { println(s) })
	core.InitAsyncDebug()

	core.InitCoreCommands()
	core.InitActuatorCommands()

	bus, err := configureEncoderBus()
	if err != nil {
		println("encoder bus:", err.Error())
		halt()
	}
	encoders = attachEncoderBus(bus)

	bridge, err := core.NewPWMBridge(NewRP2040PWMDriver(), NewRPGPIODriver(), bridgePins)
	if err != nil {
		println("bridge:", err.Error())
		halt()
	}

	act := core.NewActuator(encoders, bridge, core.DefaultActuatorConfig())
	if err := core.RegisterActuator(actuatorOID, act); err != nil {
		println("actuator:", err.Error())
		halt()
	}

	// Every command must be registered before the dictionary is built
	core.GetGlobalDictionary().BuildDictionary()

	inputBuffer = protocol.NewFifoBuffer(256)
	outputBuffer = protocol.NewScratchOutput()

	transport = protocol.NewTransport(outputBuffer, core.DispatchCommand)
	transport.SetResetCallback(func() {
		inputBuffer.Reset()
		outputBuffer.Reset()
		core.ResetFirmwareState()
	})
	// The host waits for the ACK before it reads responses
	transport.SetFlushCallback(writeUSB)
	core.SetGlobalTransport(transport)

	core.SetResetHandler(func() {
		if err := machine.Watchdog.Configure(machine.WatchdogConfig{TimeoutMillis: 1}); err != nil {
			return
		}
		if err := machine.Watchdog.Start(); err != nil {
			return
		}
		for {
			time.Sleep(time.Millisecond)
		}
	})

	go usbReaderLoop()

	for {
		serviceOnce()
		time.Sleep(10 * time.Microsecond)
	}
}

// serviceOnce runs one main-loop pass. A panic drops the pending buffers
// and shuts the bridge off rather than crashing the firmware.
func serviceOnce() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			inputBuffer.Reset()
			outputBuffer.Reset()
			core.ShutdownAllActuators()
		}
	}()

	UpdateSystemTime()

	if inputBuffer.Available() > 0 {
		data := inputBuffer.Data()
		in := protocol.NewSliceInputBuffer(data)
		transport.Receive(in)
		if consumed := len(data) - in.Available(); consumed > 0 {
			inputBuffer.Pop(consumed)
		}
	}

	if len(outputBuffer.Result()) > 0 {
		writeUSB()
	}

	// Only after the ACK has been written
	core.CheckPendingReset()

	// Completion notifications of the encoder bus, then the control loop
	encoders.Service()
	core.ProcessTimers()
}

func usbReaderLoop() {
	defer func() {
		if r := recover(); r != nil {
			msgerrors++
			time.Sleep(100 * time.Millisecond)
			go usbReaderLoop()
		}
	}()

	for {
		if USBAvailable() > 0 {
			b, err := USBRead()
			if err != nil {
				msgerrors++
				time.Sleep(time.Millisecond)
				continue
			}

			// A host reappearing after a write failure gets a fresh link
			if usbWasDisconnected {
				usbWasDisconnected = false
				consecutiveWriteFailures = 0
				inputBuffer.Reset()
				outputBuffer.Reset()
				transport.Reset()
			}

			if inputBuffer.Write([]byte{b}) == 0 {
				msgerrors++
				time.Sleep(10 * time.Millisecond)
			}
		}
		time.Sleep(100 * time.Microsecond)
	}
}

// writeUSB drains the output buffer. After repeated failures the host is
// considered gone and pending data is dropped.
func writeUSB() {
	result := outputBuffer.Result()
	written := 0
	for written < len(result) {
		n, err := USBWriteBytes(result[written:])
		if err != nil || n == 0 {
			consecutiveWriteFailures++
			if consecutiveWriteFailures > 10 {
				usbWasDisconnected = true
				consecutiveWriteFailures = 0
				outputBuffer.Reset()
				inputBuffer.Reset()
			}
			return
		}
		written += n
	}
	consecutiveWriteFailures = 0
	outputBuffer.Reset()
}

// halt parks the firmware after a fatal boot error with the bridge released
func halt() {
	core.ShutdownAllActuators()
	for {
		time.Sleep(time.Second)
	}
}
