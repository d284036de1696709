package core

import (
	"errors"
	"sync/atomic"

	"gobldc/protocol"
)

var errUnknownResponse = errors.New("response not registered")

// FirmwareState holds the global firmware state
type FirmwareState struct {
	configCRC  atomic.Uint32
	isShutdown atomic.Bool
	moveCount  uint16
}

var globalState = &FirmwareState{
	moveCount: 16,
}

// InitCoreCommands registers all core protocol commands.
// Registration order matters for the first two: the host bootstraps with
// identify_response = 0 and identify = 1.
func InitCoreCommands() {
	RegisterCommand("identify_response", "offset=%u data=%*s", nil)   // ID 0
	RegisterCommand("identify", "offset=%u count=%c", handleIdentify) // ID 1

	RegisterCommand("get_uptime", "", handleGetUptime)
	RegisterCommand("get_clock", "", handleGetClock)
	RegisterCommand("get_config", "", handleGetConfig)
	RegisterCommand("config_reset", "", handleConfigReset)
	RegisterCommand("finalize_config", "crc=%u", handleFinalizeConfig)
	RegisterCommand("emergency_stop", "", handleEmergencyStop)
	RegisterCommand("reset", "", handleReset)
	RegisterCommand("set_debug", "enable=%c", handleSetDebug)
	RegisterCommand("dump_events", "", handleDumpEvents)

	RegisterResponse("clock", "clock=%u")
	RegisterResponse("uptime", "high=%u clock=%u")
	RegisterResponse("config", "is_config=%c crc=%u is_shutdown=%c move_count=%hu")
	RegisterResponse("shutdown", "clock=%u reason=%*s")
	RegisterResponse("actuator_event", "oid=%c type=%c clock=%u v1=%u v2=%u")

	RegisterConstant("CLOCK_FREQ", uint32(TimerFreq))
	RegisterConstant("EVENT_RING_SIZE", uint32(EventRingSize))

	eventNames := make([]string, EvtLoopOverrun+1)
	for i := 1; i < len(eventNames); i++ {
		eventNames[i] = EventName(uint8(i))
	}
	RegisterEnumeration("event_type", eventNames)
}

// handleIdentify returns chunks of the data dictionary
func handleIdentify(data *[]byte) error {
	offset, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	count, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}

	chunk := GetGlobalDictionary().GetChunk(offset, uint8(count))
	return SendResponse("identify_response", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, offset)
		protocol.EncodeVLQBytes(output, chunk)
	})
}

func handleGetUptime(data *[]byte) error {
	uptime := GetUptime()
	return SendResponse("uptime", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, uint32(uptime>>32))
		protocol.EncodeVLQUint(output, uint32(uptime))
	})
}

func handleGetClock(data *[]byte) error {
	clock := GetTime()
	return SendResponse("clock", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, clock)
	})
}

func handleGetConfig(data *[]byte) error {
	crc := globalState.configCRC.Load()
	return SendResponse("config", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, boolToUint(crc != 0))
		protocol.EncodeVLQUint(output, crc)
		protocol.EncodeVLQUint(output, boolToUint(IsShutdown()))
		protocol.EncodeVLQUint(output, uint32(globalState.moveCount))
	})
}

func handleConfigReset(data *[]byte) error {
	globalState.configCRC.Store(0)
	return nil
}

func handleFinalizeConfig(data *[]byte) error {
	crc, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	globalState.configCRC.Store(crc)
	return nil
}

// handleEmergencyStop shuts every actuator down and latches the shutdown state
func handleEmergencyStop(data *[]byte) error {
	TryShutdown("emergency stop")
	return nil
}

func handleSetDebug(data *[]byte) error {
	enable, err := protocol.DecodeVLQUint(data)
	if err != nil {
		return err
	}
	SetDebugEnabled(enable != 0)
	return nil
}

// dumpFlushEvery bounds the actuator_event frames buffered between flushes
const dumpFlushEvery = 8

// handleDumpEvents reports the event ring to the host and to the debug writer
func handleDumpEvents(data *[]byte) error {
	for i, evt := range RecentEvents() {
		evt := evt
		if i > 0 && i%dumpFlushEvery == 0 && globalTransport != nil {
			globalTransport.Flush()
		}
		err := SendResponse("actuator_event", func(output protocol.OutputBuffer) {
			protocol.EncodeVLQUint(output, uint32(evt.OID))
			protocol.EncodeVLQUint(output, uint32(evt.EventType))
			protocol.EncodeVLQUint(output, evt.Clock)
			protocol.EncodeVLQUint(output, evt.Value1)
			protocol.EncodeVLQUint(output, evt.Value2)
		})
		if err != nil {
			return err
		}
	}
	if debugEnabled {
		DumpEventRing()
	}
	return nil
}

// TryShutdown latches the shutdown state, switches every actuator off and
// reports the reason to the host. Drive commands fail until the host reconnects.
func TryShutdown(reason string) {
	globalState.isShutdown.Store(true)
	ShutdownAllActuators()
	DebugAsync("shutdown: " + reason)
	_ = SendResponse("shutdown", func(output protocol.OutputBuffer) {
		protocol.EncodeVLQUint(output, GetTime())
		protocol.EncodeVLQString(output, reason)
	})
}

// IsShutdown returns true if the firmware is in shutdown state
func IsShutdown() bool {
	return globalState.isShutdown.Load()
}

// ResetFirmwareState resets the firmware state for reconnection.
// Called when USB reconnects or the host restarts its sequence.
func ResetFirmwareState() {
	globalState.configCRC.Store(0)
	globalState.isShutdown.Store(false)
}

// SendResponse encodes a registered response through the global transport.
// Without a transport the response is dropped.
func SendResponse(responseName string, args func(output protocol.OutputBuffer)) error {
	cmd, ok := globalRegistry.GetCommandByName(responseName)
	if !ok {
		DebugAsync("response not registered: " + responseName)
		return errUnknownResponse
	}
	if globalTransport != nil {
		globalTransport.SendCommand(cmd.ID, args)
	}
	return nil
}

var globalTransport *protocol.Transport

// SetGlobalTransport sets the transport responses are written to
func SetGlobalTransport(transport *protocol.Transport) {
	globalTransport = transport
}

var globalResetHandler func()

// resetPending is set by the reset command; the reset itself runs from the
// main loop once the ACK has been written
var resetPending atomic.Bool

// SetResetHandler sets the platform-specific reset handler
func SetResetHandler(handler func()) {
	globalResetHandler = handler
}

func handleReset(_ *[]byte) error {
	resetPending.Store(true)
	return nil
}

// CheckPendingReset runs the reset handler if a reset was requested.
// Call from the main loop after pending output is written.
func CheckPendingReset() {
	if resetPending.Load() && globalResetHandler != nil {
		globalResetHandler()
	}
}

func boolToUint(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}
