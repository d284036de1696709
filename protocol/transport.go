package protocol

import "sync/atomic"

// CommandHandler handles one decoded command. It decodes its own arguments
// from data, advancing the slice past them.
type CommandHandler func(cmdID uint16, data *[]byte) error

// Transport is the firmware end of the link: it validates incoming frames,
// dispatches their commands in sequence order and acknowledges every frame.
type Transport struct {
	scanner frameScanner

	// nextSeq is the sequence expected from the host. ACKs and outgoing
	// frames carry the same value.
	nextSeq atomic.Uint32

	output  OutputBuffer
	handler CommandHandler

	resetCallback func()
	flushCallback func()

	handlerErrors atomic.Uint32
	lastErr       error
}

func NewTransport(output OutputBuffer, handler CommandHandler) *Transport {
	t := &Transport{
		output:  output,
		handler: handler,
	}
	t.nextSeq.Store(SeqDest)
	return t
}

// Receive consumes every complete frame in input
func (t *Transport) Receive(input InputBuffer) {
	used := t.scanner.scan(input.Data(), t.handleFrame, t.sendAck)
	input.Pop(used)
}

func (t *Transport) handleFrame(f Frame) {
	expected := uint8(t.nextSeq.Load())

	// The host restarting its sequence means it reconnected
	if f.Seq == SeqDest && expected != SeqDest {
		t.nextSeq.Store(SeqDest)
		expected = SeqDest
		if t.resetCallback != nil {
			t.resetCallback()
		}
	}

	// Out-of-order frames are not dispatched; the ACK below doubles as a NAK
	if f.Seq == expected {
		t.nextSeq.Store(uint32(NextSeq(f.Seq)))
		if err := t.dispatch(f.Payload); err != nil {
			t.handlerErrors.Add(1)
			t.lastErr = err
		}
	}
	t.sendAck()
}

// dispatch runs the commands of one frame. A handler error abandons the rest
// of the frame but keeps the link in sync.
func (t *Transport) dispatch(payload []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			t.scanner.lost.Store(true)
			err = errHandlerPanic
		}
	}()

	for len(payload) > 0 {
		cmdID, derr := DecodeVLQUint(&payload)
		if derr != nil {
			t.scanner.lost.Store(true)
			return derr
		}
		if t.handler == nil {
			continue
		}
		if herr := t.handler(uint16(cmdID), &payload); herr != nil {
			return herr
		}
	}
	return nil
}

// sendAck writes an empty frame carrying the expected sequence and flushes it
// ahead of any response
func (t *Transport) sendAck() {
	var buf [FrameMinSize]byte
	t.output.Output(AppendFrame(buf[:0], uint8(t.nextSeq.Load()), nil))
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// EncodeFrame writes one frame whose payload is produced by frameData
func (t *Transport) EncodeFrame(frameData func(output OutputBuffer)) {
	start := t.output.CurPosition()
	t.output.Output([]byte{0, uint8(t.nextSeq.Load())})

	frameData(t.output)

	t.output.Update(start, uint8(len(t.output.DataSince(start))+FrameTrailerSize))
	crc := CRC16(t.output.DataSince(start))
	t.output.Output([]byte{byte(crc >> 8), byte(crc), FrameSync})
}

// SendCommand writes a frame holding one command or response
func (t *Transport) SendCommand(cmdID uint16, args func(output OutputBuffer)) {
	t.EncodeFrame(func(output OutputBuffer) {
		EncodeVLQUint(output, uint32(cmdID))
		if args != nil {
			args(output)
		}
	})
}

// Reset returns to the power-on state, as after a USB reconnect
func (t *Transport) Reset() {
	t.scanner.reset()
	t.nextSeq.Store(SeqDest)
	if t.resetCallback != nil {
		t.resetCallback()
	}
}

// SetResetCallback registers the hook run when the host restarts its sequence
func (t *Transport) SetResetCallback(callback func()) {
	t.resetCallback = callback
}

// SetFlushCallback registers the hook that pushes ACKs out immediately
func (t *Transport) SetFlushCallback(callback func()) {
	t.flushCallback = callback
}

// Flush pushes buffered output out through the flush callback, for handlers
// that produce more responses than the output buffer holds
func (t *Transport) Flush() {
	if t.flushCallback != nil {
		t.flushCallback()
	}
}

// Synchronized reports whether the receiver is currently in frame sync
func (t *Transport) Synchronized() bool {
	return t.scanner.synchronized()
}

// NextSequence returns the sequence expected from the host
func (t *Transport) NextSequence() uint8 {
	return uint8(t.nextSeq.Load())
}

// HandlerErrors counts frames abandoned because a handler failed
func (t *Transport) HandlerErrors() uint32 {
	return t.handlerErrors.Load()
}

// LastError returns the most recent handler failure
func (t *Transport) LastError() error {
	return t.lastErr
}
