package protocol

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"
)

var (
	ErrAckTimeout      = errors.New("protocol: ACK timeout")
	ErrResponseTimeout = errors.New("protocol: response timeout")
	ErrTransportClosed = errors.New("protocol: transport closed")
	ErrFrameTooLong    = errors.New("protocol: command does not fit in one frame")
	ErrNak             = errors.New("protocol: frame not acknowledged")
)

// DefaultAckTimeout bounds the wait for each ACK
const DefaultAckTimeout = 2 * time.Second

// hostRetransmits is how many times a NAKed frame is resent
const hostRetransmits = 2

// ResponseHandler receives every response frame's command ID and arguments
type ResponseHandler func(cmdID uint16, data *[]byte) error

// HostTransport is the host end of the link: it frames commands, waits for
// their ACK and queues responses from the firmware.
type HostTransport struct {
	port io.ReadWriteCloser

	seq     atomic.Uint32 // sequence of the next outgoing frame
	scanner frameScanner
	input   *FifoBuffer

	writeMu sync.Mutex
	readMu  sync.Mutex

	acks      chan Frame
	responses chan Frame
	handler   ResponseHandler

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewHostTransport starts reading from port immediately
func NewHostTransport(port io.ReadWriteCloser) *HostTransport {
	t := &HostTransport{
		port:      port,
		input:     NewFifoBuffer(1024),
		acks:      make(chan Frame, 4),
		responses: make(chan Frame, 32),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
	t.seq.Store(SeqDest)

	go t.readLoop()
	return t
}

// SetResponseHandler registers a callback for every response.
// Set it before sending the first command.
func (t *HostTransport) SetResponseHandler(handler ResponseHandler) {
	t.handler = handler
}

// SendCommand sends one command and waits for its ACK
func (t *HostTransport) SendCommand(cmdID uint16, args func(output OutputBuffer)) error {
	return t.SendCommandWithTimeout(cmdID, args, DefaultAckTimeout)
}

// SendCommandWithTimeout sends one command, resending it if the firmware NAKs.
// The firmware ACKs with the sequence it expects next; anything other than the
// successor of the sent sequence is a NAK.
func (t *HostTransport) SendCommandWithTimeout(cmdID uint16, args func(output OutputBuffer), timeout time.Duration) error {
	payload := NewScratchOutput()
	EncodeVLQUint(payload, uint32(cmdID))
	if args != nil {
		args(payload)
	}
	if len(payload.Result()) > FramePayloadMax {
		return fmt.Errorf("command %d: %d byte payload: %w", cmdID, len(payload.Result()), ErrFrameTooLong)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	t.drainAcks()
	seq := uint8(t.seq.Load())

	for attempt := 0; attempt <= hostRetransmits; attempt++ {
		if _, err := t.port.Write(AppendFrame(nil, seq, payload.Result())); err != nil {
			return fmt.Errorf("write frame: %w", err)
		}

		expected, err := t.waitAck(timeout)
		if err != nil {
			return fmt.Errorf("seq 0x%02x: %w", seq, err)
		}
		if expected == NextSeq(seq) {
			t.seq.Store(uint32(expected))
			return nil
		}
		// NAK: resend with the sequence the firmware is waiting for
		seq = expected
	}
	return fmt.Errorf("command %d seq 0x%02x: %w", cmdID, seq, ErrNak)
}

// waitAck returns the sequence the firmware expects next
func (t *HostTransport) waitAck(timeout time.Duration) (uint8, error) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case ack := <-t.acks:
		return ack.Seq, nil
	case <-deadline.C:
		return 0, fmt.Errorf("after %v: %w", timeout, ErrAckTimeout)
	case <-t.stop:
		return 0, ErrTransportClosed
	}
}

func (t *HostTransport) drainAcks() {
	for {
		select {
		case <-t.acks:
		default:
			return
		}
	}
}

// ReceiveResponse returns the oldest queued response frame
func (t *HostTransport) ReceiveResponse(timeout time.Duration) (Frame, error) {
	select {
	case f := <-t.responses:
		return f, nil
	case <-time.After(timeout):
		return Frame{}, fmt.Errorf("after %v: %w", timeout, ErrResponseTimeout)
	case <-t.stop:
		return Frame{}, ErrTransportClosed
	}
}

func (t *HostTransport) readLoop() {
	defer close(t.done)

	buf := make([]byte, 256)
	for {
		select {
		case <-t.stop:
			return
		default:
		}

		n, err := t.port.Read(buf)
		if n > 0 {
			t.input.Write(buf[:n])
			t.process()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}
	}
}

func (t *HostTransport) process() {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	used := t.scanner.scan(t.input.Data(), t.deliver, nil)
	t.input.Pop(used)
}

// deliver copies the frame out of the receive buffer and routes it
func (t *HostTransport) deliver(f Frame) {
	f.Payload = append([]byte(nil), f.Payload...)

	if f.IsAck() {
		select {
		case t.acks <- f:
		default:
		}
		return
	}

	if t.handler != nil {
		args := f.Payload
		if cmdID, err := DecodeVLQUint(&args); err == nil {
			_ = t.handler(uint16(cmdID), &args)
		}
	}

	// Keep the newest responses when nobody is reading
	for {
		select {
		case t.responses <- f:
			return
		default:
		}
		select {
		case <-t.responses:
		default:
		}
	}
}

// Reset restarts the sequence and discards queued input, ACKs and responses.
// The firmware treats the restarted sequence as a reconnect.
func (t *HostTransport) Reset() {
	t.readMu.Lock()
	defer t.readMu.Unlock()

	t.scanner.reset()
	t.seq.Store(SeqDest)
	t.input.Reset()
	t.drainAcks()
	for {
		select {
		case <-t.responses:
		default:
			return
		}
	}
}

// Sequence returns the sequence of the next outgoing frame
func (t *HostTransport) Sequence() uint8 {
	return uint8(t.seq.Load())
}

// Close stops the reader and closes the port
func (t *HostTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		err = t.port.Close()
		<-t.done
	})
	return err
}
