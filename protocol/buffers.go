package protocol

import "sync"

// InputBuffer is a source of received bytes
type InputBuffer interface {
	// Data returns the unconsumed bytes
	Data() []byte

	// Available returns len(Data())
	Available() int

	// Pop consumes n bytes from the front
	Pop(n int)
}

// OutputBuffer is a sink for encoded bytes that supports back-patching a frame header
type OutputBuffer interface {
	// Output appends data
	Output(data []byte)

	// CurPosition returns the current write offset
	CurPosition() int

	// Update overwrites one already written byte
	Update(pos int, val byte)

	// DataSince returns the bytes written from pos to the current offset
	DataSince(pos int) []byte
}

// SliceInputBuffer is an InputBuffer over a caller-owned slice
type SliceInputBuffer struct {
	data []byte
}

func NewSliceInputBuffer(data []byte) *SliceInputBuffer {
	return &SliceInputBuffer{data: data}
}

func (s *SliceInputBuffer) Data() []byte { return s.data }

func (s *SliceInputBuffer) Available() int { return len(s.data) }

func (s *SliceInputBuffer) Pop(n int) {
	if n > len(s.data) {
		n = len(s.data)
	}
	s.data = s.data[n:]
}

// ScratchOutput is a fixed-capacity OutputBuffer. Writes past the capacity are
// dropped and latch Overflowed until Reset.
type ScratchOutput struct {
	buf      [OutputMax]byte
	pos      int
	overflow bool
}

func NewScratchOutput() *ScratchOutput {
	return &ScratchOutput{}
}

func (s *ScratchOutput) Output(data []byte) {
	n := copy(s.buf[s.pos:], data)
	s.pos += n
	if n < len(data) {
		s.overflow = true
	}
}

func (s *ScratchOutput) CurPosition() int { return s.pos }

func (s *ScratchOutput) Update(pos int, val byte) {
	if pos >= 0 && pos < s.pos {
		s.buf[pos] = val
	}
}

func (s *ScratchOutput) DataSince(pos int) []byte {
	if pos < 0 || pos > s.pos {
		return nil
	}
	return s.buf[pos:s.pos]
}

// Result returns everything written since the last Reset
func (s *ScratchOutput) Result() []byte { return s.buf[:s.pos] }

// Overflowed reports whether any write was truncated
func (s *ScratchOutput) Overflowed() bool { return s.overflow }

func (s *ScratchOutput) Reset() {
	s.pos = 0
	s.overflow = false
}

// FifoBuffer is a byte ring shared by a producer (serial reader) and a consumer
// (frame parser). Data linearizes the ring in place so the parser always sees
// one contiguous slice.
type FifoBuffer struct {
	mu    sync.Mutex
	buf   []byte
	tmp   []byte
	head  int
	count int
}

func NewFifoBuffer(capacity int) *FifoBuffer {
	return &FifoBuffer{
		buf: make([]byte, capacity),
		tmp: make([]byte, capacity),
	}
}

// Write appends as much of data as fits and returns the number of bytes stored
func (f *FifoBuffer) Write(data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for _, b := range data {
		if f.count == len(f.buf) {
			break
		}
		f.buf[(f.head+f.count)%len(f.buf)] = b
		f.count++
		n++
	}
	return n
}

// Read copies and consumes up to len(data) bytes
func (f *FifoBuffer) Read(data []byte) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	n := 0
	for n < len(data) && f.count > 0 {
		data[n] = f.buf[f.head]
		f.head = (f.head + 1) % len(f.buf)
		f.count--
		n++
	}
	return n
}

func (f *FifoBuffer) Available() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.count
}

// Free returns the space left for writing
func (f *FifoBuffer) Free() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buf) - f.count
}

// Data returns the buffered bytes as one slice, valid until the next Pop or Reset
func (f *FifoBuffer) Data() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.head+f.count > len(f.buf) {
		first := copy(f.tmp, f.buf[f.head:])
		copy(f.tmp[first:], f.buf[:f.count-first])
		copy(f.buf, f.tmp[:f.count])
		f.head = 0
	}
	return f.buf[f.head : f.head+f.count]
}

func (f *FifoBuffer) Pop(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if n > f.count {
		n = f.count
	}
	f.head = (f.head + n) % len(f.buf)
	f.count -= n
}

func (f *FifoBuffer) IsEmpty() bool {
	return f.Available() == 0
}

func (f *FifoBuffer) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.head = 0
	f.count = 0
}
