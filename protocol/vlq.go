package protocol

import "errors"

var (
	ErrTruncated  = errors.New("protocol: truncated argument")
	ErrVLQTooLong = errors.New("protocol: VLQ longer than 5 bytes")

	errHandlerPanic = errors.New("protocol: command handler panicked")
)

// vlqMaxLen is the longest encoding of a 32-bit value
const vlqMaxLen = 5

// AppendVLQInt appends the variable-length encoding of v.
//
// Values are written most significant group first, 7 bits per byte, with the
// high bit marking continuation. The leading group is sign-extended on decode
// when its bits 5 and 6 are both set, so each length covers [-2^(7n-2), 3*2^(7n-2)).
func AppendVLQInt(dst []byte, v int32) []byte {
	groups := 1
	for groups < vlqMaxLen {
		shift := uint(7*groups - 2)
		if int64(v) >= -(int64(1)<<shift) && int64(v) < int64(3)<<shift {
			break
		}
		groups++
	}

	for i := groups - 1; i > 0; i-- {
		dst = append(dst, byte(v>>(7*uint(i)))&0x7F|0x80)
	}
	return append(dst, byte(v)&0x7F)
}

// EncodeVLQInt writes a signed argument
func EncodeVLQInt(output OutputBuffer, v int32) {
	var buf [vlqMaxLen]byte
	output.Output(AppendVLQInt(buf[:0], v))
}

// EncodeVLQUint writes an unsigned argument. Values above 2^31 round-trip
// through the same bit pattern as their signed counterpart.
func EncodeVLQUint(output OutputBuffer, v uint32) {
	EncodeVLQInt(output, int32(v))
}

// ParseVLQInt decodes one value from the front of data and reports the bytes used
func ParseVLQInt(data []byte) (int32, int, error) {
	if len(data) == 0 {
		return 0, 0, ErrTruncated
	}

	c := data[0]
	v := uint32(c & 0x7F)
	if c&0x60 == 0x60 {
		v |= ^uint32(0x1F)
	}

	n := 1
	for c&0x80 != 0 {
		if n >= len(data) {
			return 0, 0, ErrTruncated
		}
		if n >= vlqMaxLen {
			return 0, 0, ErrVLQTooLong
		}
		c = data[n]
		v = v<<7 | uint32(c&0x7F)
		n++
	}
	return int32(v), n, nil
}

// DecodeVLQInt decodes a signed argument and advances data past it
func DecodeVLQInt(data *[]byte) (int32, error) {
	v, n, err := ParseVLQInt(*data)
	if err != nil {
		return 0, err
	}
	*data = (*data)[n:]
	return v, nil
}

// DecodeVLQUint decodes an unsigned argument and advances data past it
func DecodeVLQUint(data *[]byte) (uint32, error) {
	v, err := DecodeVLQInt(data)
	return uint32(v), err
}

// EncodeVLQBytes writes a length-prefixed byte string
func EncodeVLQBytes(output OutputBuffer, data []byte) {
	EncodeVLQUint(output, uint32(len(data)))
	output.Output(data)
}

// DecodeVLQBytes decodes a length-prefixed byte string. The result aliases data.
func DecodeVLQBytes(data *[]byte) ([]byte, error) {
	length, err := DecodeVLQUint(data)
	if err != nil {
		return nil, err
	}
	if uint32(len(*data)) < length {
		return nil, ErrTruncated
	}
	out := (*data)[:length:length]
	*data = (*data)[length:]
	return out, nil
}

// EncodeVLQString writes a length-prefixed string
func EncodeVLQString(output OutputBuffer, s string) {
	EncodeVLQBytes(output, []byte(s))
}

// DecodeVLQString decodes a length-prefixed string
func DecodeVLQString(data *[]byte) (string, error) {
	b, err := DecodeVLQBytes(data)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
