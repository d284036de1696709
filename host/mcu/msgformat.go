package mcu

import (
	"errors"
	"fmt"
	"strings"

	"gobldc/protocol"
)

var (
	ErrUnknownMessage = errors.New("unknown message")
	ErrArgCount       = errors.New("wrong number of arguments")
)

type paramKind uint8

const (
	paramInt paramKind = iota
	paramUint
	paramBytes
)

// Param is one "name=%x" field of a message format
type Param struct {
	Name string
	kind paramKind
}

// MessageFormat is a command or response as published in the dictionary
type MessageFormat struct {
	ID     uint16
	Name   string
	Params []Param
}

// Message is a decoded response. Integer fields are int64, string fields []byte.
type Message struct {
	ID     uint16
	Name   string
	Params map[string]interface{}
	order  []string
}

// parseMessageFormat splits a dictionary signature such as
// "actuator_write oid=%c duty=%i" into its name and typed parameters
func parseMessageFormat(sig string, id int) (*MessageFormat, error) {
	fields := strings.Fields(sig)
	if len(fields) == 0 {
		return nil, fmt.Errorf("empty signature for id %d", id)
	}

	f := &MessageFormat{ID: uint16(id), Name: fields[0]}
	for _, field := range fields[1:] {
		name, format, ok := strings.Cut(field, "=")
		if !ok {
			return nil, fmt.Errorf("%s: malformed parameter %q", f.Name, field)
		}
		var kind paramKind
		switch format {
		case "%i":
			kind = paramInt
		case "%u", "%c", "%hu":
			kind = paramUint
		case "%*s", "%s", "%.*s":
			kind = paramBytes
		default:
			return nil, fmt.Errorf("%s: unsupported format %q", f.Name, format)
		}
		f.Params = append(f.Params, Param{Name: name, kind: kind})
	}
	return f, nil
}

// Encode writes the arguments in parameter order.
// Integers may be any Go integer type or bool; byte strings are []byte or string.
func (f *MessageFormat) Encode(output protocol.OutputBuffer, args ...interface{}) error {
	if len(args) != len(f.Params) {
		return fmt.Errorf("%s: got %d, want %d: %w", f.Name, len(args), len(f.Params), ErrArgCount)
	}

	for i, p := range f.Params {
		if p.kind == paramBytes {
			switch v := args[i].(type) {
			case []byte:
				protocol.EncodeVLQBytes(output, v)
			case string:
				protocol.EncodeVLQString(output, v)
			default:
				return fmt.Errorf("%s: %s wants a byte string, got %T", f.Name, p.Name, args[i])
			}
			continue
		}

		v, ok := toInt64(args[i])
		if !ok {
			return fmt.Errorf("%s: %s wants an integer, got %T", f.Name, p.Name, args[i])
		}
		protocol.EncodeVLQInt(output, int32(v))
	}
	return nil
}

// Decode parses the arguments following the message ID
func (f *MessageFormat) Decode(data []byte) (Message, error) {
	msg := Message{ID: f.ID, Name: f.Name, Params: make(map[string]interface{}, len(f.Params))}
	for _, p := range f.Params {
		switch p.kind {
		case paramInt:
			v, err := protocol.DecodeVLQInt(&data)
			if err != nil {
				return msg, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			msg.Params[p.Name] = int64(v)
		case paramUint:
			v, err := protocol.DecodeVLQUint(&data)
			if err != nil {
				return msg, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			msg.Params[p.Name] = int64(v)
		case paramBytes:
			v, err := protocol.DecodeVLQBytes(&data)
			if err != nil {
				return msg, fmt.Errorf("%s.%s: %w", f.Name, p.Name, err)
			}
			msg.Params[p.Name] = append([]byte(nil), v...)
		}
		msg.order = append(msg.order, p.Name)
	}
	return msg, nil
}

// Int returns an integer field, 0 if absent
func (m Message) Int(name string) int64 {
	v, _ := m.Params[name].(int64)
	return v
}

// Bytes returns a byte string field, nil if absent
func (m Message) Bytes(name string) []byte {
	v, _ := m.Params[name].([]byte)
	return v
}

// String renders the message the way it appears in the dictionary
func (m Message) String() string {
	var sb strings.Builder
	sb.WriteString(m.Name)
	for _, name := range m.order {
		switch v := m.Params[name].(type) {
		case []byte:
			fmt.Fprintf(&sb, " %s=%q", name, v)
		default:
			fmt.Fprintf(&sb, " %s=%v", name, v)
		}
	}
	return sb.String()
}

func toInt64(v interface{}) (int64, bool) {
	switch v := v.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	case uint:
		return int64(v), true
	case uint8:
		return int64(v), true
	case uint16:
		return int64(v), true
	case uint32:
		return int64(v), true
	case uint64:
		return int64(v), true
	case bool:
		if v {
			return 1, true
		}
		return 0, true
	default:
		return 0, false
	}
}
