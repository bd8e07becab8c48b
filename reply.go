package rediswire

import (
	"fmt"

	"github.com/rediswire/rediswire/protocol"
)

// Reply helpers convert a (Value, error) pair from Do, Receive or a
// transaction cell into a concrete Go type. A non-nil input error is
// returned as is, so calls wrap directly:
//
//	n, err := rediswire.Int(c.Do(ctx, "INCR", "counter"))

// String converts a reply to a string. Null bulk replies yield ErrNil.
func String(v protocol.Value, err error) (string, error) {
	if err != nil {
		return "", err
	}
	switch v.Type {
	case protocol.TypeSimpleString:
		return string(v.Data), nil
	case protocol.TypeBulkString:
		if v.IsNull {
			return "", ErrNil
		}
		return string(v.Data), nil
	case protocol.TypeInteger:
		return v.String(), nil
	}
	return "", fmt.Errorf("unexpected reply type %c for string", v.Type)
}

// Bytes converts a reply to a byte slice. Null bulk replies yield ErrNil.
func Bytes(v protocol.Value, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	switch v.Type {
	case protocol.TypeSimpleString, protocol.TypeBulkString:
		if v.IsNull {
			return nil, ErrNil
		}
		return v.Data, nil
	}
	return nil, fmt.Errorf("unexpected reply type %c for bytes", v.Type)
}

// Int converts a reply to an int64
func Int(v protocol.Value, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	if v.Type != protocol.TypeInteger {
		return 0, fmt.Errorf("unexpected reply type %c for integer", v.Type)
	}
	return v.Integer, nil
}

// Bool converts an integer reply to a bool
func Bool(v protocol.Value, err error) (bool, error) {
	n, err := Int(v, err)
	if err != nil {
		return false, err
	}
	return n != 0, nil
}

// Values converts an array reply to its elements. Null arrays yield ErrNil.
func Values(v protocol.Value, err error) ([]protocol.Value, error) {
	if err != nil {
		return nil, err
	}
	if v.Type != protocol.TypeArray {
		return nil, fmt.Errorf("unexpected reply type %c for array", v.Type)
	}
	if v.IsNull {
		return nil, ErrNil
	}
	return v.Array, nil
}

// Strings converts an array reply to a string slice. Null elements
// become empty strings.
func Strings(v protocol.Value, err error) ([]string, error) {
	items, err := Values(v, err)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(items))
	for i, item := range items {
		if !item.IsNull {
			out[i] = string(item.Data)
		}
	}
	return out, nil
}

// StringMap converts a flat field-value array reply to a map, as
// returned by HGETALL and CONFIG GET
func StringMap(v protocol.Value, err error) (map[string]string, error) {
	items, err := Values(v, err)
	if err != nil {
		return nil, err
	}
	if len(items)%2 != 0 {
		return nil, fmt.Errorf("map reply has odd length %d", len(items))
	}
	out := make(map[string]string, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		out[string(items[i].Data)] = string(items[i+1].Data)
	}
	return out, nil
}
