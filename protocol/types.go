package protocol

import (
	"fmt"
	"strconv"
	"strings"
)

// ValueType represents the type of a RESP value
type ValueType byte

const (
	// RESP value types
	TypeSimpleString ValueType = '+'
	TypeError        ValueType = '-'
	TypeInteger      ValueType = ':'
	TypeBulkString   ValueType = '$'
	TypeArray        ValueType = '*'
)

// Value represents a parsed RESP reply
type Value struct {
	Type    ValueType
	Data    []byte
	Integer int64
	Array   []Value
	IsNull  bool
}

// String returns a string representation of the value
func (v Value) String() string {
	switch v.Type {
	case TypeSimpleString:
		return string(v.Data)
	case TypeError:
		return string(v.Data)
	case TypeInteger:
		return strconv.FormatInt(v.Integer, 10)
	case TypeBulkString:
		if v.IsNull {
			return "(nil)"
		}
		return string(v.Data)
	case TypeArray:
		if v.IsNull {
			return "(nil)"
		}
		parts := make([]string, len(v.Array))
		for i, item := range v.Array {
			parts[i] = item.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	default:
		return fmt.Sprintf("unknown type %c", v.Type)
	}
}

// Bytes returns the byte representation of the value
func (v Value) Bytes() []byte {
	return v.Data
}

// Int returns the integer value, or 0 if not an integer
func (v Value) Int() int64 {
	return v.Integer
}

// IsError returns true if this is an error reply
func (v Value) IsError() bool {
	return v.Type == TypeError
}

// ErrorText returns the error message if this is an error reply
func (v Value) ErrorText() string {
	if v.Type == TypeError {
		return string(v.Data)
	}
	return ""
}

// SimpleString builds a simple string value
func SimpleString(s string) Value {
	return Value{Type: TypeSimpleString, Data: []byte(s)}
}

// Err builds an error value
func Err(msg string) Value {
	return Value{Type: TypeError, Data: []byte(msg)}
}

// Integer builds an integer value
func Integer(n int64) Value {
	return Value{Type: TypeInteger, Integer: n}
}

// Bulk builds a bulk string value
func Bulk(s string) Value {
	return Value{Type: TypeBulkString, Data: []byte(s)}
}

// NullBulk builds a null bulk string value
func NullBulk() Value {
	return Value{Type: TypeBulkString, IsNull: true}
}

// Array builds an array value
func Array(items ...Value) Value {
	return Value{Type: TypeArray, Array: items}
}

// NullArray builds a null array value
func NullArray() Value {
	return Value{Type: TypeArray, IsNull: true}
}
