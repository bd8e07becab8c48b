package protocol

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"
)

const (
	// CRLF is the Redis protocol line terminator
	CRLF = "\r\n"

	// maxBulkSize is the maximum size for bulk strings (1GB)
	maxBulkSize = 1024 * 1024 * 1024

	// maxArraySize is the maximum size for arrays
	maxArraySize = 1024 * 1024
)

var (
	crlfBytes = []byte(CRLF)

	// ErrMalformed indicates a frame that violates the RESP grammar.
	// Errors wrapping it are protocol faults, not transport faults; the
	// connection carrying them is no longer usable.
	ErrMalformed = errors.New("malformed RESP frame")
)

// Reader is a streaming RESP protocol reader that parses one complete
// reply per call without retaining previously decoded replies
type Reader struct {
	br *bufio.Reader
}

// NewReader creates a new streaming RESP reader
func NewReader(r io.Reader) *Reader {
	return &Reader{
		br: bufio.NewReader(r),
	}
}

// ReadNext reads the next RESP value from the stream. It consumes exactly
// one reply's bytes and never returns a partially decoded reply: the
// result is either a complete Value or an error.
func (r *Reader) ReadNext() (Value, error) {
	typeByte, err := r.br.ReadByte()
	if err != nil {
		return Value{}, err
	}

	switch ValueType(typeByte) {
	case TypeSimpleString:
		return r.readSimpleString()
	case TypeError:
		return r.readError()
	case TypeInteger:
		return r.readInteger()
	case TypeBulkString:
		return r.readBulkString()
	case TypeArray:
		return r.readArray()
	default:
		return Value{}, fmt.Errorf("%w: unknown type byte %q (0x%02x)", ErrMalformed, typeByte, typeByte)
	}
}

// readSimpleString reads a simple string value
func (r *Reader) readSimpleString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeSimpleString,
		Data: line,
	}, nil
}

// readError reads an error value
func (r *Reader) readError() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeError,
		Data: line,
	}, nil
}

// readInteger reads an integer value
func (r *Reader) readInteger() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	integer, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid integer: %s", ErrMalformed, line)
	}

	return Value{
		Type:    TypeInteger,
		Integer: integer,
	}, nil
}

// parseInt64 parses an int64 from a byte slice without allocation
func parseInt64(b []byte) (int64, error) {
	if len(b) == 0 {
		return 0, strconv.ErrSyntax
	}

	var neg bool
	var i int

	switch b[0] {
	case '-':
		neg = true
		i = 1
	case '+':
		i = 1
	default:
		i = 0
	}

	if i >= len(b) {
		return 0, strconv.ErrSyntax
	}

	var n int64
	for ; i < len(b); i++ {
		if b[i] < '0' || b[i] > '9' {
			return 0, strconv.ErrSyntax
		}

		// Check for overflow
		if n > (1<<63-1)/10 {
			return 0, strconv.ErrRange
		}

		n = n*10 + int64(b[i]-'0')
	}

	if neg {
		return -n, nil
	}
	return n, nil
}

// readBulkString reads a bulk string value
func (r *Reader) readBulkString() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid bulk string length: %s", ErrMalformed, line)
	}

	// Handle null bulk string
	if length == -1 {
		return Value{
			Type:   TypeBulkString,
			IsNull: true,
		}, nil
	}

	// Validate length
	if length < 0 || length > maxBulkSize {
		return Value{}, fmt.Errorf("%w: invalid bulk string length: %d", ErrMalformed, length)
	}

	// Read the string data plus CRLF
	data := make([]byte, length)
	if _, err := io.ReadFull(r.br, data); err != nil {
		return Value{}, err
	}

	if err := r.expectCRLF(); err != nil {
		return Value{}, err
	}

	return Value{
		Type: TypeBulkString,
		Data: data,
	}, nil
}

// readArray reads an array value
func (r *Reader) readArray() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	length, err := parseInt64(line)
	if err != nil {
		return Value{}, fmt.Errorf("%w: invalid array length: %s", ErrMalformed, line)
	}

	// Handle null array
	if length == -1 {
		return Value{
			Type:   TypeArray,
			IsNull: true,
		}, nil
	}

	// Validate length
	if length < 0 || length > maxArraySize {
		return Value{}, fmt.Errorf("%w: invalid array length: %d", ErrMalformed, length)
	}

	// Read array elements
	array := make([]Value, length)
	for i := int64(0); i < length; i++ {
		value, err := r.ReadNext()
		if err != nil {
			return Value{}, err
		}
		array[i] = value
	}

	return Value{
		Type:  TypeArray,
		Array: array,
	}, nil
}

// readLine reads a line terminated by CRLF
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("failed to read line: %w", err)
	}

	// Remove CRLF - must have at least \r\n
	if len(line) < 2 {
		return nil, fmt.Errorf("%w: line too short (%d bytes), expected CRLF terminator", ErrMalformed, len(line))
	}

	if !bytes.HasSuffix(line, crlfBytes) {
		lastTwo := line[len(line)-2:]
		return nil, fmt.Errorf("%w: missing CRLF terminator, got [%d, %d] instead of [13, 10]", ErrMalformed, lastTwo[0], lastTwo[1])
	}

	return line[:len(line)-2], nil
}

// expectCRLF reads and validates CRLF terminator
func (r *Reader) expectCRLF() error {
	crlf := make([]byte, 2)
	n, err := io.ReadFull(r.br, crlf)
	if err != nil {
		return fmt.Errorf("failed to read CRLF terminator (read %d/2 bytes): %w", n, err)
	}

	if !bytes.Equal(crlf, crlfBytes) {
		return fmt.Errorf("%w: expected CRLF terminator [13, 10], got [%d, %d]", ErrMalformed, crlf[0], crlf[1])
	}

	return nil
}
