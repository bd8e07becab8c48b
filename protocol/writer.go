package protocol

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
)

// Writer provides efficient writing of RESP protocol messages
type Writer struct {
	bw *bufio.Writer
}

// NewWriter creates a new RESP protocol writer
func NewWriter(w io.Writer) *Writer {
	return &Writer{
		bw: bufio.NewWriter(w),
	}
}

// WriteCommand writes a request as a RESP array of bulk strings. The
// command name is args[0]. Bytes stay in the buffered writer until Flush.
func (w *Writer) WriteCommand(args ...[]byte) error {
	if _, err := w.bw.WriteString("*"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strconv.Itoa(len(args))); err != nil {
		return err
	}
	if err := w.writeCRLF(); err != nil {
		return err
	}

	for _, arg := range args {
		if err := w.WriteBulkString(arg); err != nil {
			return err
		}
	}

	return nil
}

// WriteValue writes a RESP value to the output stream
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case TypeSimpleString:
		return w.WriteSimpleString(string(v.Data))
	case TypeError:
		return w.WriteError(string(v.Data))
	case TypeInteger:
		return w.WriteInteger(v.Integer)
	case TypeBulkString:
		if v.IsNull {
			return w.WriteNullBulkString()
		}
		return w.WriteBulkString(v.Data)
	case TypeArray:
		if v.IsNull {
			return w.WriteNullArray()
		}
		return w.WriteArray(v.Array)
	default:
		return fmt.Errorf("unsupported value type: %c", v.Type)
	}
}

// WriteSimpleString writes a simple string
func (w *Writer) WriteSimpleString(s string) error {
	if _, err := w.bw.WriteString("+"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(s); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteError writes an error message
func (w *Writer) WriteError(msg string) error {
	if _, err := w.bw.WriteString("-"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(msg); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteInteger writes an integer
func (w *Writer) WriteInteger(n int64) error {
	if _, err := w.bw.WriteString(":"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strconv.FormatInt(n, 10)); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteBulkString writes a bulk string
func (w *Writer) WriteBulkString(data []byte) error {
	if _, err := w.bw.WriteString("$"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strconv.Itoa(len(data))); err != nil {
		return err
	}
	if err := w.writeCRLF(); err != nil {
		return err
	}
	if _, err := w.bw.Write(data); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteNullBulkString writes a null bulk string
func (w *Writer) WriteNullBulkString() error {
	if _, err := w.bw.WriteString("$-1"); err != nil {
		return err
	}
	return w.writeCRLF()
}

// WriteArray writes an array of values
func (w *Writer) WriteArray(values []Value) error {
	if _, err := w.bw.WriteString("*"); err != nil {
		return err
	}
	if _, err := w.bw.WriteString(strconv.Itoa(len(values))); err != nil {
		return err
	}
	if err := w.writeCRLF(); err != nil {
		return err
	}

	for _, value := range values {
		if err := w.WriteValue(value); err != nil {
			return err
		}
	}

	return nil
}

// WriteNullArray writes a null array
func (w *Writer) WriteNullArray() error {
	if _, err := w.bw.WriteString("*-1"); err != nil {
		return err
	}
	return w.writeCRLF()
}

// Flush flushes any buffered data to the underlying writer
func (w *Writer) Flush() error {
	return w.bw.Flush()
}

// writeCRLF writes the CRLF terminator
func (w *Writer) writeCRLF() error {
	_, err := w.bw.WriteString(CRLF)
	return err
}

// Reset resets the writer to write to a new underlying writer
func (w *Writer) Reset(writer io.Writer) {
	w.bw.Reset(writer)
}
