package rediswire

import (
	"fmt"
	"log"
	"sync/atomic"
)

// Field represents a structured log field
type Field struct {
	Key   string
	Value interface{}
}

// Logger interface for custom logging implementations
type Logger interface {
	// Debug logs a debug message with optional fields
	Debug(msg string, fields ...Field)

	// Info logs an info message with optional fields
	Info(msg string, fields ...Field)

	// Error logs an error message with optional fields
	Error(msg string, fields ...Field)
}

// Stats tracks per-client counters. All fields are updated atomically
// and safe to read while the client is in use.
type Stats struct {
	CommandsSent     int64
	RepliesReceived  int64
	ErrorsReceived   int64
	PipelineMaxDepth int64
}

func (s *Stats) recordSent() {
	atomic.AddInt64(&s.CommandsSent, 1)
}

func (s *Stats) recordReceived(isErr bool) {
	atomic.AddInt64(&s.RepliesReceived, 1)
	if isErr {
		atomic.AddInt64(&s.ErrorsReceived, 1)
	}
}

func (s *Stats) recordDepth(depth int64) {
	for {
		cur := atomic.LoadInt64(&s.PipelineMaxDepth)
		if depth <= cur || atomic.CompareAndSwapInt64(&s.PipelineMaxDepth, cur, depth) {
			return
		}
	}
}

// Snapshot returns a copy of the current counters
func (s *Stats) Snapshot() Stats {
	return Stats{
		CommandsSent:     atomic.LoadInt64(&s.CommandsSent),
		RepliesReceived:  atomic.LoadInt64(&s.RepliesReceived),
		ErrorsReceived:   atomic.LoadInt64(&s.ErrorsReceived),
		PipelineMaxDepth: atomic.LoadInt64(&s.PipelineMaxDepth),
	}
}

// defaultLogger is a simple logger implementation using the standard log package
type defaultLogger struct{}

func (l *defaultLogger) Debug(msg string, fields ...Field) {
	l.logWithFields("DEBUG", msg, fields...)
}

func (l *defaultLogger) Info(msg string, fields ...Field) {
	l.logWithFields("INFO", msg, fields...)
}

func (l *defaultLogger) Error(msg string, fields ...Field) {
	l.logWithFields("ERROR", msg, fields...)
}

func (l *defaultLogger) logWithFields(level, msg string, fields ...Field) {
	logMsg := level + ": " + msg
	for _, field := range fields {
		logMsg += " " + field.Key + "=" + formatValue(field.Value)
	}
	log.Println(logMsg)
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case error:
		return val.Error()
	default:
		return fmt.Sprintf("%v", val)
	}
}
