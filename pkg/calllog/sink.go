package calllog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Sink receives the log entries of both loggers.
type Sink interface {
	Write(level zapcore.Level, tag string, fields []zap.Field)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(level zapcore.Level, tag string, fields []zap.Field)

// Write calls f.
func (f SinkFunc) Write(level zapcore.Level, tag string, fields []zap.Field) {
	f(level, tag, fields)
}

// Emit hands one entry to s. A panicking sink is contained so that it never
// changes the outcome of the call being logged.
func Emit(s Sink, level zapcore.Level, tag string, fields []zap.Field) {
	if s == nil {
		return
	}

	defer func() {
		_ = recover()
	}()

	s.Write(level, tag, fields)
}
