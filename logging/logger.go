// Package logging defines the narrow logging interface the core packages
// depend on. Nothing under this module's wire/transport/fsm/stream
// packages imports zap directly; only the CLI wires a concrete backend
// in (the Device constructor falls back to Nop when given nil), so the
// core stays testable without pulling in a logging framework.
package logging

import "go.uber.org/zap"

// Logger is the only logging surface the core packages see.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Nop discards everything. Used as the zero-value default so a caller who
// never sets up logging doesn't need a nil check at every call site.
type Nop struct{}

func (Nop) Debugf(string, ...interface{}) {}
func (Nop) Infof(string, ...interface{})  {}
func (Nop) Warnf(string, ...interface{})  {}
func (Nop) Errorf(string, ...interface{}) {}

// zapLogger adapts a zap.SugaredLogger to the Logger interface.
type zapLogger struct {
	s *zap.SugaredLogger
}

// NewZap wraps a *zap.Logger as a Logger.
func NewZap(l *zap.Logger) Logger {
	return &zapLogger{s: l.Sugar()}
}

// NewDevelopment returns a Logger backed by zap's development config
// (human-readable, debug level, stack traces on error).
func NewDevelopment() (Logger, error) {
	l, err := zap.NewDevelopment()
	if err != nil {
		return nil, err
	}
	return NewZap(l), nil
}

// NewProduction returns a Logger backed by zap's production config
// (JSON, info level and above).
func NewProduction() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return NewZap(l), nil
}

func (z *zapLogger) Debugf(format string, args ...interface{}) { z.s.Debugf(format, args...) }
func (z *zapLogger) Infof(format string, args ...interface{})  { z.s.Infof(format, args...) }
func (z *zapLogger) Warnf(format string, args ...interface{})  { z.s.Warnf(format, args...) }
func (z *zapLogger) Errorf(format string, args ...interface{}) { z.s.Errorf(format, args...) }
