// Package obslog wraps zap behind the narrow logging interface every
// actor in this module depends on, so call sites never import zap
// directly.
package obslog

import "go.uber.org/zap"

// Logger is the logging contract every actor is built against.
type Logger interface {
	Infof(template string, args ...interface{})
	Warnf(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Debugf(template string, args ...interface{})
}

type zapLogger struct {
	s *zap.SugaredLogger
}

// New builds a production zap logger and returns it wrapped as a Logger.
func New() (Logger, error) {
	l, err := zap.NewProduction()
	if err != nil {
		return nil, err
	}
	return &zapLogger{s: l.Sugar()}, nil
}

// NewNop returns a Logger that discards everything; used as the default
// when no logger is configured, and in tests.
func NewNop() Logger {
	return &zapLogger{s: zap.NewNop().Sugar()}
}

func (z *zapLogger) Infof(template string, args ...interface{})  { z.s.Infof(template, args...) }
func (z *zapLogger) Warnf(template string, args ...interface{})  { z.s.Warnf(template, args...) }
func (z *zapLogger) Errorf(template string, args ...interface{}) { z.s.Errorf(template, args...) }
func (z *zapLogger) Debugf(template string, args ...interface{}) { z.s.Debugf(template, args...) }
