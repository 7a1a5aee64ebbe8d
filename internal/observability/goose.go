package observability

import (
	"strings"

	"go.uber.org/zap"
)

// GooseLogger adapts zap to goose's Logger interface
type GooseLogger struct {
	logger *zap.SugaredLogger
}

// NewGooseLogger wraps logger for goose migration output
func NewGooseLogger(logger *zap.Logger) *GooseLogger {
	return &GooseLogger{
		logger: logger.Named("goose").Sugar(),
	}
}

func (g *GooseLogger) Fatalf(format string, v ...interface{}) {
	g.logger.Fatalf(strings.TrimSuffix(format, "\n"), v...)
}

func (g *GooseLogger) Printf(format string, v ...interface{}) {
	g.logger.Infof(strings.TrimSuffix(format, "\n"), v...)
}
