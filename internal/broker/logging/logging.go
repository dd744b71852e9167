// Package logging adapts log/slog to the broker's ports.Logger contract,
// the way internal/agent/app/coordinator/coordinator.go in the teacher
// scopes one component logger per subsystem.
package logging

import (
	"log/slog"
	"os"

	"github.com/nicolasances/gale-broker/internal/broker/ports"
)

// Slog wraps a *slog.Logger to satisfy ports.Logger.
type Slog struct {
	base *slog.Logger
}

// New builds the root Slog logger. format selects "json" (production) or
// "text" (local development); anything else defaults to text.
func New(format string, level slog.Level) Slog {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	return Slog{base: slog.New(handler)}
}

// Component narrows the logger to one subsystem, mirroring
// utils.NewComponentLogger in the teacher.
func (s Slog) Component(name string) Slog {
	return Slog{base: s.base.With("component", name)}
}

func (s Slog) Debug(msg string, args ...any) { s.base.Debug(msg, args...) }
func (s Slog) Info(msg string, args ...any)  { s.base.Info(msg, args...) }
func (s Slog) Warn(msg string, args ...any)  { s.base.Warn(msg, args...) }
func (s Slog) Error(msg string, args ...any) { s.base.Error(msg, args...) }

var _ ports.Logger = Slog{}
