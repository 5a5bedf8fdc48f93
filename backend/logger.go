package backend

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// nopHandler silently discards all log records.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

// loggerPtr stores the active logger. Accessed atomically for thread safety.
var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(slog.New(nopHandler{}))
}

// Logger returns the logger shared by the dispatcher and all drivers.
func Logger() *slog.Logger { return loggerPtr.Load() }

// SetLogger updates the logger used by the dispatcher and drivers.
// gpuhub.SetLogger propagates here; pass nil to restore silence.
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = slog.New(nopHandler{})
	}
	loggerPtr.Store(l)

	liveDrivers.Range(func(key, _ any) bool {
		propagateLogger(key.(Driver), l)
		return true
	})
}

// liveDrivers holds every driver created by a dispatcher and not yet closed.
var liveDrivers sync.Map

// loggerSetter is implemented by drivers that forward logging to a native
// layer with its own logger.
type loggerSetter interface {
	SetLogger(*slog.Logger)
}

// propagateLogger passes the logger to a driver if it implements
// loggerSetter.
func propagateLogger(drv Driver, l *slog.Logger) {
	if ls, ok := drv.(loggerSetter); ok {
		ls.SetLogger(l)
	}
}
