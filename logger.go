package gpuhub

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/gogpu/gpuhub/backend"
)

// nopHandler drops every record. Enabled reports false, so slog never
// builds the record.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (nopHandler) WithAttrs([]slog.Attr) slog.Handler        { return nopHandler{} }
func (nopHandler) WithGroup(string) slog.Handler             { return nopHandler{} }

func newNopLogger() *slog.Logger { return slog.New(nopHandler{}) }

var loggerPtr atomic.Pointer[slog.Logger]

func init() {
	loggerPtr.Store(newNopLogger())
}

// SetLogger installs l for gpuhub, the backend package and every driver
// instantiated so far. gpuhub is silent until SetLogger is called; nil
// silences it again. SetLogger may run concurrently with logging.
//
// Log levels used by gpuhub:
//   - [slog.LevelDebug]: resource creation and destruction, map traffic
//   - [slog.LevelInfo]: adapter and device lifecycle
//   - [slog.LevelWarn]: errors delivered to an error sink, cleanup failures
//
// Example:
//
//	gpuhub.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
//	    Level: slog.LevelDebug,
//	})))
func SetLogger(l *slog.Logger) {
	if l == nil {
		l = newNopLogger()
	}
	loggerPtr.Store(l)
	backend.SetLogger(l)
}

// Logger returns the logger installed by SetLogger.
func Logger() *slog.Logger {
	return loggerPtr.Load()
}
