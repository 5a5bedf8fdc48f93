package gpuhub

import (
	"log/slog"
	"sync"

	"github.com/gogpu/gpuhub/internal/lifetime"
)

// ErrorSink is the error handler shared by a device and every resource
// created from it. Each resource holds a reference taken at creation and
// drops it when destroyed, so an error raised on a resource reaches the
// handler of the device that created it even while the device is being
// torn down.
//
// The default handler panics: an unhandled GPU error is fatal.
type ErrorSink struct {
	mu      sync.Mutex
	handler ErrorHandler
	refs    *lifetime.RefCount
}

func newErrorSink(h ErrorHandler) *ErrorSink {
	return &ErrorSink{handler: h, refs: lifetime.NewRefCount()}
}

// retain adds a holder and returns s for chaining at creation sites.
func (s *ErrorSink) retain() *ErrorSink {
	s.refs.Retain()
	return s
}

// release drops a holder.
func (s *ErrorSink) release() {
	if s.refs.Release() {
		s.mu.Lock()
		s.handler = nil
		s.mu.Unlock()
	}
}

// Refs returns the number of holders of the sink.
func (s *ErrorSink) Refs() int64 { return s.refs.Count() }

// SetHandler installs h. A nil handler restores the default, which panics.
func (s *ErrorSink) SetHandler(h ErrorHandler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

// Report delivers err to the installed handler. The handler runs without
// the sink lock held and may call SetHandler.
func (s *ErrorSink) Report(err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()

	Logger().Warn("gpuhub: device error", slog.Any("err", err))
	if h == nil {
		defaultErrorHandler(err)
		return
	}
	h(err)
}

func defaultErrorHandler(err error) {
	panic(err)
}
