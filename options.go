package gpuhub

import (
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/gogpu/gpuhub/id"
)

// BackendEnv names the environment variable that restricts the backends an
// instance may use when WithBackends is not given. The value is a comma
// separated list of backend names, for example "vulkan,software".
const BackendEnv = "GPUHUB_BACKEND"

// InstanceOption configures an Instance during creation.
//
// Example:
//
//	// Every compiled-in backend
//	inst := gpuhub.NewInstance()
//
//	// Software only, with devices polled every millisecond
//	inst := gpuhub.NewInstance(
//	    gpuhub.WithBackends(id.Software),
//	    gpuhub.WithPollInterval(time.Millisecond),
//	)
type InstanceOption func(*instanceOptions)

// instanceOptions holds optional configuration for Instance creation.
type instanceOptions struct {
	backends     []id.Backend
	pollInterval time.Duration
	errorHandler ErrorHandler
}

// defaultInstanceOptions returns the default instance options. The backend
// selection comes from BackendEnv when it is set.
func defaultInstanceOptions() instanceOptions {
	return instanceOptions{
		backends: backendsFromEnv(os.Getenv(BackendEnv)),
	}
}

// backendsFromEnv parses a comma separated backend list. Unknown names are
// logged and skipped.
func backendsFromEnv(v string) []id.Backend {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	var tags []id.Backend
	for _, name := range strings.Split(v, ",") {
		tag, err := id.ParseBackend(name)
		if err != nil {
			Logger().Warn("gpuhub: ignoring backend from environment",
				slog.String("env", BackendEnv), slog.Any("err", err))
			continue
		}
		tags = append(tags, tag)
	}
	return tags
}

// WithBackends restricts the instance to the given backends, in priority
// order. It overrides BackendEnv.
func WithBackends(tags ...id.Backend) InstanceOption {
	return func(o *instanceOptions) {
		o.backends = append([]id.Backend(nil), tags...)
	}
}

// WithPollInterval starts a background goroutine that polls every live
// device at interval d, so map callbacks resolve without explicit Poll
// calls. Zero disables the poller.
func WithPollInterval(d time.Duration) InstanceOption {
	return func(o *instanceOptions) {
		o.pollInterval = d
	}
}

// WithErrorHandler sets the error handler installed on every device the
// instance creates. Without it device errors panic.
func WithErrorHandler(h ErrorHandler) InstanceOption {
	return func(o *instanceOptions) {
		o.errorHandler = h
	}
}
