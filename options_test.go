package gpuhub

import (
	"slices"
	"testing"
	"time"

	"github.com/gogpu/gpuhub/id"
)

func TestBackendsFromEnv(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []id.Backend
	}{
		{"empty", "", nil},
		{"blank", "  ", nil},
		{"single", "software", []id.Backend{id.Software}},
		{"list keeps order", "vulkan, software", []id.Backend{id.Vulkan, id.Software}},
		{"unknown skipped", "vulkan,nope,metal", []id.Backend{id.Vulkan, id.Metal}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := backendsFromEnv(tt.in)
			if !slices.Equal(got, tt.want) {
				t.Errorf("backendsFromEnv(%q) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestDefaultInstanceOptionsReadsEnv(t *testing.T) {
	t.Setenv(BackendEnv, "software")
	o := defaultInstanceOptions()
	if !slices.Equal(o.backends, []id.Backend{id.Software}) {
		t.Errorf("backends = %v, want [software]", o.backends)
	}
	if o.pollInterval != 0 {
		t.Errorf("pollInterval = %v, want 0", o.pollInterval)
	}
}

func TestWithBackendsOverridesEnv(t *testing.T) {
	t.Setenv(BackendEnv, "vulkan")
	o := defaultInstanceOptions()
	WithBackends(id.Software)(&o)
	if !slices.Equal(o.backends, []id.Backend{id.Software}) {
		t.Errorf("backends = %v, want [software]", o.backends)
	}
}

func TestWithBackendsCopiesArgs(t *testing.T) {
	tags := []id.Backend{id.Software}
	var o instanceOptions
	WithBackends(tags...)(&o)
	tags[0] = id.Vulkan
	if o.backends[0] != id.Software {
		t.Error("WithBackends kept a reference to the caller's slice")
	}
}

func TestWithPollInterval(t *testing.T) {
	var o instanceOptions
	WithPollInterval(5 * time.Millisecond)(&o)
	if o.pollInterval != 5*time.Millisecond {
		t.Errorf("pollInterval = %v, want 5ms", o.pollInterval)
	}
}

func TestWithErrorHandler(t *testing.T) {
	var got error
	var o instanceOptions
	WithErrorHandler(func(err error) { got = err })(&o)
	if o.errorHandler == nil {
		t.Fatal("errorHandler not set")
	}
	o.errorHandler(ErrValidation)
	if got != ErrValidation {
		t.Errorf("handler received %v", got)
	}
}
