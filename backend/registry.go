package backend

import (
	"github.com/gogpu/gpucontext"

	"github.com/gogpu/gpuhub/id"
)

// Factory creates a driver instance. It may fail when the native API is
// missing on this machine.
type Factory func() (Driver, error)

// backendPriority is the adapter enumeration order (first available wins).
// Native APIs first, the software driver is the fallback.
var backendPriority = []id.Backend{id.Vulkan, id.Metal, id.DX12, id.DX11, id.GL, id.Software}

// factories holds registered drivers keyed by backend name.
var factories = gpucontext.NewRegistry[Factory](gpucontext.WithPriority(priorityNames()...))

func priorityNames() []string {
	names := make([]string, len(backendPriority))
	for i, tag := range backendPriority {
		names[i] = tag.String()
	}
	return names
}

// Register registers a driver factory for the given backend tag.
// This is typically called from init() functions in driver packages.
// If a factory for the tag is already registered, it will be replaced.
func Register(tag id.Backend, factory Factory) {
	factories.Register(tag.String(), func() Factory { return factory })
}

// Unregister removes a driver from the registry.
// This is useful for testing.
func Unregister(tag id.Backend) {
	factories.Unregister(tag.String())
}

// Available returns the registered backend tags in priority order.
func Available() []id.Backend {
	tags := make([]id.Backend, 0, factories.Count())
	for _, tag := range backendPriority {
		if factories.Has(tag.String()) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// IsRegistered checks if a driver for the given tag is registered.
func IsRegistered(tag id.Backend) bool {
	return factories.Has(tag.String())
}

// Best returns the highest-priority registered backend, or id.Empty.
func Best() id.Backend {
	tag, err := id.ParseBackend(factories.BestName())
	if err != nil {
		return id.Empty
	}
	return tag
}

// New creates a driver instance for tag.
// Returns an *UnsupportedBackendError if no factory is registered.
func New(tag id.Backend) (Driver, error) {
	factory := factories.Get(tag.String())
	if factory == nil {
		return nil, &UnsupportedBackendError{Backend: tag}
	}
	return factory()
}
