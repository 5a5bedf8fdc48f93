package backend

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/gogpu/gpuhub/id"
)

// Dispatcher routes calls to the driver for an ID's backend tag.
//
// It is pure selection: the dispatcher never inspects descriptors or
// handles. Drivers are instantiated lazily on first use and shared by every
// device of the owning instance.
type Dispatcher struct {
	mu      sync.Mutex
	enabled []id.Backend
	drivers map[id.Backend]Driver
	failed  map[id.Backend]error
}

// NewDispatcher creates a dispatcher restricted to tags. With no tags every
// registered backend is enabled.
func NewDispatcher(tags ...id.Backend) *Dispatcher {
	if len(tags) == 0 {
		tags = Available()
	}
	enabled := make([]id.Backend, len(tags))
	copy(enabled, tags)
	return &Dispatcher{
		enabled: enabled,
		drivers: make(map[id.Backend]Driver),
		failed:  make(map[id.Backend]error),
	}
}

// Enabled returns the backend tags this dispatcher may route to.
func (d *Dispatcher) Enabled() []id.Backend {
	out := make([]id.Backend, len(d.enabled))
	copy(out, d.enabled)
	return out
}

// Lookup returns the driver for tag, creating it if needed.
func (d *Dispatcher) Lookup(tag id.Backend) (Driver, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lookupLocked(tag)
}

func (d *Dispatcher) lookupLocked(tag id.Backend) (Driver, error) {
	if drv, ok := d.drivers[tag]; ok {
		return drv, nil
	}
	if err, ok := d.failed[tag]; ok {
		return nil, err
	}
	if !slices.Contains(d.enabled, tag) {
		return nil, &UnsupportedBackendError{Backend: tag}
	}

	drv, err := New(tag)
	if err != nil {
		d.failed[tag] = err
		return nil, err
	}
	d.drivers[tag] = drv
	liveDrivers.Store(drv, struct{}{})
	propagateLogger(drv, Logger())
	Logger().Debug("backend: driver created", slog.String("backend", tag.String()), slog.String("driver", drv.Name()))
	return drv, nil
}

// For returns the driver for tag. An unknown or disabled tag means the
// binary was built or configured without that backend, which is fatal.
func (d *Dispatcher) For(tag id.Backend) Driver {
	drv, err := d.Lookup(tag)
	if err != nil {
		panic(err)
	}
	return drv
}

// Drivers returns a driver for every enabled backend that initializes
// successfully, in priority order. Backends that fail are skipped.
func (d *Dispatcher) Drivers() []Driver {
	d.mu.Lock()
	defer d.mu.Unlock()

	out := make([]Driver, 0, len(d.enabled))
	for _, tag := range d.enabled {
		drv, err := d.lookupLocked(tag)
		if err != nil {
			Logger().Debug("backend: skipping backend", slog.String("backend", tag.String()), slog.Any("err", err))
			continue
		}
		out = append(out, drv)
	}
	return out
}

// Close closes every instantiated driver.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	drivers := d.drivers
	d.drivers = make(map[id.Backend]Driver)
	d.mu.Unlock()

	for _, drv := range drivers {
		liveDrivers.Delete(drv)
		drv.Close()
	}
}
