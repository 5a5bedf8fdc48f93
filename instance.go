package gpuhub

import (
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/future"
	"github.com/gogpu/gpuhub/id"
	"github.com/gogpu/gpuhub/internal/lifetime"
)

// Instance is the entry point: it owns the backend dispatcher, the identity
// registries and every device opened through it.
type Instance struct {
	opts     instanceOptions
	dispatch *backend.Dispatcher
	hub      *hub

	mu       sync.Mutex
	adapters []*Adapter
	devices  map[*Device]struct{}

	stop     chan struct{}
	wg       sync.WaitGroup
	released lifetime.Flag
}

// NewInstance creates an instance restricted to the configured backends.
func NewInstance(opts ...InstanceOption) *Instance {
	o := defaultInstanceOptions()
	for _, opt := range opts {
		opt(&o)
	}

	inst := &Instance{
		opts:     o,
		dispatch: backend.NewDispatcher(o.backends...),
		hub:      newHub(),
		devices:  make(map[*Device]struct{}),
	}
	if o.pollInterval > 0 {
		inst.stop = make(chan struct{})
		inst.wg.Add(1)
		go inst.pollLoop(o.pollInterval)
	}

	Logger().Info("gpuhub: instance created",
		slog.Any("backends", inst.dispatch.Enabled()),
		slog.Duration("poll_interval", o.pollInterval))
	return inst
}

// Backends returns the backends the instance may use, in priority order.
func (inst *Instance) Backends() []id.Backend { return inst.dispatch.Enabled() }

// EnumerateAdapters lists the adapters of every enabled backend that
// initializes on this machine. Adapters are enumerated once and cached.
func (inst *Instance) EnumerateAdapters() []*Adapter {
	inst.mu.Lock()
	defer inst.mu.Unlock()

	if inst.adapters == nil {
		inst.adapters = make([]*Adapter, 0)
		for _, drv := range inst.dispatch.Drivers() {
			infos, err := drv.EnumerateAdapters()
			if err != nil {
				Logger().Warn("gpuhub: enumerate adapters", slog.String("backend", drv.Name()), slog.Any("err", err))
				continue
			}
			for _, info := range infos {
				a := &Adapter{instance: inst, info: info}
				a.id = inst.hub.adapters.Allocate(drv.Backend(), a)
				inst.adapters = append(inst.adapters, a)
				Logger().Debug("gpuhub: adapter found",
					slog.String("name", info.Name),
					slog.String("backend", drv.Backend().String()),
					slog.String("type", info.DeviceType.String()))
			}
		}
	}
	return slices.Clone(inst.adapters)
}

// RequestAdapter selects an adapter. The future resolves with ErrNoAdapter
// when no adapter satisfies opts. A nil opts selects the best adapter.
func (inst *Instance) RequestAdapter(opts *RequestAdapterOptions) *future.Future[*Adapter] {
	if opts == nil {
		opts = &RequestAdapterOptions{}
	}

	var best *Adapter
	bestScore := -1
	for _, a := range inst.EnumerateAdapters() {
		score, ok := inst.scoreAdapter(a, opts)
		if !ok {
			continue
		}
		if score > bestScore {
			best, bestScore = a, score
		}
	}
	if best == nil {
		return future.Ready[*Adapter](nil, ErrNoAdapter)
	}

	Logger().Info("gpuhub: adapter selected",
		slog.String("name", best.info.Name),
		slog.String("backend", best.id.Backend().String()),
		slog.String("power", opts.PowerPreference.String()))
	return future.Ready(best, nil)
}

// CreateSurface wraps the native window described by target. Backend
// surfaces are created on first use by each backend.
func (inst *Instance) CreateSurface(target SurfaceTarget) (*Surface, error) {
	if inst.released.Destroyed() {
		return nil, fmt.Errorf("create surface: %w", ErrDestroyed)
	}
	s := &Surface{instance: inst, target: target, handles: make(map[id.Backend]backend.Handle)}
	s.id = inst.hub.surfaces.Allocate(inst.surfaceTag(), s)
	return s, nil
}

// surfaceTag is the backend tag stamped into surface IDs: surfaces are
// shared by every backend, so they carry the instance's first backend.
func (inst *Instance) surfaceTag() id.Backend {
	if tags := inst.dispatch.Enabled(); len(tags) > 0 {
		return tags[0]
	}
	return id.Software
}

// Poll polls every live device concurrently. With forceWait set it blocks
// until all submitted work has finished.
func (inst *Instance) Poll(forceWait bool) error {
	var g errgroup.Group
	for _, dv := range inst.liveDevices() {
		g.Go(func() error {
			if dv.Destroyed() {
				return nil
			}
			_, err := dv.Poll(forceWait)
			return err
		})
	}
	return g.Wait()
}

// Release stops the background poller, tears down devices that were never
// released and closes every backend driver.
func (inst *Instance) Release() {
	if !inst.released.Destroy() {
		return
	}
	if inst.stop != nil {
		close(inst.stop)
		inst.wg.Wait()
	}

	leaked := inst.liveDevices()
	for _, dv := range leaked {
		Logger().Warn("gpuhub: device not released before instance", slog.String("device", dv.label))
		dv.teardown()
	}

	inst.mu.Lock()
	adapters := inst.adapters
	inst.adapters = nil
	inst.mu.Unlock()
	for _, a := range adapters {
		if err := inst.hub.adapters.Release(a.id, nil); err != nil {
			Logger().Warn("gpuhub: release adapter", slog.String("adapter", a.info.Name), slog.Any("err", err))
		}
	}

	inst.hub.surfaces.Range(func(_ id.ID[id.Surface], s *Surface) bool {
		s.Release()
		return true
	})

	inst.dispatch.Close()
	Logger().Info("gpuhub: instance released", slog.Int("leaked_devices", len(leaked)))
}

func (inst *Instance) pollLoop(interval time.Duration) {
	defer inst.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-inst.stop:
			return
		case <-ticker.C:
			if err := inst.Poll(false); err != nil {
				Logger().Warn("gpuhub: background poll", slog.Any("err", err))
			}
		}
	}
}

func (inst *Instance) addDevice(dv *Device) {
	inst.mu.Lock()
	inst.devices[dv] = struct{}{}
	inst.mu.Unlock()
}

func (inst *Instance) forgetDevice(dv *Device) {
	inst.mu.Lock()
	delete(inst.devices, dv)
	inst.mu.Unlock()
}

func (inst *Instance) liveDevices() []*Device {
	inst.mu.Lock()
	defer inst.mu.Unlock()
	out := make([]*Device, 0, len(inst.devices))
	for dv := range inst.devices {
		out = append(out, dv)
	}
	return out
}
