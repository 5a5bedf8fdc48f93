package gpuhub

import (
	"fmt"
	"log/slog"

	"github.com/gogpu/gpuhub/backend"
	"github.com/gogpu/gpuhub/id"
	"github.com/gogpu/gpuhub/internal/lifetime"
)

// submitChecker is a resource referenced by recorded commands.
type submitChecker interface {
	checkSubmit() error
}

// resource is a device child. Device teardown destroys every resource
// still tracked by the device.
type resource interface {
	implicitDestroy()
}

// child is the state shared by every resource created from a device.
type child[K id.Kind] struct {
	id     id.ID[K]
	label  string
	device *Device
	sink   *ErrorSink
	handle backend.Handle
	// err is set when creation failed; the object is then invalid.
	err  error
	flag lifetime.Flag
}

// ID returns the resource identifier. Invalid objects still carry an ID;
// objects created on a released device carry the zero ID.
func (c *child[K]) ID() id.ID[K] { return c.id }

// Label returns the debug label given at creation.
func (c *child[K]) Label() string { return c.label }

// Device returns the device the resource was created on.
func (c *child[K]) Device() *Device { return c.device }

// Err returns the creation error of an invalid object, or nil.
func (c *child[K]) Err() error { return c.err }

// usable reports whether the resource can be used by an operation.
func (c *child[K]) usable() error {
	var k K
	switch {
	case c.flag.Destroyed():
		return fmt.Errorf("%s %q: %w", k.KindName(), c.label, ErrDestroyed)
	case c.err != nil:
		return fmt.Errorf("%s %q: %w: %w", k.KindName(), c.label, ErrInvalidObject, c.err)
	}
	return nil
}

// checkSubmit verifies that submitted work may still reference the
// resource.
func (c *child[K]) checkSubmit() error { return c.usable() }

// sameDevice checks that c was created on dv.
func (c *child[K]) sameDevice(dv *Device) error {
	if c.device != dv {
		var k K
		return fmt.Errorf("%s %q: %w", k.KindName(), c.label, ErrWrongDevice)
	}
	return nil
}

// attach registers self on dv. create runs only while dv is alive; a
// failure makes self an invalid object and is reported to the device's
// error sink. attach reports whether self is valid.
func attach[K id.Kind, T resource](dv *Device, reg *id.Registry[K, T], self T, c *child[K], op, label string, create func() (backend.Handle, error)) bool {
	c.label = label
	c.device = dv
	if dv.flag.Destroyed() {
		c.err = fmt.Errorf("%s: %w", op, ErrDestroyed)
		c.flag.Destroy()
		return false
	}

	c.sink = dv.sink.retain()
	h, err := create()
	c.handle = h
	c.id = reg.Allocate(dv.id.Backend(), self)
	dv.track(self)

	if err != nil {
		c.err = classify(op, err)
		Logger().Debug("gpuhub: created invalid object",
			slog.String("id", c.id.String()), slog.String("label", label), slog.Any("err", err))
		c.sink.Report(c.err)
		return false
	}
	Logger().Debug("gpuhub: created",
		slog.String("id", c.id.String()), slog.String("label", label))
	return true
}

// detach destroys c: it marks the registry slot dead, frees the backend
// handle and recycles the slot. Only the first call does anything.
func detach[K id.Kind, T resource](c *child[K], reg *id.Registry[K, T], self T) bool {
	if !c.flag.Destroy() {
		return false
	}
	dv := c.device
	dv.untrack(self)
	err := reg.Release(c.id, func(T) {
		if c.handle != backend.NilHandle {
			dv.driver().Free(dv.handle, c.handle)
		}
	})
	if err != nil {
		Logger().Warn("gpuhub: release", slog.String("id", c.id.String()), slog.Any("err", err))
	}
	c.sink.release()
	Logger().Debug("gpuhub: destroyed", slog.String("id", c.id.String()), slog.String("label", c.label))
	return true
}
