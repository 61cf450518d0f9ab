// Package registry discovers the LED controllers present on the system and
// applies the controller and slot filters to every request made to them.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/ibpi"
	log "github.com/sirupsen/logrus"
)

// Filter hides slots and controllers from every enumeration
type Filter struct {
	SlotPrefixes        []string
	ExcludedControllers []backend.ControllerType
}

// SlotExcluded reports whether id starts with a configured prefix
func (f Filter) SlotExcluded(id string) bool {
	for _, p := range f.SlotPrefixes {
		if p != "" && strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// ControllerExcluded reports whether ct was filtered out
func (f Filter) ControllerExcluded(ct backend.ControllerType) bool {
	for _, c := range f.ExcludedControllers {
		if c == ct {
			return true
		}
	}
	return false
}

// Registry knows every backend driver and which of them are present
type Registry struct {
	drivers []backend.Driver
	filter  Filter
	timeout time.Duration
	cache   *cache.Cache
}

type Option func(*Registry)

// WithTimeout bounds every backend call
func WithTimeout(d time.Duration) Option {
	return func(r *Registry) { r.timeout = d }
}

// WithCache replaces the process wide discovery cache
func WithCache(c *cache.Cache) Option {
	return func(r *Registry) { r.cache = c }
}

// New creates a registry over drivers. The driver order is the order
// controllers are listed in.
func New(drivers []backend.Driver, filter Filter, opts ...Option) *Registry {
	r := &Registry{
		drivers: drivers,
		filter:  filter,
		cache:   cache.Global(),
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *Registry) driver(ct backend.ControllerType) backend.Driver {
	for _, d := range r.drivers {
		if d.Type() == ct {
			return d
		}
	}
	return nil
}

// present probes a backend once per process
func (r *Registry) present(ctx context.Context, d backend.Driver) bool {
	key := cache.PrefixPresence + d.Type().String()
	if entry := r.cache.GetEntry(key); entry != nil {
		log.WithFields(log.Fields{
			"controller": d.Type().String(),
			"present":    entry.Value,
			"age":        entry.Age(),
		}).Debug("Controller presence cached")
	}
	v, err := r.cache.Load(key, func() (interface{}, error) {
		err := backend.Bounded(ctx, r.timeout, func(ctx context.Context) error {
			_, err := d.ListSlots(ctx)
			return err
		})
		if err != nil {
			log.WithFields(log.Fields{"controller": d.Type().String()}).WithError(err).Debug("Controller not present")
			return false, nil
		}
		return true, nil
	})
	return err == nil && v.(bool)
}

// Discover returns the present, non-filtered controller types
func (r *Registry) Discover(ctx context.Context) []backend.ControllerType {
	var found []backend.ControllerType
	for _, d := range r.drivers {
		if r.filter.ControllerExcluded(d.Type()) {
			continue
		}
		if r.present(ctx, d) {
			found = append(found, d.Type())
		}
	}
	return found
}

// Driver returns the usable driver for ct. A filtered controller yields
// ErrControllerFiltered even when it is installed.
func (r *Registry) Driver(ctx context.Context, ct backend.ControllerType) (backend.Driver, error) {
	if r.filter.ControllerExcluded(ct) {
		return nil, fmt.Errorf("%s: %w", ct, backend.ErrControllerFiltered)
	}
	d := r.driver(ct)
	if d == nil {
		return nil, fmt.Errorf("%s: %w", ct, backend.ErrInvalidController)
	}
	if !r.present(ctx, d) {
		return nil, fmt.Errorf("%s: %w", ct, backend.ErrBackendUnavailable)
	}
	return d, nil
}

// ListSlots enumerates the visible slots of a controller. Hardware is
// read on every call.
func (r *Registry) ListSlots(ctx context.Context, ct backend.ControllerType) ([]backend.Slot, error) {
	d, err := r.Driver(ctx, ct)
	if err != nil {
		return nil, err
	}

	var slots []backend.Slot
	err = backend.Bounded(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		slots, err = d.ListSlots(ctx)
		return err
	})
	if err != nil {
		return nil, err
	}

	visible := slots[:0]
	for _, s := range slots {
		if !r.filter.SlotExcluded(s.ID) {
			visible = append(visible, s)
		}
	}
	return visible, nil
}

// ReadSlot reads one slot. Filtered slots behave as if they did not exist.
func (r *Registry) ReadSlot(ctx context.Context, ct backend.ControllerType, addr backend.Address) (backend.Slot, error) {
	d, err := r.Driver(ctx, ct)
	if err != nil {
		return backend.Slot{}, err
	}
	if addr.SlotID != "" && r.filter.SlotExcluded(addr.SlotID) {
		return backend.Slot{}, fmt.Errorf("%s: %w", addr.SlotID, backend.ErrNotFound)
	}

	var s backend.Slot
	err = backend.Bounded(ctx, r.timeout, func(ctx context.Context) error {
		var err error
		s, err = d.ReadSlot(ctx, addr)
		return err
	})
	if err != nil {
		return backend.Slot{}, err
	}
	if r.filter.SlotExcluded(s.ID) {
		if addr.Device != "" {
			return backend.Slot{}, fmt.Errorf("%s: %w", addr.Device, backend.ErrDeviceNotSupported)
		}
		return backend.Slot{}, fmt.Errorf("%s: %w", addr.SlotID, backend.ErrNotFound)
	}
	return s, nil
}

// WriteSlot drives one slot through its controller
func (r *Registry) WriteSlot(ctx context.Context, ct backend.ControllerType, addr backend.Address, state ibpi.State) error {
	d, err := r.Driver(ctx, ct)
	if err != nil {
		return err
	}
	if addr.SlotID != "" && r.filter.SlotExcluded(addr.SlotID) {
		return fmt.Errorf("%s: %w", addr.SlotID, backend.ErrNotFound)
	}
	return backend.Bounded(ctx, r.timeout, func(ctx context.Context) error {
		return d.WriteSlot(ctx, addr, state)
	})
}

// FindDevice scans every usable controller for slots holding device.
// Controllers that fail to enumerate are skipped.
func (r *Registry) FindDevice(ctx context.Context, device string) []backend.Slot {
	var found []backend.Slot
	for _, ct := range r.Discover(ctx) {
		slots, err := r.ListSlots(ctx, ct)
		if err != nil {
			if !errors.Is(err, backend.ErrBackendUnavailable) {
				log.WithFields(log.Fields{"controller": ct.String()}).WithError(err).Warn("Failed to list slots")
			}
			continue
		}
		if s, err := backend.FindSlot(slots, backend.Address{Device: device}); err == nil {
			found = append(found, s)
		}
	}
	return found
}
