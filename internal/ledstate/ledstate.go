// Package ledstate drives indicator patterns through the owning controller
// and checks them back.
package ledstate

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/registry"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Change describes one accepted write
type Change struct {
	Controller backend.ControllerType
	Slot       string
	Device     string
	From       ibpi.State
	To         ibpi.State
}

// Recorder receives every accepted write
type Recorder interface {
	Record(ctx context.Context, c Change) error
}

// Verifiable reports whether a pattern written to ct can be checked by
// reading it back. SES enclosures have no rebuild bit on the read side.
func Verifiable(ct backend.ControllerType, state ibpi.State) bool {
	return !(ct == backend.SCSI && state == ibpi.Rebuild)
}

// Machine sets patterns on resolved targets
type Machine struct {
	reg           *registry.Registry
	recorder      Recorder
	verify        bool
	skipUnchanged bool
	parallel      int
}

type Option func(*Machine)

// WithRecorder journals accepted writes
func WithRecorder(r Recorder) Option {
	return func(m *Machine) { m.recorder = r }
}

// WithVerify reads every target back after writing it
func WithVerify(v bool) Option {
	return func(m *Machine) { m.verify = v }
}

// WithSkipUnchanged skips the write when the slot already shows the
// requested pattern
func WithSkipUnchanged(v bool) Option {
	return func(m *Machine) { m.skipUnchanged = v }
}

// WithParallel limits how many disjoint targets are driven at once
func WithParallel(n int) Option {
	return func(m *Machine) { m.parallel = n }
}

func New(reg *registry.Registry, opts ...Option) *Machine {
	m := &Machine{reg: reg, parallel: 4}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Set drives one target. It never retries: a refused or mismatching write
// is returned to the caller as is.
func (m *Machine) Set(ctx context.Context, t backend.Target) error {
	if !t.State.IsBase() {
		return fmt.Errorf("%s: %w", t.State, ibpi.ErrUnknownState)
	}

	before, err := m.reg.ReadSlot(ctx, t.Controller, t.Address)
	if err != nil {
		return err
	}
	fields := log.Fields{
		"controller": t.Controller.String(),
		"slot":       before.ID,
		"device":     before.Device,
		"state":      t.State.String(),
	}

	if m.skipUnchanged && before.State == t.State && Verifiable(t.Controller, t.State) {
		log.WithFields(fields).Warnf("Led state: %s is already set for the slot.", t.State)
		return nil
	}

	if err := m.reg.WriteSlot(ctx, t.Controller, backend.Address{SlotID: before.ID}, t.State); err != nil {
		return err
	}
	log.WithFields(fields).Info("LED state changed")

	if m.recorder != nil {
		c := Change{Controller: t.Controller, Slot: before.ID, Device: before.Device, From: before.State, To: t.State}
		if err := m.recorder.Record(ctx, c); err != nil {
			log.WithFields(fields).WithError(err).Warn("Failed to journal LED change")
		}
	}

	if m.verify {
		_, err := m.Verify(ctx, t)
		return err
	}
	return nil
}

// Verify re-reads a target and compares it with expected. Combinations
// the hardware cannot report count as verified.
func (m *Machine) Verify(ctx context.Context, t backend.Target) (bool, error) {
	if !Verifiable(t.Controller, t.State) {
		log.WithFields(log.Fields{
			"controller": t.Controller.String(),
			"state":      t.State.String(),
		}).Debug("Pattern cannot be read back, skipping verification")
		return true, nil
	}

	s, err := m.reg.ReadSlot(ctx, t.Controller, t.Address)
	if err != nil {
		return false, err
	}
	if !ibpi.Equivalent(t.State, s.State) {
		return false, fmt.Errorf("%s: expected %s, read %s: %w", t.Address, t.State, s.State, backend.ErrStateMismatch)
	}
	return true, nil
}

// ownerKey identifies the indicator a target writes to
func ownerKey(t backend.Target) string {
	id := t.Address.SlotID
	if t.Address.Device != "" {
		id = "dev:" + filepath.Base(t.Address.Device)
	}
	return t.Controller.String() + "/" + id
}

// Apply drives every target. Targets aimed at the same indicator run in
// order on one goroutine, distinct indicators run concurrently. A failing
// target does not stop the others; failures are joined in target order.
func (m *Machine) Apply(ctx context.Context, targets []backend.Target) error {
	var order []string
	groups := make(map[string][]int)
	for i, t := range targets {
		k := ownerKey(t)
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], i)
	}

	errs := make([]error, len(targets))
	var g errgroup.Group
	if m.parallel > 0 {
		g.SetLimit(m.parallel)
	}
	for _, k := range order {
		idx := groups[k]
		g.Go(func() error {
			for _, i := range idx {
				if err := m.Set(ctx, targets[i]); err != nil {
					errs[i] = &backend.TargetError{Target: targets[i].Address.String(), Err: err}
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	return errors.Join(errs...)
}

// ResetUnlisted sets every slot of the controllers touched by targets that
// none of the targets addresses back to NORMAL. A listed device is left
// alone behind every controller that reaches it.
func (m *Machine) ResetUnlisted(ctx context.Context, targets []backend.Target) error {
	listed := make(map[string]bool)
	devices := make(map[string]bool)
	var controllers []backend.ControllerType
	seen := make(map[backend.ControllerType]bool)
	for _, t := range targets {
		listed[ownerKey(t)] = true
		if t.Address.Device != "" {
			devices[filepath.Base(t.Address.Device)] = true
		}
		if !seen[t.Controller] {
			seen[t.Controller] = true
			controllers = append(controllers, t.Controller)
		}
	}

	var resets []backend.Target
	for _, ct := range controllers {
		slots, err := m.reg.ListSlots(ctx, ct)
		if err != nil {
			return err
		}
		for _, s := range slots {
			bySlot := backend.Target{Controller: ct, Address: backend.Address{SlotID: s.ID}}
			if listed[ownerKey(bySlot)] || (s.Populated() && devices[filepath.Base(s.Device)]) {
				continue
			}
			if s.State != ibpi.Normal {
				resets = append(resets, backend.Target{Controller: ct, Address: bySlot.Address, State: ibpi.Normal})
			}
		}
	}
	return m.Apply(ctx, resets)
}
