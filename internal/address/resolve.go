// Package address turns slot ids, device paths and IBPI expressions into
// resolved LED targets.
package address

import (
	"context"
	"errors"
	"fmt"

	"github.com/sigreer/ledctl/internal/arbiter"
	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/registry"
	log "github.com/sirupsen/logrus"
)

// Locator finds device nodes. The block device lister serves live
// systems, the simulated fabric serves test mode.
type Locator interface {
	// Node maps a path to the canonical /dev node of its block device
	Node(path string) (string, error)
	// Expand returns the sorted paths matching a glob pattern
	Expand(pattern string) ([]string, error)
}

// Resolver resolves addresses against the present controllers
type Resolver struct {
	reg *registry.Registry
	arb *arbiter.Arbiter
	loc Locator
}

func New(reg *registry.Registry, arb *arbiter.Arbiter, loc Locator) *Resolver {
	return &Resolver{reg: reg, arb: arb, loc: loc}
}

// Device resolves a device path to its node and owning controller
func (r *Resolver) Device(ctx context.Context, path string) (backend.ControllerType, string, error) {
	node, err := r.loc.Node(path)
	if err != nil {
		return backend.Unknown, "", err
	}
	ct, err := r.arb.BestControllerByDevice(ctx, node)
	if err != nil {
		return backend.Unknown, "", err
	}
	return ct, node, nil
}

// Slot resolves a slot id behind a known controller
func (r *Resolver) Slot(ctx context.Context, ct backend.ControllerType, id string) (backend.Slot, error) {
	return r.reg.ReadSlot(ctx, ct, backend.Address{SlotID: id})
}

// Expand lists the paths a leaf expression stands for
func (r *Resolver) Expand(e Expr) ([]string, error) {
	if e.Kind != Pattern {
		return []string{e.Value}, nil
	}
	matches, err := r.loc.Expand(e.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", backend.ErrDeviceNotFound, err)
	}
	if len(matches) == 0 {
		return nil, backend.ErrDeviceNotFound
	}
	return matches, nil
}

// Resolve turns clauses into targets, keeping the order members were
// written in. A member that fails to resolve is reported in the returned
// error and the remaining members are still resolved.
func (r *Resolver) Resolve(ctx context.Context, clauses []Clause) ([]backend.Target, error) {
	var targets []backend.Target
	var errs []error

	for _, c := range clauses {
		for _, member := range c.Targets.Leaves() {
			paths, err := r.Expand(member)
			if err != nil {
				errs = append(errs, &backend.TargetError{Target: member.Value, Err: err})
				continue
			}
			for _, path := range paths {
				ct, node, err := r.Device(ctx, path)
				if err != nil {
					errs = append(errs, &backend.TargetError{Target: path, Err: err})
					continue
				}
				log.WithFields(log.Fields{
					"kind":       member.Kind.String(),
					"target":     path,
					"device":     node,
					"controller": ct.String(),
					"state":      c.State.String(),
				}).Debug("Target resolved")
				targets = append(targets, backend.Target{
					Controller: ct,
					Address:    backend.Address{Device: node},
					State:      c.State,
					Source:     path,
				})
			}
		}
	}
	return targets, errors.Join(errs...)
}
