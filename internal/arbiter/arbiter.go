// Package arbiter picks the controller that owns the indicator of a device
// reachable through more than one controller.
package arbiter

import (
	"context"
	"fmt"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/registry"
	log "github.com/sirupsen/logrus"
)

// DefaultPriority ranks controllers from most to least preferred.
// Enclosure management on the port itself beats hotplug registers,
// which beat the generic SES fallback.
var DefaultPriority = []backend.ControllerType{backend.NPEM, backend.VMD, backend.SCSI}

// Arbiter resolves device ownership
type Arbiter struct {
	reg      *registry.Registry
	rank     map[backend.ControllerType]int
	priority []backend.ControllerType
	memo     *cache.Cache
}

// New creates an arbiter using priority, or DefaultPriority when empty.
// A priority table naming a controller twice is rejected.
func New(reg *registry.Registry, priority []backend.ControllerType, memo *cache.Cache) (*Arbiter, error) {
	if len(priority) == 0 {
		priority = DefaultPriority
	}
	rank := make(map[backend.ControllerType]int, len(priority))
	for i, ct := range priority {
		if _, dup := rank[ct]; dup {
			return nil, fmt.Errorf("priority table lists %s twice: %w", ct, backend.ErrAmbiguousDevice)
		}
		rank[ct] = i
	}
	if memo == nil {
		memo = cache.Global()
	}
	return &Arbiter{reg: reg, rank: rank, priority: priority, memo: memo}, nil
}

// Candidates returns every visible slot holding device, one per controller
func (a *Arbiter) Candidates(ctx context.Context, device string) []backend.Slot {
	return a.reg.FindDevice(ctx, device)
}

// BestControllerByDevice returns the controller owning device. The answer
// is memoized so every request for the device in this run goes to the
// same controller. A device no controller reports is not supported.
func (a *Arbiter) BestControllerByDevice(ctx context.Context, device string) (backend.ControllerType, error) {
	v, err := a.memo.Load(cache.PrefixOwner+device, func() (interface{}, error) {
		return a.choose(a.Candidates(ctx, device), device)
	})
	if err != nil {
		return backend.Unknown, err
	}
	return v.(backend.ControllerType), nil
}

func (a *Arbiter) choose(candidates []backend.Slot, device string) (backend.ControllerType, error) {
	switch len(candidates) {
	case 0:
		return backend.Unknown, fmt.Errorf("%s: %w", device, backend.ErrDeviceNotSupported)
	case 1:
		return candidates[0].Controller, nil
	}

	best := backend.Unknown
	bestRank := -1
	tie := false
	for _, s := range candidates {
		r, ok := a.rank[s.Controller]
		if !ok {
			r = len(a.priority)
		}
		switch {
		case bestRank < 0 || r < bestRank:
			best, bestRank, tie = s.Controller, r, false
		case r == bestRank && s.Controller != best:
			tie = true
		}
	}
	if tie {
		return backend.Unknown, fmt.Errorf("%s: %w", device, backend.ErrAmbiguousDevice)
	}

	log.WithFields(log.Fields{
		"device":     device,
		"controller": best.String(),
		"paths":      len(candidates),
	}).Debug("Multipath device arbitrated")
	return best, nil
}
