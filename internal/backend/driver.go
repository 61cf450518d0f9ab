package backend

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/sigreer/ledctl/internal/ibpi"
)

// Driver is the capability set every hardware backend implements
type Driver interface {
	// Type returns the controller type served by the driver
	Type() ControllerType

	// ListSlots enumerates every slot. ErrBackendUnavailable means the
	// kernel interface for this backend is absent.
	ListSlots(ctx context.Context) ([]Slot, error)

	// ReadSlot returns the current state of one slot
	ReadSlot(ctx context.Context, addr Address) (Slot, error)

	// WriteSlot drives the indicator of one slot
	WriteSlot(ctx context.Context, addr Address, state ibpi.State) error
}

// FindSlot picks the slot matching addr from a listing. Slot ids and device
// nodes are compared by base name so "/dev/nvme0n1" and "nvme0n1" match.
func FindSlot(slots []Slot, addr Address) (Slot, error) {
	if addr.Device != "" {
		want := filepath.Base(addr.Device)
		for _, s := range slots {
			if s.Device != "" && filepath.Base(s.Device) == want {
				return s, nil
			}
		}
		return Slot{}, fmt.Errorf("%s: %w", addr.Device, ErrDeviceNotSupported)
	}

	want := filepath.Base(addr.SlotID)
	for _, s := range slots {
		if filepath.Base(s.ID) == want {
			return s, nil
		}
	}
	return Slot{}, fmt.Errorf("%s: %w", addr.SlotID, ErrNotFound)
}

// Bounded runs fn and gives up after timeout, reporting ErrBackendTimeout.
// A zero timeout only honours ctx. fn keeps running in the background if
// the hardware never answers; the caller decides whether to retry.
func Bounded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return fmt.Errorf("%w: %v", ErrBackendTimeout, ctx.Err())
	}
}
