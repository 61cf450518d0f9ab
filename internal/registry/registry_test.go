package registry

import (
	"context"
	"testing"
	"time"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/backend/sim"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRegistry(t *testing.T, topo sim.Topology, filter Filter) *Registry {
	f, err := sim.New(topo)
	require.NoError(t, err)
	return New(f.Drivers(), filter, WithCache(cache.New()), WithTimeout(time.Second))
}

func TestDiscover(t *testing.T) {
	r := newRegistry(t, sim.DefaultTopology(), Filter{})
	assert.Equal(t, []backend.ControllerType{backend.SCSI, backend.VMD, backend.NPEM}, r.Discover(context.Background()))
}

func TestDiscoverSkipsAbsent(t *testing.T) {
	topo := sim.Topology{Controllers: []sim.ControllerSpec{{Type: "VMD", Slots: []sim.SlotSpec{{ID: "1"}}}}}
	r := newRegistry(t, topo, Filter{})
	ctx := context.Background()

	assert.Equal(t, []backend.ControllerType{backend.VMD}, r.Discover(ctx))
	_, err := r.ListSlots(ctx, backend.NPEM)
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestControllerFilter(t *testing.T) {
	r := newRegistry(t, sim.DefaultTopology(), Filter{ExcludedControllers: []backend.ControllerType{backend.VMD}})
	ctx := context.Background()

	assert.Equal(t, []backend.ControllerType{backend.SCSI, backend.NPEM}, r.Discover(ctx))

	_, err := r.ListSlots(ctx, backend.VMD)
	assert.ErrorIs(t, err, backend.ErrControllerFiltered)
	assert.NotErrorIs(t, err, backend.ErrBackendUnavailable)
	_, err = r.ReadSlot(ctx, backend.VMD, backend.Address{SlotID: "1"})
	assert.ErrorIs(t, err, backend.ErrControllerFiltered)
	err = r.WriteSlot(ctx, backend.VMD, backend.Address{SlotID: "1"}, ibpi.Locate)
	assert.ErrorIs(t, err, backend.ErrControllerFiltered)
}

func TestSlotFilter(t *testing.T) {
	r := newRegistry(t, sim.DefaultTopology(), Filter{SlotPrefixes: []string{"sg2-1", "3"}})
	ctx := context.Background()

	slots, err := r.ListSlots(ctx, backend.SCSI)
	require.NoError(t, err)
	for _, s := range slots {
		assert.NotEqual(t, "sg2-1", s.ID)
	}
	assert.Len(t, slots, 3)

	slots, err = r.ListSlots(ctx, backend.VMD)
	require.NoError(t, err)
	assert.Len(t, slots, 2)

	_, err = r.ReadSlot(ctx, backend.SCSI, backend.Address{SlotID: "sg2-1"})
	assert.ErrorIs(t, err, backend.ErrNotFound)
	_, err = r.ReadSlot(ctx, backend.SCSI, backend.Address{Device: "/dev/sdb"})
	assert.ErrorIs(t, err, backend.ErrDeviceNotSupported)
	err = r.WriteSlot(ctx, backend.SCSI, backend.Address{SlotID: "sg2-1"}, ibpi.Locate)
	assert.ErrorIs(t, err, backend.ErrNotFound)
}

func TestFindDevice(t *testing.T) {
	r := newRegistry(t, sim.DefaultTopology(), Filter{})
	ctx := context.Background()

	found := r.FindDevice(ctx, "/dev/nvme1n1")
	require.Len(t, found, 2)
	assert.Equal(t, backend.VMD, found[0].Controller)
	assert.Equal(t, backend.NPEM, found[1].Controller)

	assert.Empty(t, r.FindDevice(ctx, "/dev/loop0"))
}

func TestInvalidController(t *testing.T) {
	r := New(nil, Filter{}, WithCache(cache.New()))
	_, err := r.Driver(context.Background(), backend.NPEM)
	assert.ErrorIs(t, err, backend.ErrInvalidController)
}
