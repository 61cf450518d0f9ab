package arbiter

import (
	"context"
	"testing"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/backend/sim"
	"github.com/sigreer/ledctl/internal/cache"
	"github.com/sigreer/ledctl/internal/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newArbiter(t *testing.T, filter registry.Filter, priority ...backend.ControllerType) (*Arbiter, *sim.Fabric) {
	f, err := sim.New(sim.DefaultTopology())
	require.NoError(t, err)
	reg := registry.New(f.Drivers(), filter, registry.WithCache(cache.New()))
	a, err := New(reg, priority, cache.New())
	require.NoError(t, err)
	return a, f
}

func TestDefaultPriority(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{})
	ctx := context.Background()

	ct, err := a.BestControllerByDevice(ctx, "/dev/nvme1n1")
	require.NoError(t, err)
	assert.Equal(t, backend.NPEM, ct)

	ct, err = a.BestControllerByDevice(ctx, "/dev/nvme0n1")
	require.NoError(t, err)
	assert.Equal(t, backend.VMD, ct)

	ct, err = a.BestControllerByDevice(ctx, "/dev/sda")
	require.NoError(t, err)
	assert.Equal(t, backend.SCSI, ct)
}

func TestPriorityOverride(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{}, backend.VMD, backend.NPEM, backend.SCSI)
	ct, err := a.BestControllerByDevice(context.Background(), "/dev/nvme1n1")
	require.NoError(t, err)
	assert.Equal(t, backend.VMD, ct)
}

func TestFilteredControllerLosesArbitration(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{ExcludedControllers: []backend.ControllerType{backend.NPEM}})
	ct, err := a.BestControllerByDevice(context.Background(), "/dev/nvme1n1")
	require.NoError(t, err)
	assert.Equal(t, backend.VMD, ct)
}

func TestStableWithinInvocation(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{})
	ctx := context.Background()

	first, err := a.BestControllerByDevice(ctx, "/dev/nvme1n1")
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		ct, err := a.BestControllerByDevice(ctx, "/dev/nvme1n1")
		require.NoError(t, err)
		assert.Equal(t, first, ct)
	}
}

func TestUnreportedDevice(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{})
	_, err := a.BestControllerByDevice(context.Background(), "/dev/loop0")
	assert.ErrorIs(t, err, backend.ErrDeviceNotSupported)
}

func TestTie(t *testing.T) {
	a, _ := newArbiter(t, registry.Filter{}, backend.SCSI)
	candidates := []backend.Slot{
		{Controller: backend.VMD, ID: "2", Device: "/dev/nvme1n1"},
		{Controller: backend.NPEM, ID: "0000:65:00.0", Device: "/dev/nvme1n1"},
	}
	_, err := a.choose(candidates, "/dev/nvme1n1")
	assert.ErrorIs(t, err, backend.ErrAmbiguousDevice)
}

func TestDuplicatePriority(t *testing.T) {
	_, err := New(nil, []backend.ControllerType{backend.VMD, backend.VMD}, cache.New())
	assert.ErrorIs(t, err, backend.ErrAmbiguousDevice)
}
