package vmd

import (
	"context"
	"testing"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/sysfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func vmdTree(t *testing.T) *sysfstest.Tree {
	tr := sysfstest.New(t)
	tr.Link("sys/bus/pci/drivers/vmd/0000:5d:05.5/domain", "sys/devices/pci10000:00")
	tr.File("sys/bus/pci/drivers/vmd/bind", "")

	tr.File("sys/bus/pci/slots/1/address", "10000:01:00\n")
	tr.File("sys/bus/pci/slots/1/attention", "15\n")
	tr.File("sys/bus/pci/slots/2/address", "10000:02:00\n")
	tr.File("sys/bus/pci/slots/2/attention", "7\n")
	// native slot outside the VMD domain
	tr.File("sys/bus/pci/slots/9/address", "0000:3a:00\n")
	tr.File("sys/bus/pci/slots/9/attention", "15\n")

	tr.BlockDevice("nvme0n1", "sys/devices/pci10000:00/10000:00:02.0/10000:01:00.0/nvme/nvme0/nvme0n1", "nvme0n1")
	tr.BlockDevice("sda", "sys/devices/pci0000:00/0000:00:17.0/ata1/host0/target0:0:0/0:0:0:0/block/sda", "sda")
	return tr
}

func TestListSlots(t *testing.T) {
	tr := vmdTree(t)
	slots, err := New(tr.Root).ListSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 2)

	assert.Equal(t, backend.Slot{Controller: backend.VMD, ID: "1", State: ibpi.Normal, Device: "/dev/nvme0n1"}, slots[0])
	assert.Equal(t, backend.Slot{Controller: backend.VMD, ID: "2", State: ibpi.Locate}, slots[1])
}

func TestUnavailableWithoutDriver(t *testing.T) {
	tr := sysfstest.New(t)
	tr.File("sys/bus/pci/slots/1/address", "0000:01:00\n")

	_, err := New(tr.Root).ListSlots(context.Background())
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestWriteAllBaseStates(t *testing.T) {
	tr := vmdTree(t)
	d := New(tr.Root)
	ctx := context.Background()

	for _, state := range ibpi.BaseStates {
		require.NoError(t, d.WriteSlot(ctx, backend.Address{Device: "/dev/nvme0n1"}, state))
		got, err := d.ReadSlot(ctx, backend.Address{SlotID: "1"})
		require.NoError(t, err)
		assert.True(t, ibpi.Equivalent(state, got.State), "%s read back as %s", state, got.State)
	}
	assert.Equal(t, "5", tr.Read("sys/bus/pci/slots/1/attention"))
}

func TestWriteRejectsUnknownPattern(t *testing.T) {
	tr := vmdTree(t)
	err := New(tr.Root).WriteSlot(context.Background(), backend.Address{SlotID: "1"}, ibpi.Unknown)
	assert.ErrorIs(t, err, backend.ErrWriteRejected)
}

func TestDeviceOutsideVMD(t *testing.T) {
	tr := vmdTree(t)
	_, err := New(tr.Root).ReadSlot(context.Background(), backend.Address{Device: "/dev/sda"})
	assert.ErrorIs(t, err, backend.ErrDeviceNotSupported)
}

func TestSlotAddress(t *testing.T) {
	assert.Equal(t, "10000:01:00", slotAddress("/sys/devices/pci10000:00/10000:00:02.0/10000:01:00.0/nvme/nvme0/nvme0n1"))
	assert.Equal(t, "", slotAddress("/sys/devices/virtual/block/loop0"))
}
