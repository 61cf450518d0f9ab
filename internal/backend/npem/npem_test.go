package npem

import (
	"context"
	"encoding/binary"
	"os"
	"testing"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/sigreer/ledctl/internal/sysfstest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// configSpace returns a 4K config space with an AER capability at 0x100
// chained to NPEM at 0x140
func configSpace(capabilities uint32) []byte {
	buf := make([]byte, 4096)
	binary.LittleEndian.PutUint32(buf[0x100:], 0x0001|0x140<<20)
	binary.LittleEndian.PutUint32(buf[0x140:], extCapNPEM)
	binary.LittleEndian.PutUint32(buf[0x140+regCap:], capabilities)
	binary.LittleEndian.PutUint32(buf[0x140+regCtrl:], npemEnable|npemOK)
	binary.LittleEndian.PutUint32(buf[0x140+regStatus:], statusCommandCompleted)
	return buf
}

func npemTree(t *testing.T, capabilities uint32) *sysfstest.Tree {
	tr := sysfstest.New(t)
	tr.Dir("sys/bus/pci/devices/0000:00:01.0").Dir("sys/bus/pci/devices/0000:00:02.0")
	require.NoError(t, os.WriteFile(tr.Path("sys/bus/pci/devices/0000:00:01.0/config"), configSpace(capabilities), 0644))
	// function without NPEM
	require.NoError(t, os.WriteFile(tr.Path("sys/bus/pci/devices/0000:00:02.0/config"), make([]byte, 4096), 0644))

	tr.BlockDevice("nvme1n1", "sys/devices/pci0000:00/0000:00:01.0/0000:01:00.0/nvme/nvme1/nvme1n1", "nvme1n1")
	return tr
}

func ctrlReg(t *testing.T, tr *sysfstest.Tree) uint32 {
	data, err := os.ReadFile(tr.Path("sys/bus/pci/devices/0000:00:01.0/config"))
	require.NoError(t, err)
	return binary.LittleEndian.Uint32(data[0x140+regCtrl:])
}

func TestListSlots(t *testing.T) {
	tr := npemTree(t, npemEnable|npemOK|npemLocate|npemFail|npemRebuild)
	slots, err := New(tr.Root).ListSlots(context.Background())
	require.NoError(t, err)
	require.Len(t, slots, 1)
	assert.Equal(t, backend.Slot{Controller: backend.NPEM, ID: "0000:00:01.0", State: ibpi.Normal, Device: "/dev/nvme1n1"}, slots[0])
}

func TestNoCapablePort(t *testing.T) {
	tr := sysfstest.New(t)
	tr.File("sys/bus/pci/devices/0000:00:02.0/config", string(make([]byte, 256)))
	_, err := New(tr.Root).ListSlots(context.Background())
	assert.ErrorIs(t, err, backend.ErrBackendUnavailable)
}

func TestWriteRoundTrip(t *testing.T) {
	tr := npemTree(t, npemEnable|npemOK|npemLocate|npemFail|npemRebuild)
	d := New(tr.Root)
	ctx := context.Background()

	for _, state := range ibpi.BaseStates {
		require.NoError(t, d.WriteSlot(ctx, backend.Address{SlotID: "0000:00:01.0"}, state))
		got, err := d.ReadSlot(ctx, backend.Address{Device: "/dev/nvme1n1"})
		require.NoError(t, err)
		assert.Equal(t, state, got.State)
	}
	assert.Equal(t, uint32(npemEnable|npemRebuild), ctrlReg(t, tr))
}

func TestWriteRejectedWithoutCapability(t *testing.T) {
	tr := npemTree(t, npemEnable|npemOK|npemLocate|npemFail)
	err := New(tr.Root).WriteSlot(context.Background(), backend.Address{SlotID: "0000:00:01.0"}, ibpi.Rebuild)
	assert.ErrorIs(t, err, backend.ErrWriteRejected)
	assert.Equal(t, uint32(npemEnable|npemOK), ctrlReg(t, tr))
}

func TestReservedBitsPreserved(t *testing.T) {
	tr := npemTree(t, npemEnable|npemOK|npemLocate|npemFail)
	path := tr.Path("sys/bus/pci/devices/0000:00:01.0/config")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(data[0x140+regCtrl:], 0xA000|npemEnable|npemOK)
	require.NoError(t, os.WriteFile(path, data, 0644))

	require.NoError(t, New(tr.Root).WriteSlot(context.Background(), backend.Address{SlotID: "0000:00:01.0"}, ibpi.Locate))
	assert.Equal(t, uint32(0xA000|npemEnable|npemLocate), ctrlReg(t, tr))
}
