package backend

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sigreer/ledctl/internal/ibpi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testSlots = []Slot{
	{Controller: VMD, ID: "1", State: ibpi.Normal, Device: "/dev/nvme0n1"},
	{Controller: VMD, ID: "2", State: ibpi.Locate},
}

func TestFindSlotBySlotID(t *testing.T) {
	s, err := FindSlot(testSlots, Address{SlotID: "2"})
	require.NoError(t, err)
	assert.Equal(t, ibpi.Locate, s.State)
	assert.False(t, s.Populated())

	_, err = FindSlot(testSlots, Address{SlotID: "7"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFindSlotByDevice(t *testing.T) {
	s, err := FindSlot(testSlots, Address{Device: "nvme0n1"})
	require.NoError(t, err)
	assert.Equal(t, "1", s.ID)

	_, err = FindSlot(testSlots, Address{Device: "/dev/sda"})
	assert.ErrorIs(t, err, ErrDeviceNotSupported)
}

func TestParseControllerType(t *testing.T) {
	c, err := ParseControllerType("vmd")
	require.NoError(t, err)
	assert.Equal(t, VMD, c)

	_, err = ParseControllerType("ahci")
	assert.ErrorIs(t, err, ErrInvalidController)
}

func TestTargetErrorMessages(t *testing.T) {
	notFound := &TargetError{Target: "/dev/sdz", Err: ErrDeviceNotFound}
	assert.Equal(t, "Could not find /dev/sdz", notFound.Error())
	assert.True(t, errors.Is(notFound, ErrDeviceNotFound))

	unsupported := &TargetError{Target: "/dev/loop0", Err: ErrDeviceNotSupported}
	assert.Equal(t, "/dev/loop0: device not supported", unsupported.Error())
}

func TestBoundedTimeout(t *testing.T) {
	err := Bounded(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})
	assert.ErrorIs(t, err, ErrBackendTimeout)

	err = Bounded(context.Background(), time.Second, func(ctx context.Context) error {
		return ErrWriteRejected
	})
	assert.ErrorIs(t, err, ErrWriteRejected)
}

func TestSysfsAttributes(t *testing.T) {
	root := t.TempDir()
	fs := Sysfs{Root: root}
	require.NoError(t, os.MkdirAll(fs.Path("sys/x"), 0755))
	require.NoError(t, os.WriteFile(fs.Path("sys/x/attention"), []byte("0xD\n"), 0644))

	v, err := fs.ReadInt("sys/x/attention")
	require.NoError(t, err)
	assert.Equal(t, int64(0xD), v)

	require.NoError(t, fs.Write("1", "sys/x/attention"))
	assert.True(t, fs.ReadBool("sys/x/attention"))
	assert.Equal(t, "/sys/x", fs.Rel(filepath.Join(root, "sys/x")))
	assert.False(t, fs.Exists("sys/y"))
}
