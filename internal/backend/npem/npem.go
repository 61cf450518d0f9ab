package npem

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/blockdev"
	"github.com/sigreer/ledctl/internal/ibpi"
	log "github.com/sirupsen/logrus"
)

const pciDevices = "sys/bus/pci/devices"

// PCIe Native PCIe Enclosure Management extended capability (PCIe r4.0 7.9.20)
const (
	extCapStart = 0x100
	extCapNPEM  = 0x0029

	regCap    = 0x04
	regCtrl   = 0x08
	regStatus = 0x0C

	npemEnable   = 0x001
	npemOK       = 0x004
	npemLocate   = 0x008
	npemFail     = 0x010
	npemRebuild  = 0x020
	npemReserved = ^uint32(0xfff)

	statusCommandCompleted = 0x01
)

// command completion may take up to one second
var commandTimeout = time.Second

var stateToBit = map[ibpi.State]uint32{
	ibpi.Normal:  npemOK,
	ibpi.Off:     0,
	ibpi.Locate:  npemLocate,
	ibpi.Failure: npemFail,
	ibpi.Rebuild: npemRebuild,
}

// Driver controls NPEM capable PCIe ports through their config space
type Driver struct {
	fs     backend.Sysfs
	blocks *blockdev.Lister
}

// New creates an NPEM driver reading sysfs below root
func New(root string) *Driver {
	return &Driver{
		fs:     backend.Sysfs{Root: root},
		blocks: blockdev.New(root),
	}
}

func (d *Driver) Type() backend.ControllerType {
	return backend.NPEM
}

// port is an NPEM capable PCI function
type port struct {
	address string // 0000:01:00.0
	offset  int64  // extended capability offset
}

func (d *Driver) configPath(address string) string {
	return d.fs.Path(pciDevices, address, "config")
}

func readReg(f *os.File, off int64) (uint32, error) {
	var buf [4]byte
	if _, err := f.ReadAt(buf[:], off); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func writeReg(f *os.File, off int64, val uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], val)
	_, err := f.WriteAt(buf[:], off)
	return err
}

// findCapability walks the extended capability list
func findCapability(f *os.File) (int64, bool) {
	off := int64(extCapStart)
	for i := 0; i < 48 && off >= extCapStart; i++ {
		hdr, err := readReg(f, off)
		if err != nil || hdr == 0 || hdr == 0xffffffff {
			return 0, false
		}
		if hdr&0xffff == extCapNPEM {
			return off, true
		}
		off = int64((hdr >> 20) & 0xffc)
	}
	return 0, false
}

func (d *Driver) ports() ([]port, error) {
	entries, err := os.ReadDir(d.fs.Path(pciDevices))
	if err != nil {
		return nil, fmt.Errorf("NPEM: %s: %w", pciDevices, backend.ErrBackendUnavailable)
	}

	var ports []port
	for _, entry := range entries {
		f, err := os.Open(d.configPath(entry.Name()))
		if err != nil {
			continue
		}
		off, ok := findCapability(f)
		if ok {
			if c, err := readReg(f, off+regCap); err == nil && c&npemEnable != 0 {
				ports = append(ports, port{address: entry.Name(), offset: off})
			}
		}
		f.Close()
	}
	if len(ports) == 0 {
		return nil, fmt.Errorf("NPEM: no capable port: %w", backend.ErrBackendUnavailable)
	}

	sort.Slice(ports, func(i, j int) bool { return ports[i].address < ports[j].address })
	return ports, nil
}

func (d *Driver) readState(p port) ibpi.State {
	f, err := os.Open(d.configPath(p.address))
	if err != nil {
		return ibpi.Unknown
	}
	defer f.Close()

	ctrl, err := readReg(f, p.offset+regCtrl)
	if err != nil {
		return ibpi.Unknown
	}
	switch {
	case ctrl&npemEnable == 0:
		return ibpi.Off
	case ctrl&npemFail != 0:
		return ibpi.Failure
	case ctrl&npemRebuild != 0:
		return ibpi.Rebuild
	case ctrl&npemLocate != 0:
		return ibpi.Locate
	case ctrl&npemOK != 0:
		return ibpi.Normal
	}
	return ibpi.Off
}

func (d *Driver) ListSlots(ctx context.Context) ([]backend.Slot, error) {
	ports, err := d.ports()
	if err != nil {
		return nil, err
	}
	devices, _ := d.blocks.List()

	slots := make([]backend.Slot, 0, len(ports))
	for _, p := range ports {
		s := backend.Slot{
			Controller: backend.NPEM,
			ID:         p.address,
			State:      d.readState(p),
		}
		for _, dev := range devices {
			if strings.Contains(dev.SysPath, "/"+p.address+"/") {
				s.Device = dev.Node
				break
			}
		}
		slots = append(slots, s)
	}
	return slots, nil
}

func (d *Driver) ReadSlot(ctx context.Context, addr backend.Address) (backend.Slot, error) {
	slots, err := d.ListSlots(ctx)
	if err != nil {
		return backend.Slot{}, err
	}
	return backend.FindSlot(slots, addr)
}

// waitCommand polls the status register until the previous command has
// completed, the one second budget elapsed, or ctx is done
func waitCommand(ctx context.Context, f *os.File, off int64) {
	deadline := time.Now().Add(commandTimeout)
	for time.Now().Before(deadline) {
		status, err := readReg(f, off+regStatus)
		if err != nil || status&statusCommandCompleted != 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func (d *Driver) WriteSlot(ctx context.Context, addr backend.Address, state ibpi.State) error {
	s, err := d.ReadSlot(ctx, addr)
	if err != nil {
		return err
	}
	bit, ok := stateToBit[state]
	if !ok {
		return fmt.Errorf("NPEM: %s: %w", state, backend.ErrWriteRejected)
	}

	f, err := os.OpenFile(d.configPath(s.ID), os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("NPEM: %s: %w: %v", s.ID, backend.ErrWriteRejected, err)
	}
	defer f.Close()

	off, found := findCapability(f)
	if !found {
		return fmt.Errorf("NPEM: %s lost capability: %w", s.ID, backend.ErrWriteRejected)
	}
	capReg, err := readReg(f, off+regCap)
	if err != nil {
		return err
	}
	if capReg&bit != bit {
		log.WithFields(log.Fields{"controller": "NPEM", "slot": s.ID, "state": state.String()}).
			Info("Controller doesn't support pattern")
		return fmt.Errorf("NPEM: %s doesn't support %s: %w", s.ID, state, backend.ErrWriteRejected)
	}

	waitCommand(ctx, f, off)

	ctrl, err := readReg(f, off+regCtrl)
	if err != nil {
		return err
	}
	val := (ctrl & npemReserved) | npemEnable | bit

	log.WithFields(log.Fields{
		"controller": "NPEM",
		"slot":       s.ID,
		"before":     fmt.Sprintf("%#x", ctrl),
		"after":      fmt.Sprintf("%#x", val),
	}).Debug("Writing NPEM control register")

	if err := writeReg(f, off+regCtrl, val); err != nil {
		return fmt.Errorf("NPEM: %s: %w: %v", s.ID, backend.ErrWriteRejected, err)
	}
	return nil
}
