package vmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/blockdev"
	"github.com/sigreer/ledctl/internal/ibpi"
	log "github.com/sirupsen/logrus"
)

const (
	vmdDriver = "sys/bus/pci/drivers/vmd"
	pciSlots  = "sys/bus/pci/slots"
)

// attention register values of a VMD hotplug slot
const (
	attentionOff     = 0xF
	attentionLocate  = 0x7
	attentionRebuild = 0x5
	attentionFailure = 0xD
)

var stateToAttention = map[ibpi.State]int64{
	ibpi.Normal:  attentionOff,
	ibpi.Off:     attentionOff,
	ibpi.Locate:  attentionLocate,
	ibpi.Failure: attentionFailure,
	ibpi.Rebuild: attentionRebuild,
}

// Driver controls NVMe bays behind Intel VMD through PCIe hotplug slot
// attention registers
type Driver struct {
	fs     backend.Sysfs
	blocks *blockdev.Lister
}

// New creates a VMD driver reading sysfs below root
func New(root string) *Driver {
	return &Driver{
		fs:     backend.Sysfs{Root: root},
		blocks: blockdev.New(root),
	}
}

func (d *Driver) Type() backend.ControllerType {
	return backend.VMD
}

// domains returns the PCI domains exposed by bound VMD controllers
func (d *Driver) domains() ([]string, error) {
	entries, err := os.ReadDir(d.fs.Path(vmdDriver))
	if err != nil {
		return nil, fmt.Errorf("VMD: driver not loaded: %w", backend.ErrBackendUnavailable)
	}

	var domains []string
	for _, entry := range entries {
		target, err := d.fs.Resolve(vmdDriver, entry.Name(), "domain")
		if err != nil {
			continue
		}
		// pci10000:00 -> 10000
		dom := strings.TrimPrefix(filepath.Base(target), "pci")
		if i := strings.Index(dom, ":"); i > 0 {
			dom = dom[:i]
		}
		domains = append(domains, dom)
	}
	if len(domains) == 0 {
		return nil, fmt.Errorf("VMD: no domain bound: %w", backend.ErrBackendUnavailable)
	}
	return domains, nil
}

type hotplugSlot struct {
	id      string // slot directory name
	address string // 10000:01:00
}

func (d *Driver) slots() ([]hotplugSlot, error) {
	domains, err := d.domains()
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(d.fs.Path(pciSlots))
	if err != nil {
		return nil, fmt.Errorf("VMD: %s: %w", pciSlots, backend.ErrBackendUnavailable)
	}

	var slots []hotplugSlot
	for _, entry := range entries {
		addr, err := d.fs.ReadString(pciSlots, entry.Name(), "address")
		if err != nil || !d.fs.Exists(pciSlots, entry.Name(), "attention") {
			continue
		}
		for _, dom := range domains {
			if strings.HasPrefix(addr, dom+":") {
				slots = append(slots, hotplugSlot{id: entry.Name(), address: addr})
				break
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		a, errA := strconv.Atoi(slots[i].id)
		b, errB := strconv.Atoi(slots[j].id)
		if errA == nil && errB == nil {
			return a < b
		}
		return slots[i].id < slots[j].id
	})
	return slots, nil
}

// slotAddress extracts the PCI slot address of an NVMe block device: the
// path component in front of "nvme" without its function number
func slotAddress(sysPath string) string {
	parts := strings.Split(sysPath, "/")
	for i := 1; i < len(parts); i++ {
		if parts[i] == "nvme" {
			addr := parts[i-1]
			if dot := strings.LastIndex(addr, "."); dot > 0 {
				addr = addr[:dot]
			}
			return addr
		}
	}
	return ""
}

func (d *Driver) devicesByAddress() map[string]string {
	out := make(map[string]string)
	devices, err := d.blocks.List()
	if err != nil {
		return out
	}
	for _, dev := range devices {
		if !strings.HasPrefix(dev.Name, "nvme") {
			continue
		}
		if addr := slotAddress(dev.SysPath); addr != "" {
			if _, seen := out[addr]; !seen {
				out[addr] = dev.Node
			}
		}
	}
	return out
}

func (d *Driver) readState(s hotplugSlot) ibpi.State {
	v, err := d.fs.ReadInt(pciSlots, s.id, "attention")
	if err != nil {
		return ibpi.Unknown
	}
	switch v {
	case attentionOff:
		return ibpi.Normal
	case attentionLocate:
		return ibpi.Locate
	case attentionFailure:
		return ibpi.Failure
	case attentionRebuild:
		return ibpi.Rebuild
	}
	return ibpi.Unknown
}

func (d *Driver) ListSlots(ctx context.Context) ([]backend.Slot, error) {
	hp, err := d.slots()
	if err != nil {
		return nil, err
	}
	devices := d.devicesByAddress()

	slots := make([]backend.Slot, 0, len(hp))
	for _, s := range hp {
		slots = append(slots, backend.Slot{
			Controller: backend.VMD,
			ID:         s.id,
			State:      d.readState(s),
			Device:     devices[s.address],
		})
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

func (d *Driver) WriteSlot(ctx context.Context, addr backend.Address, state ibpi.State) error {
	s, err := d.ReadSlot(ctx, addr)
	if err != nil {
		return err
	}
	val, ok := stateToAttention[state]
	if !ok {
		return fmt.Errorf("VMD: controller doesn't support %s pattern: %w", state, backend.ErrWriteRejected)
	}

	log.WithFields(log.Fields{
		"controller": "VMD",
		"slot":       s.ID,
		"before":     s.State.String(),
		"state":      state.String(),
	}).Debug("Writing attention register")

	if err := d.fs.Write(strconv.FormatInt(val, 10), pciSlots, s.ID, "attention"); err != nil {
		return fmt.Errorf("VMD: slot %s: %w: %v", s.ID, backend.ErrWriteRejected, err)
	}
	return nil
}
