package scsi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	log "github.com/sirupsen/logrus"
)

const enclosureClass = "sys/class/enclosure"

// Driver controls SES enclosure slots through the kernel enclosure class
// (/sys/class/enclosure/<hctl>/<component>/{locate,fault,active}).
type Driver struct {
	fs backend.Sysfs
}

// New creates a SCSI driver reading sysfs below root
func New(root string) *Driver {
	return &Driver{fs: backend.Sysfs{Root: root}}
}

func (d *Driver) Type() backend.ControllerType {
	return backend.SCSI
}

// component is one array device slot of an enclosure
type component struct {
	enclosure string // enclosure hctl, e.g. 6:0:24:0
	name      string // component directory, e.g. Slot05
	slotID    string // sg3-5
}

// components walks the enclosure class. The result is ordered by
// enclosure and slot index so listings are stable between runs.
func (d *Driver) components() ([]component, error) {
	entries, err := os.ReadDir(d.fs.Path(enclosureClass))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("SCSI: %s missing: %w", enclosureClass, backend.ErrBackendUnavailable)
		}
		return nil, err
	}

	var comps []component
	for _, entry := range entries {
		hctl := entry.Name()
		prefix := d.generic(hctl)

		type indexed struct {
			component
			index int
		}
		var slots []indexed

		compEntries, err := os.ReadDir(d.fs.Path(enclosureClass, hctl))
		if err != nil {
			continue
		}
		for i, ce := range compEntries {
			name := ce.Name()
			if !d.isDeviceSlot(hctl, name) {
				continue
			}
			idx := d.slotIndex(hctl, name, i)
			slots = append(slots, indexed{
				component: component{
					enclosure: hctl,
					name:      name,
					slotID:    prefix + "-" + strconv.Itoa(idx),
				},
				index: idx,
			})
		}

		sort.Slice(slots, func(i, j int) bool { return slots[i].index < slots[j].index })
		for _, s := range slots {
			comps = append(comps, s.component)
		}
	}

	return comps, nil
}

// generic returns the sg node name of an enclosure, falling back to the hctl
func (d *Driver) generic(hctl string) string {
	entries, err := os.ReadDir(d.fs.Path(enclosureClass, hctl, "device", "scsi_generic"))
	if err == nil && len(entries) > 0 {
		return entries[0].Name()
	}
	return hctl
}

// isDeviceSlot keeps components that carry LED controls and describe a
// device bay (type "device"/"array device", or the classic SlotNN naming)
func (d *Driver) isDeviceSlot(hctl, name string) bool {
	if !d.fs.Exists(enclosureClass, hctl, name, "locate") {
		return false
	}
	if typ, err := d.fs.ReadString(enclosureClass, hctl, name, "type"); err == nil {
		return strings.Contains(strings.ToLower(typ), "device")
	}
	return strings.HasPrefix(name, "Slot")
}

// slotIndex prefers the kernel "slot" attribute, then digits in the
// component name, then the directory position
func (d *Driver) slotIndex(hctl, name string, pos int) int {
	if v, err := d.fs.ReadInt(enclosureClass, hctl, name, "slot"); err == nil {
		return int(v)
	}
	digits := strings.TrimLeftFunc(name, func(r rune) bool { return r < '0' || r > '9' })
	if n, err := strconv.Atoi(digits); err == nil {
		return n
	}
	return pos
}

func (d *Driver) readState(c component) ibpi.State {
	switch {
	case d.fs.ReadBool(enclosureClass, c.enclosure, c.name, "fault"):
		return ibpi.Failure
	case d.fs.ReadBool(enclosureClass, c.enclosure, c.name, "locate"):
		return ibpi.Locate
	}
	// the rebuild request is not reported back by the enclosure
	return ibpi.Normal
}

func (d *Driver) snapshot(c component) backend.Slot {
	s := backend.Slot{
		Controller: backend.SCSI,
		ID:         c.slotID,
		State:      d.readState(c),
	}
	if name := d.fs.BlockName(enclosureClass, c.enclosure, c.name, "device"); name != "" {
		s.Device = "/dev/" + name
	}
	return s
}

// ListSlots enumerates every device slot of every enclosure
func (d *Driver) ListSlots(ctx context.Context) ([]backend.Slot, error) {
	comps, err := d.components()
	if err != nil {
		return nil, err
	}
	slots := make([]backend.Slot, 0, len(comps))
	for _, c := range comps {
		slots = append(slots, d.snapshot(c))
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

func (d *Driver) find(ctx context.Context, addr backend.Address) (component, error) {
	comps, err := d.components()
	if err != nil {
		return component{}, err
	}
	slots := make([]backend.Slot, len(comps))
	for i, c := range comps {
		slots[i] = d.snapshot(c)
	}
	s, err := backend.FindSlot(slots, addr)
	if err != nil {
		return component{}, err
	}
	for _, c := range comps {
		if c.slotID == s.ID {
			return c, nil
		}
	}
	return component{}, backend.ErrNotFound
}

// WriteSlot maps the pattern onto the locate/fault/active controls.
// REBUILD is sent as "active" which the enclosure does not decode on read.
func (d *Driver) WriteSlot(ctx context.Context, addr backend.Address, state ibpi.State) error {
	c, err := d.find(ctx, addr)
	if err != nil {
		return err
	}

	var locate, fault, active string
	switch state {
	case ibpi.Normal, ibpi.Off:
		locate, fault = "0", "0"
	case ibpi.Locate:
		locate, fault = "1", "0"
	case ibpi.Failure:
		locate, fault = "0", "1"
	case ibpi.Rebuild:
		locate, fault, active = "0", "0", "1"
	default:
		return fmt.Errorf("SCSI: %s: %w", state, backend.ErrWriteRejected)
	}

	log.WithFields(log.Fields{
		"controller": "SCSI",
		"slot":       c.slotID,
		"enclosure":  c.enclosure,
		"state":      state.String(),
	}).Debug("Writing enclosure slot controls")

	writes := []struct{ attr, value string }{
		{"locate", locate},
		{"fault", fault},
	}
	if active != "" {
		writes = append(writes, struct{ attr, value string }{"active", active})
	}
	for _, w := range writes {
		if err := d.fs.Write(w.value, enclosureClass, c.enclosure, c.name, w.attr); err != nil {
			if errors.Is(err, os.ErrNotExist) && w.attr == "active" {
				continue
			}
			return fmt.Errorf("SCSI: %s %s: %w: %v", c.slotID, w.attr, backend.ErrWriteRejected, err)
		}
	}
	return nil
}
