// Package sim provides in-memory controllers used by test mode and the
// test suite. A device listed behind several controllers shares a single
// indicator, which is how a dual ported NVMe drive behaves.
package sim

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"
	"github.com/sigreer/ledctl/internal/backend"
	"github.com/sigreer/ledctl/internal/ibpi"
	log "github.com/sirupsen/logrus"
)

// Topology describes the simulated hardware, as found under "simulate:" in
// the config file
type Topology struct {
	Controllers []ControllerSpec `yaml:"controllers"`
	// Unsupported lists device nodes that exist but sit behind no controller
	Unsupported []string `yaml:"unsupported,omitempty"`
}

type ControllerSpec struct {
	Type  string     `yaml:"type"`
	Slots []SlotSpec `yaml:"slots"`
}

type SlotSpec struct {
	ID     string `yaml:"id"`
	Device string `yaml:"device,omitempty"`
	State  string `yaml:"state,omitempty"`
	Busy   bool   `yaml:"busy,omitempty"`
}

// DefaultTopology is used by --test when the config has no simulate section
func DefaultTopology() Topology {
	return Topology{
		Controllers: []ControllerSpec{
			{Type: "SCSI", Slots: []SlotSpec{
				{ID: "sg2-0", Device: "/dev/sda"},
				{ID: "sg2-1", Device: "/dev/sdb"},
				{ID: "sg2-2"},
				{ID: "sg2-3", Device: "/dev/sdc"},
			}},
			{Type: "VMD", Slots: []SlotSpec{
				{ID: "1", Device: "/dev/nvme0n1"},
				{ID: "2", Device: "/dev/nvme1n1"},
				{ID: "3"},
			}},
			{Type: "NPEM", Slots: []SlotSpec{
				{ID: "0000:65:00.0", Device: "/dev/nvme1n1"},
				{ID: "0000:66:00.0", Device: "/dev/nvme2n1"},
			}},
		},
		Unsupported: []string{"/dev/loop0", "/dev/ram0"},
	}
}

// indicator is the LED shared by every slot seeing the same device
type indicator struct {
	state ibpi.State
}

type slot struct {
	id     string
	device string
	busy   bool
	led    *indicator
}

// Fabric holds the simulated hardware of every controller
type Fabric struct {
	mu          sync.Mutex
	controllers map[backend.ControllerType][]*slot
	unsupported map[string]bool
}

// New builds a fabric from a topology
func New(topo Topology) (*Fabric, error) {
	f := &Fabric{
		controllers: make(map[backend.ControllerType][]*slot),
		unsupported: make(map[string]bool),
	}
	shared := make(map[string]*indicator)

	for _, c := range topo.Controllers {
		ct, err := backend.ParseControllerType(c.Type)
		if err != nil {
			return nil, fmt.Errorf("simulate: %w", err)
		}
		for _, s := range c.Slots {
			state := ibpi.Normal
			if s.State != "" {
				if state, err = ibpi.Parse(s.State); err != nil {
					return nil, fmt.Errorf("simulate: slot %s: %w", s.ID, err)
				}
			}
			led := &indicator{state: state}
			if s.Device != "" {
				if prev, ok := shared[s.Device]; ok {
					led = prev
				} else {
					shared[s.Device] = led
				}
			}
			f.controllers[ct] = append(f.controllers[ct], &slot{id: s.ID, device: s.Device, busy: s.Busy, led: led})
		}
	}
	for _, dev := range topo.Unsupported {
		f.unsupported[dev] = true
	}
	return f, nil
}

// Drivers returns one driver per simulated controller type
func (f *Fabric) Drivers() []backend.Driver {
	var drivers []backend.Driver
	for _, ct := range backend.SlotControllers {
		drivers = append(drivers, &Driver{fabric: f, ctype: ct})
	}
	return drivers
}

// sysBlock is where the kernel lists block devices, /sys/block/<name>
// names the same device as /dev/<name>
const sysBlock = "/sys/block/"

// canonical rewrites a /sys/block/<name> path to its /dev node
func canonical(path string) string {
	path = filepath.Clean(path)
	if strings.HasPrefix(path, sysBlock) {
		return "/dev/" + strings.TrimPrefix(path, sysBlock)
	}
	return path
}

// Node maps a device path onto a simulated device node
func (f *Fabric) Node(path string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	node := canonical(path)
	if f.unsupported[node] {
		return "", fmt.Errorf("%s: %w", path, backend.ErrDeviceNotSupported)
	}
	for _, slots := range f.controllers {
		for _, s := range slots {
			if s.device == node {
				return node, nil
			}
		}
	}
	return "", fmt.Errorf("%s: %w", path, backend.ErrDeviceNotFound)
}

// Expand matches a glob pattern against the simulated devices, in both
// their /dev and /sys/block forms. Matches are returned as /dev nodes.
func (f *Fabric) Expand(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool)
	var matches []string
	add := func(dev string) {
		if dev == "" || seen[dev] {
			return
		}
		if g.Match(dev) || g.Match(sysBlock+strings.TrimPrefix(dev, "/dev/")) {
			seen[dev] = true
			matches = append(matches, dev)
		}
	}
	for _, slots := range f.controllers {
		for _, s := range slots {
			add(s.device)
		}
	}
	for dev := range f.unsupported {
		add(dev)
	}
	sort.Strings(matches)
	return matches, nil
}

// Driver is the simulated backend of one controller type
type Driver struct {
	fabric *Fabric
	ctype  backend.ControllerType
}

func (d *Driver) Type() backend.ControllerType {
	return d.ctype
}

// reported applies the read back limits of the real hardware: SES has no
// rebuild bit to decode and shows the bay as normal.
func (d *Driver) reported(s *slot) ibpi.State {
	if d.ctype == backend.SCSI && s.led.state == ibpi.Rebuild {
		return ibpi.Normal
	}
	return s.led.state
}

func (d *Driver) ListSlots(ctx context.Context) ([]backend.Slot, error) {
	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()

	slots, ok := d.fabric.controllers[d.ctype]
	if !ok {
		return nil, fmt.Errorf("%s: not simulated: %w", d.ctype, backend.ErrBackendUnavailable)
	}
	out := make([]backend.Slot, 0, len(slots))
	for _, s := range slots {
		out = append(out, backend.Slot{
			Controller: d.ctype,
			ID:         s.id,
			State:      d.reported(s),
			Device:     s.device,
		})
	}
	return out, nil
}

func (d *Driver) ReadSlot(ctx context.Context, addr backend.Address) (backend.Slot, error) {
	slots, err := d.ListSlots(ctx)
	if err != nil {
		return backend.Slot{}, err
	}
	return backend.FindSlot(slots, addr)
}

func (d *Driver) WriteSlot(ctx context.Context, addr backend.Address, state ibpi.State) error {
	if !state.IsBase() {
		return fmt.Errorf("%s: %s: %w", d.ctype, state, backend.ErrWriteRejected)
	}

	d.fabric.mu.Lock()
	defer d.fabric.mu.Unlock()

	for _, s := range d.fabric.controllers[d.ctype] {
		if !matches(s, addr) {
			continue
		}
		if s.busy {
			return fmt.Errorf("%s: slot %s busy: %w", d.ctype, s.id, backend.ErrWriteRejected)
		}
		log.WithFields(log.Fields{
			"controller": d.ctype.String(),
			"slot":       s.id,
			"state":      state.String(),
		}).Debug("Simulated write")
		s.led.state = state
		return nil
	}

	if addr.Device != "" {
		return fmt.Errorf("%s: %w", addr.Device, backend.ErrDeviceNotSupported)
	}
	return fmt.Errorf("%s: %w", addr.SlotID, backend.ErrNotFound)
}

func matches(s *slot, addr backend.Address) bool {
	if addr.Device != "" {
		return s.device != "" && filepath.Base(s.device) == filepath.Base(addr.Device)
	}
	return s.id == strings.TrimSpace(addr.SlotID)
}
