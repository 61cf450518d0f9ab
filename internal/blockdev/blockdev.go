package blockdev

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/gobwas/glob"
	"github.com/pilebones/go-udev/crawler"
	"github.com/pilebones/go-udev/netlink"
	"github.com/sigreer/ledctl/internal/backend"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"
)

// Device is a block device known to the kernel
type Device struct {
	Name    string // kernel name, e.g. nvme0c0n1
	Node    string // /dev node, e.g. /dev/nvme0n1
	SysPath string // resolved sysfs path relative to the sysfs root
}

// Multipath reports whether the device sits under an NVMe subsystem,
// meaning more than one controller path may reach it
func (d Device) Multipath() bool {
	return strings.Contains(d.SysPath, "/nvme-subsystem/")
}

// nvme path devices are named nvme<subsys>c<ctrl>n<ns> and have no /dev node
var nvmePathRe = regexp.MustCompile(`^(nvme\d+)c\d+(n\d+)$`)

// NodeName maps a kernel block name to its /dev node name
func NodeName(name string) string {
	if m := nvmePathRe.FindStringSubmatch(name); m != nil {
		return m[1] + m[2]
	}
	return name
}

// Lister enumerates block devices below a sysfs root
type Lister struct {
	fs backend.Sysfs
}

// New creates a Lister. root is "/" on a live system.
func New(root string) *Lister {
	return &Lister{fs: backend.Sysfs{Root: root}}
}

// List returns every entry of /sys/block, hidden NVMe path devices included
func (l *Lister) List() ([]Device, error) {
	entries, err := os.ReadDir(l.fs.Path("sys/block"))
	if err != nil {
		return nil, fmt.Errorf("failed to read /sys/block: %w", err)
	}

	devices := make([]Device, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		resolved, err := l.fs.Resolve("sys/block", name)
		if err != nil {
			continue
		}
		devices = append(devices, Device{
			Name:    name,
			Node:    "/dev/" + NodeName(name),
			SysPath: l.fs.Rel(resolved),
		})
	}
	return devices, nil
}

// Lookup turns a user supplied path (a /dev node, a symlink to one such as
// /dev/disk/by-id/..., or a /sys/block entry) into a block device.
// It fails with ErrDeviceNotFound when the path does not exist and with
// ErrDeviceNotSupported when it exists but is not a block device.
func (l *Lister) Lookup(path string) (Device, error) {
	resolved, err := filepath.EvalSymlinks(l.fs.Path(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Device{}, fmt.Errorf("%s: %w", path, backend.ErrDeviceNotFound)
		}
		return Device{}, err
	}
	rel := l.fs.Rel(resolved)

	devices, err := l.List()
	if err != nil {
		return Device{}, err
	}

	if strings.HasPrefix(rel, "/sys/") {
		for _, d := range devices {
			if d.SysPath == rel {
				return d, nil
			}
		}
		return Device{}, fmt.Errorf("%s: %w", path, backend.ErrDeviceNotSupported)
	}

	if strings.HasPrefix(rel, "/dev/") {
		base := filepath.Base(rel)
		for _, d := range devices {
			if d.Name == base {
				return d, nil
			}
		}
		if d, ok := l.byDevNumber(resolved, devices); ok {
			return d, nil
		}
		if d, ok := l.byUdev(rel); ok {
			return d, nil
		}
	}

	return Device{}, fmt.Errorf("%s: %w", path, backend.ErrDeviceNotSupported)
}

// Node resolves a user supplied path to the /dev node of its block device
func (l *Lister) Node(path string) (string, error) {
	d, err := l.Lookup(path)
	if err != nil {
		return "", err
	}
	return d.Node, nil
}

// Expand matches a glob pattern such as /dev/nvme*n1 or /sys/block/sd[a-c]
// against the filesystem, one path component at a time. Matches are sorted.
func (l *Lister) Expand(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, fmt.Errorf("bad pattern %q: %w", pattern, err)
	}

	candidates := []string{"/"}
	for _, part := range strings.Split(strings.Trim(filepath.Clean(pattern), "/"), "/") {
		var next []string
		for _, dir := range candidates {
			if !strings.ContainsAny(part, "*?[{\\") {
				if p := filepath.Join(dir, part); l.fs.Exists(p) {
					next = append(next, p)
				}
				continue
			}
			entries, err := os.ReadDir(l.fs.Path(dir))
			if err != nil {
				continue
			}
			for _, e := range entries {
				next = append(next, filepath.Join(dir, e.Name()))
			}
		}
		candidates = next
	}

	var matches []string
	for _, c := range candidates {
		if g.Match(c) {
			matches = append(matches, c)
		}
	}
	sort.Strings(matches)
	return matches, nil
}

// byDevNumber dereferences /sys/dev/block/<major>:<minor> for nodes whose
// name differs from the kernel name
func (l *Lister) byDevNumber(node string, devices []Device) (Device, bool) {
	var st unix.Stat_t
	if err := unix.Stat(node, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFBLK {
		return Device{}, false
	}
	rdev := uint64(st.Rdev)
	link := fmt.Sprintf("sys/dev/block/%d:%d", unix.Major(rdev), unix.Minor(rdev))
	resolved, err := l.fs.Resolve(link)
	if err != nil {
		return Device{}, false
	}
	rel := l.fs.Rel(resolved)
	for _, d := range devices {
		if d.SysPath == rel {
			return d, true
		}
	}
	return Device{}, false
}

// byUdev asks the udev crawler which kobject owns a DEVNAME. Only used on
// the live root, the crawler always walks the host /sys.
func (l *Lister) byUdev(node string) (Device, bool) {
	if l.fs.Root != "" && l.fs.Root != "/" {
		return Device{}, false
	}
	for _, d := range Crawl() {
		if d.Node == node {
			return d, true
		}
	}
	return Device{}, false
}

// matchBlock selects block subsystem uevents
func matchBlock() netlink.Matcher {
	return &netlink.RuleDefinitions{
		Rules: []netlink.RuleDefinition{
			{
				Env: map[string]string{
					"SUBSYSTEM": "block",
				},
			},
		},
	}
}

// Crawl lists block devices known to udev
func Crawl() []Device {
	queue := make(chan crawler.Device)
	errs := make(chan error)
	crawler.ExistingDevices(queue, errs, matchBlock())

	var devices []Device
	for {
		select {
		case dev, ok := <-queue:
			if !ok {
				return devices
			}
			name := dev.Env["DEVNAME"]
			if name == "" || dev.Env["DEVTYPE"] != "disk" {
				continue
			}
			if !strings.HasPrefix(name, "/dev/") {
				name = "/dev/" + name
			}
			devices = append(devices, Device{
				Name:    filepath.Base(dev.KObj),
				Node:    name,
				SysPath: addSysPrefix(dev.KObj),
			})
		case err := <-errs:
			log.WithError(err).Debug("udev crawl failed")
			return devices
		}
	}
}

func addSysPrefix(path string) string {
	if strings.HasPrefix(path, "/sys/") {
		return path
	}
	return "/sys" + path
}
