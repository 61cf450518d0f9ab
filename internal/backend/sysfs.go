package backend

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Sysfs reads and writes kernel attributes below Root. Root is "/" on a
// live system and a temp directory in tests.
type Sysfs struct {
	Root string
}

// Path joins p below the root
func (s Sysfs) Path(p ...string) string {
	root := s.Root
	if root == "" {
		root = "/"
	}
	return filepath.Join(append([]string{root}, p...)...)
}

// Rel strips the root from an absolute path produced by Path
func (s Sysfs) Rel(p string) string {
	if s.Root == "" || s.Root == "/" {
		return p
	}
	rel, err := filepath.Rel(s.Root, p)
	if err != nil {
		return p
	}
	return "/" + rel
}

// ReadString returns the trimmed content of an attribute
func (s Sysfs) ReadString(p ...string) (string, error) {
	data, err := os.ReadFile(s.Path(p...))
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// ReadInt parses an attribute as an integer. Hex values with a 0x
// prefix are accepted.
func (s Sysfs) ReadInt(p ...string) (int64, error) {
	v, err := s.ReadString(p...)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 0, 64)
}

// ReadBool treats "1" as true
func (s Sysfs) ReadBool(p ...string) bool {
	v, err := s.ReadString(p...)
	return err == nil && v == "1"
}

// Write stores value into an existing attribute
func (s Sysfs) Write(value string, p ...string) error {
	f, err := os.OpenFile(s.Path(p...), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(value); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Exists reports whether the path below root exists
func (s Sysfs) Exists(p ...string) bool {
	_, err := os.Stat(s.Path(p...))
	return err == nil
}

// Resolve follows symlinks below root. The result is absolute on the host
// filesystem, use Rel to get back a root relative path.
func (s Sysfs) Resolve(p ...string) (string, error) {
	return filepath.EvalSymlinks(s.Path(p...))
}

// BlockName returns the first block device name under dir/block, which is
// how the kernel exposes the disk attached to a SCSI or NVMe device.
func (s Sysfs) BlockName(p ...string) string {
	entries, err := os.ReadDir(s.Path(append(p, "block")...))
	if err != nil || len(entries) == 0 {
		return ""
	}
	return entries[0].Name()
}
