// Package sysfstest builds fake sysfs trees for backend tests.
package sysfstest

import (
	"os"
	"path/filepath"
	"testing"
)

// Tree is a directory standing in for the filesystem root
type Tree struct {
	t    testing.TB
	Root string
}

// New creates an empty tree in a temp directory
func New(t testing.TB) *Tree {
	t.Helper()
	root, err := filepath.EvalSymlinks(t.TempDir())
	if err != nil {
		t.Fatalf("temp dir: %v", err)
	}
	return &Tree{t: t, Root: root}
}

// Path joins p below the tree root
func (tr *Tree) Path(p string) string {
	return filepath.Join(tr.Root, p)
}

// Dir creates a directory and its parents
func (tr *Tree) Dir(p string) *Tree {
	tr.t.Helper()
	if err := os.MkdirAll(tr.Path(p), 0755); err != nil {
		tr.t.Fatalf("mkdir %s: %v", p, err)
	}
	return tr
}

// File writes content to p, creating parents
func (tr *Tree) File(p, content string) *Tree {
	tr.t.Helper()
	tr.Dir(filepath.Dir(p))
	if err := os.WriteFile(tr.Path(p), []byte(content), 0644); err != nil {
		tr.t.Fatalf("write %s: %v", p, err)
	}
	return tr
}

// Link creates a symlink at p pointing at target, both below the root.
// The target directory is created when missing.
func (tr *Tree) Link(p, target string) *Tree {
	tr.t.Helper()
	tr.Dir(filepath.Dir(p))
	if _, err := os.Stat(tr.Path(target)); os.IsNotExist(err) {
		tr.Dir(target)
	}
	if err := os.Symlink(tr.Path(target), tr.Path(p)); err != nil {
		tr.t.Fatalf("symlink %s: %v", p, err)
	}
	return tr
}

// Read returns the content of p
func (tr *Tree) Read(p string) string {
	tr.t.Helper()
	data, err := os.ReadFile(tr.Path(p))
	if err != nil {
		tr.t.Fatalf("read %s: %v", p, err)
	}
	return string(data)
}

// BlockDevice registers a disk: /sys/block/<name> links to devPath and a
// /dev/<node> file is created. node may be empty for hidden devices.
func (tr *Tree) BlockDevice(name, devPath, node string) *Tree {
	tr.t.Helper()
	tr.Link(filepath.Join("sys/block", name), devPath)
	if node != "" {
		tr.File(filepath.Join("dev", node), "")
	}
	return tr
}
