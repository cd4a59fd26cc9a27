// Package overlay stacks a writable upper layer over a read-only extracted
// rootfs via a FUSE overlay mount (fuse-overlayfs), modeled after how
// internal/podman/client.go locates and wraps an external CLI tool.
package overlay

import (
	"bytes"
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
)

// Set describes the four directories that make up a mounted overlay.
type Set struct {
	LowerDir string
	UpperDir string
	WorkDir  string
	MountDir string

	persist  bool
	toolPath string
}

// Manager locates and drives the fuse-overlayfs binary.
type Manager struct {
	toolPath string
}

// NewManager verifies fuse-overlayfs is on PATH.
func NewManager() (*Manager, error) {
	path, err := exec.LookPath("fuse-overlayfs")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	return &Manager{toolPath: path}, nil
}

// Mount creates upper/work/mount subdirectories under root (an engine-owned
// temp dir, or a caller-supplied directory when persist is requested) and
// mounts lower read-only beneath a writable view at root/mount.
func (m *Manager) Mount(lower, root string, persist bool) (*Set, error) {
	if persist && root == "" {
		return nil, fmt.Errorf("%w: persist requires a caller-supplied root directory", ErrMount)
	}

	upper := filepath.Join(root, "upper")
	work := filepath.Join(root, "work")
	mountDir := filepath.Join(root, "mount")

	for _, d := range []string{upper, work, mountDir} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMount, err)
		}
	}

	opts := fmt.Sprintf("lowerdir=%s,upperdir=%s,workdir=%s", lower, upper, work)
	cmd := exec.Command(m.toolPath, "-o", opts, mountDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMount, stderr.String())
	}

	return &Set{
		LowerDir: lower,
		UpperDir: upper,
		WorkDir:  work,
		MountDir: mountDir,
		persist:  persist,
		toolPath: m.toolPath,
	}, nil
}

// Unmount invokes fusermount -u on the mount directory. A no-op that emits a
// caller-visible warning if the set was mounted with persist, since manual
// unmount is then required.
func (m *Manager) Unmount(s *Set) error {
	if s.persist {
		log.Printf("overlay: %s mounted with persist=true, leaving mounted; unmount manually with `fusermount -u %s`", s.MountDir, s.MountDir)
		return nil
	}

	cmd := exec.Command("fusermount", "-u", s.MountDir)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%w: %s", ErrUnmount, stderr.String())
	}
	return nil
}
