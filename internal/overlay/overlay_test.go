package overlay

import (
	"errors"
	"path/filepath"
	"testing"
)

func TestMountRejectsPersistWithoutRoot(t *testing.T) {
	m := &Manager{toolPath: "/bin/true"}
	_, err := m.Mount(filepath.Join(t.TempDir(), "lower"), "", true)
	if !errors.Is(err, ErrMount) {
		t.Fatalf("expected ErrMount, got %v", err)
	}
}

func TestUnmountPersistIsNoop(t *testing.T) {
	m := &Manager{toolPath: "/bin/true"}
	s := &Set{MountDir: filepath.Join(t.TempDir(), "mount"), persist: true}
	if err := m.Unmount(s); err != nil {
		t.Fatalf("expected nil error for persisted unmount, got %v", err)
	}
}
