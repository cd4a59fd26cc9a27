package archive

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func buildTarGz(t *testing.T, entries map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gw)
	for name, content := range entries {
		hdr := &tar.Header{Name: name, Mode: 0o644, Size: int64(len(content))}
		if content == "" && filepath.Ext(name) == "" {
			hdr.Typeflag = tar.TypeDir
			hdr.Mode = 0o755
		}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("write header: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("write content: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("close tar: %v", err)
	}
	if err := gw.Close(); err != nil {
		t.Fatalf("close gzip: %v", err)
	}
	return buf.Bytes()
}

func writeArchive(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	return path
}

func TestPrepareIsIdempotentAndContentAddressed(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := filepath.Join(dir, "cache")
	archivePath := writeArchive(t, dir, "rootfs.tar.gz", buildTarGz(t, map[string]string{
		"bin/":       "",
		"bin/sh.txt": "hello",
	}))

	s := NewStoreAt(cacheRoot)
	first, err := s.Prepare(archivePath, "")
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if filepath.Dir(first) != cacheRoot {
		t.Fatalf("expected cache entry under %s, got %s", cacheRoot, first)
	}

	data, err := os.ReadFile(filepath.Join(first, "bin", "sh.txt"))
	if err != nil || string(data) != "hello" {
		t.Fatalf("extracted content mismatch: %v %q", err, data)
	}

	second, err := s.Prepare(archivePath, "")
	if err != nil {
		t.Fatalf("second prepare: %v", err)
	}
	if second != first {
		t.Fatalf("prepare not idempotent: %s != %s", first, second)
	}
}

func TestPrepareRejectsUnsafeMembers(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := filepath.Join(dir, "cache")
	archivePath := writeArchive(t, dir, "evil.tar.gz", buildTarGz(t, map[string]string{
		"../etc/passwd": "root:x:0:0",
	}))

	s := NewStoreAt(cacheRoot)
	_, err := s.Prepare(archivePath, "")
	if !errors.Is(err, ErrUnsafeMember) {
		t.Fatalf("expected ErrUnsafeMember, got %v", err)
	}

	entries, _ := os.ReadDir(cacheRoot)
	for _, e := range entries {
		if e.IsDir() && filepath.Ext(e.Name()) != ".tmp" {
			info, statErr := os.Stat(filepath.Join(cacheRoot, e.Name()))
			if statErr == nil && info.IsDir() {
				sub, _ := os.ReadDir(filepath.Join(cacheRoot, e.Name()))
				if len(sub) > 0 {
					t.Fatalf("partial extraction left behind: %v", sub)
				}
			}
		}
	}
}

func TestPrepareArchiveNotFound(t *testing.T) {
	s := NewStoreAt(t.TempDir())
	_, err := s.Prepare("/no/such/archive.tar.gz", "")
	if !errors.Is(err, ErrArchiveNotFound) {
		t.Fatalf("expected ErrArchiveNotFound, got %v", err)
	}
}

func TestClearCacheRemovesRoot(t *testing.T) {
	dir := t.TempDir()
	cacheRoot := filepath.Join(dir, "cache")
	archivePath := writeArchive(t, dir, "rootfs.tar.gz", buildTarGz(t, map[string]string{
		"a.txt": "x",
	}))

	s := NewStoreAt(cacheRoot)
	if _, err := s.Prepare(archivePath, ""); err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if err := s.ClearCache(); err != nil {
		t.Fatalf("clear cache: %v", err)
	}
	if _, err := os.Stat(cacheRoot); !os.IsNotExist(err) {
		t.Fatalf("expected cache root removed, stat err = %v", err)
	}
}
