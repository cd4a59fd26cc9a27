// Package archive implements the content-addressed archive store: safe
// extraction of a compressed root-filesystem tarball into a cache directory
// keyed by the sha256 of the archive's compressed bytes.
package archive

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/opensandbox/pybubble/internal/metrics"
)

// Store extracts archives into a content-addressed cache directory.
type Store struct {
	cacheRoot string

	hashGroup singleflight.Group
	hashMu    sync.Mutex
	hashCache map[string]string // archive path -> sha256 hex, memoized per Store
}

// defaultCacheRoot returns "${HOME}/.cache/pybubble/rootfs".
func defaultCacheRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("%w: resolve home directory: %v", ErrIO, err)
	}
	return filepath.Join(home, ".cache", "pybubble", "rootfs"), nil
}

// NewStore constructs a Store rooted at the per-user cache convention.
func NewStore() (*Store, error) {
	root, err := defaultCacheRoot()
	if err != nil {
		return nil, err
	}
	return &Store{cacheRoot: root, hashCache: make(map[string]string)}, nil
}

// NewStoreAt constructs a Store rooted at an explicit cache directory, for
// tests and callers that don't want the per-user default.
func NewStoreAt(root string) *Store {
	return &Store{cacheRoot: root, hashCache: make(map[string]string)}
}

// hashArchive returns the sha256 hex digest of archivePath's bytes, memoized
// per Store and coalesced across concurrent callers of that Store for the
// same path. The memo is not shared between Store instances.
func (s *Store) hashArchive(archivePath string) (string, error) {
	s.hashMu.Lock()
	if h, ok := s.hashCache[archivePath]; ok {
		s.hashMu.Unlock()
		return h, nil
	}
	s.hashMu.Unlock()

	v, err, _ := s.hashGroup.Do(archivePath, func() (interface{}, error) {
		f, err := os.Open(archivePath)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
			}
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		defer f.Close()

		h := sha256.New()
		if _, err := io.Copy(h, f); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrIO, err)
		}
		digest := hex.EncodeToString(h.Sum(nil))

		s.hashMu.Lock()
		s.hashCache[archivePath] = digest
		s.hashMu.Unlock()
		return digest, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// Prepare extracts archivePath and returns the resulting rootfs directory.
// If targetPath is non-empty the archive is extracted directly there
// (re-extracting on every call). Otherwise the cache path is derived from
// the archive's sha256 and extraction is skipped if that directory already
// exists.
func (s *Store) Prepare(archivePath string, targetPath string) (string, error) {
	if targetPath != "" {
		if err := extractArchive(archivePath, targetPath); err != nil {
			os.RemoveAll(targetPath)
			return "", err
		}
		return targetPath, nil
	}

	if _, err := os.Stat(archivePath); err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
		}
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	digest, err := s.hashArchive(archivePath)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(s.cacheRoot, digest)
	if info, err := os.Stat(dest); err == nil && info.IsDir() {
		metrics.ArchiveCacheHits.Inc()
		return dest, nil
	}
	metrics.ArchiveCacheMisses.Inc()

	if err := os.MkdirAll(s.cacheRoot, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}

	// Extract into a temp sibling, then atomically rename into place so
	// concurrent extractors of the same hash converge on one valid tree.
	tmpDest, err := os.MkdirTemp(s.cacheRoot, digest+".tmp-")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrIO, err)
	}
	if err := extractArchive(archivePath, tmpDest); err != nil {
		os.RemoveAll(tmpDest)
		return "", err
	}

	if err := os.Rename(tmpDest, dest); err != nil {
		// Another extractor may have won the race; accept its result if the
		// destination now exists and is a directory.
		if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
			os.RemoveAll(tmpDest)
			return dest, nil
		}
		os.RemoveAll(tmpDest)
		return "", fmt.Errorf("%w: rename into cache: %v", ErrIO, err)
	}

	return dest, nil
}

// ClearCache removes the entire per-user cache root.
func (s *Store) ClearCache() error {
	if err := os.RemoveAll(s.cacheRoot); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}
	return nil
}

// Stats reports the number of cached rootfs trees and their total size on
// disk. Additive diagnostics for "osb clear-cache --dry-run", not part of
// the core extraction contract.
type Stats struct {
	Entries    int
	TotalBytes int64
}

func (s *Store) Stats() (Stats, error) {
	entries, err := os.ReadDir(s.cacheRoot)
	if err != nil {
		if os.IsNotExist(err) {
			return Stats{}, nil
		}
		return Stats{}, fmt.Errorf("%w: %v", ErrIO, err)
	}

	var st Stats
	for _, e := range entries {
		if !e.IsDir() || strings.Contains(e.Name(), ".tmp-") {
			continue
		}
		st.Entries++
		filepath.Walk(filepath.Join(s.cacheRoot, e.Name()), func(_ string, info os.FileInfo, walkErr error) error {
			if walkErr != nil {
				return nil
			}
			if !info.IsDir() {
				st.TotalBytes += info.Size()
			}
			return nil
		})
	}
	return st, nil
}

// extractArchive detects archivePath's codec, streams it into destDir, and
// aborts on the first unsafe or malformed member. It does not remove what
// was already written; callers remove destDir on error.
func extractArchive(archivePath, destDir string) (err error) {
	c, err := detectCodec(archivePath)
	if err != nil {
		return err
	}

	f, openErr := os.Open(archivePath)
	if openErr != nil {
		if os.IsNotExist(openErr) {
			return fmt.Errorf("%w: %s", ErrArchiveNotFound, archivePath)
		}
		return fmt.Errorf("%w: %v", ErrIO, openErr)
	}
	defer f.Close()

	dr, closeDr, err := decompressor(c, f)
	if err != nil {
		return err
	}
	defer closeDr()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", ErrIO, err)
	}

	tr := tar.NewReader(dr)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("%w: tar read: %v", ErrDecompressionFailed, err)
		}

		target, err := safeJoin(destDir, header.Name)
		if err != nil {
			return err
		}

		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, os.FileMode(header.Mode)|0o700); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		case tar.TypeReg, tar.TypeRegA:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, os.FileMode(header.Mode)|0o600)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			out.Close()
		case tar.TypeSymlink:
			if isUnsafeLinkTarget(header.Linkname) {
				return fmt.Errorf("%w: symlink %q -> %q", ErrUnsafeMember, header.Name, header.Linkname)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
			os.Remove(target)
			if err := os.Symlink(header.Linkname, target); err != nil {
				return fmt.Errorf("%w: %v", ErrIO, err)
			}
		default:
			// Device nodes, fifos etc: skip, same as a bare rootfs tarball
			// needs none of these to be reproduced faithfully by an
			// unprivileged extractor.
		}
	}

	return nil
}

// safeJoin rejects absolute member names and any ".." path component, then
// double-checks the normalized join stays within destDir.
func safeJoin(destDir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("%w: absolute member %q", ErrUnsafeMember, name)
	}
	for _, part := range strings.Split(filepath.ToSlash(name), "/") {
		if part == ".." {
			return "", fmt.Errorf("%w: member %q escapes target", ErrUnsafeMember, name)
		}
	}

	target := filepath.Join(destDir, name)
	cleanDest := filepath.Clean(destDir) + string(os.PathSeparator)
	if !strings.HasPrefix(filepath.Clean(target)+string(os.PathSeparator), cleanDest) {
		return "", fmt.Errorf("%w: member %q escapes target", ErrUnsafeMember, name)
	}
	return target, nil
}

// isUnsafeLinkTarget rejects absolute symlink targets and any target with a
// ".." component, mirroring the checks safeJoin performs for member names.
func isUnsafeLinkTarget(link string) bool {
	if link == "" {
		return false
	}
	if filepath.IsAbs(link) {
		return true
	}
	for _, part := range strings.Split(filepath.ToSlash(link), "/") {
		if part == ".." {
			return true
		}
	}
	return false
}
