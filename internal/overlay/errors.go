package overlay

import "errors"

var (
	ErrToolMissing = errors.New("overlay: fuse-overlayfs not found on PATH")
	ErrMount       = errors.New("overlay: mount failed")
	ErrUnmount     = errors.New("overlay: unmount failed")
)
