package archive

import "errors"

// Sentinel errors for the archive store's error taxonomy. Callers should use
// errors.Is against these rather than matching message strings.
var (
	ErrArchiveNotFound     = errors.New("archive: archive not found")
	ErrUnsafeMember        = errors.New("archive: unsafe member path")
	ErrDecompressionFailed = errors.New("archive: decompression failed")
	ErrIO                  = errors.New("archive: io error")
)
