package process

import "errors"

var (
	ErrTimeout    = errors.New("process: timed out")
	ErrNotPty     = errors.New("process: not a pty handle")
	ErrSpawn      = errors.New("process: spawn failed")
	ErrNonZeroExit = errors.New("process: non-zero exit")
)
