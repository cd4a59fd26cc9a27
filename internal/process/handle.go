// Package process wraps a spawned child (pipe-based or PTY-based) as an
// async-friendly handle: wait/communicate/stream/send, interleaved
// stdout/stderr multiplexing, and per-call timeouts with hard-kill on
// expiry.
//
// The PTY construction path is grounded on internal/sandbox/pty.go's
// ptylib.StartWithSize/Setsize usage; the pipe construction path follows
// internal/sandbox/exec.go's buildCommand + timeout-context pattern.
package process

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	ptylib "github.com/creack/pty"
	"golang.org/x/sys/unix"
)

// State is the lifecycle state of a Handle.
type State int

const (
	StateRunning State = iota
	StateExited
	StateKilledByTimeout
	StateKilledByCaller
)

// Handle wraps one spawned child, in either pipe mode or PTY mode.
type Handle struct {
	cmd            *exec.Cmd
	defaultTimeout time.Duration

	ptyMaster *os.File // non-nil in PTY mode
	stdin     io.WriteCloser
	stdout    io.ReadCloser
	stderr    io.ReadCloser

	mu        sync.Mutex
	state     State
	exitCode  int
	waitOnce  sync.Once
	waitErr   error
	waitDone  chan struct{}
}

// New starts cmd in pipe mode, wiring stdin/stdout/stderr pipes.
func New(cmd *exec.Cmd, defaultTimeout time.Duration) (*Handle, error) {
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdin pipe: %v", ErrSpawn, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stdout pipe: %v", ErrSpawn, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: stderr pipe: %v", ErrSpawn, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	h := &Handle{
		cmd:            cmd,
		defaultTimeout: defaultTimeout,
		stdin:          stdin,
		stdout:         stdout,
		stderr:         stderr,
		waitDone:       make(chan struct{}),
	}
	h.startWaiter()
	return h, nil
}

// NewPTY starts cmd with an allocated pseudoterminal of the given size. All
// stream() chunks are labeled "stdout"; send() writes to the master fd.
func NewPTY(cmd *exec.Cmd, rows, cols int, defaultTimeout time.Duration) (*Handle, error) {
	master, err := ptylib.StartWithSize(cmd, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSpawn, err)
	}

	h := &Handle{
		cmd:            cmd,
		defaultTimeout: defaultTimeout,
		ptyMaster:      master,
		waitDone:       make(chan struct{}),
	}
	h.startWaiter()
	return h, nil
}

func (h *Handle) startWaiter() {
	go func() {
		err := h.cmd.Wait()
		h.mu.Lock()
		h.waitErr = err
		if h.state == StateRunning {
			h.state = StateExited
		}
		if h.cmd.ProcessState != nil {
			h.exitCode = h.cmd.ProcessState.ExitCode()
		}
		h.mu.Unlock()
		close(h.waitDone)
	}()
}

// Pid returns the child's process id.
func (h *Handle) Pid() int { return h.cmd.Process.Pid }

// Done returns a channel closed once the child has exited (by any means:
// normal exit, timeout kill, or caller-initiated kill). It never triggers a
// kill itself, unlike Wait.
func (h *Handle) Done() <-chan struct{} { return h.waitDone }

// IsPty reports whether this handle owns a pseudoterminal still open for
// reading/writing; false after ClosePty.
func (h *Handle) IsPty() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.ptyMaster != nil
}

// State returns the handle's current lifecycle state.
func (h *Handle) State() State {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

// ReturnCode returns the child's exit code, valid once State() != Running.
func (h *Handle) ReturnCode() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.exitCode
}

// Wait blocks until the child exits or timeout elapses (the handle's
// default timeout if timeout <= 0). On expiry the child is hard-killed and
// ErrTimeout is returned; the handle transitions to StateKilledByTimeout.
// If check is true, a non-zero exit is also reported as an error.
func (h *Handle) Wait(timeout time.Duration, check bool) (int, error) {
	if timeout <= 0 {
		timeout = h.defaultTimeout
	}

	if timeout > 0 {
		select {
		case <-h.waitDone:
		case <-time.After(timeout):
			h.mu.Lock()
			h.state = StateKilledByTimeout
			h.mu.Unlock()
			h.cmd.Process.Kill()
			<-h.waitDone
			return h.ReturnCode(), ErrTimeout
		}
	} else {
		<-h.waitDone
	}

	code := h.ReturnCode()
	if check && code != 0 {
		return code, fmt.Errorf("%w: exit code %d", ErrNonZeroExit, code)
	}
	return code, nil
}

// Communicate writes input (if non-empty) to stdin, drains both streams to
// EOF, and waits. Timeout behaves as in Wait.
func (h *Handle) Communicate(input []byte, timeout time.Duration) (stdout, stderr []byte, err error) {
	// Start the wait (and its timer) before draining, so a timeout kills a
	// child that keeps its output streams open.
	waitCh := make(chan error, 1)
	go func() {
		_, werr := h.Wait(timeout, false)
		waitCh <- werr
	}()

	if h.IsPty() {
		if len(input) > 0 {
			h.ptyMaster.Write(input)
		}
		h.CloseStdin()
		var buf []byte
		chunkCh, errCh := h.stream(false, 4096)
		for c := range chunkCh {
			buf = append(buf, c.Data...)
		}
		if streamErr := <-errCh; streamErr != nil && streamErr != io.EOF {
			err = streamErr
		}
		if werr := <-waitCh; werr != nil {
			err = werr
		}
		return buf, nil, err
	}

	if len(input) > 0 {
		h.stdin.Write(input)
	}
	h.CloseStdin()

	var wg sync.WaitGroup
	var outBuf, errBuf []byte
	wg.Add(2)
	go func() { defer wg.Done(); outBuf, _ = io.ReadAll(h.stdout) }()
	go func() { defer wg.Done(); errBuf, _ = io.ReadAll(h.stderr) }()
	wg.Wait()

	return outBuf, errBuf, <-waitCh
}

// Send writes bytes to the child: the PTY master in PTY mode, the stdin
// pipe in pipe mode.
func (h *Handle) Send(data []byte) error {
	if h.IsPty() {
		_, err := h.ptyMaster.Write(data)
		return err
	}
	_, err := h.stdin.Write(data)
	return err
}

// SendText is Send with a string argument.
func (h *Handle) SendText(text string) error { return h.Send([]byte(text)) }

// CloseStdin closes the stdin pipe (pipe mode) or is a no-op (PTY mode,
// where EOF on the master has no standalone meaning).
func (h *Handle) CloseStdin() error {
	if h.IsPty() {
		return nil
	}
	return h.stdin.Close()
}

// SetTerminalSize resizes the PTY. Fails with ErrNotPty in pipe mode.
func (h *Handle) SetTerminalSize(rows, cols int) error {
	if !h.IsPty() {
		return ErrNotPty
	}
	return ptylib.Setsize(h.ptyMaster, &ptylib.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
}

// ClosePty closes the PTY master. Idempotent (a second call, or a call in
// pipe mode, is a no-op) matching the Python original's close_pty, which
// sets self._master_fd = None so repeated calls never re-close the fd.
func (h *Handle) ClosePty() error {
	h.mu.Lock()
	master := h.ptyMaster
	h.ptyMaster = nil
	h.mu.Unlock()
	if master == nil {
		return nil
	}
	return master.Close()
}

// Terminate sends SIGTERM to the child.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	if h.state == StateRunning {
		h.state = StateKilledByCaller
	}
	h.mu.Unlock()
	return h.cmd.Process.Signal(unix.SIGTERM)
}

// Kill sends SIGKILL to the child.
func (h *Handle) Kill() error {
	h.mu.Lock()
	if h.state == StateRunning {
		h.state = StateKilledByCaller
	}
	h.mu.Unlock()
	return h.cmd.Process.Kill()
}
