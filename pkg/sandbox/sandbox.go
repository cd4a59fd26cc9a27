// Package sandbox is the public façade: a scoped object composing the
// archive store, overlay manager, network fabric, sandbox assembler, and
// process handle into "construct once, run many commands, tear down in
// reverse order" — the shape of internal/sandbox/manager.go's PodmanManager
// in the teacher, generalized from a podman backend to bwrap+slirp4netns.
package sandbox

import (
	"fmt"
	"math/rand"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/term"

	"github.com/opensandbox/pybubble/internal/archive"
	"github.com/opensandbox/pybubble/internal/launcher"
	"github.com/opensandbox/pybubble/internal/metrics"
	"github.com/opensandbox/pybubble/internal/netfabric"
	"github.com/opensandbox/pybubble/internal/overlay"
	"github.com/opensandbox/pybubble/internal/process"
)

// Sandbox is one constructed sandbox instance: a rootfs, an optional
// overlay, an optional network fabric, and a scratch tmp directory, all
// torn down together on Close.
type Sandbox struct {
	cfg config

	bwrapPath string
	identity  launcher.Identity

	rootfsDir string

	overlayMgr *overlay.Manager
	overlaySet *overlay.Set

	fabric *netfabric.Fabric

	workDir     string
	ownsWorkDir bool
	scratchDir  string

	mu      sync.Mutex
	handles []*process.Handle
	closed  bool
}

// RunOptions configures a single Run invocation.
type RunOptions struct {
	Timeout time.Duration
	UsePty  bool
	Rows    int
	Cols    int
}

// New validates the host environment, materializes the rootfs (and
// optionally an overlay and a network fabric), and returns a ready Sandbox.
// Any partially acquired resource is torn down if construction fails partway
// through.
func New(archivePath string, opts ...Option) (sb *Sandbox, err error) {
	start := time.Now()
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	bwrapPath, lookErr := launcher.BubblewrapPath()
	if lookErr != nil {
		return nil, lookErr
	}

	var overlayMgr *overlay.Manager
	if cfg.overlay {
		overlayMgr, lookErr = overlay.NewManager()
		if lookErr != nil {
			return nil, lookErr
		}
	}
	if cfg.attachNetNSPid == 0 && cfg.network && cfg.outbound {
		if _, lookErr := exec.LookPath("slirp4netns"); lookErr != nil {
			return nil, fmt.Errorf("%w: slirp4netns: %v", netfabric.ErrToolMissing, lookErr)
		}
	}

	sb = &Sandbox{
		cfg:        cfg,
		bwrapPath:  bwrapPath,
		identity:   launcher.Identity{UID: cfg.sandboxUID, Username: "sandbox"},
		overlayMgr: overlayMgr,
	}
	if cfg.sandboxUID == 0 {
		sb.identity.Username = "root"
	}

	// Counted before any failure point: the deferred Close below decrements
	// the gauge when construction fails.
	metrics.SandboxesActive.Inc()

	defer func() {
		if err != nil {
			sb.Close()
		}
	}()

	store, storeErr := archive.NewStore()
	if storeErr != nil {
		return nil, storeErr
	}
	rootfsDir, prepErr := store.Prepare(archivePath, cfg.extractTo)
	if prepErr != nil {
		return nil, prepErr
	}
	sb.rootfsDir = rootfsDir

	if cfg.overlay {
		root := cfg.overlayPath
		if root == "" {
			tmp, mkErr := os.MkdirTemp("", "pybubble-overlay-")
			if mkErr != nil {
				return nil, fmt.Errorf("%w: %v", archive.ErrIO, mkErr)
			}
			root = tmp
		}
		set, mountErr := overlayMgr.Mount(rootfsDir, root, cfg.persistOverlay)
		if mountErr != nil {
			return nil, mountErr
		}
		sb.overlaySet = set
	}

	if cfg.attachNetNSPid != 0 {
		fabric, fabErr := netfabric.Attach(cfg.attachNetNSPid)
		if fabErr != nil {
			return nil, fabErr
		}
		sb.fabric = fabric
	} else if cfg.network {
		fabric, fabErr := netfabric.New(netfabric.Options{
			Outbound:          cfg.outbound,
			AllowHostLoopback: cfg.allowHostLoopback,
		})
		if fabErr != nil {
			return nil, fabErr
		}
		sb.fabric = fabric
	}

	if cfg.workDir != "" {
		if mkErr := os.MkdirAll(cfg.workDir, 0o755); mkErr != nil {
			return nil, fmt.Errorf("%w: %v", archive.ErrIO, mkErr)
		}
		sb.workDir = cfg.workDir
	} else {
		tmp, mkErr := os.MkdirTemp("", "pybubble-work-")
		if mkErr != nil {
			return nil, fmt.Errorf("%w: %v", archive.ErrIO, mkErr)
		}
		sb.workDir = tmp
		sb.ownsWorkDir = true
	}

	scratch, mkErr := os.MkdirTemp("", "pybubble-tmp-")
	if mkErr != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrIO, mkErr)
	}
	sb.scratchDir = scratch

	metrics.SandboxCreateDuration.Observe(time.Since(start).Seconds())

	return sb, nil
}

// effectiveRootfs returns the directory bound at "/": the overlay's mount
// dir when an overlay is mounted, otherwise the bare extracted rootfs.
func (sb *Sandbox) effectiveRootfs() (dir string, writable bool) {
	if sb.overlaySet != nil {
		return sb.overlaySet.MountDir, true
	}
	return sb.rootfsDir, false
}

// Run builds the assembler argv, wraps it through the network fabric if
// one is attached, spawns the child, and returns a process handle. use_pty
// forbids combining with explicit pipe behavior by construction: PTY mode
// and pipe mode are mutually exclusive process.Handle constructors.
func (sb *Sandbox) Run(command string, opts RunOptions) (*process.Handle, error) {
	rootfsDir, writable := sb.effectiveRootfs()

	var extraBinds []launcher.BindArg
	if sb.fabric != nil {
		extraBinds = sb.fabric.BindArgs()
	}

	lc := launcher.Config{
		RootfsDir:     rootfsDir,
		Writable:      writable,
		WorkDir:       sb.workDir,
		ScratchTmpDir: sb.scratchDir,
		Identity:      sb.identity,
		NewSession:    !opts.UsePty,
		ExtraBinds:    extraBinds,
		Command:       command,
	}
	argv := launcher.Build(sb.bwrapPath, lc)
	if sb.fabric != nil {
		argv = sb.fabric.Wrap(argv)
	}

	cmd := exec.Command(argv[0], argv[1:]...)

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = sb.cfg.defaultTimeout
	}

	var handle *process.Handle
	var err error
	if opts.UsePty {
		rows, cols := opts.Rows, opts.Cols
		if rows <= 0 || cols <= 0 {
			rows, cols = hostTerminalSize()
		}
		handle, err = process.NewPTY(cmd, rows, cols, timeout)
	} else {
		handle, err = process.New(cmd, timeout)
	}
	if err != nil {
		return nil, err
	}

	sb.mu.Lock()
	sb.handles = append(sb.handles, handle)
	sb.mu.Unlock()

	execStart := time.Now()
	go func() {
		<-handle.Done()
		timedOut := "false"
		if handle.State() == process.StateKilledByTimeout {
			timedOut = "true"
		}
		metrics.ExecDuration.WithLabelValues(timedOut).Observe(time.Since(execStart).Seconds())
	}()

	return handle, nil
}

// scriptRuntimes maps a run_script extension to its interpreter. Beyond
// spec.md's single python/.py example, node and bash are supplemented per
// SPEC_FULL.md since the sandboxed environment is not python-specific.
var scriptRuntimes = map[string]string{
	"py": "python",
	"js": "node",
	"sh": "bash",
}

// RunScript writes code into the scratch tmp directory under a random
// filename with the given extension and delegates to Run, invoking it with
// runCommand (or the scriptRuntimes default for extension when runCommand
// is empty).
func (sb *Sandbox) RunScript(code, runCommand, extension string, opts RunOptions) (*process.Handle, error) {
	if extension == "" {
		extension = "py"
	}
	if runCommand == "" {
		rc, ok := scriptRuntimes[extension]
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownScriptRuntime, extension)
		}
		runCommand = rc
	}

	name := fmt.Sprintf("script-%08x.%s", rand.Uint32(), extension)
	path := filepath.Join(sb.scratchDir, name)
	if err := os.WriteFile(path, []byte(code), 0o700); err != nil {
		return nil, fmt.Errorf("%w: %v", archive.ErrIO, err)
	}

	guestPath := filepath.Join("/tmp", name)
	return sb.Run(fmt.Sprintf("%s %s", runCommand, guestPath), opts)
}

// ForwardPort delegates to the network fabric.
func (sb *Sandbox) ForwardPort(guestPort, hostPort int, proto string) (map[string]interface{}, error) {
	if sb.fabric == nil {
		return nil, ErrOutboundDisabled
	}
	return sb.fabric.ForwardPort(guestPort, hostPort, proto)
}

// Close tears everything down in strict reverse-construction order: process
// handles first (killed and awaited), then the network fabric, then the
// overlay, then temp directories. Idempotent.
func (sb *Sandbox) Close() error {
	sb.mu.Lock()
	if sb.closed {
		sb.mu.Unlock()
		return nil
	}
	sb.closed = true
	handles := sb.handles
	sb.mu.Unlock()

	metrics.SandboxesActive.Dec()

	for _, h := range handles {
		if h.State() == process.StateRunning {
			h.Kill()
			h.Wait(2*time.Second, false)
		}
	}

	if sb.fabric != nil {
		sb.fabric.Close()
	}

	if sb.overlaySet != nil {
		if err := sb.overlayMgr.Unmount(sb.overlaySet); err != nil {
			return err
		}
		if sb.cfg.overlayPath == "" {
			// Engine-owned overlay root (parent of upper/work/mount).
			os.RemoveAll(filepath.Dir(sb.overlaySet.MountDir))
		}
	}

	if sb.ownsWorkDir {
		os.RemoveAll(sb.workDir)
	}
	if sb.scratchDir != "" {
		os.RemoveAll(sb.scratchDir)
	}

	return nil
}

// hostTerminalSize reads the controlling terminal's size, defaulting to
// 24x80 when stdout isn't a terminal.
func hostTerminalSize() (rows, cols int) {
	if w, h, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		return h, w
	}
	return 24, 80
}
