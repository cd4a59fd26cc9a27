// Package netfabric manages an unprivileged user+network namespace pinned
// by a watchdog process, with an optional user-mode NAT (slirp4netns)
// providing outbound connectivity and a control socket for dynamic
// port-forwarding.
//
// The watchdog-pins-a-namespace idea and the run()-wraps-exec.Command style
// below are grounded on internal/firecracker/network.go's "run" helper and
// TAP lifecycle; the watchdog itself reuses the bubblewrap isolation
// launcher (internal/launcher) to create the namespaces instead of
// reimplementing clone(2) directly, since bwrap is already a mandatory host
// dependency of the assembler.
package netfabric

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/opensandbox/pybubble/internal/launcher"
)

const (
	guestAddr = "10.0.2.100"
	hostAddr  = "127.0.0.1"
	guestIface = "tap0"
)

// Options configure a Fabric's construction.
type Options struct {
	// Outbound enables the slirp4netns NAT; when false only the namespace
	// and loopback are set up.
	Outbound bool
	// AllowHostLoopback disables slirp4netns's default block on guest
	// access to host loopback addresses.
	AllowHostLoopback bool
	// NamespaceReadyTimeout bounds step 2 of construction; zero means the
	// spec default of 500ms.
	NamespaceReadyTimeout time.Duration
}

// Fabric is a constructed network namespace, optionally with an attached
// outbound NAT.
type Fabric struct {
	watchdogCmd *exec.Cmd
	watchdogPID int

	natCmd         *exec.Cmd
	controlSocket  string
	outboundActive bool
	allowLoopback  bool

	hostsFile  string
	resolvFile string

	nsenterPath string

	// attached is true when this Fabric joined an existing process's
	// namespaces (Attach) rather than spawning its own watchdog; Close then
	// leaves that process alone.
	attached bool

	closed bool
}

// New runs the full construction state machine: spawn watchdog, await
// namespace ready, bring loopback up, seed /etc/hosts, and (if requested)
// spawn the outbound NAT.
func New(opts Options) (*Fabric, error) {
	bwrapPath, err := launcher.BubblewrapPath()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	nsenterPath, err := exec.LookPath("nsenter")
	if err != nil {
		return nil, fmt.Errorf("%w: nsenter: %v", ErrToolMissing, err)
	}
	if opts.Outbound {
		if _, err := exec.LookPath("slirp4netns"); err != nil {
			return nil, fmt.Errorf("%w: slirp4netns: %v", ErrToolMissing, err)
		}
	}

	f := &Fabric{nsenterPath: nsenterPath, allowLoopback: opts.AllowHostLoopback}

	if err := f.spawnWatchdog(bwrapPath); err != nil {
		return nil, err
	}

	deadline := opts.NamespaceReadyTimeout
	if deadline == 0 {
		deadline = 500 * time.Millisecond
	}
	start := time.Now()
	if err := f.awaitNamespaceReady(deadline); err != nil {
		f.Close()
		return nil, err
	}
	namespaceReadyDuration.Observe(time.Since(start).Seconds())

	if err := f.bringLoopbackUp(); err != nil {
		f.Close()
		return nil, err
	}

	if err := f.seedHosts(); err != nil {
		f.Close()
		return nil, err
	}

	if opts.Outbound {
		if err := f.spawnNAT(); err != nil {
			f.Close()
			return nil, err
		}
		if err := f.seedResolv(); err != nil {
			f.Close()
			return nil, err
		}
		outboundAttached.Inc()
	}

	return f, nil
}

// spawnWatchdog forks a bwrap child that unshares user and net namespaces,
// remaps root, and blocks forever — its sole purpose is to pin the
// namespaces so other processes can join them via nsenter.
func (f *Fabric) spawnWatchdog(bwrapPath string) error {
	cmd := exec.Command(bwrapPath,
		"--unshare-user", "--unshare-net",
		"--uid", "0", "--gid", "0",
		"--ro-bind", "/", "/",
		"--die-with-parent",
		"--", "sleep", "infinity",
	)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: spawn watchdog: %v", ErrToolMissing, err)
	}
	f.watchdogCmd = cmd
	f.watchdogPID = cmd.Process.Pid
	return nil
}

func (f *Fabric) userNsPath() string { return fmt.Sprintf("/proc/%d/ns/user", f.watchdogPID) }
func (f *Fabric) netNsPath() string  { return fmt.Sprintf("/proc/%d/ns/net", f.watchdogPID) }

// awaitNamespaceReady polls until both namespace files exist and a
// credential-preserving nsenter probe succeeds, within deadline.
func (f *Fabric) awaitNamespaceReady(deadline time.Duration) error {
	until := time.Now().Add(deadline)
	var lastErr error
	for time.Now().Before(until) {
		if _, err := os.Stat(f.userNsPath()); err == nil {
			if _, err := os.Stat(f.netNsPath()); err == nil {
				probe := exec.Command(f.nsenterPath,
					"--user="+f.userNsPath(), "--net="+f.netNsPath(),
					"--preserve-credentials", "--", "true")
				if err := probe.Run(); err == nil {
					return nil
				} else {
					lastErr = err
				}
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("%w: %v", ErrNamespaceTimeout, lastErr)
}

func (f *Fabric) bringLoopbackUp() error {
	if err := f.run("ip", "link", "set", "lo", "up"); err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackSetup, err)
	}
	return nil
}

// run executes argv inside the fabric's namespaces via nsenter, mirroring
// internal/firecracker/network.go's "run" helper but through nsenter
// instead of a bare exec.Command.
func (f *Fabric) run(argv ...string) error {
	full := f.Wrap(argv)
	cmd := exec.Command(full[0], full[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w (%s)", strings.Join(argv, " "), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (f *Fabric) seedHosts() error {
	tmp, err := os.CreateTemp("", "pybubble-hosts-")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackSetup, err)
	}
	defer tmp.Close()
	content := "127.0.0.1 localhost\n::1 localhost\n127.0.1.1 sandbox\n"
	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackSetup, err)
	}
	f.hostsFile = tmp.Name()
	return nil
}

func (f *Fabric) seedResolv() error {
	tmp, err := os.CreateTemp("", "pybubble-resolv-")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackSetup, err)
	}
	defer tmp.Close()
	content := "nameserver 8.8.8.8\nnameserver 1.1.1.1\n"
	if _, err := tmp.WriteString(content); err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackSetup, err)
	}
	f.resolvFile = tmp.Name()
	return nil
}

// spawnNAT spawns slirp4netns attached to the watchdog's network namespace,
// providing outbound connectivity over a tap0 device plus the control
// socket used by ForwardPort.
func (f *Fabric) spawnNAT() error {
	sockDir, err := os.MkdirTemp("", "pybubble-nat-")
	if err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	sockPath := filepath.Join(sockDir, "control.sock")

	args := []string{
		"--configure",
		"--api-socket", sockPath,
	}
	if !f.allowLoopback {
		args = append(args, "--disable-host-loopback")
	}
	args = append(args, fmt.Sprint(f.watchdogPID), guestIface)

	cmd := exec.Command("slirp4netns", args...)
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrToolMissing, err)
	}
	f.natCmd = cmd
	f.controlSocket = sockPath
	f.outboundActive = true

	// Wait for the control socket to appear. The NAT is not waited on here,
	// so its ProcessState stays nil and an early exit is not detected before
	// the deadline; either way a missing socket yields ErrNatExitedEarly.
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, err := os.Stat(sockPath); err == nil {
			return nil
		}
		if cmd.ProcessState != nil && cmd.ProcessState.Exited() {
			return fmt.Errorf("%w", ErrNatExitedEarly)
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("%w: control socket never appeared", ErrNatExitedEarly)
}

// Wrap prepends the nsenter invocation so argv executes inside the fabric's
// namespaces.
func (f *Fabric) Wrap(argv []string) []string {
	prefix := []string{
		f.nsenterPath,
		"--user=" + f.userNsPath(),
		"--net=" + f.netNsPath(),
		"--preserve-credentials",
		"--",
	}
	return append(prefix, argv...)
}

// BindArgs returns the launcher flags needed to join this fabric's network:
// bind the hosts file, share the namespace instead of unsharing it, grant
// CAP_NET_RAW, and (if outbound is attached) bind the resolv file.
func (f *Fabric) BindArgs() []launcher.BindArg {
	args := []launcher.BindArg{
		{Flag: "--ro-bind", Args: []string{f.hostsFile, "/etc/hosts"}},
		{Flag: "--share-net"},
		{Flag: "--cap-add", Args: []string{"CAP_NET_RAW"}},
	}
	if f.outboundActive {
		args = append(args, launcher.BindArg{Flag: "--ro-bind", Args: []string{f.resolvFile, "/etc/resolv.conf"}})
	}
	return args
}

// Close terminates the NAT (if any) then the watchdog, then removes temp
// files. Idempotent.
func (f *Fabric) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.natCmd != nil && f.natCmd.Process != nil {
		terminateThenKill(f.natCmd)
		if f.outboundActive {
			outboundAttached.Dec()
		}
	}
	if !f.attached && f.watchdogCmd != nil && f.watchdogCmd.Process != nil {
		terminateThenKill(f.watchdogCmd)
	}

	if f.controlSocket != "" {
		if err := os.RemoveAll(filepath.Dir(f.controlSocket)); err != nil {
			log.Printf("netfabric: failed to remove control socket dir: %v", err)
		}
	}
	if f.hostsFile != "" {
		os.Remove(f.hostsFile)
	}
	if f.resolvFile != "" {
		os.Remove(f.resolvFile)
	}
	return nil
}

// terminateThenKill sends SIGTERM, waits up to one second, then escalates
// to SIGKILL. cmd.Wait() is called exactly once regardless of which path is
// taken.
func terminateThenKill(cmd *exec.Cmd) {
	cmd.Process.Signal(unix.SIGTERM)
	done := make(chan struct{})
	go func() {
		cmd.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(1 * time.Second):
		cmd.Process.Kill()
		<-done
	}
}
