package sandbox

import "time"

// Option configures a Sandbox at construction, mirroring the teacher's
// ManagerOption functional-options pattern
// (internal/sandbox/manager.go's WithDataDir/WithDefaultMemoryMB/...)
// generalized to this engine's construction parameters.
type Option func(*config)

type config struct {
	workDir           string
	extractTo         string
	overlay           bool
	overlayPath       string
	persistOverlay    bool
	network           bool
	outbound          bool
	allowHostLoopback bool
	attachNetNSPid    int
	sandboxUID        int
	defaultTimeout    time.Duration
}

func defaultConfig() config {
	return config{
		network:        true,
		outbound:       true,
		sandboxUID:     1000,
		defaultTimeout: 0, // no default timeout unless the caller sets one
	}
}

// WithNetwork toggles whether a network fabric is constructed at all. When
// false the sandbox gets no network namespace: the assembler's unshare-all
// default applies and no network flags are added, the fully-isolated case
// the spec describes for "network not requested". The CLI's flag surface
// has no equivalent switch (it always wants at least the internal-loopback
// namespace) — this option exists for library callers that want full
// network isolation.
func WithNetwork(enabled bool) Option {
	return func(c *config) { c.network = enabled }
}

// WithWorkDir supplies a persistent host directory bound at the sandbox
// user's home directory. Without this option the façade creates and owns a
// temporary work directory that is removed on Close.
func WithWorkDir(path string) Option {
	return func(c *config) { c.workDir = path }
}

// WithExtractTo extracts the archive directly to path instead of the
// content-addressed cache (the CLI's --rootfs-path).
func WithExtractTo(path string) Option {
	return func(c *config) { c.extractTo = path }
}

// WithOverlay enables the writable overlay over the extracted rootfs.
func WithOverlay(enabled bool) Option {
	return func(c *config) { c.overlay = enabled }
}

// WithOverlayPath supplies the caller-owned directory that will hold
// upper/work/mount. Required when WithPersistOverlay(true) is set.
func WithOverlayPath(path string) Option {
	return func(c *config) { c.overlayPath = path }
}

// WithPersistOverlay requests that the overlay mount outlive the Sandbox;
// Close then only warns instead of unmounting. Requires WithOverlay(true)
// and WithOverlayPath to be set.
func WithPersistOverlay(persist bool) Option {
	return func(c *config) { c.persistOverlay = persist }
}

// WithOutbound toggles the user-mode NAT providing outbound connectivity.
// Outbound is enabled by default; pass false for the CLI's --no-outbound.
func WithOutbound(enabled bool) Option {
	return func(c *config) { c.outbound = enabled }
}

// WithAllowHostLoopback disables the NAT's default block on guest access to
// host loopback addresses.
func WithAllowHostLoopback(allow bool) Option {
	return func(c *config) { c.allowHostLoopback = allow }
}

// WithAttachNetNS joins an already-running process's network namespace
// (the CLI's --net-share-pid) instead of constructing a fresh fabric.
// Mutually exclusive with outbound NAT: the attached namespace's own
// outbound setup, if any, is left as-is.
func WithAttachNetNS(pid int) Option {
	return func(c *config) { c.attachNetNSPid = pid }
}

// WithSandboxUID overrides the default remapped UID of 1000.
func WithSandboxUID(uid int) Option {
	return func(c *config) { c.sandboxUID = uid }
}

// WithDefaultTimeout sets the timeout applied to Run/RunScript calls that
// don't specify one explicitly.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *config) { c.defaultTimeout = d }
}

// validateConfig checks parameter consistency ahead of touching the
// filesystem or spawning anything, so construction fails fast.
func validateConfig(c config) error {
	if c.persistOverlay && (c.overlayPath == "" || !c.overlay) {
		return ErrPersistRequiresPath
	}
	return nil
}
