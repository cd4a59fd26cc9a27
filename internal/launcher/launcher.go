// Package launcher builds the argv for the isolation launcher (bubblewrap)
// given a rootfs, a work directory, a scratch tmp directory, a user
// identity, and an optional network fabric — the sandbox assembler.
//
// The incremental "args := []string{...}; args = append(args, ...)" style
// below follows internal/podman/container.go's CreateContainer, generalized
// from podman create flags to bwrap flags.
package launcher

import (
	"fmt"
	"os/exec"
)

// BindArg is one bind-mount or flag fragment contributed by a collaborator
// (the network fabric) to the assembled argv. Typed so the assembler merges
// it without string parsing.
type BindArg struct {
	// Flag is the bwrap flag name, e.g. "--ro-bind", "--bind", "--cap-add",
	// "--share-net". Args holds its positional arguments, if any (nil for
	// flags that take none, like --share-net).
	Flag string
	Args []string
}

func (b BindArg) append(argv []string) []string {
	argv = append(argv, b.Flag)
	argv = append(argv, b.Args...)
	return argv
}

// Identity describes the sandboxed user.
type Identity struct {
	UID      int
	Username string // "root" or a regular username; determines the home bind target
}

// HomeDir returns the in-sandbox home directory for the identity.
func (id Identity) HomeDir() string {
	if id.Username == "root" {
		return "/root"
	}
	return "/home/" + id.Username
}

// Config is everything the assembler needs to build one invocation.
type Config struct {
	RootfsDir     string
	Writable      bool // true when an overlay was mounted; the rootfs bind becomes writable
	WorkDir       string
	ScratchTmpDir string
	Identity      Identity
	NewSession    bool // append the new-session flag; mutually exclusive with PTY
	ExtraBinds    []BindArg
	Command       string
}

// BubblewrapPath locates the isolation launcher on PATH.
func BubblewrapPath() (string, error) {
	path, err := exec.LookPath("bwrap")
	if err != nil {
		return "", fmt.Errorf("launcher: bwrap not found on PATH: %w", err)
	}
	return path, nil
}

// Build assembles the full bwrap argv (including the bwrap binary path at
// argv[0]) implementing the mandatory policy from the assembler spec:
// unshare everything, die-with-parent, UID remap, fixed hostname, bind
// layout, fresh /dev and /proc, scrubbed environment, optional new-session,
// and optional network flags contributed via cfg.ExtraBinds.
func Build(bwrapPath string, cfg Config) []string {
	argv := []string{bwrapPath}

	argv = append(argv,
		"--unshare-all",
		"--die-with-parent",
		"--uid", fmt.Sprint(cfg.Identity.UID),
		"--gid", fmt.Sprint(cfg.Identity.UID),
		"--hostname", "sandbox",
	)

	if cfg.Writable {
		argv = append(argv, "--bind", cfg.RootfsDir, "/")
	} else {
		argv = append(argv, "--ro-bind", cfg.RootfsDir, "/")
	}

	argv = append(argv, "--bind", cfg.WorkDir, cfg.Identity.HomeDir())
	argv = append(argv, "--dev", "/dev")
	argv = append(argv, "--proc", "/proc")
	argv = append(argv, "--bind", cfg.ScratchTmpDir, "/tmp")

	argv = append(argv, "--clearenv")
	argv = append(argv, "--setenv", "HOME", cfg.Identity.HomeDir())
	argv = append(argv, "--setenv", "PATH", "/usr/bin:/bin:/usr/local/bin:/sbin")
	argv = append(argv, "--chdir", cfg.Identity.HomeDir())

	for _, b := range cfg.ExtraBinds {
		argv = b.append(argv)
	}

	// New-session and an inherited PTY are mutually exclusive isolation
	// techniques against terminal-injection attacks; the caller picks
	// exactly one by setting NewSession only when it will not also grant a
	// controlling PTY.
	if cfg.NewSession {
		argv = append(argv, "--new-session")
	}

	argv = append(argv, "--", "bash", "-c", cfg.Command)
	return argv
}
