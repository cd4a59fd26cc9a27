package cmd

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/opensandbox/pybubble/internal/process"
	"github.com/opensandbox/pybubble/pkg/sandbox"
)

var runFlags struct {
	rootfs            string
	workDir           string
	rootfsPath        string
	rootfsOverlay     bool
	rootfsOverlayPath string
	persistOverlayfs  bool
	noOutbound        bool
	allowHostLoopback bool
	forwardPort       string
	shareNet          bool
	netSharePid       int
	timeoutSeconds    float64
}

var runCmd = &cobra.Command{
	Use:   "run [flags] -- COMMAND...",
	Short: "Run a command in a fresh sandbox",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)

	f := runCmd.Flags()
	f.StringVar(&runFlags.rootfs, "rootfs", "", "path to the compressed rootfs archive")
	f.StringVar(&runFlags.workDir, "work-dir", "", "persistent host directory bound at the sandbox home dir")
	f.StringVar(&runFlags.rootfsPath, "rootfs-path", "", "extract directly to this path instead of the content-addressed cache")
	f.BoolVar(&runFlags.rootfsOverlay, "rootfs-overlay", false, "mount a writable overlay over the rootfs")
	f.StringVar(&runFlags.rootfsOverlayPath, "rootfs-overlay-path", "", "caller-owned directory for the overlay's upper/work/mount dirs")
	f.BoolVar(&runFlags.persistOverlayfs, "persist-overlayfs", false, "leave the overlay mounted after the sandbox closes")
	f.BoolVar(&runFlags.noOutbound, "no-outbound", false, "do not spawn the outbound NAT")
	f.BoolVar(&runFlags.allowHostLoopback, "allow-host-loopback", false, "allow the sandbox to reach host loopback addresses")
	f.StringVar(&runFlags.forwardPort, "forward-port", "", "comma-separated guest:host port pairs to forward, e.g. 8080:22222")
	// share-net is accepted for CLI compatibility with the evolutionary
	// revision it came from; the assembler already adds --share-net
	// whenever any fabric is attached (internal/launcher via
	// netfabric.BindArgs), so this flag has no additional effect.
	f.BoolVar(&runFlags.shareNet, "share-net", false, "accepted for compatibility; has no effect (network sharing is added whenever a namespace exists)")
	f.IntVar(&runFlags.netSharePid, "net-share-pid", 0, "join an already-running process's network namespace instead of creating one")
	f.Float64Var(&runFlags.timeoutSeconds, "timeout", 0, "kill the command if it runs longer than this many seconds")

	// Stop parsing flags once the first non-flag arg (or "--") is seen, so
	// flags meant for COMMAND aren't swallowed by cobra. Mirrors
	// cmd/cli/cmd/exec.go's execCmd.Flags().SetInterspersed(false).
	f.SetInterspersed(false)
}

func runRun(cmd *cobra.Command, args []string) error {
	command := strings.Join(args, " ")

	opts := []sandbox.Option{
		sandbox.WithOverlay(runFlags.rootfsOverlay),
		sandbox.WithOutbound(!runFlags.noOutbound),
		sandbox.WithAllowHostLoopback(runFlags.allowHostLoopback),
	}
	if runFlags.workDir != "" {
		opts = append(opts, sandbox.WithWorkDir(runFlags.workDir))
	}
	if runFlags.rootfsPath != "" {
		opts = append(opts, sandbox.WithExtractTo(runFlags.rootfsPath))
	}
	if runFlags.rootfsOverlayPath != "" {
		opts = append(opts, sandbox.WithOverlayPath(runFlags.rootfsOverlayPath))
	}
	if runFlags.persistOverlayfs {
		opts = append(opts, sandbox.WithPersistOverlay(true))
	}
	if runFlags.netSharePid != 0 {
		opts = append(opts, sandbox.WithAttachNetNS(runFlags.netSharePid))
	}

	archivePath := runFlags.rootfs
	sb, err := sandbox.New(archivePath, opts...)
	if err != nil {
		return exitCodeError{code: 1, message: err.Error()}
	}
	defer sb.Close()

	if runFlags.forwardPort != "" {
		for _, pair := range strings.Split(runFlags.forwardPort, ",") {
			g, h, ferr := parsePortPair(pair)
			if ferr != nil {
				return exitCodeError{code: 1, message: ferr.Error()}
			}
			if _, err := sb.ForwardPort(g, h, "tcp"); err != nil {
				return exitCodeError{code: 1, message: err.Error()}
			}
		}
	}

	var timeout time.Duration
	if runFlags.timeoutSeconds > 0 {
		timeout = time.Duration(runFlags.timeoutSeconds * float64(time.Second))
	}

	handle, err := sb.Run(command, sandbox.RunOptions{Timeout: timeout})
	if err != nil {
		return exitCodeError{code: 1, message: err.Error()}
	}

	stdout, stderr, waitErr := handle.Communicate(nil, 0)
	os.Stdout.Write(stdout)
	os.Stderr.Write(stderr)

	if waitErr == process.ErrTimeout {
		return exitCodeError{code: 124, message: "command timed out"}
	}

	code := handle.ReturnCode()
	if code != 0 {
		return exitCodeError{code: code}
	}
	return nil
}

func parsePortPair(pair string) (guest, host int, err error) {
	parts := strings.SplitN(pair, ":", 2)
	if len(parts) != 2 {
		return 0, 0, &strconvError{pair}
	}
	g, gerr := strconv.Atoi(parts[0])
	h, herr := strconv.Atoi(parts[1])
	if gerr != nil || herr != nil {
		return 0, 0, &strconvError{pair}
	}
	return g, h, nil
}

type strconvError struct{ pair string }

func (e *strconvError) Error() string {
	return "invalid --forward-port pair: " + e.pair
}
