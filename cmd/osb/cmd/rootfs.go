package cmd

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"
)

var rootfsCompressLevel int

// rootfsCmd shells out to the external container-builder pipeline. The
// archive-producer tool is explicitly out of this engine's scope (spec §1);
// this command only reproduces its CLI surface so a caller invoking `osb
// rootfs` gets the expected external behavior.
var rootfsCmd = &cobra.Command{
	Use:   "rootfs DOCKERFILE OUTPUT",
	Short: "Build a zstandard-compressed rootfs tarball from a Dockerfile",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		builder, err := exec.LookPath("pybubble-rootfs-builder")
		if err != nil {
			return exitCodeError{code: 1, message: "pybubble-rootfs-builder not found on PATH (the archive-producer tool is a separate external component)"}
		}

		builderArgs := []string{args[0], args[1], "--compress-level", fmt.Sprint(rootfsCompressLevel)}
		child := exec.Command(builder, builderArgs...)
		child.Stdout = os.Stdout
		child.Stderr = os.Stderr
		child.Stdin = os.Stdin
		if err := child.Run(); err != nil {
			return exitCodeError{code: 1, message: err.Error()}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(rootfsCmd)
	rootfsCmd.Flags().IntVar(&rootfsCompressLevel, "compress-level", 19, "zstandard compression level")
}
