package main

import (
	"os"

	"github.com/opensandbox/pybubble/cmd/osb/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
