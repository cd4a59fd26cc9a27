package netfabric

import (
	"fmt"
	"os/exec"
	"time"
)

// Attach joins an already-running process's user+net namespaces instead of
// spawning a watchdog to create fresh ones — the CLI's --net-share-pid
// flag. The caller owns pid's lifecycle; Close does not terminate it.
func Attach(pid int) (*Fabric, error) {
	nsenterPath, err := exec.LookPath("nsenter")
	if err != nil {
		return nil, fmt.Errorf("%w: nsenter: %v", ErrToolMissing, err)
	}

	f := &Fabric{nsenterPath: nsenterPath, watchdogPID: pid, attached: true}
	if err := f.awaitNamespaceReady(500 * time.Millisecond); err != nil {
		return nil, err
	}
	if err := f.seedHosts(); err != nil {
		return nil, err
	}
	return f, nil
}
