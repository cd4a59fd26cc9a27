package netfabric

import "errors"

var (
	ErrToolMissing      = errors.New("netfabric: required host tool not found on PATH")
	ErrNamespaceTimeout = errors.New("netfabric: namespace not ready within deadline")
	ErrLoopbackSetup    = errors.New("netfabric: loopback setup failed")
	ErrNatExitedEarly   = errors.New("netfabric: nat process exited before control socket bound")
	ErrControlTimeout   = errors.New("netfabric: control socket connect timed out")
	ErrControlProtocol  = errors.New("netfabric: control protocol error")
)
