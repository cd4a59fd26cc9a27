package sandbox

import "errors"

var (
	ErrPersistRequiresPath  = errors.New("sandbox: persist_overlay requires overlay_path and overlay=true")
	ErrOutboundDisabled     = errors.New("sandbox: forward_port requires outbound networking")
	ErrUnknownScriptRuntime = errors.New("sandbox: no interpreter mapping for run_script extension")
)
