package netfabric

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"
)

// PortForward is one hostfwd rule, created via a control request to the NAT.
type PortForward struct {
	Proto     string `json:"proto"`
	HostAddr  string `json:"host_addr"`
	HostPort  int    `json:"host_port"`
	GuestAddr string `json:"guest_addr"`
	GuestPort int    `json:"guest_port"`
}

type hostfwdRequest struct {
	Execute   string                 `json:"execute"`
	Arguments map[string]interface{} `json:"arguments"`
}

// ForwardPort connects to the control socket (retrying with exponential
// backoff bounded by a deadline), writes a single "add_hostfwd" JSON line,
// and returns the parsed reply verbatim. Requires the fabric to have been
// constructed with Outbound enabled.
func (f *Fabric) ForwardPort(guestPort, hostPort int, proto string) (map[string]interface{}, error) {
	if !f.outboundActive {
		return nil, fmt.Errorf("%w: outbound not enabled on this fabric", ErrControlProtocol)
	}
	if proto == "" {
		proto = "tcp"
	}

	conn, err := f.dialControlSocket(2 * time.Second)
	if err != nil {
		forwardPortTotal.WithLabelValues(proto, "timeout").Inc()
		return nil, err
	}
	defer conn.Close()

	req := hostfwdRequest{
		Execute: "add_hostfwd",
		Arguments: map[string]interface{}{
			"proto":      proto,
			"host_addr":  hostAddr,
			"host_port":  hostPort,
			"guest_addr": guestAddr,
			"guest_port": guestPort,
		},
	}
	line, err := json.Marshal(req)
	if err != nil {
		forwardPortTotal.WithLabelValues(proto, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrControlProtocol, err)
	}
	if _, err := conn.Write(append(line, '\n')); err != nil {
		forwardPortTotal.WithLabelValues(proto, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrControlProtocol, err)
	}

	reader := bufio.NewReader(conn)
	respLine, err := reader.ReadString('\n')
	if err != nil {
		forwardPortTotal.WithLabelValues(proto, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrControlProtocol, err)
	}

	var resp map[string]interface{}
	if err := json.Unmarshal([]byte(respLine), &resp); err != nil {
		forwardPortTotal.WithLabelValues(proto, "error").Inc()
		return nil, fmt.Errorf("%w: %v", ErrControlProtocol, err)
	}

	forwardPortTotal.WithLabelValues(proto, "ok").Inc()
	return resp, nil
}

// dialControlSocket retries the UNIX stream connect with exponential
// backoff until the deadline. The NAT's exit is only recorded once its
// process has been waited on, which happens in Close, so an exited NAT is
// not detected here: the connect keeps retrying and fails with
// ErrControlTimeout at the deadline.
func (f *Fabric) dialControlSocket(deadline time.Duration) (net.Conn, error) {
	until := time.Now().Add(deadline)
	backoff := 10 * time.Millisecond
	for {
		if f.natCmd != nil && f.natCmd.ProcessState != nil && f.natCmd.ProcessState.Exited() {
			return nil, fmt.Errorf("%w", ErrNatExitedEarly)
		}
		conn, err := net.Dial("unix", f.controlSocket)
		if err == nil {
			return conn, nil
		}
		if time.Now().After(until) {
			return nil, fmt.Errorf("%w: %v", ErrControlTimeout, err)
		}
		time.Sleep(backoff)
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}
