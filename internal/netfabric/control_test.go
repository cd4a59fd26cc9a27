package netfabric

import (
	"bufio"
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
)

// fakeNAT starts a UNIX listener that echoes back a canned JSON response to
// an add_hostfwd request, standing in for slirp4netns's control socket.
func fakeNAT(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	sockPath := filepath.Join(dir, "control.sock")
	l, err := net.Listen("unix", sockPath)
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		reader := bufio.NewReader(conn)
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		var req hostfwdRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return
		}
		resp, _ := json.Marshal(map[string]interface{}{"return": map[string]interface{}{}})
		conn.Write(append(resp, '\n'))
	}()
	t.Cleanup(func() { l.Close() })
	return sockPath
}

func TestForwardPortRoundTrip(t *testing.T) {
	sockPath := fakeNAT(t)
	f := &Fabric{controlSocket: sockPath, outboundActive: true}

	resp, err := f.ForwardPort(8080, 22222, "tcp")
	if err != nil {
		t.Fatalf("forward port: %v", err)
	}
	if _, ok := resp["return"]; !ok {
		t.Fatalf("expected return field in response, got %v", resp)
	}
}

func TestForwardPortRequiresOutbound(t *testing.T) {
	f := &Fabric{}
	if _, err := f.ForwardPort(80, 8080, "tcp"); err == nil {
		t.Fatalf("expected error when outbound is not enabled")
	}
}

func TestForwardPortFailsWhenSocketMissing(t *testing.T) {
	f := &Fabric{controlSocket: filepath.Join(os.TempDir(), "no-such-socket"), outboundActive: true}
	if _, err := f.ForwardPort(80, 8080, "tcp"); err == nil {
		t.Fatalf("expected error when control socket is missing")
	}
}
