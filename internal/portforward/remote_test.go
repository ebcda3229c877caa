package portforward

import (
	"context"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/config"
)

// fakeConn captures forwarded-tcpip channel-open calls instead of driving
// real SSH wire traffic, returning an in-memory pipe-backed channel.
type fakeConn struct {
	opened chan []byte
}

func (f *fakeConn) OpenChannel(name string, data []byte) (ssh.Channel, <-chan *ssh.Request, error) {
	f.opened <- data
	reqs := make(chan *ssh.Request)
	close(reqs)
	return &discardChannel{}, reqs, nil
}

type discardChannel struct{}

func (discardChannel) Read(p []byte) (int, error)                     { return 0, io.EOF }
func (discardChannel) Write(p []byte) (int, error)                    { return len(p), nil }
func (discardChannel) Close() error                                   { return nil }
func (discardChannel) CloseWrite() error                              { return nil }
func (discardChannel) SendRequest(string, bool, []byte) (bool, error) { return true, nil }
func (discardChannel) Stderr() io.ReadWriter                          { return discardRW{} }

type discardRW struct{}

func (discardRW) Read(p []byte) (int, error)  { return 0, io.EOF }
func (discardRW) Write(p []byte) (int, error) { return len(p), nil }

func TestStartRemoteForward_AssignsKernelPort(t *testing.T) {
	m := NewManager()
	defer m.CancelAll()

	conn := &fakeConn{opened: make(chan []byte, 1)}
	cfg := config.PortForwardingConfig{AllowRemote: true, AllowGatewayPorts: false}
	var port uint32 = 0

	ok, err := m.StartRemoteForward(context.Background(), cfg, conn, "0.0.0.0", &port)
	if err != nil {
		t.Fatalf("StartRemoteForward() error: %v", err)
	}
	if !ok {
		t.Fatal("StartRemoteForward() = false, want true")
	}
	if port == 0 {
		t.Error("expected kernel-assigned port to be written back")
	}

	key := ForwardKey{Address: "0.0.0.0", Port: port}
	if _, ok := m.listeners[key]; !ok {
		t.Errorf("listener not tracked under key %v", key)
	}
}

func TestStartRemoteForward_DisabledByPolicy(t *testing.T) {
	m := NewManager()
	defer m.CancelAll()

	cfg := config.PortForwardingConfig{AllowRemote: false}
	var port uint32 = 12345
	ok, err := m.StartRemoteForward(context.Background(), cfg, &fakeConn{opened: make(chan []byte, 1)}, "0.0.0.0", &port)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Error("expected refusal when AllowRemote is false")
	}
}

func TestRemoteForward_RelaysAcceptedConnection(t *testing.T) {
	m := NewManager()
	defer m.CancelAll()

	conn := &fakeConn{opened: make(chan []byte, 1)}
	cfg := config.PortForwardingConfig{AllowRemote: true}
	var port uint32 = 0

	ok, err := m.StartRemoteForward(context.Background(), cfg, conn, "127.0.0.1", &port)
	if err != nil || !ok {
		t.Fatalf("StartRemoteForward() = (%v, %v)", ok, err)
	}

	c, err := net.Dial("tcp", net.JoinHostPort("127.0.0.1", strconv.Itoa(int(port))))
	if err != nil {
		t.Fatalf("dial forwarded listener: %v", err)
	}
	defer c.Close()
	if _, err := c.Write([]byte("hello")); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case payload := <-conn.opened:
		var parsed forwardedTCPPayload
		if err := ssh.Unmarshal(payload, &parsed); err != nil {
			t.Fatalf("unmarshal forwarded-tcpip payload: %v", err)
		}
		if parsed.Addr != "127.0.0.1" || parsed.Port != port {
			t.Errorf("payload = %+v, want Addr=127.0.0.1 Port=%d", parsed, port)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded-tcpip channel open")
	}
}

func TestCancelRemoteForward(t *testing.T) {
	m := NewManager()
	conn := &fakeConn{opened: make(chan []byte, 1)}
	cfg := config.PortForwardingConfig{AllowRemote: true}
	var port uint32 = 0

	if ok, err := m.StartRemoteForward(context.Background(), cfg, conn, "127.0.0.1", &port); err != nil || !ok {
		t.Fatalf("StartRemoteForward() = (%v, %v)", ok, err)
	}

	if !m.CancelRemoteForward("127.0.0.1", port) {
		t.Error("CancelRemoteForward() = false, want true for tracked forward")
	}
	if m.CancelRemoteForward("127.0.0.1", port) {
		t.Error("second CancelRemoteForward() should return false")
	}
}
