package portforward

import (
	"context"
	"log"
	"net"
	"strconv"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

// ForwardKey identifies one remote forward by the address the client
// requested and the port actually bound, matching spec §4.5's
// remote_forwards keying.
type ForwardKey struct {
	Address string
	Port    uint32
}

// ChannelOpener is the subset of *ssh.ServerConn a remote forward needs:
// opening a forwarded-tcpip channel back to the client.
type ChannelOpener interface {
	OpenChannel(name string, data []byte) (ssh.Channel, <-chan *ssh.Request, error)
}

type forwardedTCPPayload struct {
	Addr       string
	Port       uint32
	OriginAddr string
	OriginPort uint32
}

type remoteListener struct {
	ln     net.Listener
	cancel context.CancelFunc
}

// Manager tracks a single SSH connection's active remote forwards.
type Manager struct {
	mu        sync.Mutex
	listeners map[ForwardKey]*remoteListener
}

// NewManager returns an empty Manager, one per SessionState.
func NewManager() *Manager {
	return &Manager{listeners: make(map[ForwardKey]*remoteListener)}
}

// StartRemoteForward implements the tcpip-forward handler of §4.5. port is
// mutated to the kernel-assigned port when the client requested port 0.
// A false, nil return means the request should be refused without error
// (policy disabled); a non-nil error means the bind itself failed.
func (m *Manager) StartRemoteForward(ctx context.Context, cfg config.PortForwardingConfig, conn ChannelOpener, address string, port *uint32) (bool, error) {
	if !AllowRemote(cfg) {
		return false, nil
	}

	bindAddr := BindAddr(cfg, address)
	ln, err := net.Listen("tcp", net.JoinHostPort(bindAddr, strconv.Itoa(int(*port))))
	if err != nil {
		return false, gwerrors.Transient(err, "bind remote forward on %s:%d", bindAddr, *port)
	}

	boundPort := uint32(ln.Addr().(*net.TCPAddr).Port)
	if *port == 0 {
		*port = boundPort
	}

	key := ForwardKey{Address: address, Port: boundPort}
	fctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.listeners[key] = &remoteListener{ln: ln, cancel: cancel}
	m.mu.Unlock()

	go acceptLoop(fctx, ln, conn, address, boundPort)
	return true, nil
}

// CancelRemoteForward implements cancel-tcpip-forward: aborts the
// listener task and removes its tracking entry. Returns false if no
// matching forward was found.
func (m *Manager) CancelRemoteForward(address string, port uint32) bool {
	key := ForwardKey{Address: address, Port: port}

	m.mu.Lock()
	rl, ok := m.listeners[key]
	if ok {
		delete(m.listeners, key)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}
	rl.cancel()
	rl.ln.Close()
	return true
}

// CancelAll aborts every tracked remote forward. Called on TCP
// disconnect as part of SessionState teardown.
func (m *Manager) CancelAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for key, rl := range m.listeners {
		rl.cancel()
		rl.ln.Close()
		delete(m.listeners, key)
	}
}

// acceptLoop accepts connections on ln until it errors (including from
// being closed by CancelRemoteForward/CancelAll), relaying each one.
func acceptLoop(ctx context.Context, ln net.Listener, conn ChannelOpener, address string, boundPort uint32) {
	defer ln.Close()
	for {
		tcpConn, err := ln.Accept()
		if err != nil {
			return
		}
		go relayAccepted(ctx, tcpConn, conn, address, boundPort)
	}
}

// relayAccepted opens a forwarded-tcpip channel for one accepted TCP
// connection and copies bytes TCP->channel. The reverse direction is not
// implemented: this design's remote forwards carry telemetry one way,
// matching the original implementation's own read-only relay task.
func relayAccepted(ctx context.Context, tcpConn net.Conn, conn ChannelOpener, address string, boundPort uint32) {
	defer tcpConn.Close()

	host, portStr, err := net.SplitHostPort(tcpConn.RemoteAddr().String())
	if err != nil {
		log.Printf("portforward: split peer addr %s: %v", tcpConn.RemoteAddr(), err)
		return
	}
	peerPort, _ := strconv.Atoi(portStr)

	payload := ssh.Marshal(&forwardedTCPPayload{
		Addr:       address,
		Port:       boundPort,
		OriginAddr: host,
		OriginPort: uint32(peerPort),
	})

	channel, reqs, err := conn.OpenChannel("forwarded-tcpip", payload)
	if err != nil {
		log.Printf("portforward: open forwarded-tcpip channel: %v", err)
		return
	}
	go ssh.DiscardRequests(reqs)
	defer channel.Close()

	buf := make([]byte, 32*1024)
	for {
		n, err := tcpConn.Read(buf)
		if n > 0 {
			if _, werr := channel.Write(buf[:n]); werr != nil {
				return
			}
		}
		if err != nil {
			channel.CloseWrite()
			return
		}
	}
}
