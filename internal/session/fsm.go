package session

import (
	"context"
	"log"
	"net"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/controlcommands"
	"github.com/theykk/agentman-gateway/internal/identityverifier"
	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/logutil"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/sessionrecording"
	"github.com/theykk/agentman-gateway/internal/workspace"
)

// EventSink receives session lifecycle notifications. internal/adminapi's
// Broadcaster satisfies this; it is optional so the FSM never depends on
// adminapi directly.
type EventSink interface {
	Emit(identity, project, kind string)
}

type noopEventSink struct{}

func (noopEventSink) Emit(identity, project, kind string) {}

// FSM drives one accepted TCP connection through the SSH protocol: public
// key and keyboard-interactive authentication first, then dispatch of the
// resulting channels. One FSM is shared by every connection; the
// per-connection state lives in State.
type FSM struct {
	cfg          *config.GatewayConfig
	store        *keystore.Store
	verifier     *identityverifier.Verifier
	provisioner  *workspace.Provisioner
	orchestrator orchestrator.ContainerOrchestrator
	control      controlcommands.Deps
	hostSigner   ssh.Signer
	recordings   *sessionrecording.Factory // nil when recording is disabled
	events       EventSink
}

// New builds an FSM from the gateway's wired dependencies. recordings may
// be nil, which disables transcript capture entirely. events may be nil,
// which disables lifecycle notifications.
func New(cfg *config.GatewayConfig, store *keystore.Store, verifier *identityverifier.Verifier, provisioner *workspace.Provisioner, orch orchestrator.ContainerOrchestrator, control controlcommands.Deps, hostSigner ssh.Signer, recordings *sessionrecording.Factory, events EventSink) *FSM {
	if events == nil {
		events = noopEventSink{}
	}
	return &FSM{
		cfg:          cfg,
		store:        store,
		verifier:     verifier,
		provisioner:  provisioner,
		orchestrator: orch,
		control:      control,
		hostSigner:   hostSigner,
		recordings:   recordings,
		events:       events,
	}
}

func (f *FSM) logf(format string, args ...interface{}) {
	log.Printf(format, args...)
}

// HandleConn drives a single accepted net.Conn through the SSH handshake
// and the lifetime of its channels. It returns once the connection closes;
// callers typically invoke it in its own goroutine per accepted conn.
func (f *FSM) HandleConn(ctx context.Context, netConn net.Conn) {
	state := NewState(netConn.RemoteAddr().String())
	defer state.teardown()

	serverCfg := &ssh.ServerConfig{
		PublicKeyCallback: func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			return f.authPublicKey(ctx, state, conn, key)
		},
		KeyboardInteractiveCallback: func(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			return f.authKeyboardInteractive(state, challenge)
		},
	}
	serverCfg.AddHostKey(f.hostSigner)

	sconn, chans, reqs, err := ssh.NewServerConn(netConn, serverCfg)
	if err != nil {
		f.logf("session: handshake from %s: %v", logutil.SanitizeForLog(state.PeerAddr), err)
		return
	}
	defer sconn.Close()

	identity, _ := state.getIdentity()
	f.events.Emit(identity, state.getProject(), "connected")
	defer func() {
		identity, _ := state.getIdentity()
		f.events.Emit(identity, state.getProject(), "disconnected")
	}()

	go f.handleGlobalRequests(ctx, sconn, reqs, state)

	for newChannel := range chans {
		switch newChannel.ChannelType() {
		case "session":
			go f.handleSessionChannel(ctx, sconn, newChannel, state)
		case "direct-tcpip":
			go f.handleDirectTCPIP(ctx, newChannel, state)
		default:
			newChannel.Reject(ssh.UnknownChannelType, "unsupported channel type")
		}
	}
}

// handleGlobalRequests services the connection-wide request stream:
// tcpip-forward and cancel-tcpip-forward, per §4.5's remote branch.
// Every other global request is replied to negatively if a reply was
// requested, matching the original's "unhandled request" behavior.
func (f *FSM) handleGlobalRequests(ctx context.Context, sconn *ssh.ServerConn, reqs <-chan *ssh.Request, state *State) {
	for req := range reqs {
		switch req.Type {
		case "tcpip-forward":
			f.handleTCPIPForward(ctx, sconn, req, state)
		case "cancel-tcpip-forward":
			f.handleCancelTCPIPForward(req, state)
		default:
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

type tcpipForwardPayload struct {
	Addr string
	Port uint32
}

func (f *FSM) handleTCPIPForward(ctx context.Context, sconn *ssh.ServerConn, req *ssh.Request, state *State) {
	var payload tcpipForwardPayload
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}

	port := payload.Port
	ok, err := state.Forwards.StartRemoteForward(ctx, f.cfg.PortForwarding, sconn, payload.Addr, &port)
	if err != nil {
		f.logf("session: tcpip-forward %s:%d: %v", payload.Addr, payload.Port, err)
	}
	if !ok {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}

	if req.WantReply {
		reply := payload.Port
		if payload.Port == 0 {
			reply = port
		}
		req.Reply(true, ssh.Marshal(struct{ Port uint32 }{reply}))
	}
}

func (f *FSM) handleCancelTCPIPForward(req *ssh.Request, state *State) {
	var payload tcpipForwardPayload
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}
	ok := state.Forwards.CancelRemoteForward(payload.Addr, payload.Port)
	if req.WantReply {
		req.Reply(ok, nil)
	}
}
