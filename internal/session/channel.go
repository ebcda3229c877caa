package session

import (
	"context"
	"encoding/binary"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/controlcommands"
	"github.com/theykk/agentman-gateway/internal/execbridge"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/portforward"
)

type ptyRequestMsg struct {
	Term    string
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
	Modes   string
}

type ptyWindowChangeMsg struct {
	Columns uint32
	Rows    uint32
	Width   uint32
	Height  uint32
}

type execMsg struct {
	Command string
}

type directTCPIPPayload struct {
	DestAddr   string
	DestPort   uint32
	OriginAddr string
	OriginPort uint32
}

// handleSessionChannel services one "session" channel's request stream:
// pty-req, shell, exec, window-change, and subsystem, per §4.6's Auth
// rows. It returns when the channel's request stream closes.
func (f *FSM) handleSessionChannel(ctx context.Context, sconn *ssh.ServerConn, newChannel ssh.NewChannel, state *State) {
	channel, requests, err := newChannel.Accept()
	if err != nil {
		f.logf("session: accept session channel: %v", err)
		return
	}
	defer channel.Close()

	key := state.nextChannelKey()
	defer func() {
		if binding, ok := state.getExec(key); ok {
			binding.Bridge.Close()
		}
		state.dropExec(key)
		state.dropPTY(key)
	}()

	for req := range requests {
		switch req.Type {
		case "pty-req":
			f.handlePTYRequest(req, state, key)
		case "shell":
			ok := f.startShell(ctx, state, key, channel)
			if req.WantReply {
				req.Reply(ok, nil)
			}
		case "exec":
			ok := f.handleExecRequest(ctx, state, key, channel, req.Payload)
			if req.WantReply {
				req.Reply(ok, nil)
			}
		case "window-change":
			f.handleWindowChange(ctx, req, state, key)
		default:
			// sftp/x11-req/auth-agent-req/signal and anything else are
			// not supported surfaces; reply negatively and keep going.
			if req.WantReply {
				req.Reply(false, nil)
			}
		}
	}
}

func (f *FSM) handlePTYRequest(req *ssh.Request, state *State, key string) {
	var payload ptyRequestMsg
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}
	state.setPTY(key, PTYInfo{Term: payload.Term, Cols: payload.Columns, Rows: payload.Rows})
	if req.WantReply {
		req.Reply(true, nil)
	}
}

func (f *FSM) handleWindowChange(ctx context.Context, req *ssh.Request, state *State, key string) {
	var payload ptyWindowChangeMsg
	if err := ssh.Unmarshal(req.Payload, &payload); err != nil {
		if req.WantReply {
			req.Reply(false, nil)
		}
		return
	}
	pty, _ := state.getPTY(key)
	pty.Cols, pty.Rows = payload.Columns, payload.Rows
	state.setPTY(key, pty)

	if binding, ok := state.getExec(key); ok && binding.IsTTY {
		if err := binding.Bridge.Resize(ctx, uint16(payload.Columns), uint16(payload.Rows)); err != nil {
			f.logf("session: resize exec: %v", err)
		}
	}
	if req.WantReply {
		req.Reply(true, nil)
	}
}

// startShell implements the Auth|shell-request row: provision the
// container, build the shell recipe (tmux attach-or-create when a PTY was
// requested and tmux mode is configured, else a plain login shell), and
// start a Session-kind ExecBridge.
func (f *FSM) startShell(ctx context.Context, state *State, key string, channel ssh.Channel) bool {
	containerID, err := f.ensureContainer(ctx, state)
	if err != nil {
		writeChannelError(channel, err)
		return false
	}

	pty, hasPTY := state.getPTY(key)
	argv, env := f.shellRecipe(hasPTY, pty)

	recorded := f.wrapForRecording(containerID, key, channel)
	spec := orchestrator.ExecSpec{Cmd: argv, TTY: hasPTY, Env: env, WorkingDir: "/workspace"}
	bridge, err := execbridge.Start(ctx, f.orchestrator, containerID, spec, recorded, execbridge.KindSession)
	if err != nil {
		writeChannelError(channel, err)
		return false
	}

	state.setExec(key, &ExecBinding{Bridge: bridge, IsTTY: hasPTY, Kind: execbridge.KindSession})
	if hasPTY {
		bridge.Resize(ctx, uint16(pty.Cols), uint16(pty.Rows))
	}
	return true
}

// shellRecipe builds the argv/env pair for a shell-request, per §4.4's
// environment rules and §9's TTY-gated tmux wrapper.
func (f *FSM) shellRecipe(hasPTY bool, pty PTYInfo) (argv []string, env []string) {
	env = []string{"SHELL=/bin/bash"}
	if hasPTY {
		env = append(env, "TERM="+pty.Term)
	} else {
		env = append(env, "HOME=/workspace")
	}

	if hasPTY && f.cfg.TmuxMode {
		return []string{"/bin/bash", "-lc", "tmux attach -t main || tmux new -s main"}, env
	}
	return []string{"/bin/bash", "-l"}, env
}

// handleExecRequest implements the Auth|exec-request row: control
// commands execute inline against the session's identity/project with no
// container involved; anything else provisions the container and runs
// the command through bash -c via a Session-kind ExecBridge.
func (f *FSM) handleExecRequest(ctx context.Context, state *State, key string, channel ssh.Channel, payload []byte) bool {
	var msg execMsg
	if err := ssh.Unmarshal(payload, &msg); err != nil {
		return false
	}

	if cmd, ok := controlcommands.Parse(msg.Command); ok {
		f.runControlCommand(ctx, state, channel, cmd)
		return true
	}

	containerID, err := f.ensureContainer(ctx, state)
	if err != nil {
		writeChannelError(channel, err)
		return false
	}

	pty, hasPTY := state.getPTY(key)
	env := []string{"SHELL=/bin/bash"}
	if hasPTY {
		env = append(env, "TERM="+pty.Term)
	} else {
		env = append(env, "HOME=/workspace")
	}

	recorded := f.wrapForRecording(containerID, key, channel)
	spec := orchestrator.ExecSpec{
		Cmd:        []string{"/bin/bash", "-c", msg.Command},
		TTY:        hasPTY,
		Env:        env,
		WorkingDir: "/workspace",
	}
	bridge, err := execbridge.Start(ctx, f.orchestrator, containerID, spec, recorded, execbridge.KindSession)
	if err != nil {
		writeChannelError(channel, err)
		return false
	}

	state.setExec(key, &ExecBinding{Bridge: bridge, IsTTY: hasPTY, Kind: execbridge.KindSession})
	if hasPTY {
		bridge.Resize(ctx, uint16(pty.Cols), uint16(pty.Rows))
	}
	return true
}

// runControlCommand executes cmd inline: stdout, then exit-status, then
// close, with no container ever provisioned, per §4.7.
func (f *FSM) runControlCommand(ctx context.Context, state *State, channel ssh.Channel, cmd controlcommands.Command) {
	identity, _ := state.getIdentity()
	project := state.getProject()

	code := controlcommands.Execute(ctx, f.control, identity, project, cmd, channel)
	channel.SendRequest("exit-status", false, exitStatusPayload(code))
	channel.Close()
}

// handleDirectTCPIP implements the Auth|direct-tcpip-open row per §4.5's
// local branch: resolve policy, provision the container if needed, and
// bridge the channel to a socat relay running inside it.
func (f *FSM) handleDirectTCPIP(ctx context.Context, newChannel ssh.NewChannel, state *State) {
	var payload directTCPIPPayload
	if err := ssh.Unmarshal(newChannel.ExtraData(), &payload); err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "malformed direct-tcpip request")
		return
	}

	host, err := portforward.ResolveLocalTarget(f.cfg.PortForwarding, payload.DestAddr)
	if err != nil {
		newChannel.Reject(ssh.Prohibited, err.Error())
		return
	}

	containerID, err := f.ensureContainer(ctx, state)
	if err != nil {
		newChannel.Reject(ssh.ConnectionFailed, "workspace unavailable")
		return
	}

	channel, requests, err := newChannel.Accept()
	if err != nil {
		f.logf("session: accept direct-tcpip channel: %v", err)
		return
	}
	go ssh.DiscardRequests(requests)

	bridge, err := portforward.OpenLocalForward(ctx, f.orchestrator, containerID, host, payload.DestPort, channel)
	if err != nil {
		fmt.Fprintf(channel.Stderr(), "agentman: %v\n", err)
		channel.Close()
		return
	}
	bridge.Wait()
}

// ensureContainer lazily provisions the session's container on first use,
// caching the result in State so later channels on the same connection
// skip the round trip, per §3's "container_id set lazily" field.
func (f *FSM) ensureContainer(ctx context.Context, state *State) (string, error) {
	if id := state.getContainerID(); id != "" {
		return id, nil
	}
	identity, _ := state.getIdentity()
	project := state.getProject()

	id, err := f.provisioner.GetOrCreateContainer(ctx, identity, project)
	if err != nil {
		return "", err
	}
	state.setContainerID(id)
	return id, nil
}

// writeChannelError implements §7's "fail to provision a container" user
// visible behavior: a short stderr line, then exit-status 255, then close.
func writeChannelError(channel ssh.Channel, err error) {
	fmt.Fprintf(channel.Stderr(), "agentman: %v\n", err)
	channel.SendRequest("exit-status", false, exitStatusPayload(255))
	channel.CloseWrite()
	channel.Close()
}

func exitStatusPayload(code int) []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, uint32(code))
	return buf
}
