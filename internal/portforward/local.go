package portforward

import (
	"context"
	"fmt"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/execbridge"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// OpenLocalForward spawns a TcpForward-kind exec bridge running
// "socat - TCP:<host>:<port>" inside containerID and wires it to channel.
// host must already have been resolved through ResolveLocalTarget.
func OpenLocalForward(ctx context.Context, orch orchestrator.ContainerOrchestrator, containerID, host string, port uint32, channel ssh.Channel) (*execbridge.Bridge, error) {
	spec := orchestrator.ExecSpec{
		Cmd:        []string{"socat", "-", fmt.Sprintf("TCP:%s:%d", host, port)},
		TTY:        false,
		WorkingDir: "/workspace",
	}
	return execbridge.Start(ctx, orch, containerID, spec, channel, execbridge.KindTcpForward)
}
