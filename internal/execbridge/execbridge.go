// Package execbridge binds a container-side exec process's standard
// streams to an SSH channel. A Bridge owns two concurrent pumps: one
// copying channel input to the exec's stdin, one copying the exec's
// combined output back to the channel. Session-kind bridges additionally
// wait for the exec to exit and report its exit status on the channel;
// TcpForward-kind bridges never do (see portforward.OpenLocalForward).
package execbridge

import (
	"context"
	"io"
	"log"
	"sync"

	"golang.org/x/crypto/ssh"

	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// Kind distinguishes an interactive/command session exec from a bytes-only
// TCP-forward exec. The two differ in stderr handling and exit reporting.
type Kind int

const (
	// KindSession backs a shell or exec-request channel. stderr is
	// preserved as extended-data channel 1 and the exec's exit code is
	// reported as the channel's exit-status.
	KindSession Kind = iota
	// KindTcpForward backs a direct-tcpip channel running a socat relay.
	// stderr would corrupt the forwarded byte stream, so it is dropped
	// and logged locally instead of written to the channel. No
	// exit-status is ever sent.
	KindTcpForward
)

// execInspector is the subset of orchestrator.ContainerOrchestrator that
// exit-status polling needs, kept narrow so it's trivial to fake in tests.
type execInspector interface {
	InspectExecRunning(ctx context.Context, execID string) (running bool, exitCode int, err error)
}

// Bridge pumps one exec's stdio against one SSH channel.
type Bridge struct {
	kind    Kind
	channel ssh.Channel
	stream  *orchestrator.ExecStream
	orch    execInspector

	wg   sync.WaitGroup
	done chan struct{}
}

// Start creates an exec inside containerID per spec and begins pumping its
// streams against channel. The returned Bridge's pumps run in background
// goroutines; callers do not need to wait on them to continue serving
// other channels on the same connection.
func Start(ctx context.Context, orch orchestrator.ContainerOrchestrator, containerID string, spec orchestrator.ExecSpec, channel ssh.Channel, kind Kind) (*Bridge, error) {
	stream, err := orch.Exec(ctx, containerID, spec)
	if err != nil {
		return nil, err
	}
	b := newBridge(orch, stream, channel, kind)
	b.run(ctx)
	return b, nil
}

func newBridge(orch execInspector, stream *orchestrator.ExecStream, channel ssh.Channel, kind Kind) *Bridge {
	return &Bridge{
		kind:    kind,
		channel: channel,
		stream:  stream,
		orch:    orch,
		done:    make(chan struct{}),
	}
}

func (b *Bridge) run(ctx context.Context) {
	b.wg.Add(1)
	go b.pumpStdin()

	go func() {
		b.pumpOutput(ctx)
		close(b.done)
	}()
}

// pumpStdin copies channel input to the exec's stdin sink. On client EOF
// (channel.Read returning io.EOF, which the ssh package surfaces for both
// an explicit eof message and channel close) the sink is closed, which
// closes the exec's stdin in turn.
func (b *Bridge) pumpStdin() {
	defer b.wg.Done()
	defer b.stream.Stdin.Close()
	io.Copy(b.stream.Stdin, b.channel)
}

// pumpOutput copies the exec's output to the channel, then — for
// Session-kind bridges — polls for the exec's exit code and reports it
// before sending eof and closing the channel.
func (b *Bridge) pumpOutput(ctx context.Context) {
	var outWG sync.WaitGroup
	outWG.Add(1)
	go func() {
		defer outWG.Done()
		io.Copy(b.channel, b.stream.Stdout)
	}()

	if b.stream.Stderr != nil {
		outWG.Add(1)
		go func() {
			defer outWG.Done()
			switch b.kind {
			case KindSession:
				io.Copy(b.channel.Stderr(), b.stream.Stderr)
			case KindTcpForward:
				// Dropping stderr here is intentional: injecting it into
				// a forwarded byte stream would corrupt whatever binary
				// protocol is riding the forward.
				buf := make([]byte, 32*1024)
				for {
					n, err := b.stream.Stderr.Read(buf)
					if n > 0 {
						log.Printf("execbridge: dropped %d stderr bytes from tcp-forward exec %s", n, b.stream.ExecID)
					}
					if err != nil {
						return
					}
				}
			}
		}()
	}

	outWG.Wait()

	if b.kind == KindSession {
		exitCode := pollExitCode(ctx, b.orch, b.stream.ExecID)
		payload := exitStatusPayload(exitCode)
		if _, err := b.channel.SendRequest("exit-status", false, payload); err != nil {
			log.Printf("execbridge: send exit-status for exec %s: %v", b.stream.ExecID, err)
		}
	}

	b.channel.CloseWrite()
	b.channel.Close()
}

// Resize propagates a PTY window-change to the bound exec. Non-TTY execs
// silently ignore it, matching the exec's own Resize no-op.
func (b *Bridge) Resize(ctx context.Context, cols, rows uint16) error {
	if b.stream.Resize == nil {
		return nil
	}
	return b.stream.Resize(ctx, cols, rows)
}

// Wait blocks until both pumps have completed and, for Session-kind
// bridges, the exit status has been reported and the channel closed.
func (b *Bridge) Wait() {
	b.wg.Wait()
	<-b.done
}

// Close tears down the underlying exec stream without waiting for the
// pumps to observe it; used when the owning channel is closed abruptly
// from elsewhere (channel-close event) rather than by exec completion.
func (b *Bridge) Close() error {
	if b.stream.Close == nil {
		return nil
	}
	return b.stream.Close()
}
