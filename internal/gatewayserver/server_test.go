package gatewayserver

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/controlcommands"
	"github.com/theykk/agentman-gateway/internal/identityverifier"
	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/session"
	"github.com/theykk/agentman-gateway/internal/sshkeys"
	"github.com/theykk/agentman-gateway/internal/workspace"
)

type nullOrch struct{}

func (nullOrch) Initialize(ctx context.Context) error { return nil }
func (nullOrch) IsAvailable(ctx context.Context) bool  { return true }
func (nullOrch) BackendName() string                  { return "null" }
func (nullOrch) EnsureContainer(ctx context.Context, params orchestrator.CreateParams) (string, string, error) {
	return "cid", params.Name, nil
}
func (nullOrch) FindByLabels(ctx context.Context, identity, project string) ([]string, error) {
	return nil, nil
}
func (nullOrch) ListManaged(ctx context.Context) ([]orchestrator.ManagedContainer, error) {
	return nil, nil
}
func (nullOrch) Status(ctx context.Context, nameOrID string) (orchestrator.Status, error) {
	return orchestrator.StatusRunning, nil
}
func (nullOrch) Stop(ctx context.Context, nameOrID string, graceSeconds int) error { return nil }
func (nullOrch) Pause(ctx context.Context, nameOrID string) error                  { return nil }
func (nullOrch) Unpause(ctx context.Context, nameOrID string) error                { return nil }
func (nullOrch) Remove(ctx context.Context, nameOrID string, force bool) error     { return nil }
func (nullOrch) Exec(ctx context.Context, nameOrID string, spec orchestrator.ExecSpec) (*orchestrator.ExecStream, error) {
	return nil, nil
}
func (nullOrch) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	return false, 0, nil
}
func (nullOrch) Stats(ctx context.Context, nameOrID string) (orchestrator.ContainerStats, error) {
	return orchestrator.ContainerStats{}, nil
}
func (nullOrch) DiskUsage(ctx context.Context, hostPath string) (uint64, error) { return 0, nil }

func TestServer_AcceptsAndShutsDownCleanly(t *testing.T) {
	dir := t.TempDir()
	store, err := keystore.Open(dir + "/state.json")
	if err != nil {
		t.Fatalf("keystore.Open: %v", err)
	}
	cfg := &config.GatewayConfig{WorkspaceRoot: dir + "/workspaces"}
	orch := nullOrch{}
	prov := workspace.New(cfg, store, orch)
	verifier := identityverifier.New("127.0.0.1:0")
	control := controlcommands.Deps{Store: store, Orchestrator: orch, Provisioner: prov}

	_, hostPriv, err := sshkeys.GenerateKeyPair()
	if err != nil {
		t.Fatalf("GenerateKeyPair: %v", err)
	}
	signer, err := sshkeys.ParsePrivateKey(hostPriv)
	if err != nil {
		t.Fatalf("ParsePrivateKey: %v", err)
	}

	fsm := session.New(cfg, store, verifier, prov, orch, control, signer, nil, nil)
	srv := New("127.0.0.1:0", fsm)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.ListenAndServe(ctx) }()

	// Wait for the listener to come up before dialing.
	var addr string
	for i := 0; i < 50; i++ {
		srv.mu.Lock()
		ln := srv.listener
		srv.mu.Unlock()
		if ln != nil {
			addr = ln.Addr().String()
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if addr == "" {
		t.Fatal("listener never came up")
	}

	conn, err := net.DialTimeout("tcp", addr, time.Second)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.Close()

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("ListenAndServe returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("ListenAndServe did not return after shutdown")
	}
}
