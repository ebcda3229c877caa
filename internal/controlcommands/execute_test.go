package controlcommands

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/workspace"
)

type fakeOrch struct {
	status   map[string]orchestrator.Status
	stopped  map[string]bool
	paused   map[string]bool
	existing map[string]bool
}

func newFakeOrch() *fakeOrch {
	return &fakeOrch{
		status:   make(map[string]orchestrator.Status),
		stopped:  make(map[string]bool),
		paused:   make(map[string]bool),
		existing: make(map[string]bool),
	}
}

func (f *fakeOrch) Initialize(ctx context.Context) error { return nil }
func (f *fakeOrch) IsAvailable(ctx context.Context) bool { return true }
func (f *fakeOrch) BackendName() string                  { return "fake" }

func (f *fakeOrch) EnsureContainer(ctx context.Context, params orchestrator.CreateParams) (string, string, error) {
	if existing, ok := params.Labels["agentman.existing_id"]; ok && f.existing[existing] {
		return existing, params.Name, nil
	}
	id := "id-" + params.Name
	f.existing[id] = true
	f.status[id] = orchestrator.StatusRunning
	f.status[params.Name] = orchestrator.StatusRunning
	return id, params.Name, nil
}

func (f *fakeOrch) FindByLabels(ctx context.Context, identity, project string) ([]string, error) {
	return nil, nil
}

func (f *fakeOrch) ListManaged(ctx context.Context) ([]orchestrator.ManagedContainer, error) {
	return nil, nil
}

func (f *fakeOrch) Status(ctx context.Context, nameOrID string) (orchestrator.Status, error) {
	if s, ok := f.status[nameOrID]; ok {
		return s, nil
	}
	return orchestrator.StatusMissing, nil
}

func (f *fakeOrch) Stop(ctx context.Context, nameOrID string, graceSeconds int) error {
	f.status[nameOrID] = orchestrator.StatusStopped
	f.stopped[nameOrID] = true
	return nil
}

func (f *fakeOrch) Pause(ctx context.Context, nameOrID string) error {
	f.status[nameOrID] = orchestrator.StatusPaused
	f.paused[nameOrID] = true
	return nil
}

func (f *fakeOrch) Unpause(ctx context.Context, nameOrID string) error {
	f.status[nameOrID] = orchestrator.StatusRunning
	return nil
}

func (f *fakeOrch) Remove(ctx context.Context, nameOrID string, force bool) error {
	delete(f.status, nameOrID)
	return nil
}

func (f *fakeOrch) Exec(ctx context.Context, nameOrID string, spec orchestrator.ExecSpec) (*orchestrator.ExecStream, error) {
	return nil, nil
}

func (f *fakeOrch) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	return false, 0, nil
}

func (f *fakeOrch) Stats(ctx context.Context, nameOrID string) (orchestrator.ContainerStats, error) {
	return orchestrator.ContainerStats{CPUPercent: 12.5, MemoryUsage: 1024, MemoryLimit: 4096}, nil
}

func (f *fakeOrch) DiskUsage(ctx context.Context, hostPath string) (uint64, error) { return 2048, nil }

func newTestDeps(t *testing.T) (Deps, *fakeOrch) {
	t.Helper()
	dir := t.TempDir()
	store, err := keystore.Open(filepath.Join(dir, "state.json"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	cfg := &config.GatewayConfig{
		DockerImage:   "agentman/workspace:latest",
		WorkspaceRoot: filepath.Join(dir, "workspaces"),
	}
	orch := newFakeOrch()
	prov := workspace.New(cfg, store, orch)
	return Deps{Store: store, Orchestrator: orch, Provisioner: prov}, orch
}

func TestExecute_Help(t *testing.T) {
	deps, _ := newTestDeps(t)
	var out bytes.Buffer
	code := Execute(context.Background(), deps, "octocat", "myproj", Command{Kind: KindHelp}, &out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if out.Len() == 0 {
		t.Fatal("expected help text")
	}
}

func TestExecute_DestroyWithoutConfirmationRefuses(t *testing.T) {
	deps, _ := newTestDeps(t)
	var out bytes.Buffer
	code := Execute(context.Background(), deps, "octocat", "myproj", Command{Kind: KindDestroy}, &out)
	if code != ExitConfirmationRequired {
		t.Fatalf("expected exit 2, got %d", code)
	}
	if !bytes.Contains(out.Bytes(), []byte("Refusing")) {
		t.Fatalf("expected refusal message, got %q", out.String())
	}
}

func TestExecute_DestroyDryRunReportsWouldDelete(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "myproj"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "myproj", Command{Kind: KindDestroy, DryRun: true}, &out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !bytes.Contains(out.Bytes(), []byte("Would delete workspace")) {
		t.Fatalf("expected would-delete marker, got %q", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("(dry-run)")) {
		t.Fatalf("expected dry-run container marker, got %q", out.String())
	}

	if _, ok := deps.Store.GetWorkspace("octocat", "myproj"); !ok {
		t.Fatal("expected workspace record to still exist after dry-run")
	}
}

func TestExecute_DestroyWithYesSucceeds(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "myproj"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "myproj", Command{Kind: KindDestroy, Yes: true}, &out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d: %s", code, out.String())
	}
	if _, ok := deps.Store.GetWorkspace("octocat", "myproj"); ok {
		t.Fatal("expected workspace record to be removed")
	}
}

func TestExecute_List(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "proja"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}
	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "projb"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "proja", Command{Kind: KindList}, &out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !bytes.Contains(out.Bytes(), []byte("proja")) || !bytes.Contains(out.Bytes(), []byte("projb")) {
		t.Fatalf("expected both projects listed, got %q", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("* proja")) {
		t.Fatalf("expected current project marker on proja, got %q", out.String())
	}
}

func TestExecute_StopRejectsWhenAlreadyStopped(t *testing.T) {
	deps, orch := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "myproj"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}
	rec, _ := deps.Store.GetWorkspace("octocat", "myproj")
	orch.status[rec.ContainerName] = orchestrator.StatusStopped
	orch.status[*rec.ContainerID] = orchestrator.StatusStopped

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "myproj", Command{Kind: KindStop}, &out)
	if code != ExitOperationalError {
		t.Fatalf("expected exit 1 for already-stopped target, got %d", code)
	}
}

func TestExecute_PauseRequiresRunning(t *testing.T) {
	deps, orch := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "myproj"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}
	rec, _ := deps.Store.GetWorkspace("octocat", "myproj")
	orch.status[*rec.ContainerID] = orchestrator.StatusPaused

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "myproj", Command{Kind: KindPause}, &out)
	if code != ExitOperationalError {
		t.Fatalf("expected exit 1 for already-paused target, got %d", code)
	}
}

func TestExecute_Stats(t *testing.T) {
	deps, _ := newTestDeps(t)
	ctx := context.Background()

	if _, err := deps.Provisioner.GetOrCreateContainer(ctx, "octocat", "myproj"); err != nil {
		t.Fatalf("GetOrCreateContainer: %v", err)
	}

	var out bytes.Buffer
	code := Execute(ctx, deps, "octocat", "myproj", Command{Kind: KindStats, Current: true}, &out)
	if code != ExitSuccess {
		t.Fatalf("expected exit 0, got %d", code)
	}
	if !bytes.Contains(out.Bytes(), []byte("cpu=12.5%")) {
		t.Fatalf("expected cpu stat line, got %q", out.String())
	}
	if !bytes.Contains(out.Bytes(), []byte("disk=2048")) {
		t.Fatalf("expected disk usage in non-watch snapshot, got %q", out.String())
	}
}
