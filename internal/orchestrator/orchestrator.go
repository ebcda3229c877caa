// Package orchestrator abstracts the container engine behind the narrow
// operation set the workspace backend needs: create/start/stop/pause/remove,
// create-exec/start-exec/resize-exec/inspect-exec, list, and stats. Docker is
// the primary backend; Kubernetes is a supplemental pluggable alternative.
package orchestrator

import (
	"context"
	"io"
	"time"
)

// CreateParams describes a workspace container to provision.
type CreateParams struct {
	Name     string // container/pod name, unique on the host
	Image    string
	HostPath string // bind-mounted at /workspace
	Identity string
	Project  string
	Env      map[string]string
	Labels   map[string]string
	Security SecurityParams
}

// SecurityParams mirrors config.ContainerSecurityConfig, passed through at
// the call site so this package doesn't import config.
type SecurityParams struct {
	CapDropAll      bool
	CapAdd          []string
	NoNewPrivileges bool
	ReadonlyRootfs  bool
	MemoryLimit     string
	CPULimit        float64
	UseSeccomp      bool
}

// ManagedContainer identifies one container/pod this backend created,
// labeled with the (identity, project) pair it was provisioned for.
type ManagedContainer struct {
	ID       string
	Identity string
	Project  string
}

// Status is the coarse container/pod lifecycle status control commands
// report.
type Status string

const (
	StatusRunning Status = "running"
	StatusPaused  Status = "paused"
	StatusStopped Status = "stopped"
	StatusMissing Status = "missing"
	StatusError   Status = "error"
)

// ExecSpec describes a process to start inside a running container.
type ExecSpec struct {
	Cmd        []string
	TTY        bool
	Env        []string
	WorkingDir string
}

// ExecStream binds the standard streams of a running exec to the caller.
// Close tears everything down; Resize is a no-op for non-TTY execs.
type ExecStream struct {
	Stdin  io.WriteCloser
	Stdout io.Reader // demuxed combined stdout+stderr when TTY
	Stderr io.Reader // nil when TTY; separate stream otherwise
	ExecID string
	Resize func(ctx context.Context, cols, rows uint16) error
	Close  func() error
}

// ContainerStats is a point-in-time resource usage sample.
type ContainerStats struct {
	CPUPercent  float64
	MemoryUsage uint64
	MemoryLimit uint64
}

// ContainerOrchestrator is the pluggable container engine interface.
// Backends: DockerOrchestrator, KubernetesOrchestrator.
type ContainerOrchestrator interface {
	Initialize(ctx context.Context) error
	IsAvailable(ctx context.Context) bool
	BackendName() string

	// EnsureContainer provisions params.Name if absent, or validates and
	// (re)starts the existing one. Returns the engine-assigned container id
	// and the actual container name used, which may differ from
	// params.Name if a uniqueness suffix was appended.
	EnsureContainer(ctx context.Context, params CreateParams) (containerID string, containerName string, err error)

	// FindByLabels returns the container ids/names managed for
	// (identity, project), used by destroy's target collection.
	FindByLabels(ctx context.Context, identity, project string) ([]string, error)

	// ListManaged returns every container/pod this backend manages,
	// regardless of identity or project, used by reconcile to find ones
	// with no matching WorkspaceRecord.
	ListManaged(ctx context.Context) ([]ManagedContainer, error)

	Status(ctx context.Context, nameOrID string) (Status, error)
	Stop(ctx context.Context, nameOrID string, graceSeconds int) error
	Pause(ctx context.Context, nameOrID string) error
	Unpause(ctx context.Context, nameOrID string) error
	Remove(ctx context.Context, nameOrID string, force bool) error

	Exec(ctx context.Context, nameOrID string, spec ExecSpec) (*ExecStream, error)
	InspectExecRunning(ctx context.Context, execID string) (running bool, exitCode int, err error)

	Stats(ctx context.Context, nameOrID string) (ContainerStats, error)

	// DiskUsage reports the bytes used by hostPath, for backends with no
	// native per-container filesystem accounting.
	DiskUsage(ctx context.Context, hostPath string) (uint64, error)
}

// ParseMemoryLimit parses human memory strings using the original
// implementation's binary-unit semantics: a single-letter, case-insensitive
// suffix (g/m/k) multiplies by a power of 1024; no suffix is raw bytes.
func ParseMemoryLimit(s string) (int64, error) {
	return parseMemoryLimit(s)
}

// ParseCPULimit converts a decimal CPU count into nano-CPUs (CPU * 1e9),
// the unit the Docker API expects.
func ParseCPULimit(cpu float64) int64 {
	return int64(cpu * 1e9)
}

// defaultStopGrace is the grace period given to a container before it is
// killed outright, matching destroy's documented timeout.
const defaultStopGrace = 10 * time.Second
