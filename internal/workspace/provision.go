// Package workspace implements §4.3's WorkspaceProvisioner: mapping an
// (identity, project) pair to a host directory and a running container,
// reusing both across reconnects and recreating the container when it has
// vanished from the engine.
package workspace

import (
	"context"
	"time"

	"github.com/theykk/agentman-gateway/internal/config"
	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// Provisioner ties the keystore's WorkspaceRecord bookkeeping to the
// container orchestrator's create/start/inspect operations.
type Provisioner struct {
	cfg   *config.GatewayConfig
	store *keystore.Store
	orch  orchestrator.ContainerOrchestrator
}

// New returns a Provisioner backed by cfg's workspace root and image
// settings, store for WorkspaceRecord persistence, and orch for the
// actual container lifecycle.
func New(cfg *config.GatewayConfig, store *keystore.Store, orch orchestrator.ContainerOrchestrator) *Provisioner {
	return &Provisioner{cfg: cfg, store: store, orch: orch}
}

// HostPath returns the host directory backing (identity, project).
func (p *Provisioner) HostPath(identity, project string) string {
	return p.cfg.WorkspacePath(identity, project)
}

// GetOrCreateContainer implements spec §4.3 steps 1-6: ensure the host
// directory exists and is writable, reuse an existing WorkspaceRecord's
// container if it still resolves, or create a fresh one and persist the
// record. It returns the engine-assigned container id.
func (p *Provisioner) GetOrCreateContainer(ctx context.Context, identity, project string) (string, error) {
	hostPath := p.HostPath(identity, project)
	if err := ensureWritable(hostPath); err != nil {
		return "", err
	}

	existing, hadRecord := p.store.GetWorkspace(identity, project)

	labels := map[string]string{}
	if hadRecord && existing.ContainerID != nil {
		labels["agentman.existing_id"] = *existing.ContainerID
	}

	params := orchestrator.CreateParams{
		Name:     containerName(project, identity, time.Now()),
		Image:    p.cfg.DockerImage,
		HostPath: hostPath,
		Identity: identity,
		Project:  project,
		Env: map[string]string{
			"GITHUB_USERNAME":  identity,
			"AGENTMAN_PROJECT": project,
			"TERM":             "xterm-256color",
		},
		Labels:   labels,
		Security: toSecurityParams(p.cfg.ContainerSecurity),
	}

	id, name, err := p.orch.EnsureContainer(ctx, params)
	if err != nil {
		return "", err
	}

	record := keystore.WorkspaceRecord{
		Identity:      identity,
		Project:       project,
		ContainerName: name,
		ContainerID:   &id,
		HostPath:      hostPath,
		CreatedAt:     time.Now(),
	}
	if hadRecord {
		record.CreatedAt = existing.CreatedAt
	}
	if err := p.store.SetWorkspace(record); err != nil {
		return "", err
	}
	return id, nil
}

// toSecurityParams maps config.ContainerSecurityConfig onto
// orchestrator.SecurityParams, keeping the orchestrator package free of a
// config import.
func toSecurityParams(sec config.ContainerSecurityConfig) orchestrator.SecurityParams {
	return orchestrator.SecurityParams{
		CapDropAll:      sec.CapDropAll,
		CapAdd:          sec.CapAdd,
		NoNewPrivileges: sec.NoNewPrivileges,
		ReadonlyRootfs:  sec.ReadonlyRootfs,
		MemoryLimit:     sec.MemoryLimit,
		CPULimit:        sec.CPULimit,
		UseSeccomp:      sec.UseSeccomp,
	}
}
