// Package reconcile periodically sweeps the container engine for
// agentman-managed containers with no corresponding WorkspaceRecord, per
// SPEC_FULL's supplemental periodic reconciliation feature. It never
// deletes anything: destroy remains the only path that removes a
// container or workspace.
package reconcile

import (
	"context"
	"log"

	"github.com/robfig/cron/v3"

	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// Reconciler cross-checks the orchestrator's managed containers against
// the keystore's WorkspaceRecords.
type Reconciler struct {
	orch  orchestrator.ContainerOrchestrator
	store *keystore.Store
}

// New returns a Reconciler for orch and store.
func New(orch orchestrator.ContainerOrchestrator, store *keystore.Store) *Reconciler {
	return &Reconciler{orch: orch, store: store}
}

// Sweep lists every managed container and logs ids whose (identity,
// project) label pair has no matching WorkspaceRecord, or whose recorded
// container_id disagrees with what the engine actually reports — both
// are the two ways a workspace can drift out of sync with the engine
// described in spec §3's WorkspaceRecord invariants.
func (r *Reconciler) Sweep(ctx context.Context) {
	managed, err := r.orch.ListManaged(ctx)
	if err != nil {
		log.Printf("reconcile: list managed containers: %v", err)
		return
	}

	known := make(map[string]keystore.WorkspaceRecord)
	for _, rec := range r.store.AllWorkspaces() {
		known[rec.Identity+"/"+rec.Project] = rec
	}

	orphans := 0
	for _, c := range managed {
		rec, ok := known[c.Identity+"/"+c.Project]
		switch {
		case !ok:
			orphans++
			log.Printf("reconcile: orphaned container %s (identity=%s project=%s) has no workspace record", c.ID, c.Identity, c.Project)
		case rec.ContainerID != nil && *rec.ContainerID != c.ID:
			log.Printf("reconcile: container %s for %s/%s does not match recorded container_id %s", c.ID, c.Identity, c.Project, *rec.ContainerID)
		}
	}
	if orphans > 0 {
		log.Printf("reconcile: sweep found %d orphaned container(s)", orphans)
	}
}

// Start schedules Sweep every interval (a cron spec, e.g. "@every 15m")
// and returns the running *cron.Cron so the caller can Stop it on
// shutdown. An initial sweep runs immediately rather than waiting for
// the first tick.
func (r *Reconciler) Start(ctx context.Context, interval string) (*cron.Cron, error) {
	c := cron.New()
	if _, err := c.AddFunc(interval, func() { r.Sweep(ctx) }); err != nil {
		return nil, err
	}
	go r.Sweep(ctx)
	c.Start()
	return c, nil
}
