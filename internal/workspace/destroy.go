package workspace

import (
	"context"
	"fmt"
	"os"
)

// DestroyOptions controls the scope and side effects of DestroyWorkspace,
// mirroring the original's confirmation-gated destroy flags.
type DestroyOptions struct {
	KeepWorkspace bool // skip removing the host directory
	Force         bool // skip the stop grace period, force-remove
	DryRun        bool // report what would happen without doing it
}

// DestroyResult reports what DestroyWorkspace did.
type DestroyResult struct {
	RemovedContainers []string
	WorkspacePath     string
	WorkspaceDeleted  bool
	StateEntryDeleted bool
	Warnings          []string
}

// DestroyWorkspace tears down every container known for (identity, project)
// — both the one on record and any stray ones matching the managed labels
// — then optionally removes the host workspace directory and the
// WorkspaceRecord itself. Stopping/removing a target that the engine no
// longer has is treated as success, not a warning.
func (p *Provisioner) DestroyWorkspace(ctx context.Context, identity, project string, opts DestroyOptions) (DestroyResult, error) {
	result := DestroyResult{}

	record, hadRecord := p.store.GetWorkspace(identity, project)
	if hadRecord {
		result.WorkspacePath = record.HostPath
	} else {
		result.WorkspacePath = p.HostPath(identity, project)
	}

	targets := map[string]struct{}{}
	if hadRecord {
		if record.ContainerID != nil && *record.ContainerID != "" {
			targets[*record.ContainerID] = struct{}{}
		}
		if record.ContainerName != "" {
			targets[record.ContainerName] = struct{}{}
		}
	}
	labeled, err := p.orch.FindByLabels(ctx, identity, project)
	if err != nil {
		result.Warnings = append(result.Warnings, fmt.Sprintf("list labeled containers: %v", err))
	}
	for _, t := range labeled {
		targets[t] = struct{}{}
	}

	graceSeconds := 10
	if opts.Force {
		graceSeconds = 0
	}

	for target := range targets {
		if opts.DryRun {
			result.RemovedContainers = append(result.RemovedContainers, target+" (dry-run)")
			continue
		}

		// Stop/Remove already treat "no such container" as success, matching
		// the original's not-found-is-success destroy semantics.
		if err := p.orch.Stop(ctx, target, graceSeconds); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("stop %s: %v", target, err))
		}
		if err := p.orch.Remove(ctx, target, opts.Force); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("remove %s: %v", target, err))
			continue
		}
		result.RemovedContainers = append(result.RemovedContainers, target)
	}

	if !opts.KeepWorkspace && !opts.DryRun && result.WorkspacePath != "" {
		if err := os.RemoveAll(result.WorkspacePath); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("remove workspace path: %v", err))
		} else {
			result.WorkspaceDeleted = true
		}
	}

	if hadRecord && !opts.DryRun {
		if _, _, err := p.store.RemoveWorkspace(identity, project); err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("remove workspace record: %v", err))
		} else {
			result.StateEntryDeleted = true
		}
	}

	return result, nil
}

// workspaceExists reports whether a WorkspaceRecord is on file, used by
// control commands to distinguish "nothing to destroy" from a true error.
func (p *Provisioner) workspaceExists(identity, project string) bool {
	_, ok := p.store.GetWorkspace(identity, project)
	return ok
}
