package controlcommands

import (
	"context"
	"fmt"
	"io"

	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
	"github.com/theykk/agentman-gateway/internal/workspace"
)

// Deps bundles the collaborators a control command needs. All are shared,
// long-lived handles owned by the gateway, not per-session state.
type Deps struct {
	Store        *keystore.Store
	Orchestrator orchestrator.ContainerOrchestrator
	Provisioner  *workspace.Provisioner
}

// Exit codes per spec §4.7/§6: 0 success, 1 operational error, 2
// confirmation required.
const (
	ExitSuccess              = 0
	ExitOperationalError     = 1
	ExitConfirmationRequired = 2
)

// Execute runs cmd for (identity, project) against deps, writing its
// output to out and returning the process exit code the caller should
// report via the channel's exit-status request. Watch-mode stats stream
// until ctx is cancelled (the client closing the channel).
func Execute(ctx context.Context, deps Deps, identity, project string, cmd Command, out io.Writer) int {
	switch cmd.Kind {
	case KindHelp:
		fmt.Fprint(out, helpText)
		return ExitSuccess
	case KindDestroy:
		return executeDestroy(ctx, deps, identity, project, cmd, out)
	case KindList:
		return executeList(ctx, deps, identity, project, out)
	case KindStop:
		return executeStop(ctx, deps, identity, project, out)
	case KindPause:
		return executePause(ctx, deps, identity, project, out)
	case KindStats:
		return executeStats(ctx, deps, identity, project, cmd, out)
	default:
		fmt.Fprint(out, helpText)
		return ExitSuccess
	}
}

func executeDestroy(ctx context.Context, deps Deps, identity, project string, cmd Command, out io.Writer) int {
	if !cmd.DryRun && !cmd.KeepWorkspace && !cmd.Yes {
		fmt.Fprint(out, destroyConfirmationRequiredText)
		return ExitConfirmationRequired
	}

	result, err := deps.Provisioner.DestroyWorkspace(ctx, identity, project, workspace.DestroyOptions{
		KeepWorkspace: cmd.KeepWorkspace,
		Force:         cmd.Force,
		DryRun:        cmd.DryRun,
	})
	if err != nil {
		fmt.Fprintf(out, "Destroy failed: %v\n", err)
		return ExitOperationalError
	}
	fmt.Fprint(out, formatDestroyResult(result, cmd.DryRun, cmd.KeepWorkspace))
	return ExitSuccess
}

func formatDestroyResult(r workspace.DestroyResult, dryRun, keepWorkspace bool) string {
	var b []byte
	write := func(s string) { b = append(b, s...) }

	if len(r.RemovedContainers) == 0 {
		write("No containers to remove.\n")
	}
	for _, c := range r.RemovedContainers {
		write(fmt.Sprintf("Removed container: %s\n", c))
	}
	switch {
	case dryRun:
		write(fmt.Sprintf("Would delete workspace: %s\n", r.WorkspacePath))
	case keepWorkspace:
		write(fmt.Sprintf("Kept workspace: %s\n", r.WorkspacePath))
	case r.WorkspaceDeleted:
		write(fmt.Sprintf("Deleted workspace: %s\n", r.WorkspacePath))
	default:
		write(fmt.Sprintf("Workspace not deleted: %s\n", r.WorkspacePath))
	}
	for _, w := range r.Warnings {
		write(fmt.Sprintf("Warning: %s\n", w))
	}
	return string(b)
}
