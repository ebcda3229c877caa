package controlcommands

import (
	"context"
	"fmt"
	"io"

	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

func executeStop(ctx context.Context, deps Deps, identity, project string, out io.Writer) int {
	rec, ok := deps.Store.GetWorkspace(identity, project)
	if !ok {
		fmt.Fprintf(out, "No workspace for project %q.\n", project)
		return ExitOperationalError
	}

	status, err := targetStatus(ctx, deps, rec)
	if err != nil {
		fmt.Fprintf(out, "Stop failed: %v\n", err)
		return ExitOperationalError
	}
	if status == orchestrator.StatusStopped || status == orchestrator.StatusMissing {
		fmt.Fprintf(out, "Project %q is already %s.\n", project, status)
		return ExitOperationalError
	}

	nameOrID := rec.ContainerName
	if rec.ContainerID != nil && *rec.ContainerID != "" {
		nameOrID = *rec.ContainerID
	}
	if err := deps.Orchestrator.Stop(ctx, nameOrID, 10); err != nil {
		fmt.Fprintf(out, "Stop failed: %v\n", err)
		return ExitOperationalError
	}
	fmt.Fprintf(out, "Stopped %s.\n", project)
	return ExitSuccess
}

func executePause(ctx context.Context, deps Deps, identity, project string, out io.Writer) int {
	rec, ok := deps.Store.GetWorkspace(identity, project)
	if !ok {
		fmt.Fprintf(out, "No workspace for project %q.\n", project)
		return ExitOperationalError
	}

	status, err := targetStatus(ctx, deps, rec)
	if err != nil {
		fmt.Fprintf(out, "Pause failed: %v\n", err)
		return ExitOperationalError
	}
	if status != orchestrator.StatusRunning {
		fmt.Fprintf(out, "Project %q must be running to pause (currently %s).\n", project, status)
		return ExitOperationalError
	}

	nameOrID := rec.ContainerName
	if rec.ContainerID != nil && *rec.ContainerID != "" {
		nameOrID = *rec.ContainerID
	}
	if err := deps.Orchestrator.Pause(ctx, nameOrID); err != nil {
		fmt.Fprintf(out, "Pause failed: %v\n", err)
		return ExitOperationalError
	}
	fmt.Fprintf(out, "Paused %s.\n", project)
	return ExitSuccess
}
