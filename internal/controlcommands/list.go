package controlcommands

import (
	"context"
	"fmt"
	"io"

	"github.com/theykk/agentman-gateway/internal/keystore"
)

func executeList(ctx context.Context, deps Deps, identity, currentProject string, out io.Writer) int {
	records := deps.Store.ListWorkspaces(identity)
	if len(records) == 0 {
		fmt.Fprintln(out, "No workspaces.")
		return ExitSuccess
	}

	for _, rec := range records {
		status := "missing"
		if s, err := targetStatus(ctx, deps, rec); err == nil {
			status = string(s)
		}
		marker := "  "
		if rec.Project == currentProject {
			marker = "* "
		}
		fmt.Fprintf(out, "%s%-24s %-8s %s\n", marker, rec.Project, status, shortID(rec))
	}
	return ExitSuccess
}

func shortID(rec keystore.WorkspaceRecord) string {
	if rec.ContainerID == nil || *rec.ContainerID == "" {
		return rec.ContainerName
	}
	id := *rec.ContainerID
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
