package controlcommands

import (
	"context"

	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

// targetStatus resolves a workspace record's current container status,
// preferring the recorded engine id over the name since the id survives a
// container recreation under the same name.
func targetStatus(ctx context.Context, deps Deps, rec keystore.WorkspaceRecord) (orchestrator.Status, error) {
	nameOrID := rec.ContainerName
	if rec.ContainerID != nil && *rec.ContainerID != "" {
		nameOrID = *rec.ContainerID
	}
	return deps.Orchestrator.Status(ctx, nameOrID)
}
