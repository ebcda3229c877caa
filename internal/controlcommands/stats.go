package controlcommands

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/theykk/agentman-gateway/internal/keystore"
	"github.com/theykk/agentman-gateway/internal/orchestrator"
)

const statsWatchInterval = time.Second

func executeStats(ctx context.Context, deps Deps, identity, currentProject string, cmd Command, out io.Writer) int {
	records := statsTargets(deps, identity, currentProject, cmd.Current)
	if len(records) == 0 {
		fmt.Fprintln(out, "No workspaces.")
		return ExitSuccess
	}

	if !cmd.Watch {
		printStatsSnapshot(ctx, deps, records, out, false)
		return ExitSuccess
	}

	ticker := time.NewTicker(statsWatchInterval)
	defer ticker.Stop()
	for {
		printStatsSnapshot(ctx, deps, records, out, true)
		select {
		case <-ctx.Done():
			return ExitSuccess
		case <-ticker.C:
		}
	}
}

func statsTargets(deps Deps, identity, currentProject string, onlyCurrent bool) []keystore.WorkspaceRecord {
	records := deps.Store.ListWorkspaces(identity)
	if !onlyCurrent {
		return records
	}
	for _, rec := range records {
		if rec.Project == currentProject {
			return []keystore.WorkspaceRecord{rec}
		}
	}
	return nil
}

type statsLine struct {
	rec       keystore.WorkspaceRecord
	stats     orchestrator.ContainerStats
	diskUsage uint64
	err       error
}

// printStatsSnapshot queries every target's container stats (and disk
// usage, unless watching) concurrently, then prints them in the stable
// order ListWorkspaces returned them in.
func printStatsSnapshot(ctx context.Context, deps Deps, records []keystore.WorkspaceRecord, out io.Writer, watching bool) {
	lines := make([]statsLine, len(records))
	var wg sync.WaitGroup
	for i, rec := range records {
		wg.Add(1)
		go func(i int, rec keystore.WorkspaceRecord) {
			defer wg.Done()
			nameOrID := rec.ContainerName
			if rec.ContainerID != nil && *rec.ContainerID != "" {
				nameOrID = *rec.ContainerID
			}
			stats, err := deps.Orchestrator.Stats(ctx, nameOrID)
			line := statsLine{rec: rec, stats: stats, err: err}
			if !watching && err == nil {
				line.diskUsage, _ = deps.Orchestrator.DiskUsage(ctx, rec.HostPath)
			}
			lines[i] = line
		}(i, rec)
	}
	wg.Wait()

	for _, l := range lines {
		if l.err != nil {
			fmt.Fprintf(out, "%-24s error: %v\n", l.rec.Project, l.err)
			continue
		}
		if watching {
			fmt.Fprintf(out, "%-24s cpu=%.1f%% mem=%d/%d\n",
				l.rec.Project, l.stats.CPUPercent, l.stats.MemoryUsage, l.stats.MemoryLimit)
			continue
		}
		fmt.Fprintf(out, "%-24s cpu=%.1f%% mem=%d/%d disk=%d\n",
			l.rec.Project, l.stats.CPUPercent, l.stats.MemoryUsage, l.stats.MemoryLimit, l.diskUsage)
	}
}
