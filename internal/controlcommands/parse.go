// Package controlcommands implements the in-band "agentman" administrative
// vocabulary (help, destroy, list, stop, pause, stats) that a session's
// exec-request handler recognizes and executes inline rather than
// forwarding into the workspace container, per spec §4.7.
package controlcommands

import "strings"

// Kind identifies which agentman subcommand was parsed.
type Kind int

const (
	KindHelp Kind = iota
	KindDestroy
	KindList
	KindStop
	KindPause
	KindStats
)

// Command is a fully parsed agentman invocation.
type Command struct {
	Kind Kind

	// Destroy flags.
	Yes           bool
	KeepWorkspace bool
	DryRun        bool
	Force         bool

	// Stats flags.
	Current bool
	Watch   bool
}

// Parse recognizes cmd as an agentman control command. ok is false when
// the first token isn't "agentman", in which case the caller should treat
// cmd as an ordinary shell command to run inside the workspace container.
func Parse(cmd string) (Command, bool) {
	fields := strings.Fields(cmd)
	if len(fields) == 0 || fields[0] != "agentman" {
		return Command{}, false
	}
	rest := fields[1:]

	// "agentman exec <subcommand>" is an alias for "agentman <subcommand>".
	if len(rest) > 0 && rest[0] == "exec" {
		rest = rest[1:]
	}

	if len(rest) == 0 {
		return Command{Kind: KindHelp}, true
	}

	sub, args := rest[0], rest[1:]
	switch sub {
	case "help", "-h", "--help":
		return Command{Kind: KindHelp}, true
	case "destroy":
		return parseDestroy(args), true
	case "list":
		return Command{Kind: KindList}, true
	case "stop":
		return Command{Kind: KindStop}, true
	case "pause":
		return Command{Kind: KindPause}, true
	case "stats":
		return parseStats(args), true
	default:
		// Unknown subcommands fall back to help, per spec.
		return Command{Kind: KindHelp}, true
	}
}

func parseDestroy(args []string) Command {
	c := Command{Kind: KindDestroy}
	for _, a := range args {
		switch a {
		case "--yes", "-y":
			c.Yes = true
		case "--keep-workspace":
			c.KeepWorkspace = true
		case "--dry-run":
			c.DryRun = true
		case "--force":
			c.Force = true
		case "--help", "-h":
			return Command{Kind: KindHelp}
		default:
			return Command{Kind: KindHelp}
		}
	}
	return c
}

func parseStats(args []string) Command {
	c := Command{Kind: KindStats}
	for _, a := range args {
		switch a {
		case "--current":
			c.Current = true
		case "--watch", "-w":
			c.Watch = true
		case "--help", "-h":
			return Command{Kind: KindHelp}
		default:
			return Command{Kind: KindHelp}
		}
	}
	return c
}
