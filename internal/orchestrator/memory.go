package orchestrator

import (
	"strconv"
	"strings"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

// parseMemoryLimit parses a memory limit string such as "4g", "512m",
// "1024k" or a bare byte count ("1000"). The suffix is a single letter,
// case-insensitive, and multiplies by a power of 1024; no suffix means raw
// bytes. This mirrors the original gateway's parse_memory_limit exactly,
// and deliberately does not use Kubernetes-style Ki/Mi/Gi suffixes.
func parseMemoryLimit(s string) (int64, error) {
	trimmed := strings.ToLower(strings.TrimSpace(s))
	if trimmed == "" {
		return 0, gwerrors.ValidationError("empty memory limit")
	}

	var mult int64 = 1
	numPart := trimmed
	switch trimmed[len(trimmed)-1] {
	case 'g':
		mult = 1024 * 1024 * 1024
		numPart = trimmed[:len(trimmed)-1]
	case 'm':
		mult = 1024 * 1024
		numPart = trimmed[:len(trimmed)-1]
	case 'k':
		mult = 1024
		numPart = trimmed[:len(trimmed)-1]
	}

	num, err := strconv.ParseInt(numPart, 10, 64)
	if err != nil {
		return 0, gwerrors.ValidationError("invalid memory limit %q", s)
	}
	return num * mult, nil
}
