// Package identity parses the SSH username field and validates the
// project and identity names it carries.
package identity

import (
	"strings"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

const (
	maxProjectLen  = 64
	maxIdentityLen = 39
)

// ParseUsername splits an SSH username of the form "project" or
// "project+identity" into its parts. The identity half is nil when the
// separator is absent.
func ParseUsername(username string) (project string, identityHint *string) {
	if pos := strings.IndexByte(username, '+'); pos >= 0 {
		proj := username[:pos]
		ident := username[pos+1:]
		return proj, &ident
	}
	return username, nil
}

// ValidateProject enforces: 1-64 chars, [A-Za-z0-9_-], no leading '.' or '-'.
func ValidateProject(name string) error {
	if name == "" {
		return gwerrors.ValidationError("project name cannot be empty")
	}
	if len(name) > maxProjectLen {
		return gwerrors.ValidationError("project name too long (max %d chars)", maxProjectLen)
	}
	for _, c := range name {
		if !isAlnum(c) && c != '-' && c != '_' {
			return gwerrors.ValidationError("invalid character %q in project name", c)
		}
	}
	if name[0] == '.' || name[0] == '-' {
		return gwerrors.ValidationError("project name cannot start with '.' or '-'")
	}
	return nil
}

// ValidateIdentity enforces GitHub-style username rules: 1-39 chars,
// alphanumeric or single hyphen, no leading/trailing hyphen, no "--".
func ValidateIdentity(name string) error {
	if name == "" {
		return gwerrors.ValidationError("identity name cannot be empty")
	}
	if len(name) > maxIdentityLen {
		return gwerrors.ValidationError("identity name too long (max %d chars)", maxIdentityLen)
	}
	for _, c := range name {
		if !isAlnum(c) && c != '-' {
			return gwerrors.ValidationError("invalid character %q in identity name", c)
		}
	}
	if name[0] == '-' || name[len(name)-1] == '-' {
		return gwerrors.ValidationError("identity name cannot start or end with '-'")
	}
	if strings.Contains(name, "--") {
		return gwerrors.ValidationError("identity name cannot contain consecutive hyphens")
	}
	return nil
}

func isAlnum(c rune) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
