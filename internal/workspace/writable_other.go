//go:build !unix

package workspace

import "os"

// ensureWritable on non-Unix hosts only guarantees the directory exists;
// uid/gid-based writability checks don't apply there.
func ensureWritable(path string) error {
	return os.MkdirAll(path, 0o755)
}
