//go:build unix

package workspace

import (
	"os"
	"os/exec"
	"syscall"
)

// sandboxUID/sandboxGID match the uid/gid baked into the workspace image's
// default user.
const (
	sandboxUID = 1000
	sandboxGID = 1000
)

// ensureWritable creates path if missing and makes it writable by the
// sandbox uid/gid, per spec §4.3 step 2. It never recursively chowns —
// only the workspace root needs to be writable for editor/tool bootstraps.
func ensureWritable(path string) error {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if writableBy(info, sandboxUID, sandboxGID) {
		return nil
	}

	// Best-effort; succeeds when the gateway runs as root, silently does
	// nothing useful otherwise (matching the original's behavior).
	exec.Command("chown", "1000:1000", path).Run()
	os.Chmod(path, 0o775)

	info, err = os.Stat(path)
	if err != nil {
		return err
	}
	if writableBy(info, sandboxUID, sandboxGID) {
		return nil
	}

	return os.Chmod(path, 0o777)
}

func writableBy(info os.FileInfo, uid, gid uint32) bool {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return false
	}
	mode := info.Mode().Perm()
	switch {
	case stat.Uid == uid:
		return mode&0o300 == 0o300
	case stat.Gid == gid:
		return mode&0o030 == 0o030
	default:
		return mode&0o003 == 0o003
	}
}
