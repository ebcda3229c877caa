package orchestrator

import (
	"io/fs"
	"path/filepath"
)

// diskUsage sums the apparent size of every regular file under root. Used
// by stats when the backend has no native per-container filesystem
// accounting (e.g. a host bind mount).
func diskUsage(root string) (uint64, error) {
	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d == nil {
				return nil
			}
			return nil
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err == nil {
				total += uint64(info.Size())
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
