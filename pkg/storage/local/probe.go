package local

import (
	"context"
	"io/fs"
	"path/filepath"
)

// SizeProbe accumulates the recursive byte size of the given host paths,
// short-circuiting once the running total reaches limit. Symlinks are not
// followed. The paths must already be proven inside the sandbox.
//
// Returns the accumulated total (which may stop short of the true total when
// the limit was hit) and whether the limit was reached.
func (a *Adapter) SizeProbe(ctx context.Context, hostPaths []string, limit int64) (int64, bool, error) {
	var total int64

	for _, root := range hostPaths {
		err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if err := ctx.Err(); err != nil {
				return err
			}
			if d.Type()&fs.ModeSymlink != 0 {
				if d.IsDir() {
					return filepath.SkipDir
				}
				return nil
			}
			if d.IsDir() {
				return nil
			}
			info, err := d.Info()
			if err != nil {
				return nil // entry vanished mid-walk
			}
			total += info.Size()
			if total >= limit {
				return filepath.SkipAll
			}
			return nil
		})
		if err != nil {
			return total, false, err
		}
		if total >= limit {
			return total, true, nil
		}
	}
	return total, total >= limit, nil
}
