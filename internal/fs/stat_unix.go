//go:build unix

package fs

import (
	"io/fs"
	"os"
	"syscall"
)

// preserveOwner copies the uid/gid of the replaced file onto its replacement.
// Failures are ignored: an unprivileged user cannot chown to another owner.
func preserveOwner(path string, info fs.FileInfo) {
	stat, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}
	_ = os.Lchown(path, int(stat.Uid), int(stat.Gid))
}
