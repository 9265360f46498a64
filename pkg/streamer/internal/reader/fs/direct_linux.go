//go:build linux

package fs

import (
	"os"

	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
	"golang.org/x/sys/unix"
)

// openDirect opens path with O_DIRECT, used when RUNAI_STREAMER_DIRECTIO=1.
// Many filesystems (tmpfs, overlayfs, some network filesystems) reject the
// flag with EINVAL; callers treat failure here as "fall back to buffered".
func openDirect(path string, flags int) (*os.File, respcode.Code) {
	fd, err := unix.Open(path, flags|unix.O_DIRECT, 0)
	if err != nil {
		return nil, respcode.FileAccessError
	}
	return os.NewFile(uintptr(fd), path), respcode.Success
}
