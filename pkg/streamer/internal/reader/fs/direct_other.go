//go:build !linux

package fs

import (
	"os"

	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

// openDirect has no O_DIRECT equivalent wired on non-Linux platforms; it
// always reports failure so the caller falls back to a buffered open.
func openDirect(path string, flags int) (*os.File, respcode.Code) {
	return nil, respcode.FileAccessError
}
