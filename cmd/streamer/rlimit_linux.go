//go:build linux

package main

import (
	"golang.org/x/sys/unix"

	"github.com/marmos91/streamer/internal/logger"
)

// raiseFDLimit raises RLIMIT_NOFILE to its hard ceiling. The engine opens
// one file descriptor per in-flight filesystem Batch; a low default limit
// (commonly 1024) is easy to exhaust with a high concurrency setting and
// many files in one aggregate request. Failure is logged as a warning, not
// fatal: the process keeps running with the limit it already had.
func raiseFDLimit() {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		logger.Warnf("rlimit: could not read RLIMIT_NOFILE: %v", err)
		return
	}

	if rlim.Cur >= rlim.Max {
		return
	}

	want := rlim
	want.Cur = rlim.Max
	if err := unix.Setrlimit(unix.RLIMIT_NOFILE, &want); err != nil {
		logger.Warnf("rlimit: could not raise RLIMIT_NOFILE to %d: %v", rlim.Max, err)
		return
	}

	logger.Infof("rlimit: raised RLIMIT_NOFILE from %d to %d", rlim.Cur, want.Cur)
}
