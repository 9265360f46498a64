// Package assign implements the Assigner: it partitions a multi-file,
// multi-range read request across a fixed-size worker pool so that work is
// size-balanced and boundary-aligned to the backend's block size.
package assign

import (
	"fmt"
	"math"
	"strings"
)

// Config carries the subset of the engine configuration the Assigner
// needs: per-backend worker counts and block sizes.
type Config struct {
	Concurrency     int
	S3Concurrency   int
	FSBlockBytesize int64
	S3BlockBytesize int64
}

// FileReadTask is one worker's contiguous share of one file, as produced
// by Plan. DestOffset is where this task's bytes land: the running offset
// into the caller's single host buffer when one dest is given, or the offset
// within the file's own buffer when there is one dest per file.
type FileReadTask struct {
	WorkerIndex int
	FileIndex   int
	Path        string
	Offset      int64
	Size        int64
	DestOffset  int64
}

// Result is the outcome of a Plan call.
type Result struct {
	// ByFile[i] holds the FileReadTasks covering paths[i], in worker order.
	ByFile [][]FileReadTask
	// NumWorkers is the number of workers configured for this request's
	// backend kind (concurrency or s3_concurrency).
	NumWorkers int
	// NumWorkloads is the number of workers that actually received work
	// (<= NumWorkers; zero-byte requests still get exactly one).
	NumWorkloads int
	// IsObjectStorage reports whether paths[0] was detected as an object
	// storage URI; the whole request uses one backend kind.
	IsObjectStorage bool
}

// IsObjectStorage reports whether path is an S3/GCS/Azure URI as opposed
// to a filesystem path, per the URI forms recognised by the engine.
func IsObjectStorage(path string) bool {
	switch {
	case strings.HasPrefix(path, "s3://"),
		strings.HasPrefix(path, "gs://"),
		strings.HasPrefix(path, "azure://"):
		return true
	case strings.HasPrefix(path, "https://") && strings.Contains(path, ".blob.core.windows.net/"):
		return true
	default:
		return false
	}
}

// Plan distributes the union of all files' requested bytes across the
// backend's worker pool, aligned to its block size, minimising the number
// of participating workers for small jobs. dests holds either one entry
// (a single shared host buffer, indexed by running offset) or one entry
// per file.
func Plan(paths []string, fileOffsets, sizes []int64, dests [][]byte, cfg Config) (*Result, error) {
	if len(paths) == 0 {
		return &Result{ByFile: nil, NumWorkers: 0, NumWorkloads: 0}, nil
	}

	n := len(paths)
	if len(fileOffsets) != n || len(sizes) != n || (len(dests) != n && len(dests) != 1) {
		return nil, fmt.Errorf("assign: input length mismatch: paths=%d offsets=%d sizes=%d dests=%d",
			n, len(fileOffsets), len(sizes), len(dests))
	}

	isObjectStorage := IsObjectStorage(paths[0])

	var numWorkers int
	var blockSize int64
	if isObjectStorage {
		numWorkers = cfg.S3Concurrency
		blockSize = cfg.S3BlockBytesize
	} else {
		numWorkers = cfg.Concurrency
		blockSize = cfg.FSBlockBytesize
	}
	if numWorkers <= 0 || blockSize <= 0 {
		return nil, fmt.Errorf("assign: invalid config: workers=%d blockSize=%d", numWorkers, blockSize)
	}

	var totalBytes int64
	for _, s := range sizes {
		if s < 0 {
			return nil, fmt.Errorf("assign: negative size %d", s)
		}
		if totalBytes > math.MaxInt64-s {
			return nil, fmt.Errorf("assign: total byte size overflow")
		}
		totalBytes += s
	}

	numBlocks := totalBytes / blockSize
	numWorkloads := numBlocks
	if numWorkloads > int64(numWorkers) {
		numWorkloads = int64(numWorkers)
	}
	if numWorkloads < 1 {
		numWorkloads = 1
	}

	basePerWorker := (numBlocks / numWorkloads) * blockSize
	remainder := totalBytes - numWorkloads*basePerWorker

	byFile := make([][]FileReadTask, n)

	singleBuffer := len(dests) == 1

	var globalDstOffset int64
	fileIdx := 0
	offsetWithinFile := fileOffsets[0]

	for workerIdx := int64(0); workerIdx < numWorkloads && fileIdx < n; workerIdx++ {
		target := basePerWorker
		if workerIdx == 0 {
			target += remainder
		}

		var assigned int64
		for fileIdx < n {
			fileStart := fileOffsets[fileIdx]
			fileSize := sizes[fileIdx]

			if fileSize > 0 && assigned >= target {
				break
			}

			remainingInFile := (fileStart + fileSize) - offsetWithinFile
			stillNeeded := target - assigned
			toAssign := remainingInFile
			if stillNeeded < toAssign {
				toAssign = stillNeeded
			}

			if fileSize == 0 || toAssign > 0 {
				destOffset := globalDstOffset
				if !singleBuffer {
					destOffset = offsetWithinFile - fileStart
				}
				byFile[fileIdx] = append(byFile[fileIdx], FileReadTask{
					WorkerIndex: int(workerIdx),
					FileIndex:   fileIdx,
					Path:        paths[fileIdx],
					Offset:      offsetWithinFile,
					Size:        toAssign,
					DestOffset:  destOffset,
				})

				assigned += toAssign
				offsetWithinFile += toAssign
				globalDstOffset += toAssign
			}

			if offsetWithinFile == fileStart+fileSize {
				fileIdx++
				if fileIdx < n {
					offsetWithinFile = fileOffsets[fileIdx]
				}
			}
		}
	}

	var assignedTotal int64
	for _, tasks := range byFile {
		for _, t := range tasks {
			assignedTotal += t.Size
		}
	}
	if assignedTotal != totalBytes {
		return nil, fmt.Errorf("assign: internal invariant violated: assigned %d want %d", assignedTotal, totalBytes)
	}

	return &Result{
		ByFile:          byFile,
		NumWorkers:      numWorkers,
		NumWorkloads:    int(numWorkloads),
		IsObjectStorage: isObjectStorage,
	}, nil
}
