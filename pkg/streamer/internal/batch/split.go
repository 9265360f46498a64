package batch

import (
	"fmt"

	"github.com/marmos91/streamer/pkg/metrics"
	"github.com/marmos91/streamer/pkg/streamer/internal/assign"
	"github.com/marmos91/streamer/pkg/streamer/internal/queue"
	"github.com/marmos91/streamer/pkg/streamer/internal/task"
)

// Split converts one file's worker shares (computed by assign.Plan) plus
// that file's sub-range sizes into one Batch per participating worker.
// subRangeSizes[i] is the size of the i'th caller-visible sub-request
// (Request); their sum must equal the sum of spans' sizes. hostBuffer is
// the caller's full host buffer; spans carry the DestOffset into it.
func Split(
	fileIndex int,
	spans []assign.FileReadTask,
	subRangeSizes []int64,
	path string,
	hostBuffer []byte,
	responder *queue.Responder,
	m metrics.EngineMetrics,
) ([]*Batch, error) {
	if len(spans) == 0 {
		return nil, nil
	}

	type piece struct {
		workerIndex int
		offset      int64 // absolute file offset
		destOffset  int64 // offset into hostBuffer
		size        int64
	}

	spanIdx := 0
	spanOffset := spans[0].Offset
	spanDestOffset := spans[0].DestOffset
	spanRemaining := spans[0].Size

	tasksByWorker := make(map[int][]*task.Task)
	workerOrder := make([]int, 0, len(spans))
	seenWorker := make(map[int]bool)

	for subIdx, size := range subRangeSizes {
		var pieces []piece

		if size == 0 {
			clampedIdx := spanIdx
			if clampedIdx >= len(spans) {
				clampedIdx = len(spans) - 1
			}
			pieces = append(pieces, piece{workerIndex: spans[clampedIdx].WorkerIndex, offset: spanOffset, destOffset: spanDestOffset, size: 0})
		}

		remaining := size
		for remaining > 0 {
			if spanIdx >= len(spans) {
				return nil, fmt.Errorf("batch: sub-range %d exceeds assigned spans for file %d", subIdx, fileIndex)
			}

			take := spanRemaining
			if take > remaining {
				take = remaining
			}

			pieces = append(pieces, piece{
				workerIndex: spans[spanIdx].WorkerIndex,
				offset:      spanOffset,
				destOffset:  spanDestOffset,
				size:        take,
			})

			spanOffset += take
			spanDestOffset += take
			remaining -= take
			spanRemaining -= take

			if spanRemaining == 0 {
				spanIdx++
				if spanIdx < len(spans) {
					spanOffset = spans[spanIdx].Offset
					spanDestOffset = spans[spanIdx].DestOffset
					spanRemaining = spans[spanIdx].Size
				}
			}
		}

		reqOffset := pieces[0].offset
		reqDest := hostBuffer[pieces[0].destOffset : pieces[0].destOffset+size]
		req := task.NewRequest(fileIndex, subIdx, reqOffset, size, reqDest, len(pieces))

		var relOffset int64
		for _, p := range pieces {
			t := task.NewTask(req, p.offset, p.offset+p.size, relOffset)
			relOffset += p.size

			if !seenWorker[p.workerIndex] {
				seenWorker[p.workerIndex] = true
				workerOrder = append(workerOrder, p.workerIndex)
			}
			tasksByWorker[p.workerIndex] = append(tasksByWorker[p.workerIndex], t)
		}
	}

	batches := make([]*Batch, 0, len(workerOrder))
	for workerIdx, tasks := range tasksByWorker {
		dest := dstForTasks(hostBuffer, spans, tasks)
		batches = append(batches, New(workerIdx, fileIndex, path, tasks, dest, responder, m))
	}

	return batches, nil
}

// dstForTasks derives the contiguous host-buffer slice a Batch's Tasks
// share: DestOffset for the Batch's first Task, spanning its total bytes.
// Because the Assigner lays worker shares out as a monotone walk over one
// global destination offset, a Batch's Tasks are always back-to-back in
// the host buffer even though they belong to different Requests.
func dstForTasks(hostBuffer []byte, spans []assign.FileReadTask, tasks []*task.Task) []byte {
	if len(tasks) == 0 {
		return nil
	}
	first, last := tasks[0], tasks[0]
	for _, t := range tasks {
		if t.Offset < first.Offset {
			first = t
		}
		if t.End > last.End {
			last = t
		}
	}
	destStart := destOffsetFor(spans, first.Offset)
	return hostBuffer[destStart : destStart+(last.End-first.Offset)]
}

func destOffsetFor(spans []assign.FileReadTask, fileOffset int64) int64 {
	for _, s := range spans {
		if fileOffset >= s.Offset && fileOffset <= s.Offset+s.Size {
			return s.DestOffset + (fileOffset - s.Offset)
		}
	}
	return 0
}
