package queue

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marmos91/streamer/pkg/streamer/internal/respcode"
)

func TestPushPopExactlyOnce(t *testing.T) {
	r := NewResponder(3, nil)
	r.Push(Event{FileIndex: 0, SubIndex: 0, Result: respcode.Success})
	r.Push(Event{FileIndex: 0, SubIndex: 1, Result: respcode.Success})
	r.Push(Event{FileIndex: 0, SubIndex: 2, Result: respcode.FileAccessError})

	seen := map[int]respcode.Code{}
	for i := 0; i < 3; i++ {
		ev := r.Pop()
		require.NotEqual(t, respcode.FinishedError, ev.Result)
		seen[ev.SubIndex] = ev.Result
	}
	assert.Equal(t, respcode.Success, seen[0])
	assert.Equal(t, respcode.Success, seen[1])
	assert.Equal(t, respcode.FileAccessError, seen[2])

	// every event delivered, queue now finished: next Pop returns FinishedError.
	assert.Equal(t, respcode.FinishedError, r.Pop().Result)
	assert.True(t, r.Finished())
}

func TestPopBlocksUntilPush(t *testing.T) {
	r := NewResponder(1, nil)
	done := make(chan Event, 1)
	go func() { done <- r.Pop() }()

	select {
	case <-done:
		t.Fatal("Pop returned before any Push")
	case <-time.After(50 * time.Millisecond):
	}

	r.Push(Event{FileIndex: 1, SubIndex: 0, Result: respcode.Success})

	select {
	case ev := <-done:
		assert.Equal(t, respcode.Success, ev.Result)
	case <-time.After(time.Second):
		t.Fatal("Pop did not unblock after Push")
	}
}

func TestCancelUnblocksPop(t *testing.T) {
	r := NewResponder(5, nil)
	done := make(chan Event, 1)
	go func() { done <- r.Pop() }()

	time.Sleep(20 * time.Millisecond)
	r.Cancel()

	select {
	case ev := <-done:
		assert.Equal(t, respcode.FinishedError, ev.Result)
	case <-time.After(time.Second):
		t.Fatal("Cancel did not unblock Pop")
	}
	assert.True(t, r.Finished())
}

func TestStopIsIdempotentAndDiscardsFuturePushes(t *testing.T) {
	r := NewResponder(1, nil)
	r.Stop()
	r.Stop() // idempotent, must not panic or double-broadcast badly

	r.Push(Event{Result: respcode.Success}) // no-op after stop
	assert.Equal(t, respcode.FinishedError, r.Pop().Result)
}

func TestConcurrentProducersExactlyOnceDelivery(t *testing.T) {
	const n = 200
	r := NewResponder(n, nil)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.Push(Event{FileIndex: 0, SubIndex: i, Result: respcode.Success})
		}(i)
	}
	wg.Wait()

	seen := make(map[int]bool, n)
	for i := 0; i < n; i++ {
		ev := r.Pop()
		require.NotEqual(t, respcode.FinishedError, ev.Result)
		require.False(t, seen[ev.SubIndex], "duplicate delivery for sub-index %d", ev.SubIndex)
		seen[ev.SubIndex] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, respcode.FinishedError, r.Pop().Result)
}

func TestIncrementRaisesExpectedCount(t *testing.T) {
	r := NewResponder(1, nil)
	r.Increment(1)
	r.Push(Event{SubIndex: 0, Result: respcode.Success})
	r.Pop()
	assert.False(t, r.Finished())
	r.Push(Event{SubIndex: 1, Result: respcode.Success})
	r.Pop()
	assert.True(t, r.Finished())
}

func TestUnexpectedPushMarksInvalid(t *testing.T) {
	r := NewResponder(0, nil)
	r.Push(Event{Result: respcode.Success})
	assert.Equal(t, respcode.UnknownError, r.Valid())
}
