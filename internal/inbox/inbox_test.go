package inbox

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_DrainEmpty(t *testing.T) {
	q := New(0)
	assert.Nil(t, q.DrainAll())
	assert.Equal(t, DefaultCapacity, q.Capacity())
}

func TestQueue_DrainPreservesOrder(t *testing.T) {
	q := New(16)
	for i := 1; i <= 5; i++ {
		require.True(t, q.Push(Message{Address: fmt.Sprintf("/m/%d", i), Seq: uint64(i)}))
	}
	assert.Equal(t, 5, q.Len())

	msgs := q.DrainAll()
	require.Len(t, msgs, 5)
	for i, m := range msgs {
		assert.Equal(t, uint64(i+1), m.Seq)
	}

	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.DrainAll(), "second drain should find nothing")
}

func TestQueue_DropsWhenFull(t *testing.T) {
	q := New(2)
	assert.True(t, q.Push(Message{Seq: 1}))
	assert.True(t, q.Push(Message{Seq: 2}))
	assert.False(t, q.Push(Message{Seq: 3}))

	stats := q.Stats()
	assert.Equal(t, uint64(2), stats.Pushed)
	assert.Equal(t, uint64(1), stats.Dropped)
	assert.Equal(t, 2, stats.Depth)

	msgs := q.DrainAll()
	require.Len(t, msgs, 2)
	assert.Equal(t, uint64(2), msgs[1].Seq)

	// Space is available again after a drain.
	assert.True(t, q.Push(Message{Seq: 4}))
}

func TestQueue_ConcurrentProducerConsumer(t *testing.T) {
	const total = 10000
	q := New(total)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 1; i <= total; i++ {
			q.Push(Message{Seq: uint64(i)})
		}
	}()

	var got []Message
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	for finished := false; !finished; {
		select {
		case <-done:
			finished = true
		default:
		}
		got = append(got, q.DrainAll()...)
	}
	got = append(got, q.DrainAll()...)

	require.Len(t, got, total)
	for i, m := range got {
		if m.Seq != uint64(i+1) {
			t.Fatalf("message %d out of order: seq %d", i, m.Seq)
		}
	}
}
