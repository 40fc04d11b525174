package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLanes_SameRoomRunsInSubmissionOrder(t *testing.T) {
	l := newLanes()
	ctx := context.Background()

	var mu sync.Mutex
	var order []int
	var wg sync.WaitGroup

	tickets := make([]*ticket, 5)
	for i := range tickets {
		tickets[i] = l.enter("!a:x")
	}
	// Start them in reverse so only the lane enforces the order.
	for i := len(tickets) - 1; i >= 0; i-- {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, tickets[i].wait(ctx))
			defer tickets[i].release()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
	assert.Equal(t, 0, l.Len(), "drained lanes are forgotten")
}

func TestLanes_DifferentRoomsDoNotBlock(t *testing.T) {
	l := newLanes()
	ctx := context.Background()

	a := l.enter("!a:x")
	require.NoError(t, a.wait(ctx))
	defer a.release()

	b := l.enter("!b:x")
	done := make(chan struct{})
	go func() {
		require.NoError(t, b.wait(ctx))
		b.release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("room b waited on room a")
	}
}

func TestLanes_CancelledTicketKeepsChain(t *testing.T) {
	l := newLanes()

	first := l.enter("!a:x")
	require.NoError(t, first.wait(context.Background()))

	second := l.enter("!a:x")
	third := l.enter("!a:x")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, second.wait(ctx), context.Canceled)

	thirdDone := make(chan struct{})
	go func() {
		require.NoError(t, third.wait(context.Background()))
		third.release()
		close(thirdDone)
	}()

	select {
	case <-thirdDone:
		t.Fatal("third ran before first released")
	case <-time.After(20 * time.Millisecond):
	}

	first.release()
	select {
	case <-thirdDone:
	case <-time.After(time.Second):
		t.Fatal("third never ran after cancelled second")
	}
}
