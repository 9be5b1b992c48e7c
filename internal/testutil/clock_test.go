package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClock_StartsAtEpoch(t *testing.T) {
	c := NewFakeClock()
	assert.Equal(t, Epoch, c.Now())
}

func TestFakeClock_AdvanceMovesNow(t *testing.T) {
	c := NewFakeClock()
	c.Advance(90 * time.Second)
	assert.Equal(t, Epoch.Add(90*time.Second), c.Now())
}

func TestFakeClock_AfterFiresOnlyAtDeadline(t *testing.T) {
	c := NewFakeClock()
	ch := c.After(10 * time.Second)

	c.Advance(9 * time.Second)
	select {
	case <-ch:
		t.Fatal("timer fired before its deadline")
	default:
	}
	assert.Equal(t, 1, c.PendingTimers())

	c.Advance(time.Second)
	select {
	case at := <-ch:
		assert.Equal(t, Epoch.Add(10*time.Second), at)
	default:
		t.Fatal("timer did not fire at its deadline")
	}
	assert.Equal(t, 0, c.PendingTimers())
}

func TestFakeClock_NonPositiveFiresImmediately(t *testing.T) {
	c := NewFakeClock()
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFakeClock_AutoAdvance(t *testing.T) {
	c := NewAutoClock()

	<-c.After(100 * time.Millisecond)
	<-c.After(200 * time.Millisecond)

	assert.Equal(t, Epoch.Add(300*time.Millisecond), c.Now())
	assert.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, c.Waits())
}

func TestFakeClock_WaitForTimers(t *testing.T) {
	c := NewFakeClock()

	var wg sync.WaitGroup
	wg.Add(1)
	fired := make(chan struct{})
	go func() {
		defer wg.Done()
		<-c.After(time.Minute)
		close(fired)
	}()

	c.WaitForTimers(1)
	c.Advance(time.Minute)
	wg.Wait()

	select {
	case <-fired:
	default:
		require.Fail(t, "goroutine was not released")
	}
}

func TestSequentialIDs(t *testing.T) {
	ids := NewSequentialIDs("")
	assert.Equal(t, "op-1", ids.NewID())
	assert.Equal(t, "op-2", ids.NewID())

	named := NewSequentialIDs("mut")
	assert.Equal(t, "mut-1", named.NewID())
}
