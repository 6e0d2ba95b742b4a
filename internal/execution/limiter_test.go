package execution

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BoundsConcurrencyPerVenue(t *testing.T) {
	l := NewLimiter(2, 0, 0, nil)

	var current, peak int32
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Do(context.Background(), "alpha", func(context.Context) error {
				n := atomic.AddInt32(&current, 1)
				for {
					p := atomic.LoadInt32(&peak)
					if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&current, -1)
				return nil
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
}

func TestLimiter_VenuesDoNotShareSlots(t *testing.T) {
	l := NewLimiter(1, 0, 0, nil)

	release := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = l.Do(context.Background(), "alpha", func(context.Context) error {
			close(started)
			<-release
			return nil
		})
	}()
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Do(ctx, "beta", func(context.Context) error { return nil }))

	blocked, cancelBlocked := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancelBlocked()
	err := l.Do(blocked, "alpha", func(context.Context) error { return nil })
	assert.Error(t, err)

	close(release)
}

func TestLimiter_PassesThroughCallError(t *testing.T) {
	l := NewLimiter(0, 0, 0, nil)
	boom := errors.New("boom")

	err := l.Do(context.Background(), "", func(context.Context) error { return boom })
	assert.ErrorIs(t, err, boom)
}
