package limiter

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"bytemomo/sonar/internal/sonarerr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsNonPositive(t *testing.T) {
	for _, n := range []int{0, -1} {
		_, err := New(n)
		require.Error(t, err)
		assert.True(t, sonarerr.IsConfig(err))
	}
}

func TestPeakNeverExceedsSize(t *testing.T) {
	l, err := New(3)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Do(context.Background(), func() error {
				time.Sleep(2 * time.Millisecond)
				return nil
			})
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, l.Peak(), 3)
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 3, l.Size())
}

func TestDoReleasesOnError(t *testing.T) {
	l, err := New(1)
	require.NoError(t, err)

	boom := errors.New("boom")
	assert.ErrorIs(t, l.Do(context.Background(), func() error { return boom }), boom)
	assert.Equal(t, 0, l.InFlight())

	// The single slot must be free again.
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, l.Acquire(ctx))
	l.Release()
}

func TestDoReleasesOnPanic(t *testing.T) {
	l, err := New(1)
	require.NoError(t, err)

	func() {
		defer func() { _ = recover() }()
		_ = l.Do(context.Background(), func() error { panic("probe") })
	}()
	assert.Equal(t, 0, l.InFlight())
}

func TestAcquireHonoursContext(t *testing.T) {
	l, err := New(1)
	require.NoError(t, err)
	require.NoError(t, l.Acquire(context.Background()))
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.Error(t, l.Acquire(ctx))
}
