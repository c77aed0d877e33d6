package call

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduleFires(t *testing.T) {
	var fired atomic.Int32
	d := Schedule(10*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return fired.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.True(t, d.Fired())
}

func TestScheduleCancelPreventsFiring(t *testing.T) {
	var fired atomic.Int32
	d := Schedule(30*time.Millisecond, func() { fired.Add(1) })
	d.Cancel()

	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, fired.Load())
	assert.False(t, d.Fired())
}

func TestScheduleCancelIdempotent(t *testing.T) {
	d := Schedule(30*time.Millisecond, func() {})
	d.Cancel()
	d.Cancel()
	assert.False(t, d.Fired())
}

func TestScheduleCancelAfterFiringKeepsFired(t *testing.T) {
	var fired atomic.Int32
	d := Schedule(5*time.Millisecond, func() { fired.Add(1) })

	require.Eventually(t, func() bool { return d.Fired() }, time.Second, 5*time.Millisecond)
	d.Cancel()
	assert.True(t, d.Fired())
	assert.Equal(t, int32(1), fired.Load())
}
