package health

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorBeat(t *testing.T) {
	m := NewMonitor(time.Minute)
	var down atomic.Bool
	m.Register(Check("classifier", func(ctx context.Context) error {
		if down.Load() {
			return errors.New("503")
		}
		return nil
	}))
	m.Register(Check("db", func(ctx context.Context) error { return nil }))
	assert.Equal(t, []string{"classifier", "db"}, m.Names())
	assert.False(t, m.Healthy(), "unhealthy until the first heartbeat")

	m.Beat(context.Background())
	assert.True(t, m.Healthy())

	down.Store(true)
	m.Beat(context.Background())
	st := m.Statuses()
	assert.False(t, m.Healthy())
	assert.False(t, st["classifier"].Healthy)
	assert.Equal(t, "503", st["classifier"].Error)
	assert.True(t, st["db"].Healthy)
	assert.False(t, st["db"].Last.IsZero())
}

func TestMonitorStartStops(t *testing.T) {
	m := NewMonitor(5 * time.Millisecond)
	var n atomic.Int32
	m.Register(Check("redis", func(ctx context.Context) error { n.Add(1); return nil }))
	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	require.GreaterOrEqual(t, n.Load(), int32(1))
	require.Eventually(t, func() bool { return n.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	stopped := n.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, stopped, n.Load())
}
