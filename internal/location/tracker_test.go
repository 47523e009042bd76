package location

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"product-finder/internal/geo"
)

type fakeSub struct {
	p       *fakeProvider
	fn      func(Sample)
	removed bool
}

func (s *fakeSub) Remove() {
	s.p.mu.Lock()
	defer s.p.mu.Unlock()
	if !s.removed {
		s.removed = true
		s.p.active--
	}
}

type fakeProvider struct {
	mu      sync.Mutex
	allow   bool
	permErr error
	fix     func(ctx context.Context) (Sample, error)
	subs    []*fakeSub
	active  int
	opts    WatchOptions
}

func (p *fakeProvider) RequestPermission(ctx context.Context) (bool, error) {
	return p.allow, p.permErr
}

func (p *fakeProvider) CurrentPosition(ctx context.Context, acc Accuracy) (Sample, error) {
	return p.fix(ctx)
}

func (p *fakeProvider) Watch(ctx context.Context, opts WatchOptions, fn func(Sample)) (Subscription, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := &fakeSub{p: p, fn: fn}
	p.subs = append(p.subs, s)
	p.active++
	p.opts = opts
	return s, nil
}

func (p *fakeProvider) activeCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

var t0 = time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)

func sampleAt(lat, lon float64, at time.Time) Sample {
	return Sample{Coord: geo.Coordinate{Lat: lat, Lon: lon}, Accuracy: 5, Timestamp: at}
}

func fixedFix(s Sample) func(context.Context) (Sample, error) {
	return func(context.Context) (Sample, error) { return s, nil }
}

func TestTracker_PermissionDeniedIsTerminal(t *testing.T) {
	p := &fakeProvider{allow: false}
	tr := NewTracker(p)

	err := tr.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StatePermissionDenied, tr.State())

	p.allow = true
	err = tr.RequestPermission(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.Equal(t, StatePermissionDenied, tr.State())

	_, err = tr.AcquireInitialFix(context.Background())
	assert.ErrorIs(t, err, ErrPermissionDenied)
	assert.ErrorIs(t, tr.StartTracking(context.Background()), ErrPermissionDenied)
}

func TestTracker_AcquireRequiresPermission(t *testing.T) {
	tr := NewTracker(&fakeProvider{allow: true, fix: fixedFix(sampleAt(1, 1, t0))})
	_, err := tr.AcquireInitialFix(context.Background())
	assert.ErrorIs(t, err, ErrPermissionNotRequested)
	assert.Equal(t, StateUnrequested, tr.State())
}

func TestTracker_AcquireInitialFix(t *testing.T) {
	want := sampleAt(6.9271, 79.8612, t0)
	tr := NewTracker(&fakeProvider{allow: true, fix: fixedFix(want)})
	require.NoError(t, tr.RequestPermission(context.Background()))
	assert.Equal(t, StatePermissionGranted, tr.State())

	got, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, StateFixed, tr.State())

	snap, ok := tr.Snapshot()
	require.True(t, ok)
	assert.Equal(t, want, snap)
}

func TestTracker_ProviderErrorFails(t *testing.T) {
	boom := errors.New("gps off")
	tr := NewTracker(&fakeProvider{allow: true, fix: func(context.Context) (Sample, error) { return Sample{}, boom }})
	require.NoError(t, tr.RequestPermission(context.Background()))

	_, err := tr.AcquireInitialFix(context.Background())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateFailed, tr.State())
}

func TestTracker_TimeoutDiscardsLateFix(t *testing.T) {
	release := make(chan struct{})
	returned := make(chan struct{})
	p := &fakeProvider{allow: true, fix: func(ctx context.Context) (Sample, error) {
		// ignores cancellation, like a device that answers late
		<-release
		defer close(returned)
		return sampleAt(1, 2, t0), nil
	}}
	tr := NewTracker(p, WithFixTimeout(20*time.Millisecond))
	require.NoError(t, tr.RequestPermission(context.Background()))

	_, err := tr.AcquireInitialFix(context.Background())
	assert.ErrorIs(t, err, ErrLocationTimeout)
	assert.Equal(t, StateFailed, tr.State())
	assert.ErrorIs(t, tr.Err(), ErrLocationTimeout)

	close(release)
	<-returned
	time.Sleep(10 * time.Millisecond)

	assert.Equal(t, StateFailed, tr.State())
	_, ok := tr.Snapshot()
	assert.False(t, ok)
}

func TestTracker_RetryAfterTimeout(t *testing.T) {
	var mu sync.Mutex
	slow := true
	p := &fakeProvider{allow: true, fix: func(ctx context.Context) (Sample, error) {
		mu.Lock()
		s := slow
		mu.Unlock()
		if s {
			<-ctx.Done()
			return Sample{}, ctx.Err()
		}
		return sampleAt(3, 4, t0), nil
	}}
	tr := NewTracker(p, WithFixTimeout(10*time.Millisecond))
	require.NoError(t, tr.RequestPermission(context.Background()))

	_, err := tr.AcquireInitialFix(context.Background())
	require.ErrorIs(t, err, ErrLocationTimeout)

	mu.Lock()
	slow = false
	mu.Unlock()
	s, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3.0, s.Coord.Lat)
	assert.Equal(t, StateFixed, tr.State())
}

func TestTracker_StartTrackingReplacesSubscription(t *testing.T) {
	p := &fakeProvider{allow: true, fix: fixedFix(sampleAt(1, 1, t0))}
	tr := NewTracker(p)
	require.NoError(t, tr.RequestPermission(context.Background()))
	_, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)

	require.NoError(t, tr.StartTracking(context.Background()))
	require.NoError(t, tr.StartTracking(context.Background()))
	require.NoError(t, tr.StartTracking(context.Background()))

	assert.Equal(t, 1, p.activeCount())
	assert.Len(t, p.subs, 3)
	assert.True(t, p.subs[0].removed)
	assert.True(t, p.subs[1].removed)
	assert.False(t, p.subs[2].removed)
	assert.Equal(t, StateTracking, tr.State())
	assert.Equal(t, DefaultMinDistanceM, p.opts.MinDistanceM)
	assert.Equal(t, DefaultMinInterval, p.opts.MinInterval)
}

func TestTracker_ThrottlesUpdates(t *testing.T) {
	start := sampleAt(6.9271, 79.8612, t0)
	p := &fakeProvider{allow: true, fix: fixedFix(start)}
	var seen []Sample
	tr := NewTracker(p, WithUpdateListener(func(s Sample) { seen = append(seen, s) }))
	require.NoError(t, tr.RequestPermission(context.Background()))
	_, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.StartTracking(context.Background()))
	emit := p.subs[0].fn

	// moved far but too soon
	emit(sampleAt(6.9300, 79.8612, t0.Add(2*time.Second)))
	// late enough but moved ~1m
	emit(sampleAt(6.92711, 79.8612, t0.Add(6*time.Second)))
	snap, _ := tr.Snapshot()
	assert.Equal(t, start, snap)

	moved := sampleAt(6.9300, 79.8612, t0.Add(6*time.Second))
	emit(moved)
	snap, _ = tr.Snapshot()
	assert.Equal(t, moved, snap)
	assert.Equal(t, []Sample{moved}, seen)
}

func TestTracker_IgnoresStaleSubscription(t *testing.T) {
	start := sampleAt(0, 0, t0)
	p := &fakeProvider{allow: true, fix: fixedFix(start)}
	tr := NewTracker(p, WithThrottle(0, time.Nanosecond))
	require.NoError(t, tr.RequestPermission(context.Background()))
	_, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)

	require.NoError(t, tr.StartTracking(context.Background()))
	old := p.subs[0].fn
	require.NoError(t, tr.StartTracking(context.Background()))

	old(sampleAt(10, 10, t0.Add(time.Minute)))
	snap, _ := tr.Snapshot()
	assert.Equal(t, start, snap)

	p.subs[1].fn(sampleAt(1, 1, t0.Add(time.Minute)))
	snap, _ = tr.Snapshot()
	assert.Equal(t, 1.0, snap.Coord.Lat)
}

func TestTracker_StopIsIdempotent(t *testing.T) {
	p := &fakeProvider{allow: true, fix: fixedFix(sampleAt(1, 1, t0))}
	tr := NewTracker(p)
	assert.NotPanics(t, tr.Stop)
	assert.Equal(t, StateUnrequested, tr.State())

	require.NoError(t, tr.RequestPermission(context.Background()))
	_, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.StartTracking(context.Background()))

	tr.Stop()
	tr.Stop()
	assert.Equal(t, 0, p.activeCount())
	assert.Equal(t, StateFixed, tr.State())

	// updates after stop are ignored
	p.subs[0].fn(sampleAt(5, 5, t0.Add(time.Hour)))
	snap, _ := tr.Snapshot()
	assert.Equal(t, 1.0, snap.Coord.Lat)
}

func TestPollSubscribe_StaticProvider(t *testing.T) {
	sp := NewStaticProvider(geo.Coordinate{Lat: 7, Lon: 80})
	got := make(chan Sample, 8)
	sub, err := sp.Watch(context.Background(), WatchOptions{MinInterval: 5 * time.Millisecond}, func(s Sample) {
		select {
		case got <- s:
		default:
		}
	})
	require.NoError(t, err)

	select {
	case s := <-got:
		assert.Equal(t, 7.0, s.Coord.Lat)
	case <-time.After(time.Second):
		t.Fatal("no update from poll subscription")
	}
	sub.Remove()
	sub.Remove()
}

func TestTracker_WithStaticProvider(t *testing.T) {
	tr := NewTracker(NewStaticProvider(geo.Coordinate{Lat: 6.9, Lon: 79.8}))
	require.NoError(t, tr.RequestPermission(context.Background()))
	s, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, geo.Coordinate{Lat: 6.9, Lon: 79.8}, s.Coord)
}

func TestTracker_ListenerMayStop(t *testing.T) {
	var tr *Tracker
	stopped := make(chan struct{})
	var once sync.Once
	tr = NewTracker(NewStaticProvider(geo.Coordinate{Lat: 6.9, Lon: 79.8}),
		WithThrottle(0, time.Millisecond),
		WithUpdateListener(func(Sample) {
			tr.Stop()
			once.Do(func() { close(stopped) })
		}))
	require.NoError(t, tr.RequestPermission(context.Background()))
	require.NoError(t, tr.StartTracking(context.Background()))

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop from the update listener did not return")
	}
	assert.NotEqual(t, StateTracking, tr.State())
	tr.Stop()
}

func TestPollSubscribe_RemoveFromCallback(t *testing.T) {
	ready := make(chan Subscription, 1)
	var mu sync.Mutex
	calls := 0
	removed := make(chan struct{})
	sub := PollSubscribe(context.Background(), time.Millisecond, func(context.Context) (Sample, error) {
		return sampleAt(1, 1, t0), nil
	}, func(Sample) {
		mu.Lock()
		calls++
		mu.Unlock()
		(<-ready).Remove()
		close(removed)
	})
	ready <- sub

	select {
	case <-removed:
	case <-time.After(2 * time.Second):
		t.Fatal("Remove from the callback did not return")
	}
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls, "no callbacks after Remove")
}

func TestTracker_AcquireWhileTrackingKeepsTracking(t *testing.T) {
	fix := sampleAt(6.9271, 79.8612, t0)
	p := &fakeProvider{allow: true, fix: fixedFix(fix)}
	tr := NewTracker(p)
	require.NoError(t, tr.RequestPermission(context.Background()))
	require.NoError(t, tr.StartTracking(context.Background()))
	require.Equal(t, StateTracking, tr.State())

	s, err := tr.AcquireInitialFix(context.Background())
	require.NoError(t, err)
	assert.Equal(t, fix, s)
	assert.Equal(t, StateTracking, tr.State())
	assert.Equal(t, 1, p.activeCount())

	tr.Stop()
	assert.Equal(t, StateFixed, tr.State())
}

func TestTracker_TimeoutWhileTrackingKeepsTracking(t *testing.T) {
	p := &fakeProvider{allow: true, fix: func(ctx context.Context) (Sample, error) {
		<-ctx.Done()
		return Sample{}, ctx.Err()
	}}
	tr := NewTracker(p, WithFixTimeout(10*time.Millisecond))
	require.NoError(t, tr.RequestPermission(context.Background()))
	require.NoError(t, tr.StartTracking(context.Background()))

	_, err := tr.AcquireInitialFix(context.Background())
	assert.ErrorIs(t, err, ErrLocationTimeout)
	assert.Equal(t, StateTracking, tr.State())
	assert.ErrorIs(t, tr.Err(), ErrLocationTimeout)

	p.subs[0].fn(sampleAt(1, 1, t0))
	snap, ok := tr.Snapshot()
	require.True(t, ok)
	assert.Equal(t, 1.0, snap.Coord.Lat)
}
