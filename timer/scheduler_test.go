package timer

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/notnil/canapp/clock"
	"github.com/notnil/canapp/internal/metrics"
)

type counter struct {
	mu    sync.Mutex
	fired []Handle
}

func (c *counter) cb(h Handle) {
	c.mu.Lock()
	c.fired = append(c.fired, h)
	c.mu.Unlock()
}

func (c *counter) n() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.fired)
}

func newManual(t *testing.T, start uint64) (*Scheduler, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(start)
	s := NewScheduler(WithClock(clk))
	t.Cleanup(s.Terminate)
	return s, clk
}

func TestCreateRejectsNilCallback(t *testing.T) {
	s, _ := newManual(t, 0)
	h, err := s.Create(nil)
	assert.ErrorIs(t, err, ErrNilCallback)
	assert.False(t, h.Valid())
	assert.Equal(t, 0, s.Len())
}

func TestCreateIsIdle(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, err := s.Create(c.cb)
	require.NoError(t, err)
	assert.True(t, h.Valid())
	assert.False(t, s.Running(h))

	clk.Set(1_000_000)
	s.Poll()
	assert.Equal(t, 0, c.n())
}

func TestStartFiresAfterPeriod(t *testing.T) {
	tests := []struct {
		name   string
		offset int64
		fires  int
	}{
		{"before", -1, 0},
		{"exactly", 0, 0},
		{"after", 1, 1},
		{"well after", 5000, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, clk := newManual(t, 1_000)
			var c counter
			h, err := s.Create(c.cb)
			require.NoError(t, err)
			require.NoError(t, s.Start(h, 10))

			clk.Set(uint64(1_000 + 10_000 + tt.offset))
			s.Poll()
			assert.Equal(t, tt.fires, c.n())
		})
	}
}

func TestExpiredTimerFiresOncePerPoll(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 1))

	clk.Set(1_001)
	s.Poll()
	assert.Equal(t, 1, c.n())

	// not restarted, so it stays expired
	s.Poll()
	assert.Equal(t, 2, c.n())
}

func TestRestartKeepsCadence(t *testing.T) {
	s, clk := newManual(t, 0)
	var fires []uint64
	var h Handle
	h, _ = s.Create(func(Handle) {
		fires = append(fires, clk.Micros())
		require.NoError(t, s.Restart(h))
	})
	require.NoError(t, s.Start(h, 10))

	// poll late within each period; the schedule must not drift
	for _, at := range []uint64{10_300, 20_300, 30_300} {
		clk.Set(at)
		s.Poll()
	}
	assert.Equal(t, []uint64{10_300, 20_300, 30_300}, fires)

	clk.Set(40_000)
	s.Poll()
	assert.Len(t, fires, 3)
	clk.Set(40_001)
	s.Poll()
	assert.Len(t, fires, 4)
}

func TestRestartAfterOverrunFiresImmediately(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	var h Handle
	h, _ = s.Create(func(x Handle) {
		c.cb(x)
		require.NoError(t, s.Restart(x))
	})
	require.NoError(t, s.Start(h, 10))

	clk.Set(25_000)
	s.Poll()
	require.Equal(t, 1, c.n())

	// catch-up: the next scan fires without waiting another period
	clk.Set(25_001)
	s.Poll()
	assert.Equal(t, 2, c.n())

	// and the one after that is back on a full period
	clk.Set(30_000)
	s.Poll()
	assert.Equal(t, 2, c.n())
	clk.Set(35_002)
	s.Poll()
	assert.Equal(t, 3, c.n())
}

func TestStartResetsSchedule(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 10))

	clk.Set(9_000)
	require.NoError(t, s.Start(h, 10))
	clk.Set(10_500)
	s.Poll()
	assert.Equal(t, 0, c.n())
	clk.Set(19_001)
	s.Poll()
	assert.Equal(t, 1, c.n())
}

func TestStopKeepsTimerAllocated(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 1))
	require.NoError(t, s.Stop(h))
	assert.False(t, s.Running(h))

	clk.Set(10_000)
	s.Poll()
	assert.Equal(t, 0, c.n())
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Start(h, 1))
	clk.Set(11_001)
	s.Poll()
	assert.Equal(t, 1, c.n())
}

func TestDelete(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 1))

	s.Delete(h)
	s.Delete(h)
	s.Delete(Handle{})
	assert.Equal(t, 0, s.Len())

	clk.Set(10_000)
	s.Poll()
	assert.Equal(t, 0, c.n())

	assert.ErrorIs(t, s.Start(h, 1), ErrUnknownTimer)
	assert.ErrorIs(t, s.Restart(h), ErrUnknownTimer)
	assert.ErrorIs(t, s.Stop(h), ErrUnknownTimer)
	assert.False(t, s.Running(h))
}

func TestStaleHandleAfterSlotReuse(t *testing.T) {
	s, clk := newManual(t, 0)
	var a, b counter
	ha, _ := s.Create(a.cb)
	s.Delete(ha)

	hb, err := s.Create(b.cb)
	require.NoError(t, err)
	assert.NotEqual(t, ha, hb)

	assert.ErrorIs(t, s.Start(ha, 1), ErrUnknownTimer)
	s.Delete(ha)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Start(hb, 1))
	clk.Set(1_001)
	s.Poll()
	assert.Equal(t, 0, a.n())
	assert.Equal(t, []Handle{hb}, b.fired)
}

func TestDeleteFromCallback(t *testing.T) {
	s, clk := newManual(t, 0)

	var selfFires, victimFires, survivorFires int
	var self, victim Handle
	self, _ = s.Create(func(h Handle) {
		selfFires++
		s.Delete(h)
		s.Delete(victim)
	})
	victim, _ = s.Create(func(Handle) { victimFires++ })
	survivor, _ := s.Create(func(Handle) { survivorFires++ })

	for _, h := range []Handle{self, victim, survivor} {
		require.NoError(t, s.Start(h, 1))
	}

	clk.Set(2_000)
	s.Poll()
	s.Poll()

	assert.Equal(t, 1, selfFires)
	assert.Equal(t, 0, victimFires)
	assert.Equal(t, 2, survivorFires)
	assert.Equal(t, 1, s.Len())
}

func TestCreateFromCallback(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(func(h Handle) {
		for i := 0; i < 64; i++ {
			_, err := s.Create(c.cb)
			require.NoError(t, err)
		}
		require.NoError(t, s.Stop(h))
	})
	require.NoError(t, s.Start(h, 1))

	clk.Set(2_000)
	s.Poll()
	assert.Equal(t, 65, s.Len())
	assert.Equal(t, 0, c.n())
}

func TestFutureStartNeverExpires(t *testing.T) {
	s, clk := newManual(t, 50_000)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 10))

	clk.Set(0)
	s.Poll()
	assert.Equal(t, 0, c.n())
}

func TestRestartNearEpoch(t *testing.T) {
	s, clk := newManual(t, 0)
	var c counter
	h, _ := s.Create(c.cb)
	require.NoError(t, s.Start(h, 10))
	clk.Set(5_000)
	require.NoError(t, s.Restart(h))
	s.Poll()
	assert.Equal(t, 0, c.n())
	clk.Set(20_001)
	s.Poll()
	assert.Equal(t, 1, c.n())
}

func TestTerminateReleasesEverything(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	s := NewScheduler(WithMetrics(m))
	s.Run()
	var hs []Handle
	for i := 0; i < 5; i++ {
		h, err := s.Create(func(Handle) {})
		require.NoError(t, err)
		hs = append(hs, h)
	}
	require.NoError(t, s.Start(hs[0], 1000))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.TimersActive))

	s.Terminate()
	assert.Equal(t, 0, s.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(m.TimersActive))
	for _, h := range hs {
		assert.ErrorIs(t, s.Start(h, 1), ErrUnknownTimer)
	}
	s.Terminate()
}

func TestWorkerFiresPeriodically(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	s := NewScheduler(WithPollInterval(200*time.Microsecond), WithMetrics(m))
	s.Run()
	s.Run()
	defer s.Terminate()

	var fired atomic.Int32
	var h Handle
	h, err = s.Create(func(x Handle) {
		if fired.Add(1) < 3 {
			_ = s.Restart(x)
		} else {
			_ = s.Stop(x)
		}
	})
	require.NoError(t, err)
	require.NoError(t, s.Start(h, 2))

	require.Eventually(t, func() bool { return fired.Load() == 3 }, time.Second, time.Millisecond)
	time.Sleep(10 * time.Millisecond)
	assert.Equal(t, int32(3), fired.Load())
	assert.False(t, s.Running(h))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.TimerExpiries))
}

func TestHandleString(t *testing.T) {
	assert.Equal(t, "timer#3.2", Handle{index: 3, gen: 2}.String())
}
