package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingSweeper struct {
	calls atomic.Int32
}

func (c *countingSweeper) MaintenanceSweep(ctx context.Context) {
	c.calls.Add(1)
}

func TestNextRunIsFourAMEastern(t *testing.T) {
	s, err := NewScheduler(&countingSweeper{})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	next := s.nextRun()
	require.False(t, next.IsZero())

	loc, err := time.LoadLocation(maintenanceZone)
	require.NoError(t, err)
	assert.Equal(t, 4, next.In(loc).Hour())
	assert.Equal(t, 0, next.In(loc).Minute())
	assert.True(t, next.After(time.Now()))
}

func TestRearmKeepsSchedule(t *testing.T) {
	s, err := NewScheduler(&countingSweeper{})
	require.NoError(t, err)
	s.Start()
	defer s.Stop()

	before := s.nextRun()
	s.rearmMaintenance()

	loc, err := time.LoadLocation(maintenanceZone)
	require.NoError(t, err)

	// The swapped-in entry lands asynchronously on a running cron
	require.Eventually(t, func() bool {
		next := s.nextRun()
		return !next.IsZero() && next.In(loc).Hour() == 4
	}, 2*time.Second, 10*time.Millisecond)

	assert.True(t, s.nextRun().Equal(before))
}

func TestSweepDelegates(t *testing.T) {
	sweeper := &countingSweeper{}
	s, err := NewScheduler(sweeper)
	require.NoError(t, err)

	s.runSweep()

	assert.Equal(t, int32(1), sweeper.calls.Load())
}
