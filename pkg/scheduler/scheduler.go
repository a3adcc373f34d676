// Package scheduler arms the daily maintenance window.
//
// Maintenance fires at 04:00 in America/New_York wall-clock time. A
// second job at midnight UTC re-registers the maintenance entry so
// the next fire time is recomputed against the current UTC offset
// around DST transitions.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/log"
)

const (
	maintenanceZone = "America/New_York"
	maintenanceSpec = "0 4 * * *"
	rearmSpec       = "0 0 * * *"
)

// Sweeper is the slice of the manager the scheduler drives
type Sweeper interface {
	MaintenanceSweep(ctx context.Context)
}

// Scheduler owns the two cron runners behind the maintenance window
type Scheduler struct {
	sweeper Sweeper
	logger  zerolog.Logger

	maintenance *cron.Cron
	rearm       *cron.Cron

	mu      sync.Mutex
	entryID cron.EntryID
}

// NewScheduler builds the schedule but does not start it
func NewScheduler(sweeper Sweeper) (*Scheduler, error) {
	loc, err := time.LoadLocation(maintenanceZone)
	if err != nil {
		return nil, fmt.Errorf("failed to load timezone %s: %w", maintenanceZone, err)
	}

	logger := log.WithComponent("scheduler")
	s := &Scheduler{
		sweeper: sweeper,
		logger:  logger,
	}

	// A sweep that overruns its slot must not stack a second one
	s.maintenance = cron.New(
		cron.WithLocation(loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(&logger))),
	)
	s.rearm = cron.New(cron.WithLocation(time.UTC))

	entryID, err := s.maintenance.AddFunc(maintenanceSpec, s.runSweep)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule maintenance: %w", err)
	}
	s.entryID = entryID

	if _, err := s.rearm.AddFunc(rearmSpec, s.rearmMaintenance); err != nil {
		return nil, fmt.Errorf("failed to schedule re-arm: %w", err)
	}
	return s, nil
}

// Start arms both schedules
func (s *Scheduler) Start() {
	s.maintenance.Start()
	s.rearm.Start()
	s.logger.Info().
		Time("next_run", s.nextRun()).
		Str("zone", maintenanceZone).
		Msg("Maintenance schedule armed")
}

// Stop halts both schedules and waits for a running sweep to finish
func (s *Scheduler) Stop() {
	<-s.maintenance.Stop().Done()
	<-s.rearm.Stop().Done()
	s.logger.Info().Msg("Maintenance schedule stopped")
}

func (s *Scheduler) runSweep() {
	s.logger.Info().Msg("Maintenance window opened")
	s.sweeper.MaintenanceSweep(context.Background())
}

// rearmMaintenance swaps the maintenance entry for a fresh one so its
// next fire time is derived from the zone's current offset
func (s *Scheduler) rearmMaintenance() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.maintenance.Remove(s.entryID)
	entryID, err := s.maintenance.AddFunc(maintenanceSpec, s.runSweep)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to re-arm maintenance schedule")
		return
	}
	s.entryID = entryID
	s.logger.Debug().Time("next_run", s.nextRunLocked()).Msg("Maintenance schedule re-armed")
}

func (s *Scheduler) nextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunLocked()
}

func (s *Scheduler) nextRunLocked() time.Time {
	return s.maintenance.Entry(s.entryID).Next
}
