package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// stopOptions tunes the internal stop path. The maintenance sweep
// makes its own backup before stopping, so it suppresses the
// stop-triggered one.
type stopOptions struct {
	autoBackup bool
}

// Start launches a server. Legal only from stopped with no update in
// flight.
func (m *Manager) Start(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("start", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return m.startLocked(ctx, entry)
}

func (m *Manager) startLocked(ctx context.Context, entry *serverEntry) error {
	state := entry.state
	if err := requireStatus(state, "start", types.StatusStopped); err != nil {
		return err
	}
	if err := requireStageNone(state, "start"); err != nil {
		return err
	}

	tpl, provider, err := m.templateFor(state.Config)
	if err != nil {
		return err
	}
	if err := provider.CheckAvailability(ctx); err != nil {
		return err
	}

	state.Status = types.StatusStarting
	m.publishStatus(state)
	m.logger.Info().Str("server_id", state.Config.ID).Str("template", tpl.ID).Msg("Starting server")

	ref, err := provider.Start(ctx, state.Config, tpl, m.dataPathFor(tpl.Mode, state.Config.ID))
	if err != nil {
		state.Status = types.StatusError
		m.publishStatus(state)
		return err
	}

	now := time.Now().UTC()
	state.Status = types.StatusRunning
	state.StartedAt = &now
	m.publishStatus(state)
	m.logger.Info().Str("server_id", state.Config.ID).Str("ref", ref).Msg("Server running")
	return nil
}

// Stop shuts a running server down, taking an auto backup first when
// so configured. A failed backup aborts the stop.
func (m *Manager) Stop(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("stop", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return m.stopLocked(ctx, entry, stopOptions{autoBackup: true})
}

func (m *Manager) stopLocked(ctx context.Context, entry *serverEntry, opts stopOptions) error {
	state := entry.state
	if err := requireStatus(state, "stop", types.StatusRunning); err != nil {
		return err
	}

	tpl, provider, err := m.templateFor(state.Config)
	if err != nil {
		return err
	}

	state.Status = types.StatusStopping
	m.publishStatus(state)
	m.logger.Info().Str("server_id", state.Config.ID).Msg("Stopping server")

	if opts.autoBackup && m.settings.AutoBackupOnStop {
		if _, err := m.backups.Create(state.Config.ID, types.BackupAuto, "on stop"); err != nil {
			state.Status = types.StatusError
			m.publishStatus(state)
			return fmt.Errorf("auto backup failed, stop aborted: %w", err)
		}
	}

	if err := provider.Stop(ctx, state.Config.ID, tpl, stopTimeout(tpl)); err != nil {
		state.Status = types.StatusError
		m.publishStatus(state)
		return err
	}

	state.Status = types.StatusStopped
	state.StartedAt = nil
	m.publishStatus(state)
	m.logger.Info().Str("server_id", state.Config.ID).Msg("Server stopped")
	return nil
}

// Restart stops then starts under one lock, so no other transition can
// slip between the halves.
func (m *Manager) Restart(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("restart", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := m.stopLocked(ctx, entry, stopOptions{autoBackup: true}); err != nil {
		return err
	}
	return m.startLocked(ctx, entry)
}

// AcknowledgeCrash clears an error state: the backend artifact (the
// crashed container, kept around for inspection) is removed and the
// server returns to stopped.
func (m *Manager) AcknowledgeCrash(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("acknowledge-crash", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if err := requireStatus(state, "acknowledge crash for", types.StatusError); err != nil {
		return err
	}

	_, provider, err := m.templateFor(state.Config)
	if err != nil {
		return err
	}
	if err := provider.Remove(ctx, serverID); err != nil {
		return err
	}

	state.Status = types.StatusStopped
	state.StartedAt = nil
	m.publishStatus(state)
	m.logger.Info().Str("server_id", serverID).Msg("Crash acknowledged")
	return nil
}
