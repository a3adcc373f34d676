package manager

import (
	"context"

	"github.com/Lmdudester/Garcon/pkg/types"
)

// MaintenanceSweep backs up and restarts every running server. Called
// by the maintenance schedule; safe to invoke manually. A failure on
// one server never stops the sweep.
func (m *Manager) MaintenanceSweep(ctx context.Context) {
	states := m.List()
	m.logger.Info().Int("servers", len(states)).Msg("Maintenance sweep started")

	for _, snapshot := range states {
		if snapshot.Status != types.StatusRunning {
			continue
		}
		entry, err := m.entry(snapshot.Config.ID)
		if err != nil {
			continue
		}

		entry.mu.Lock()
		m.maintainLocked(ctx, entry)
		entry.mu.Unlock()
	}

	m.logger.Info().Msg("Maintenance sweep finished")
}

func (m *Manager) maintainLocked(ctx context.Context, entry *serverEntry) {
	state := entry.state
	id := state.Config.ID

	// The snapshot may be stale by the time the lock is ours
	if state.Status != types.StatusRunning {
		return
	}

	if _, err := m.backups.Create(id, types.BackupAuto, "maintenance"); err != nil {
		m.logger.Warn().Err(err).Str("server_id", id).Msg("Maintenance backup failed")
	}

	// The sweep already took its backup, so the stop skips the
	// stop-triggered one
	if err := m.stopLocked(ctx, entry, stopOptions{autoBackup: false}); err != nil {
		m.logger.Warn().Err(err).Str("server_id", id).Msg("Maintenance stop failed")
		return
	}

	if state.Config.RestartAfterMaintenance {
		if err := m.startLocked(ctx, entry); err != nil {
			m.logger.Warn().Err(err).Str("server_id", id).Msg("Maintenance restart failed")
		}
	}
}
