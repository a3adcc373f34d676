package manager

import (
	"context"
	"time"

	"github.com/Lmdudester/Garcon/pkg/backup"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// CreateBackup takes a manual backup. The server must be stopped, or
// parked in an update window, so the data directory is quiescent.
func (m *Manager) CreateBackup(serverID, description string) (record *types.BackupRecord, err error) {
	defer func() { metrics.RecordOperation("backup-create", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := requireStatus(entry.state, "back up", types.StatusStopped, types.StatusUpdating); err != nil {
		return nil, err
	}
	return m.backups.Create(serverID, types.BackupManual, description)
}

// ListBackups lists a server's backups, newest first
func (m *Manager) ListBackups(serverID string) ([]types.BackupRecord, error) {
	if _, err := m.entry(serverID); err != nil {
		return nil, err
	}
	return m.backups.List(serverID)
}

// DeleteBackup removes a single backup archive
func (m *Manager) DeleteBackup(serverID string, timestamp time.Time) (err error) {
	defer func() { metrics.RecordOperation("backup-delete", err) }()

	if _, err := m.entry(serverID); err != nil {
		return err
	}
	return m.backups.Delete(serverID, timestamp)
}

// Restore rolls the server's data directory back to a backup. The
// server must be stopped with no update in flight. The current
// configuration survives the restore; only game data is rolled back.
func (m *Manager) Restore(ctx context.Context, serverID string, timestamp time.Time) (result *backup.RestoreResult, err error) {
	defer func() { metrics.RecordOperation("restore", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if err := requireStatus(state, "restore", types.StatusStopped); err != nil {
		return nil, err
	}
	if err := requireStageNone(state, "restore"); err != nil {
		return nil, err
	}

	result, err = m.backups.Restore(serverID, timestamp)
	if err != nil {
		return nil, err
	}

	// The archive carries the sidecar as it was at backup time; the
	// live configuration stays authoritative
	if err := m.persist(state.Config); err != nil {
		return nil, err
	}

	m.logger.Info().
		Str("server_id", serverID).
		Time("restored_from", result.RestoredFrom).
		Msg("Server restored from backup")
	return result, nil
}
