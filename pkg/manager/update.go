package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/docker/go-units"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// InitiateUpdateResult tells the operator where to drop the new game
// files and which backup guards the old ones.
type InitiateUpdateResult struct {
	SourcePath      string
	BackupTimestamp time.Time
	BackupPath      string
}

// InitiateUpdate opens the update window: the server is stopped if
// needed, a pre-update backup is taken, and the persisted update stage
// moves to initiated.
func (m *Manager) InitiateUpdate(ctx context.Context, serverID string) (result *InitiateUpdateResult, err error) {
	defer func() { metrics.RecordOperation("initiate-update", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if state.Config.UpdateStage != types.UpdateStageNone {
		return nil, errdefs.State("update already in progress for server %s (stage %s)", serverID, state.Config.UpdateStage)
	}

	if state.Status == types.StatusRunning {
		if err := m.stopLocked(ctx, entry, stopOptions{autoBackup: true}); err != nil {
			return nil, err
		}
	}
	if err := requireStatus(state, "update", types.StatusStopped); err != nil {
		return nil, err
	}

	record, err := m.backups.Create(serverID, types.BackupPreUpdate, "before update")
	if err != nil {
		return nil, fmt.Errorf("pre-update backup failed: %w", err)
	}

	state.Config.UpdateStage = types.UpdateStageInitiated
	if err := m.persist(state.Config); err != nil {
		state.Config.UpdateStage = types.UpdateStageNone
		return nil, err
	}

	ts := record.Timestamp
	state.PreUpdateBackup = &ts
	state.Status = types.StatusUpdating
	m.publishStatus(state)
	m.logger.Info().
		Str("server_id", serverID).
		Time("backup", record.Timestamp).
		Msg("Update initiated")

	return &InitiateUpdateResult{
		SourcePath:      state.Config.SourcePath,
		BackupTimestamp: record.Timestamp,
		BackupPath:      record.Path,
	}, nil
}

// ApplyUpdate copies the source path over the server directory and
// closes the update window. The copy overlays file by file; files only
// present in the old tree survive.
func (m *Manager) ApplyUpdate(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("apply-update", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	stage := state.Config.UpdateStage
	if stage != types.UpdateStageInitiated && stage != types.UpdateStageReadyToApply {
		return errdefs.State("cannot apply update for server %s in stage %s", serverID, stage)
	}

	state.Config.UpdateStage = types.UpdateStageApplying
	if err := m.persist(state.Config); err != nil {
		state.Config.UpdateStage = stage
		return err
	}
	m.publishStatus(state)

	source := m.resolveSourcePath(state.Config.SourcePath)
	if copyErr := m.copyUpdate(source, serverID); copyErr != nil {
		state.Config.UpdateStage = types.UpdateStageInitiated
		if err := m.persist(state.Config); err != nil {
			m.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to roll update stage back")
		}
		state.Status = types.StatusError
		m.publishStatus(state)
		return copyErr
	}

	state.Config.UpdatedAt = time.Now().UTC()
	state.Config.UpdateStage = types.UpdateStageNone
	if err := m.persist(state.Config); err != nil {
		state.Status = types.StatusError
		m.publishStatus(state)
		return err
	}

	state.PreUpdateBackup = nil
	state.Status = types.StatusStopped
	m.publishStatus(state)
	m.hub.PublishMembership(serverID, types.ActionUpdated)
	m.logger.Info().Str("server_id", serverID).Msg("Update applied")
	return nil
}

// CancelUpdate abandons the update window without touching server
// files. The pre-update backup is kept for a manual restore.
func (m *Manager) CancelUpdate(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("cancel-update", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if state.Config.UpdateStage == types.UpdateStageNone {
		return errdefs.State("no update in progress for server %s", serverID)
	}

	prev := state.Config.UpdateStage
	state.Config.UpdateStage = types.UpdateStageNone
	if err := m.persist(state.Config); err != nil {
		state.Config.UpdateStage = prev
		return err
	}

	state.PreUpdateBackup = nil
	state.Status = types.StatusStopped
	m.publishStatus(state)
	m.logger.Info().Str("server_id", serverID).Msg("Update cancelled")
	return nil
}

func (m *Manager) copyUpdate(source, serverID string) error {
	if !fsutil.IsDir(source) {
		return errdefs.Validation("update source %s is not a directory", source)
	}
	if err := fsutil.CopyDir(source, m.settings.ServerDir(serverID)); err != nil {
		return fmt.Errorf("failed to copy update files: %w", err)
	}
	return nil
}

// UpdateParams carries a partial configuration change; nil fields are
// left untouched.
type UpdateParams struct {
	Name   *string
	Ports  *[]types.PortMapping
	Env    *map[string]string
	Memory *string
	CPUs   *float64

	RestartAfterMaintenance *bool
}

// UpdateConfig applies a partial configuration change. Allowed while
// stopped or in error, never during an update.
func (m *Manager) UpdateConfig(ctx context.Context, serverID string, params *UpdateParams) (state *types.ServerState, err error) {
	defer func() { metrics.RecordOperation("reconfigure", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	if err := requireStatus(entry.state, "reconfigure", types.StatusStopped, types.StatusError); err != nil {
		return nil, err
	}
	if err := requireStageNone(entry.state, "reconfigure"); err != nil {
		return nil, err
	}

	// Mutate a copy so a failed persist leaves the entry untouched
	cfg := cloneConfig(entry.state.Config)
	if params.Name != nil {
		if *params.Name == "" {
			return nil, errdefs.Validation("server name cannot be empty")
		}
		cfg.Name = *params.Name
	}
	if params.Ports != nil {
		if err := validatePorts(*params.Ports); err != nil {
			return nil, err
		}
		cfg.Ports = append([]types.PortMapping(nil), (*params.Ports)...)
	}
	if params.Env != nil {
		env := make(map[string]string, len(*params.Env))
		for k, v := range *params.Env {
			env[k] = v
		}
		cfg.Env = env
	}
	if params.Memory != nil {
		if *params.Memory != "" {
			if _, err := units.RAMInBytes(*params.Memory); err != nil {
				return nil, errdefs.Validation("invalid memory limit %q", *params.Memory)
			}
		}
		cfg.Memory = *params.Memory
	}
	if params.CPUs != nil {
		if *params.CPUs < 0 {
			return nil, errdefs.Validation("cpu limit cannot be negative")
		}
		cfg.CPUs = *params.CPUs
	}
	if params.RestartAfterMaintenance != nil {
		cfg.RestartAfterMaintenance = *params.RestartAfterMaintenance
	}

	cfg.UpdatedAt = time.Now().UTC()
	if err := m.persist(cfg); err != nil {
		return nil, err
	}
	entry.state.Config = cfg

	m.hub.PublishMembership(serverID, types.ActionUpdated)
	m.logger.Info().Str("server_id", serverID).Msg("Server reconfigured")
	return cloneState(entry.state), nil
}
