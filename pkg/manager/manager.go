package manager

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/backup"
	"github.com/Lmdudester/Garcon/pkg/config"
	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/events"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/runtime"
	"github.com/Lmdudester/Garcon/pkg/storage"
	"github.com/Lmdudester/Garcon/pkg/template"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// serverEntry pairs a server's state with the lock that serialises its
// transitions. The lock is held for a whole transition, including the
// sidecar write, so concurrent requests for one server queue up while
// distinct servers proceed in parallel.
type serverEntry struct {
	mu    sync.Mutex
	state *types.ServerState
}

// Manager owns the per-server state machines. It coordinates the
// execution backends, the backup engine, and the event hub, and is the
// only writer of server sidecars.
type Manager struct {
	settings  *config.Config
	templates *template.Registry
	providers map[types.ExecutionMode]runtime.Provider
	backups   *backup.Engine
	store     storage.Store
	hub       *events.Hub
	logger    zerolog.Logger

	mu      sync.RWMutex
	servers map[string]*serverEntry

	unsubscribe []func()
}

// Config holds the manager's collaborators
type Config struct {
	Settings  *config.Config
	Templates *template.Registry
	Providers map[types.ExecutionMode]runtime.Provider
	Backups   *backup.Engine
	Store     storage.Store
	Events    *events.Hub
}

// NewManager wires a manager; call Initialize to load servers and
// begin watching for process exits
func NewManager(cfg *Config) (*Manager, error) {
	if err := fsutil.EnsureDir(cfg.Settings.ServersDir()); err != nil {
		return nil, err
	}

	return &Manager{
		settings:  cfg.Settings,
		templates: cfg.Templates,
		providers: cfg.Providers,
		backups:   cfg.Backups,
		store:     cfg.Store,
		hub:       cfg.Events,
		logger:    log.WithComponent("manager"),
		servers:   make(map[string]*serverEntry),
	}, nil
}

// Initialize reconciles persisted servers against backend ground
// truth, registers crash callbacks, and starts exit monitoring. An
// unreachable backend is a warning, not a failure: the operator still
// sees their servers and can recover once the daemon is back.
func (m *Manager) Initialize(ctx context.Context) error {
	for mode, provider := range m.providers {
		if err := provider.CheckAvailability(ctx); err != nil {
			m.logger.Warn().Err(err).Str("mode", string(mode)).Msg("Execution backend unavailable")
			metrics.UpdateComponent(string(mode), false, err.Error())
			continue
		}
		metrics.UpdateComponent(string(mode), true, "")
		if err := provider.Reconcile(ctx); err != nil {
			m.logger.Warn().Err(err).Str("mode", string(mode)).Msg("Backend reconciliation failed")
		}
	}

	if err := m.loadServers(ctx); err != nil {
		return err
	}

	for _, provider := range m.providers {
		m.unsubscribe = append(m.unsubscribe, provider.OnProcessExit(m.handleExit))
		if err := provider.StartEventMonitoring(ctx); err != nil {
			m.logger.Warn().Err(err).Msg("Failed to start exit monitoring")
		}
	}
	return nil
}

// Close unregisters exit callbacks
func (m *Manager) Close() error {
	for _, fn := range m.unsubscribe {
		fn()
	}
	m.unsubscribe = nil
	return nil
}

// loadServers scans the servers directory and derives each server's
// initial status from its sidecar and the backend's view
func (m *Manager) loadServers(ctx context.Context) error {
	dirs, err := fsutil.ListSubdirs(m.settings.ServersDir())
	if err != nil {
		return err
	}

	for _, dir := range dirs {
		sidecar := m.settings.SidecarPath(dir)
		if !fsutil.Exists(sidecar) {
			m.logger.Warn().Str("dir", dir).Msg("Server directory has no sidecar, skipping")
			continue
		}

		var cfg types.ServerConfig
		if err := fsutil.ReadYAML(sidecar, &cfg); err != nil {
			m.logger.Warn().Err(err).Str("dir", dir).Msg("Unreadable sidecar, skipping")
			continue
		}
		if cfg.ID != dir {
			m.logger.Warn().Str("dir", dir).Str("id", cfg.ID).Msg("Sidecar id does not match directory, skipping")
			continue
		}

		state := &types.ServerState{Config: &cfg, Status: types.StatusStopped}
		if status := m.probeBackend(ctx, &cfg); status != nil && status.Running {
			// The true start time is lost across daemon restarts;
			// now() is a lower bound
			now := time.Now().UTC()
			state.Status = types.StatusRunning
			state.StartedAt = &now
		} else if cfg.UpdateStage != types.UpdateStageNone {
			state.Status = types.StatusUpdating
		}

		m.mu.Lock()
		m.servers[cfg.ID] = &serverEntry{state: state}
		m.mu.Unlock()

		m.logger.Info().
			Str("server_id", cfg.ID).
			Str("status", string(state.Status)).
			Str("update_stage", string(cfg.UpdateStage)).
			Msg("Loaded server")
	}
	return nil
}

// probeBackend asks the responsible provider about a server, returning
// nil when the provider is missing or unreachable
func (m *Manager) probeBackend(ctx context.Context, cfg *types.ServerConfig) *runtime.ProcessStatus {
	tpl := m.templates.Lookup(cfg.TemplateID)
	if tpl == nil {
		m.logger.Warn().Str("server_id", cfg.ID).Str("template", cfg.TemplateID).Msg("Template not found for server")
		return nil
	}
	provider, ok := m.providers[tpl.Mode]
	if !ok {
		return nil
	}
	status, err := provider.GetProcessStatus(ctx, cfg.ID)
	if err != nil {
		m.logger.Warn().Err(err).Str("server_id", cfg.ID).Msg("Backend status probe failed")
		return nil
	}
	return status
}

// handleExit is the crash callback registered with every backend. An
// exit while the manager believed the server running or starting is a
// crash; exits during stopping, updating, or stopped are expected.
func (m *Manager) handleExit(serverID string, exitCode *int) {
	entry, err := m.entry(serverID)
	if err != nil {
		return
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	switch state.Status {
	case types.StatusRunning, types.StatusStarting:
		event := m.logger.Warn().Str("server_id", serverID)
		if exitCode != nil {
			event = event.Int("exit_code", *exitCode)
		}
		event.Msg("Server process exited unexpectedly")

		state.Status = types.StatusError
		state.StartedAt = nil
		m.publishStatus(state)
	default:
		m.logger.Debug().
			Str("server_id", serverID).
			Str("status", string(state.Status)).
			Msg("Ignoring expected process exit")
	}
}

// Get returns a snapshot of one server
func (m *Manager) Get(serverID string) (*types.ServerState, error) {
	entry, err := m.entry(serverID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneState(entry.state), nil
}

// List returns snapshots of every server, saved display order first,
// then the rest by name
func (m *Manager) List() []*types.ServerState {
	m.mu.RLock()
	entries := make(map[string]*serverEntry, len(m.servers))
	for id, entry := range m.servers {
		entries[id] = entry
	}
	m.mu.RUnlock()

	states := make([]*types.ServerState, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		states = append(states, cloneState(entry.state))
		entry.mu.Unlock()
	}

	order, err := m.store.GetServerOrder()
	if err != nil {
		m.logger.Warn().Err(err).Msg("Failed to read display order")
	}
	rank := make(map[string]int, len(order))
	for i, id := range order {
		rank[id] = i
	}

	sort.Slice(states, func(i, j int) bool {
		ri, iOrdered := rank[states[i].Config.ID]
		rj, jOrdered := rank[states[j].Config.ID]
		switch {
		case iOrdered && jOrdered:
			return ri < rj
		case iOrdered:
			return true
		case jOrdered:
			return false
		}
		ni := strings.ToLower(states[i].Config.Name)
		nj := strings.ToLower(states[j].Config.Name)
		if ni != nj {
			return ni < nj
		}
		return states[i].Config.ID < states[j].Config.ID
	})
	return states
}

// SetServerOrder saves the dashboard display order
func (m *Manager) SetServerOrder(ids []string) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, id := range ids {
		if _, ok := m.servers[id]; !ok {
			return errdefs.Validation("unknown server id in order: %s", id)
		}
	}
	return m.store.SetServerOrder(ids)
}

// entry looks up a server's entry
func (m *Manager) entry(serverID string) (*serverEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.servers[serverID]
	if !ok {
		return nil, errdefs.NotFound("server %s not found", serverID)
	}
	return entry, nil
}

// templateFor resolves a server's template and provider
func (m *Manager) templateFor(cfg *types.ServerConfig) (*types.Template, runtime.Provider, error) {
	tpl, err := m.templates.Get(cfg.TemplateID)
	if err != nil {
		return nil, nil, err
	}
	provider, ok := m.providers[tpl.Mode]
	if !ok {
		return nil, nil, errdefs.State("no execution backend for mode %s", tpl.Mode)
	}
	return tpl, provider, nil
}

// dataPathFor picks the server directory path the backend must use:
// the Docker daemon needs the host-visible path, a spawned process the
// local one
func (m *Manager) dataPathFor(mode types.ExecutionMode, serverID string) string {
	if mode == types.ModeContainer {
		return m.settings.HostServerDir(serverID)
	}
	return m.settings.ServerDir(serverID)
}

// persist writes the sidecar; callers hold the entry lock
func (m *Manager) persist(cfg *types.ServerConfig) error {
	return fsutil.WriteYAML(m.settings.SidecarPath(cfg.ID), cfg)
}

// publishStatus emits the server's current status; callers hold the
// entry lock and have already persisted any sidecar change
func (m *Manager) publishStatus(state *types.ServerState) {
	m.hub.PublishStatus(state.Config.ID, state.Status, state.StartedAt, state.Config.UpdateStage)
}

// stopTimeout returns the template's stop timeout as a duration
func stopTimeout(tpl *types.Template) time.Duration {
	seconds := tpl.Execution.StopTimeout
	if seconds <= 0 {
		seconds = template.DefaultStopTimeout
	}
	return time.Duration(seconds) * time.Second
}

func cloneConfig(cfg *types.ServerConfig) *types.ServerConfig {
	clone := *cfg
	clone.Ports = append([]types.PortMapping(nil), cfg.Ports...)
	if cfg.Env != nil {
		clone.Env = make(map[string]string, len(cfg.Env))
		for k, v := range cfg.Env {
			clone.Env[k] = v
		}
	}
	return &clone
}

func cloneState(state *types.ServerState) *types.ServerState {
	clone := &types.ServerState{Config: cloneConfig(state.Config), Status: state.Status}
	if state.StartedAt != nil {
		t := *state.StartedAt
		clone.StartedAt = &t
	}
	if state.PreUpdateBackup != nil {
		t := *state.PreUpdateBackup
		clone.PreUpdateBackup = &t
	}
	return clone
}

// requireStatus rejects a transition unless the server is in one of
// the allowed statuses
func requireStatus(state *types.ServerState, op string, allowed ...types.Status) error {
	for _, status := range allowed {
		if state.Status == status {
			return nil
		}
	}
	return errdefs.State("cannot %s server %s while %s", op, state.Config.ID, state.Status)
}

// requireStageNone rejects a transition while an update is in flight
func requireStageNone(state *types.ServerState, op string) error {
	if state.Config.UpdateStage != types.UpdateStageNone {
		return errdefs.State("cannot %s server %s during update (stage %s)", op, state.Config.ID, state.Config.UpdateStage)
	}
	return nil
}
