package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// ImportParams describes a server to create from an existing game
// installation.
type ImportParams struct {
	Name       string
	TemplateID string
	// SourcePath is the installation to copy in. Relative paths are
	// resolved against the import directory.
	SourcePath string

	Ports  []types.PortMapping
	Env    map[string]string
	Memory string
	CPUs   float64

	RestartAfterMaintenance bool
}

// Import creates a managed server by copying an existing installation
// into the servers directory. The new server starts out stopped.
func (m *Manager) Import(ctx context.Context, params *ImportParams) (state *types.ServerState, err error) {
	defer func() { metrics.RecordOperation("import", err) }()

	if strings.TrimSpace(params.Name) == "" {
		return nil, errdefs.Validation("server name is required")
	}

	tpl, err := m.templates.Get(params.TemplateID)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, errdefs.Validation("template %s not found", params.TemplateID)
		}
		return nil, err
	}

	source := m.resolveSourcePath(params.SourcePath)
	if !fsutil.IsDir(source) {
		return nil, errdefs.Validation("source path %s is not a directory", source)
	}
	for _, name := range tpl.RequiredFiles {
		if !fsutil.Exists(filepath.Join(source, name)) {
			return nil, errdefs.Validation("required file %s missing from source", name)
		}
	}

	ports := params.Ports
	if len(ports) == 0 {
		for _, p := range tpl.Ports {
			ports = append(ports, types.PortMapping{
				HostPort:      p.ContainerPort,
				ContainerPort: p.ContainerPort,
				Protocol:      p.Protocol,
			})
		}
	}
	if err := validatePorts(ports); err != nil {
		return nil, err
	}

	id, err := m.newServerID(params.Name)
	if err != nil {
		return nil, err
	}

	serverDir := m.settings.ServerDir(id)
	if err := fsutil.CopyDir(source, serverDir); err != nil {
		_ = fsutil.RemoveAll(serverDir)
		return nil, fmt.Errorf("failed to copy server files: %w", err)
	}

	env := make(map[string]string)
	if tpl.Container != nil {
		for k, v := range tpl.Container.Env {
			env[k] = v
		}
	}
	for k, v := range params.Env {
		env[k] = v
	}

	now := time.Now().UTC()
	cfg := &types.ServerConfig{
		ID:         id,
		Name:       params.Name,
		TemplateID: tpl.ID,
		SourcePath: params.SourcePath,
		CreatedAt:  now,
		UpdatedAt:  now,

		Ports:  ports,
		Env:    env,
		Memory: params.Memory,
		CPUs:   params.CPUs,

		UpdateStage:             types.UpdateStageNone,
		RestartAfterMaintenance: params.RestartAfterMaintenance,
	}
	if err := m.persist(cfg); err != nil {
		_ = fsutil.RemoveAll(serverDir)
		return nil, err
	}

	entry := &serverEntry{state: &types.ServerState{Config: cfg, Status: types.StatusStopped}}
	m.mu.Lock()
	m.servers[id] = entry
	m.mu.Unlock()

	m.hub.PublishMembership(id, types.ActionCreated)
	m.logger.Info().
		Str("server_id", id).
		Str("name", params.Name).
		Str("template", tpl.ID).
		Msg("Server imported")

	return cloneState(entry.state), nil
}

// Delete removes a server and its files. Legal from stopped or error
// only. Backups are left in place.
func (m *Manager) Delete(ctx context.Context, serverID string) (err error) {
	defer func() { metrics.RecordOperation("delete", err) }()

	entry, err := m.entry(serverID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()

	state := entry.state
	if err := requireStatus(state, "delete", types.StatusStopped, types.StatusError); err != nil {
		return err
	}

	if _, provider, err := m.templateFor(state.Config); err != nil {
		m.logger.Warn().Err(err).Str("server_id", serverID).Msg("Cannot resolve backend for artifact removal")
	} else if err := provider.Remove(ctx, serverID); err != nil {
		m.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to remove backend artifact")
	}

	if err := fsutil.RemoveAll(m.settings.ServerDir(serverID)); err != nil {
		return fmt.Errorf("failed to delete server files: %w", err)
	}

	m.mu.Lock()
	delete(m.servers, serverID)
	m.mu.Unlock()

	m.hub.PublishMembership(serverID, types.ActionDeleted)
	m.logger.Info().Str("server_id", serverID).Msg("Server deleted")
	return nil
}

// newServerID derives a unique id from the display name plus a random
// suffix
func (m *Manager) newServerID(name string) (string, error) {
	for attempt := 0; attempt < 5; attempt++ {
		suffix := make([]byte, 5)
		if _, err := rand.Read(suffix); err != nil {
			return "", fmt.Errorf("failed to generate server id: %w", err)
		}
		id := slugify(name) + "-" + hex.EncodeToString(suffix)

		m.mu.RLock()
		_, taken := m.servers[id]
		m.mu.RUnlock()
		if !taken && !fsutil.Exists(m.settings.ServerDir(id)) {
			return id, nil
		}
	}
	return "", fmt.Errorf("failed to allocate a unique server id")
}

// slugify lowercases the name and collapses every run of
// non-alphanumeric characters into a single dash
func slugify(name string) string {
	var b strings.Builder
	pendingDash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			if pendingDash && b.Len() > 0 {
				b.WriteByte('-')
			}
			pendingDash = false
			b.WriteRune(r)
		default:
			pendingDash = true
		}
	}
	if b.Len() == 0 {
		return "server"
	}
	return b.String()
}

// resolveSourcePath anchors relative import paths at the import
// directory
func (m *Manager) resolveSourcePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.settings.ImportDir, path)
}

func validatePorts(ports []types.PortMapping) error {
	for _, p := range ports {
		if p.HostPort <= 0 || p.HostPort > 65535 {
			return errdefs.Validation("host port %d out of range", p.HostPort)
		}
		if p.ContainerPort <= 0 || p.ContainerPort > 65535 {
			return errdefs.Validation("container port %d out of range", p.ContainerPort)
		}
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			return errdefs.Validation("port protocol must be tcp or udp, got %q", p.Protocol)
		}
	}
	return nil
}
