package template

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// DefaultStopTimeout applies when a template leaves stopTimeout unset
const DefaultStopTimeout = 30

// Registry loads template documents once at startup and serves them
// immutably for the lifetime of the process.
type Registry struct {
	dir       string
	mu        sync.RWMutex
	templates map[string]*types.Template
	logger    zerolog.Logger
}

// NewRegistry seeds the built-in templates into dir (only where no
// document with that id exists yet), then loads and validates every
// document found there. A single invalid document is logged and
// skipped rather than failing startup.
func NewRegistry(dir string) (*Registry, error) {
	r := &Registry{
		dir:       dir,
		templates: make(map[string]*types.Template),
		logger:    log.WithComponent("template"),
	}

	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, fmt.Errorf("failed to create template directory: %w", err)
	}
	if err := r.seedBuiltins(); err != nil {
		return nil, err
	}
	if err := r.loadAll(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Registry) seedBuiltins() error {
	for _, tpl := range builtinTemplates() {
		path := filepath.Join(r.dir, tpl.ID+".yaml")
		if fsutil.Exists(path) {
			continue
		}
		if err := fsutil.WriteYAML(path, tpl); err != nil {
			return fmt.Errorf("failed to seed template %s: %w", tpl.ID, err)
		}
		r.logger.Info().Str("template", tpl.ID).Msg("seeded built-in template")
	}
	return nil
}

func (r *Registry) loadAll() error {
	names, err := fsutil.ListDir(r.dir, ".yaml")
	if err != nil {
		return fmt.Errorf("failed to list templates: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, name := range names {
		path := filepath.Join(r.dir, name)

		var tpl types.Template
		if err := fsutil.ReadYAML(path, &tpl); err != nil {
			r.logger.Warn().Err(err).Str("file", name).Msg("skipping unreadable template")
			continue
		}
		applyDefaults(&tpl)
		if err := Validate(&tpl); err != nil {
			r.logger.Warn().Err(err).Str("file", name).Msg("skipping invalid template")
			continue
		}
		if id := strings.TrimSuffix(name, ".yaml"); id != tpl.ID {
			r.logger.Warn().Str("file", name).Str("id", tpl.ID).Msg("template id does not match filename, using document id")
		}
		if _, dup := r.templates[tpl.ID]; dup {
			r.logger.Warn().Str("id", tpl.ID).Str("file", name).Msg("skipping duplicate template id")
			continue
		}
		r.templates[tpl.ID] = &tpl
	}

	r.logger.Info().Int("count", len(r.templates)).Msg("templates loaded")
	return nil
}

func applyDefaults(tpl *types.Template) {
	if tpl.Execution.StopTimeout <= 0 {
		tpl.Execution.StopTimeout = DefaultStopTimeout
	}
	for i := range tpl.Ports {
		if tpl.Ports[i].Protocol == "" {
			tpl.Ports[i].Protocol = "tcp"
		}
	}
}

// Validate checks the structural rules a template must satisfy before
// the registry will serve it.
func Validate(tpl *types.Template) error {
	if tpl.ID == "" {
		return errdefs.Validation("template id is required")
	}
	if tpl.Name == "" {
		return errdefs.Validation("template %s: name is required", tpl.ID)
	}

	switch tpl.Mode {
	case types.ModeContainer:
		if tpl.Container == nil {
			return errdefs.Validation("template %s: container mode requires a container block", tpl.ID)
		}
		if tpl.Container.Image == "" {
			return errdefs.Validation("template %s: container image is required", tpl.ID)
		}
		if tpl.Container.MountPath == "" {
			return errdefs.Validation("template %s: container mountPath is required", tpl.ID)
		}
	case types.ModeNative:
		if tpl.Execution.Executable == "" {
			return errdefs.Validation("template %s: native mode requires execution.executable", tpl.ID)
		}
	default:
		return errdefs.Validation("template %s: mode must be container or native, got %q", tpl.ID, tpl.Mode)
	}

	if rcon := tpl.Execution.RCON; rcon != nil && rcon.Enabled {
		if rcon.Port <= 0 {
			return errdefs.Validation("template %s: rcon requires a port", tpl.ID)
		}
		if rcon.Password == "" && rcon.SettingsFile == "" {
			return errdefs.Validation("template %s: rcon requires a password or a settings file", tpl.ID)
		}
	}

	for _, p := range tpl.Ports {
		if p.ContainerPort <= 0 || p.ContainerPort > 65535 {
			return errdefs.Validation("template %s: port %d out of range", tpl.ID, p.ContainerPort)
		}
		if p.Protocol != "tcp" && p.Protocol != "udp" {
			return errdefs.Validation("template %s: port protocol must be tcp or udp, got %q", tpl.ID, p.Protocol)
		}
	}
	return nil
}

// List returns every loaded template sorted by id
func (r *Registry) List() []*types.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()

	list := make([]*types.Template, 0, len(r.templates))
	for _, tpl := range r.templates {
		list = append(list, tpl)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}

// Get returns the template by id or a not-found error
func (r *Registry) Get(id string) (*types.Template, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tpl, ok := r.templates[id]
	if !ok {
		return nil, errdefs.NotFound("template %s not found", id)
	}
	return tpl, nil
}

// Lookup returns the template by id, or nil when absent. Used for
// best-effort display on cached server rows.
func (r *Registry) Lookup(id string) *types.Template {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.templates[id]
}
