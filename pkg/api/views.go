package api

import (
	"time"

	"github.com/Lmdudester/Garcon/pkg/backup"
	"github.com/Lmdudester/Garcon/pkg/manager"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// serverView is the dashboard row for one server: the persisted
// configuration flattened together with the runtime status.
type serverView struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	TemplateID   string `json:"templateId"`
	TemplateName string `json:"templateName,omitempty"`
	SourcePath   string `json:"sourcePath"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Ports  []types.PortMapping `json:"ports"`
	Env    map[string]string   `json:"env,omitempty"`
	Memory string              `json:"memory,omitempty"`
	CPUs   float64             `json:"cpus,omitempty"`

	Status          types.Status      `json:"status"`
	StartedAt       *time.Time        `json:"startedAt,omitempty"`
	UpdateStage     types.UpdateStage `json:"updateStage"`
	PreUpdateBackup *time.Time        `json:"preUpdateBackup,omitempty"`

	RestartAfterMaintenance bool `json:"restartAfterMaintenance"`
}

func (s *Server) serverToView(state *types.ServerState) serverView {
	cfg := state.Config

	view := serverView{
		ID:                      cfg.ID,
		Name:                    cfg.Name,
		TemplateID:              cfg.TemplateID,
		SourcePath:              cfg.SourcePath,
		CreatedAt:               cfg.CreatedAt,
		UpdatedAt:               cfg.UpdatedAt,
		Ports:                   cfg.Ports,
		Env:                     cfg.Env,
		Memory:                  cfg.Memory,
		CPUs:                    cfg.CPUs,
		Status:                  state.Status,
		StartedAt:               state.StartedAt,
		UpdateStage:             cfg.UpdateStage,
		PreUpdateBackup:         state.PreUpdateBackup,
		RestartAfterMaintenance: cfg.RestartAfterMaintenance,
	}
	if view.Ports == nil {
		view.Ports = []types.PortMapping{}
	}

	// Best effort: a missing template must not break the server list
	if tpl := s.templates.Lookup(cfg.TemplateID); tpl != nil {
		view.TemplateName = tpl.Name
	}
	return view
}

func (s *Server) serversToViews(states []*types.ServerState) []serverView {
	views := make([]serverView, 0, len(states))
	for _, state := range states {
		views = append(views, s.serverToView(state))
	}
	return views
}

// templateView is the public shape of a template. Execution internals
// stay server-side: shell commands, stop behaviour, and RCON
// credentials never leave the process.
type templateView struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Mode        types.ExecutionMode `json:"mode"`
	Image       string              `json:"image,omitempty"`

	Ports         []types.PortSpec `json:"ports"`
	RequiredFiles []string         `json:"requiredFiles,omitempty"`
}

func templateToView(tpl *types.Template) templateView {
	view := templateView{
		ID:            tpl.ID,
		Name:          tpl.Name,
		Description:   tpl.Description,
		Mode:          tpl.Mode,
		Ports:         tpl.Ports,
		RequiredFiles: tpl.RequiredFiles,
	}
	if tpl.Container != nil {
		view.Image = tpl.Container.Image
	}
	if view.Ports == nil {
		view.Ports = []types.PortSpec{}
	}
	return view
}

func templatesToViews(tpls []*types.Template) []templateView {
	views := make([]templateView, 0, len(tpls))
	for _, tpl := range tpls {
		views = append(views, templateToView(tpl))
	}
	return views
}

// initiateUpdateView tells the operator where to drop new game files
type initiateUpdateView struct {
	SourcePath      string    `json:"sourcePath"`
	BackupTimestamp time.Time `json:"backupTimestamp"`
	BackupPath      string    `json:"backupPath"`
}

func initiateUpdateToView(result *manager.InitiateUpdateResult) initiateUpdateView {
	return initiateUpdateView{
		SourcePath:      result.SourcePath,
		BackupTimestamp: result.BackupTimestamp,
		BackupPath:      result.BackupPath,
	}
}

type restoreView struct {
	RestoredFrom     time.Time           `json:"restoredFrom"`
	PreRestoreBackup *types.BackupRecord `json:"preRestoreBackup,omitempty"`
}

func restoreToView(result *backup.RestoreResult) restoreView {
	return restoreView{
		RestoredFrom:     result.RestoredFrom,
		PreRestoreBackup: result.PreRestore,
	}
}

// configView is the sanitised effective configuration for the
// dashboard settings page
type configView struct {
	DataDir           string `json:"dataDir"`
	HostDataDir       string `json:"hostDataDir"`
	ImportDir         string `json:"importDir"`
	HostImportDir     string `json:"hostImportDir"`
	MaxBackupsPerType int    `json:"maxBackupsPerType"`
	AutoBackupOnStop  bool   `json:"autoBackupOnStop"`
	LogLevel          string `json:"logLevel"`
}
