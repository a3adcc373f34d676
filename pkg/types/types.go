package types

import (
	"time"
)

// ExecutionMode selects which backend runs a server
type ExecutionMode string

const (
	ModeContainer ExecutionMode = "container"
	ModeNative    ExecutionMode = "native"
)

// Status represents the lifecycle state of a managed server
type Status string

const (
	StatusStopped  Status = "stopped"
	StatusStarting Status = "starting"
	StatusRunning  Status = "running"
	StatusStopping Status = "stopping"
	StatusError    Status = "error"
	StatusUpdating Status = "updating"
)

// UpdateStage tracks progress through the three-phase update protocol.
// It is orthogonal to Status and persisted in the sidecar.
type UpdateStage string

const (
	UpdateStageNone      UpdateStage = "none"
	UpdateStageInitiated UpdateStage = "initiated"
	// UpdateStageReadyToApply is accepted when decoding older sidecars and
	// treated like UpdateStageInitiated; it is never written by this code.
	UpdateStageReadyToApply UpdateStage = "ready_to_apply"
	UpdateStageApplying     UpdateStage = "applying"
)

// BackupType classifies why a backup was taken
type BackupType string

const (
	BackupManual     BackupType = "manual"
	BackupAuto       BackupType = "auto"
	BackupPreUpdate  BackupType = "pre-update"
	BackupPreRestore BackupType = "pre-restore"
)

// UpdateAction describes a membership change on the push channel
type UpdateAction string

const (
	ActionCreated UpdateAction = "created"
	ActionUpdated UpdateAction = "updated"
	ActionDeleted UpdateAction = "deleted"
)

// Template describes how to run a class of game servers.
// Templates are immutable after the registry loads them.
type Template struct {
	ID          string        `yaml:"id" json:"id"`
	Name        string        `yaml:"name" json:"name"`
	Description string        `yaml:"description,omitempty" json:"description,omitempty"`
	Mode        ExecutionMode `yaml:"mode" json:"mode"`

	// Container is required when Mode is "container"
	Container *ContainerConfig `yaml:"container,omitempty" json:"container,omitempty"`

	Execution ExecutionConfig `yaml:"execution" json:"execution"`

	// Ports lists the default exposure for new servers
	Ports []PortSpec `yaml:"ports,omitempty" json:"ports,omitempty"`

	// RequiredFiles must exist under the import source before a server
	// can be created from this template
	RequiredFiles []string `yaml:"requiredFiles,omitempty" json:"requiredFiles,omitempty"`
}

// ContainerConfig holds the container-mode portion of a template
type ContainerConfig struct {
	Image      string            `yaml:"image" json:"image"`
	MountPath  string            `yaml:"mountPath" json:"mountPath"`
	WorkingDir string            `yaml:"workingDir,omitempty" json:"workingDir,omitempty"`
	Mounts     []MountSpec       `yaml:"mounts,omitempty" json:"mounts,omitempty"`
	Env        map[string]string `yaml:"env,omitempty" json:"env,omitempty"`
}

// MountSpec is an additional bind mount beyond the server data directory
type MountSpec struct {
	HostPath      string `yaml:"hostPath" json:"hostPath"`
	ContainerPath string `yaml:"containerPath" json:"containerPath"`
	ReadOnly      bool   `yaml:"readOnly,omitempty" json:"readOnly,omitempty"`
}

// ExecutionConfig holds launch and shutdown behaviour shared by both modes
type ExecutionConfig struct {
	// Executable is resolved against the server data directory (native mode)
	Executable string `yaml:"executable,omitempty" json:"executable,omitempty"`
	// Command is a shell string with {VAR} placeholders substituted from
	// the server environment (container mode)
	Command     string   `yaml:"command,omitempty" json:"command,omitempty"`
	Args        []string `yaml:"args,omitempty" json:"args,omitempty"`
	StopCommand string   `yaml:"stopCommand,omitempty" json:"stopCommand,omitempty"`
	// StopTimeout in seconds before a stop escalates to force-kill (default 30)
	StopTimeout int         `yaml:"stopTimeout,omitempty" json:"stopTimeout,omitempty"`
	RCON        *RCONConfig `yaml:"rcon,omitempty" json:"rcon,omitempty"`
}

// RCONConfig enables graceful shutdown over the Source RCON protocol
type RCONConfig struct {
	Enabled         bool   `yaml:"enabled" json:"enabled"`
	Port            int    `yaml:"port,omitempty" json:"port,omitempty"`
	Password        string `yaml:"password,omitempty" json:"password,omitempty"`
	ShutdownCommand string `yaml:"shutdownCommand,omitempty" json:"shutdownCommand,omitempty"`
	// SettingsFile names a JSON document inside the server data
	// directory whose Rcon block overrides Port and Password at stop
	// time (the V Rising ServerHostSettings.json shape)
	SettingsFile string `yaml:"settingsFile,omitempty" json:"settingsFile,omitempty"`
}

// PortSpec is a template default port
type PortSpec struct {
	ContainerPort int    `yaml:"containerPort" json:"containerPort"`
	Protocol      string `yaml:"protocol" json:"protocol"`
	Description   string `yaml:"description,omitempty" json:"description,omitempty"`
	UserFacing    bool   `yaml:"userFacing,omitempty" json:"userFacing,omitempty"`
}

// PortMapping binds a host port to a container port for one server
type PortMapping struct {
	HostPort      int    `yaml:"hostPort" json:"hostPort"`
	ContainerPort int    `yaml:"containerPort" json:"containerPort"`
	Protocol      string `yaml:"protocol" json:"protocol"`
}

// ServerConfig is the authoritative record for a managed server,
// persisted as the .garcon.yaml sidecar inside its data directory.
type ServerConfig struct {
	ID         string    `yaml:"id" json:"id"`
	Name       string    `yaml:"name" json:"name"`
	TemplateID string    `yaml:"templateId" json:"templateId"`
	SourcePath string    `yaml:"sourcePath" json:"sourcePath"`
	CreatedAt  time.Time `yaml:"createdAt" json:"createdAt"`
	UpdatedAt  time.Time `yaml:"updatedAt" json:"updatedAt"`

	Ports []PortMapping     `yaml:"ports,omitempty" json:"ports,omitempty"`
	Env   map[string]string `yaml:"env,omitempty" json:"env,omitempty"`

	// Memory is a limit string like "4G" (binary multiples; bare bytes allowed)
	Memory string `yaml:"memory,omitempty" json:"memory,omitempty"`
	// CPUs is a fractional core quota, e.g. 1.5
	CPUs float64 `yaml:"cpus,omitempty" json:"cpus,omitempty"`

	UpdateStage UpdateStage `yaml:"updateStage" json:"updateStage"`

	// RestartAfterMaintenance asks the daily maintenance sweep to start
	// this server again after its backup-and-stop cycle
	RestartAfterMaintenance bool `yaml:"restartAfterMaintenance,omitempty" json:"restartAfterMaintenance"`
}

// ServerState is the in-memory runtime view of a managed server,
// rebuilt from sidecars and backend ground truth on startup. The
// update stage lives on Config, which is the persisted record.
type ServerState struct {
	Config          *ServerConfig
	Status          Status
	StartedAt       *time.Time
	PreUpdateBackup *time.Time
}

// BackupRecord describes one archive; everything but Description and
// SizeBytes is derived from the filename.
type BackupRecord struct {
	ServerID    string     `json:"serverId"`
	Timestamp   time.Time  `json:"timestamp"`
	Type        BackupType `json:"type"`
	SizeBytes   int64      `json:"sizeBytes"`
	Description string     `json:"description,omitempty"`
	Filename    string     `json:"filename"`
	Path        string     `json:"path"`
}
