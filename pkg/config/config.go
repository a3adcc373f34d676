package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

// Config holds the effective process configuration, resolved from the
// environment (optionally seeded from a .env file).
type Config struct {
	Host string
	Port int

	// DataDir is the root of everything Garcon owns on disk
	DataDir string
	// HostDataDir is DataDir as the container daemon sees it; used
	// verbatim when building bind-mount specifications
	HostDataDir string

	ImportDir     string
	HostImportDir string

	// DockerHost overrides the daemon socket; empty means SDK default
	DockerHost string

	MaxBackupsPerType int
	AutoBackupOnStop  bool

	LogLevel  string
	LogPretty bool
}

// Load resolves configuration from the process environment. A .env
// file in the working directory is applied first when present;
// variables already set in the environment win.
func Load() (*Config, error) {
	// Missing .env is the normal case
	_ = godotenv.Load()

	cfg := &Config{
		Host:       envOr("HOST", "0.0.0.0"),
		DockerHost: os.Getenv("DOCKER_HOST"),
		LogLevel:   envOr("LOG_LEVEL", "info"),
		LogPretty:  envBool("LOG_PRETTY", false),
	}

	port, err := envInt("PORT", 3001)
	if err != nil {
		return nil, err
	}
	cfg.Port = port

	maxBackups, err := envInt("MAX_BACKUPS_PER_TYPE", 5)
	if err != nil {
		return nil, err
	}
	cfg.MaxBackupsPerType = maxBackups
	cfg.AutoBackupOnStop = envBool("AUTO_BACKUP_ON_STOP", true)

	dataDir, err := filepath.Abs(envOr("DATA_DIR", "./data"))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve DATA_DIR: %w", err)
	}
	cfg.DataDir = dataDir
	cfg.HostDataDir = envOr("HOST_DATA_DIR", dataDir)

	importDir, err := filepath.Abs(envOr("IMPORT_DIR", filepath.Join(dataDir, "import")))
	if err != nil {
		return nil, fmt.Errorf("failed to resolve IMPORT_DIR: %w", err)
	}
	cfg.ImportDir = importDir
	cfg.HostImportDir = envOr("HOST_IMPORT_DIR", importDir)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.MaxBackupsPerType <= 0 {
		return fmt.Errorf("MAX_BACKUPS_PER_TYPE must be positive, got %d", c.MaxBackupsPerType)
	}
	return nil
}

// Addr returns the host:port the HTTP server binds to
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// On-disk layout, rooted at DataDir

func (c *Config) ConfigDir() string {
	return filepath.Join(c.DataDir, "config")
}

func (c *Config) TemplatesDir() string {
	return filepath.Join(c.DataDir, "templates")
}

func (c *Config) ServersDir() string {
	return filepath.Join(c.DataDir, "servers")
}

func (c *Config) ServerDir(serverID string) string {
	return filepath.Join(c.ServersDir(), serverID)
}

// SidecarPath locates the per-server configuration document
func (c *Config) SidecarPath(serverID string) string {
	return filepath.Join(c.ServerDir(serverID), ".garcon.yaml")
}

func (c *Config) BackupsDir() string {
	return filepath.Join(c.DataDir, "backups")
}

func (c *Config) BackupDir(serverID string) string {
	return filepath.Join(c.BackupsDir(), serverID)
}

func (c *Config) LogsDir() string {
	return filepath.Join(c.DataDir, "logs")
}

func (c *Config) ServerLogPath(serverID string) string {
	return filepath.Join(c.LogsDir(), serverID+".log")
}

func (c *Config) NativeProcessFile() string {
	return filepath.Join(c.DataDir, "native-processes.json")
}

func (c *Config) StateDBPath() string {
	return filepath.Join(c.DataDir, "garcon.db")
}

// HostServerDir is ServerDir as the container daemon sees it
func (c *Config) HostServerDir(serverID string) string {
	return filepath.Join(c.HostDataDir, "servers", serverID)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envBool(key string, fallback bool) bool {
	v := strings.ToLower(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v == "true" || v == "1" || v == "yes"
}
