package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Lmdudester/Garcon/pkg/api"
	"github.com/Lmdudester/Garcon/pkg/backup"
	"github.com/Lmdudester/Garcon/pkg/config"
	"github.com/Lmdudester/Garcon/pkg/events"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/manager"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/runtime"
	"github.com/Lmdudester/Garcon/pkg/scheduler"
	"github.com/Lmdudester/Garcon/pkg/storage"
	"github.com/Lmdudester/Garcon/pkg/template"
	"github.com/Lmdudester/Garcon/pkg/types"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "garcon",
	Short: "Garcon - local game server control plane",
	Long: `Garcon manages game server instances on a single host: import an
existing installation, attach a template describing how to run it, and
drive start/stop/backup/restore/update through an HTTP and WebSocket API.

Servers run in containers by default; a native backend covers titles
that only ship Windows server binaries.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Garcon version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Garcon version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the control plane daemon",
	Long: `Start the Garcon daemon: reconcile previously managed servers
against the container daemon and tracked native processes, then serve
the HTTP API and push channel until interrupted.

Configuration is read from the environment (and a .env file when
present): HOST, PORT, DATA_DIR, HOST_DATA_DIR, IMPORT_DIR,
HOST_IMPORT_DIR, DOCKER_HOST, MAX_BACKUPS_PER_TYPE,
AUTO_BACKUP_ON_STOP, LOG_LEVEL, LOG_PRETTY.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Init(log.Config{
		Level:  log.ParseLevel(cfg.LogLevel),
		Pretty: cfg.LogPretty,
	})
	logger := log.WithComponent("main")
	logger.Info().
		Str("version", Version).
		Str("commit", Commit).
		Str("data_dir", cfg.DataDir).
		Msg("Garcon starting")

	metrics.SetVersion(Version)

	// Directories no component owns; the rest create their own
	for _, dir := range []string{cfg.ConfigDir(), cfg.ImportDir} {
		if err := fsutil.EnsureDir(dir); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	registry, err := template.NewRegistry(cfg.TemplatesDir())
	if err != nil {
		return fmt.Errorf("failed to load templates: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.StateDBPath())
	if err != nil {
		return fmt.Errorf("failed to open state database: %w", err)
	}
	defer store.Close()

	hub := events.NewHub()
	hub.Start()
	defer hub.Stop()

	engine := backup.NewEngine(cfg.BackupsDir(), cfg.ServersDir(), cfg.MaxBackupsPerType)

	dockerBackend, err := runtime.NewDockerBackend(cfg.DockerHost)
	if err != nil {
		return fmt.Errorf("failed to create docker backend: %w", err)
	}
	nativeBackend := runtime.NewNativeBackend(cfg.ServersDir(), cfg.LogsDir(), cfg.NativeProcessFile())

	mgr, err := manager.NewManager(&manager.Config{
		Settings:  cfg,
		Templates: registry,
		Providers: map[types.ExecutionMode]runtime.Provider{
			types.ModeContainer: dockerBackend,
			types.ModeNative:    nativeBackend,
		},
		Backups: engine,
		Store:   store,
		Events:  hub,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := mgr.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize manager: %w", err)
	}
	defer mgr.Close()

	collector := metrics.NewCollector(mgr, hub)
	collector.Start()
	defer collector.Stop()

	sched, err := scheduler.NewScheduler(mgr)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	sched.Start()
	defer sched.Stop()

	apiServer := api.NewServer(&api.Config{
		Settings:  cfg,
		Manager:   mgr,
		Templates: registry,
		Events:    hub,
		Version:   Version,
	})

	errCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(cfg.Addr()); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("API server failed")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("API server shutdown incomplete")
	}

	// Remaining components stop via the deferred calls, newest first
	logger.Info().Msg("Garcon stopped")
	return nil
}
