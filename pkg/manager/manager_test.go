package manager

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lmdudester/Garcon/pkg/backup"
	"github.com/Lmdudester/Garcon/pkg/config"
	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/events"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/runtime"
	"github.com/Lmdudester/Garcon/pkg/storage"
	"github.com/Lmdudester/Garcon/pkg/template"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// fakeProvider is an in-memory execution backend. Tests flip its error
// fields to exercise failure paths and fire exit callbacks to simulate
// crashes.
type fakeProvider struct {
	mu        sync.Mutex
	running   map[string]bool
	starts    []string
	stops     []string
	removes   []string
	timeouts  []time.Duration
	callbacks []runtime.ExitCallback

	availErr  error
	startErr  error
	stopErr   error
	removeErr error
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{running: make(map[string]bool)}
}

func (f *fakeProvider) CheckAvailability(ctx context.Context) error { return f.availErr }

func (f *fakeProvider) StartEventMonitoring(ctx context.Context) error { return nil }

func (f *fakeProvider) OnProcessExit(cb runtime.ExitCallback) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.callbacks = append(f.callbacks, cb)
	return func() {}
}

func (f *fakeProvider) GetProcessStatus(ctx context.Context, serverID string) (*runtime.ProcessStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	running := f.running[serverID]
	return &runtime.ProcessStatus{Exists: running, Running: running, Ref: serverID}, nil
}

func (f *fakeProvider) Start(ctx context.Context, cfg *types.ServerConfig, tpl *types.Template, dataPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return "", f.startErr
	}
	f.starts = append(f.starts, cfg.ID)
	f.running[cfg.ID] = true
	return "ref-" + cfg.ID, nil
}

func (f *fakeProvider) Stop(ctx context.Context, serverID string, tpl *types.Template, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return f.stopErr
	}
	f.stops = append(f.stops, serverID)
	f.timeouts = append(f.timeouts, timeout)
	f.running[serverID] = false
	return nil
}

func (f *fakeProvider) Remove(ctx context.Context, serverID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	f.removes = append(f.removes, serverID)
	delete(f.running, serverID)
	return nil
}

func (f *fakeProvider) Reconcile(ctx context.Context) error { return nil }

func (f *fakeProvider) fireExit(serverID string, exitCode *int) {
	f.mu.Lock()
	cbs := append([]runtime.ExitCallback(nil), f.callbacks...)
	f.mu.Unlock()
	for _, cb := range cbs {
		cb(serverID, exitCode)
	}
}

func (f *fakeProvider) stopCount(serverID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, id := range f.stops {
		if id == serverID {
			n++
		}
	}
	return n
}

type testEnv struct {
	cfg      *config.Config
	registry *template.Registry
	engine   *backup.Engine
	store    *storage.BoltStore
	hub      *events.Hub
	provider *fakeProvider
	manager  *Manager
}

func testTemplate() *types.Template {
	return &types.Template{
		ID:   "test-game",
		Name: "Test Game",
		Mode: types.ModeContainer,
		Container: &types.ContainerConfig{
			Image:     "example/game:latest",
			MountPath: "/data",
			Env:       map[string]string{"EULA": "true"},
		},
		Execution: types.ExecutionConfig{StopTimeout: 1},
		Ports: []types.PortSpec{
			{ContainerPort: 25565, Protocol: "tcp"},
		},
		RequiredFiles: []string{"server.jar"},
	}
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		Host:              "127.0.0.1",
		Port:              3001,
		DataDir:           dataDir,
		HostDataDir:       dataDir,
		ImportDir:         filepath.Join(dataDir, "import"),
		HostImportDir:     filepath.Join(dataDir, "import"),
		MaxBackupsPerType: 5,
		AutoBackupOnStop:  true,
		LogLevel:          "debug",
	}
	require.NoError(t, fsutil.EnsureDir(cfg.ImportDir))
	require.NoError(t, fsutil.EnsureDir(cfg.TemplatesDir()))
	require.NoError(t, fsutil.WriteYAML(filepath.Join(cfg.TemplatesDir(), "test-game.yaml"), testTemplate()))

	registry, err := template.NewRegistry(cfg.TemplatesDir())
	require.NoError(t, err)

	store, err := storage.NewBoltStore(cfg.StateDBPath())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	hub := events.NewHub()
	hub.Start()
	t.Cleanup(hub.Stop)

	provider := newFakeProvider()
	engine := backup.NewEngine(cfg.BackupsDir(), cfg.ServersDir(), cfg.MaxBackupsPerType)

	mgr, err := NewManager(&Config{
		Settings:  cfg,
		Templates: registry,
		Providers: map[types.ExecutionMode]runtime.Provider{types.ModeContainer: provider},
		Backups:   engine,
		Store:     store,
		Events:    hub,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(context.Background()))
	t.Cleanup(func() { _ = mgr.Close() })

	return &testEnv{
		cfg:      cfg,
		registry: registry,
		engine:   engine,
		store:    store,
		hub:      hub,
		provider: provider,
		manager:  mgr,
	}
}

// importServer seeds a source folder and imports it
func (env *testEnv) importServer(t *testing.T, name string) *types.ServerState {
	t.Helper()

	src := filepath.Join(env.cfg.ImportDir, "drop-"+strings.ToLower(name))
	require.NoError(t, fsutil.EnsureDir(src))
	require.NoError(t, os.WriteFile(filepath.Join(src, "server.jar"), []byte("jar-bytes"), 0o644))

	state, err := env.manager.Import(context.Background(), &ImportParams{
		Name:       name,
		TemplateID: "test-game",
		SourcePath: src,
	})
	require.NoError(t, err)
	return state
}

func (env *testEnv) readSidecar(t *testing.T, serverID string) *types.ServerConfig {
	t.Helper()
	var cfg types.ServerConfig
	require.NoError(t, fsutil.ReadYAML(env.cfg.SidecarPath(serverID), &cfg))
	return &cfg
}

func (env *testEnv) backupsByType(t *testing.T, serverID string) map[types.BackupType]int {
	t.Helper()
	records, err := env.engine.List(serverID)
	require.NoError(t, err)
	counts := make(map[types.BackupType]int)
	for _, r := range records {
		counts[r.Type]++
	}
	return counts
}

func nextEvent(t *testing.T, ch <-chan *events.Event) *events.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func expectStatusEvent(t *testing.T, ch <-chan *events.Event, serverID string, status types.Status) *events.Event {
	t.Helper()
	e := nextEvent(t, ch)
	require.Equal(t, events.EventServerStatus, e.Type)
	require.Equal(t, serverID, e.ServerID)
	require.Equal(t, status, e.Status)
	return e
}

func intPtr(n int) *int         { return &n }
func strPtr(s string) *string   { return &s }
func f64Ptr(f float64) *float64 { return &f }

func TestImportCreatesServer(t *testing.T) {
	env := newTestEnv(t)

	subID, ch := env.hub.Subscribe()
	defer env.hub.Unsubscribe(subID)
	env.hub.SetAll(subID, true)

	state := env.importServer(t, "My World")
	id := state.Config.ID

	assert.True(t, strings.HasPrefix(id, "my-world-"), "id %q should carry the slug prefix", id)
	assert.Len(t, id, len("my-world-")+10)
	assert.Equal(t, types.StatusStopped, state.Status)
	assert.Equal(t, types.UpdateStageNone, state.Config.UpdateStage)

	// Ports synthesised from the template, host == container
	require.Len(t, state.Config.Ports, 1)
	assert.Equal(t, 25565, state.Config.Ports[0].HostPort)
	assert.Equal(t, 25565, state.Config.Ports[0].ContainerPort)

	// Template env defaults are baked into the config
	assert.Equal(t, "true", state.Config.Env["EULA"])

	// Files copied and sidecar persisted
	assert.True(t, fsutil.Exists(filepath.Join(env.cfg.ServerDir(id), "server.jar")))
	sidecar := env.readSidecar(t, id)
	assert.Equal(t, id, sidecar.ID)
	assert.Equal(t, "My World", sidecar.Name)

	e := nextEvent(t, ch)
	assert.Equal(t, events.EventServerUpdate, e.Type)
	assert.Equal(t, types.ActionCreated, e.Action)
	assert.Equal(t, id, e.ServerID)
}

func TestImportValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	src := filepath.Join(env.cfg.ImportDir, "incomplete")
	require.NoError(t, fsutil.EnsureDir(src))

	cases := []struct {
		name   string
		params ImportParams
	}{
		{"missing name", ImportParams{TemplateID: "test-game", SourcePath: src}},
		{"unknown template", ImportParams{Name: "x", TemplateID: "nope", SourcePath: src}},
		{"missing source", ImportParams{Name: "x", TemplateID: "test-game", SourcePath: filepath.Join(src, "absent")}},
		{"missing required file", ImportParams{Name: "x", TemplateID: "test-game", SourcePath: src}},
		{"bad port", ImportParams{Name: "x", TemplateID: "test-game", SourcePath: src,
			Ports: []types.PortMapping{{HostPort: 70000, ContainerPort: 25565, Protocol: "tcp"}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if tc.name == "bad port" {
				require.NoError(t, os.WriteFile(filepath.Join(src, "server.jar"), []byte("jar"), 0o644))
				defer os.Remove(filepath.Join(src, "server.jar"))
			}
			_, err := env.manager.Import(ctx, &tc.params)
			assert.True(t, errdefs.IsValidation(err), "expected validation error, got %v", err)
		})
	}
}

func TestStartStopLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.importServer(t, "alpha")
	id := state.Config.ID

	subID, ch := env.hub.Subscribe()
	defer env.hub.Unsubscribe(subID)
	env.hub.SetAll(subID, true)

	require.NoError(t, env.manager.Start(ctx, id))

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	require.NotNil(t, got.StartedAt)

	expectStatusEvent(t, ch, id, types.StatusStarting)
	running := expectStatusEvent(t, ch, id, types.StatusRunning)
	assert.NotNil(t, running.StartedAt)

	require.NoError(t, env.manager.Stop(ctx, id))

	got, err = env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Nil(t, got.StartedAt)

	expectStatusEvent(t, ch, id, types.StatusStopping)
	stopped := expectStatusEvent(t, ch, id, types.StatusStopped)
	assert.Nil(t, stopped.StartedAt)

	// Exactly one auto backup from the stop
	assert.Equal(t, map[types.BackupType]int{types.BackupAuto: 1}, env.backupsByType(t, id))

	// The template's one second stop timeout reached the backend
	require.Len(t, env.provider.timeouts, 1)
	assert.Equal(t, time.Second, env.provider.timeouts[0])
}

func TestStartRejectsWrongStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	require.NoError(t, env.manager.Start(ctx, id))
	err := env.manager.Start(ctx, id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)

	_, err = env.manager.Get("missing")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestStopRejectsWhenNotRunning(t *testing.T) {
	env := newTestEnv(t)
	id := env.importServer(t, "alpha").Config.ID

	err := env.manager.Stop(context.Background(), id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestAutoBackupFailureAbortsStop(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	require.NoError(t, env.manager.Start(ctx, id))

	// Removing the data directory makes the backup precondition fail
	require.NoError(t, os.RemoveAll(env.cfg.ServerDir(id)))

	err := env.manager.Stop(ctx, id)
	require.Error(t, err)

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, got.Status)

	// The backend was never asked to stop
	assert.Equal(t, 0, env.provider.stopCount(id))
}

func TestCrashAndAcknowledge(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	require.NoError(t, env.manager.Start(ctx, id))

	subID, ch := env.hub.Subscribe()
	defer env.hub.Unsubscribe(subID)
	env.hub.SetAll(subID, true)

	env.provider.fireExit(id, intPtr(137))

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, got.Status)
	assert.Nil(t, got.StartedAt)
	expectStatusEvent(t, ch, id, types.StatusError)

	// The crashed artifact is kept for inspection until acknowledged
	assert.Empty(t, env.provider.removes)

	require.NoError(t, env.manager.AcknowledgeCrash(ctx, id))

	got, err = env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Equal(t, []string{id}, env.provider.removes)
	expectStatusEvent(t, ch, id, types.StatusStopped)
}

func TestAcknowledgeCrashOnlyFromError(t *testing.T) {
	env := newTestEnv(t)
	id := env.importServer(t, "alpha").Config.ID

	err := env.manager.AcknowledgeCrash(context.Background(), id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestExitWhileStoppingIsIgnored(t *testing.T) {
	env := newTestEnv(t)
	id := env.importServer(t, "alpha").Config.ID

	entry, err := env.manager.entry(id)
	require.NoError(t, err)
	entry.state.Status = types.StatusStopping

	env.provider.fireExit(id, intPtr(0))

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopping, got.Status)
}

func TestUpdateFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	state := env.importServer(t, "alpha")
	id := state.Config.ID
	src := state.Config.SourcePath

	require.NoError(t, env.manager.Start(ctx, id))

	subID, ch := env.hub.Subscribe()
	defer env.hub.Unsubscribe(subID)
	env.hub.SetAll(subID, true)

	result, err := env.manager.InitiateUpdate(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, src, result.SourcePath)
	assert.True(t, fsutil.Exists(result.BackupPath), "pre-update backup archive should exist")

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusUpdating, got.Status)
	require.NotNil(t, got.PreUpdateBackup)
	assert.True(t, got.PreUpdateBackup.Equal(result.BackupTimestamp))
	assert.Equal(t, types.UpdateStageInitiated, env.readSidecar(t, id).UpdateStage)

	// Running server was stopped first, with its own auto backup
	counts := env.backupsByType(t, id)
	assert.Equal(t, 1, counts[types.BackupAuto])
	assert.Equal(t, 1, counts[types.BackupPreUpdate])

	expectStatusEvent(t, ch, id, types.StatusStopping)
	expectStatusEvent(t, ch, id, types.StatusStopped)
	initiated := expectStatusEvent(t, ch, id, types.StatusUpdating)
	assert.Equal(t, types.UpdateStageInitiated, initiated.UpdateStage)

	// Operator drops the new build into the source folder
	require.NoError(t, os.WriteFile(filepath.Join(src, "patch-v2.bin"), []byte("v2"), 0o644))

	before := env.readSidecar(t, id).UpdatedAt
	require.NoError(t, env.manager.ApplyUpdate(ctx, id))

	got, err = env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Nil(t, got.PreUpdateBackup)

	sidecar := env.readSidecar(t, id)
	assert.Equal(t, types.UpdateStageNone, sidecar.UpdateStage)
	assert.True(t, sidecar.UpdatedAt.After(before))

	// New build landed, old files survived the overlay copy
	assert.True(t, fsutil.Exists(filepath.Join(env.cfg.ServerDir(id), "patch-v2.bin")))
	assert.True(t, fsutil.Exists(filepath.Join(env.cfg.ServerDir(id), "server.jar")))

	applying := expectStatusEvent(t, ch, id, types.StatusUpdating)
	assert.Equal(t, types.UpdateStageApplying, applying.UpdateStage)
	expectStatusEvent(t, ch, id, types.StatusStopped)
	membership := nextEvent(t, ch)
	assert.Equal(t, events.EventServerUpdate, membership.Type)
	assert.Equal(t, types.ActionUpdated, membership.Action)
}

func TestInitiateUpdateRejectedWhileInProgress(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	_, err := env.manager.InitiateUpdate(ctx, id)
	require.NoError(t, err)

	_, err = env.manager.InitiateUpdate(ctx, id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestApplyUpdateRequiresInitiation(t *testing.T) {
	env := newTestEnv(t)
	id := env.importServer(t, "alpha").Config.ID

	err := env.manager.ApplyUpdate(context.Background(), id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestApplyUpdateFailureKeepsWindowOpen(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	_, err := env.manager.InitiateUpdate(ctx, id)
	require.NoError(t, err)

	// Source vanishes between initiate and apply
	entry, err := env.manager.entry(id)
	require.NoError(t, err)
	entry.state.Config.SourcePath = filepath.Join(env.cfg.ImportDir, "gone")

	err = env.manager.ApplyUpdate(ctx, id)
	require.Error(t, err)

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusError, got.Status)
	assert.Equal(t, types.UpdateStageInitiated, env.readSidecar(t, id).UpdateStage)
}

func TestCancelUpdateKeepsPreUpdateBackup(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	_, err := env.manager.InitiateUpdate(ctx, id)
	require.NoError(t, err)

	require.NoError(t, env.manager.CancelUpdate(ctx, id))

	got, err := env.manager.Get(id)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)
	assert.Nil(t, got.PreUpdateBackup)
	assert.Equal(t, types.UpdateStageNone, env.readSidecar(t, id).UpdateStage)

	// The safety net stays on disk for a manual restore
	assert.Equal(t, 1, env.backupsByType(t, id)[types.BackupPreUpdate])

	err = env.manager.CancelUpdate(ctx, id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestDeletePreservesBackups(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	record, err := env.manager.CreateBackup(id, "before delete")
	require.NoError(t, err)

	subID, ch := env.hub.Subscribe()
	defer env.hub.Unsubscribe(subID)
	env.hub.SetAll(subID, true)

	require.NoError(t, env.manager.Delete(ctx, id))

	_, err = env.manager.Get(id)
	assert.True(t, errdefs.IsNotFound(err))
	assert.False(t, fsutil.Exists(env.cfg.ServerDir(id)))
	assert.Equal(t, []string{id}, env.provider.removes)

	records, err := env.engine.List(id)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Timestamp.Equal(record.Timestamp))

	e := nextEvent(t, ch)
	assert.Equal(t, events.EventServerUpdate, e.Type)
	assert.Equal(t, types.ActionDeleted, e.Action)
}

func TestDeleteRejectsRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	require.NoError(t, env.manager.Start(ctx, id))

	err := env.manager.Delete(ctx, id)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestRestoreRollsBackData(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	record, err := env.manager.CreateBackup(id, "clean state")
	require.NoError(t, err)

	// Data drifts after the backup
	junk := filepath.Join(env.cfg.ServerDir(id), "corrupted.dat")
	require.NoError(t, os.WriteFile(junk, []byte("junk"), 0o644))

	result, err := env.manager.Restore(ctx, id, record.Timestamp)
	require.NoError(t, err)
	assert.True(t, result.RestoredFrom.Equal(record.Timestamp))
	require.NotNil(t, result.PreRestore)

	assert.False(t, fsutil.Exists(junk), "restored tree should not contain drifted files")
	assert.True(t, fsutil.Exists(filepath.Join(env.cfg.ServerDir(id), "server.jar")))

	// The live configuration survives the rollback
	sidecar := env.readSidecar(t, id)
	assert.Equal(t, id, sidecar.ID)

	counts := env.backupsByType(t, id)
	assert.Equal(t, 1, counts[types.BackupManual])
	assert.Equal(t, 1, counts[types.BackupPreRestore])
}

func TestRestoreRejectedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	record, err := env.manager.CreateBackup(id, "clean state")
	require.NoError(t, err)

	require.NoError(t, env.manager.Start(ctx, id))

	_, err = env.manager.Restore(ctx, id, record.Timestamp)
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestManualBackupRejectedWhileRunning(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	require.NoError(t, env.manager.Start(ctx, id))

	_, err := env.manager.CreateBackup(id, "nope")
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestUpdateConfigPatch(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	id := env.importServer(t, "alpha").Config.ID

	state, err := env.manager.UpdateConfig(ctx, id, &UpdateParams{
		Name:   strPtr("Renamed"),
		Memory: strPtr("2g"),
		CPUs:   f64Ptr(1.5),
	})
	require.NoError(t, err)
	assert.Equal(t, "Renamed", state.Config.Name)
	assert.Equal(t, "2g", state.Config.Memory)

	sidecar := env.readSidecar(t, id)
	assert.Equal(t, "Renamed", sidecar.Name)
	assert.Equal(t, 1.5, sidecar.CPUs)

	_, err = env.manager.UpdateConfig(ctx, id, &UpdateParams{Memory: strPtr("lots")})
	assert.True(t, errdefs.IsValidation(err), "expected validation error, got %v", err)

	_, err = env.manager.UpdateConfig(ctx, id, &UpdateParams{CPUs: f64Ptr(-1)})
	assert.True(t, errdefs.IsValidation(err), "expected validation error, got %v", err)

	require.NoError(t, env.manager.Start(ctx, id))
	_, err = env.manager.UpdateConfig(ctx, id, &UpdateParams{Name: strPtr("x")})
	assert.True(t, errdefs.IsState(err), "expected state error, got %v", err)
}

func TestSetServerOrder(t *testing.T) {
	env := newTestEnv(t)
	a := env.importServer(t, "aardvark").Config.ID
	b := env.importServer(t, "zebra").Config.ID

	// Without a saved order the list is alphabetical
	list := env.manager.List()
	require.Len(t, list, 2)
	assert.Equal(t, a, list[0].Config.ID)

	require.NoError(t, env.manager.SetServerOrder([]string{b, a}))

	list = env.manager.List()
	assert.Equal(t, b, list[0].Config.ID)
	assert.Equal(t, a, list[1].Config.ID)

	err := env.manager.SetServerOrder([]string{b, "phantom"})
	assert.True(t, errdefs.IsValidation(err), "expected validation error, got %v", err)
}

func TestMaintenanceSweep(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	flagged := env.importServer(t, "flagged").Config.ID
	_, err := env.manager.UpdateConfig(ctx, flagged, &UpdateParams{RestartAfterMaintenance: boolPtr(true)})
	require.NoError(t, err)
	plain := env.importServer(t, "plain").Config.ID
	parked := env.importServer(t, "parked").Config.ID

	require.NoError(t, env.manager.Start(ctx, flagged))
	require.NoError(t, env.manager.Start(ctx, plain))

	env.manager.MaintenanceSweep(ctx)

	got, err := env.manager.Get(flagged)
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)

	got, err = env.manager.Get(plain)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)

	got, err = env.manager.Get(parked)
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)

	// One auto backup per swept server, none for the parked one
	assert.Equal(t, 1, env.backupsByType(t, flagged)[types.BackupAuto])
	assert.Equal(t, 1, env.backupsByType(t, plain)[types.BackupAuto])
	assert.Empty(t, env.backupsByType(t, parked))
}

func TestStartupReconciliation(t *testing.T) {
	env := newTestEnv(t)

	seed := func(id string, stage types.UpdateStage) {
		require.NoError(t, fsutil.EnsureDir(env.cfg.ServerDir(id)))
		now := time.Now().UTC()
		require.NoError(t, fsutil.WriteYAML(env.cfg.SidecarPath(id), &types.ServerConfig{
			ID:          id,
			Name:        id,
			TemplateID:  "test-game",
			CreatedAt:   now,
			UpdatedAt:   now,
			UpdateStage: stage,
		}))
	}
	seed("alpha-1111111111", types.UpdateStageNone)
	seed("beta-2222222222", types.UpdateStageInitiated)
	seed("gamma-3333333333", types.UpdateStageNone)

	// A sidecar whose id disagrees with its directory is skipped
	require.NoError(t, fsutil.EnsureDir(env.cfg.ServerDir("stray-4444444444")))
	require.NoError(t, fsutil.WriteYAML(env.cfg.SidecarPath("stray-4444444444"), &types.ServerConfig{
		ID:         "something-else",
		Name:       "stray",
		TemplateID: "test-game",
	}))

	provider := newFakeProvider()
	provider.running["alpha-1111111111"] = true

	mgr, err := NewManager(&Config{
		Settings:  env.cfg,
		Templates: env.registry,
		Providers: map[types.ExecutionMode]runtime.Provider{types.ModeContainer: provider},
		Backups:   env.engine,
		Store:     env.store,
		Events:    env.hub,
	})
	require.NoError(t, err)
	require.NoError(t, mgr.Initialize(context.Background()))
	defer mgr.Close()

	got, err := mgr.Get("alpha-1111111111")
	require.NoError(t, err)
	assert.Equal(t, types.StatusRunning, got.Status)
	assert.NotNil(t, got.StartedAt)

	got, err = mgr.Get("beta-2222222222")
	require.NoError(t, err)
	assert.Equal(t, types.StatusUpdating, got.Status)

	got, err = mgr.Get("gamma-3333333333")
	require.NoError(t, err)
	assert.Equal(t, types.StatusStopped, got.Status)

	_, err = mgr.Get("stray-4444444444")
	assert.True(t, errdefs.IsNotFound(err))
	_, err = mgr.Get("something-else")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"My World":        "my-world",
		"  Va!!lheim  #3": "va-lheim-3",
		"---":             "server",
		"UPPER":           "upper",
	}
	for in, want := range cases {
		assert.Equal(t, want, slugify(in), "slugify(%q)", in)
	}
}

func boolPtr(b bool) *bool { return &b }
