package runtime

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	goruntime "runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v4/process"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/rcon"
	"github.com/Lmdudester/Garcon/pkg/types"
)

const (
	// stopPollInterval paces liveness checks while waiting for exit
	stopPollInterval = 500 * time.Millisecond

	// releaseTimeout bounds the wait after a kill before giving up
	releaseTimeout = 10 * time.Second

	// adoptPollInterval is the liveness cadence for processes adopted
	// after a daemon restart, where no wait handle exists
	adoptPollInterval = 10 * time.Second
)

// processRecord is the persisted shape of a tracked native process.
// Records survive daemon restarts via native-processes.json.
type processRecord struct {
	ServerID    string    `json:"serverId"`
	PID         int       `json:"pid"`
	ProcessName string    `json:"processName"`
	StartedAt   time.Time `json:"startedAt"`
	HasHandle   bool      `json:"hasHandle"`
}

// processInspector abstracts OS process probing so tests can fake it
type processInspector interface {
	Alive(pid int) (bool, error)
	Name(pid int) (string, error)
	Children(pid int) ([]int, error)
	Kill(pid int) error
}

// gopsutilInspector probes real processes
type gopsutilInspector struct{}

func (gopsutilInspector) Alive(pid int) (bool, error) {
	return process.PidExists(int32(pid))
}

func (gopsutilInspector) Name(pid int) (string, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return "", err
	}
	return p.Name()
}

func (gopsutilInspector) Children(pid int) ([]int, error) {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	kids, err := p.Children()
	if err != nil {
		if errors.Is(err, process.ErrorNoChildren) {
			return nil, nil
		}
		return nil, err
	}
	pids := make([]int, 0, len(kids))
	for _, kid := range kids {
		pids = append(pids, int(kid.Pid))
	}
	return pids, nil
}

func (gopsutilInspector) Kill(pid int) error {
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil
	}
	return p.Kill()
}

// NativeBackend runs game servers as direct OS processes. Built for
// Windows-only titles like V Rising whose dedicated servers have no
// usable container image.
type NativeBackend struct {
	serversDir string
	logsDir    string
	recordPath string

	goos      string
	inspector processInspector
	logger    zerolog.Logger
	notifier  exitNotifier

	stopPoll  time.Duration
	release   time.Duration
	adoptPoll time.Duration

	mu      sync.Mutex
	records map[string]*processRecord
	cmds    map[string]*exec.Cmd

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewNativeBackend tracks processes under recordPath, writes process
// output under logsDir, and resolves executables under serversDir
func NewNativeBackend(serversDir, logsDir, recordPath string) *NativeBackend {
	return &NativeBackend{
		serversDir: serversDir,
		logsDir:    logsDir,
		recordPath: recordPath,
		goos:       goruntime.GOOS,
		inspector:  gopsutilInspector{},
		logger:     log.WithComponent("native"),
		stopPoll:   stopPollInterval,
		release:    releaseTimeout,
		adoptPoll:  adoptPollInterval,
		records:    make(map[string]*processRecord),
		cmds:       make(map[string]*exec.Cmd),
		stopCh:     make(chan struct{}),
	}
}

// Close stops adoption watchers. Running game servers are left alone.
func (n *NativeBackend) Close() error {
	n.stopOnce.Do(func() { close(n.stopCh) })
	return nil
}

// CheckAvailability rejects non-Windows hosts
func (n *NativeBackend) CheckAvailability(ctx context.Context) error {
	if n.goos != "windows" {
		return errdefs.NativeProcess(nil, fmt.Sprintf("native execution requires windows, running on %s", n.goos))
	}
	return nil
}

// StartEventMonitoring is satisfied by the per-process wait and watch
// goroutines; there is no shared stream to open
func (n *NativeBackend) StartEventMonitoring(ctx context.Context) error {
	return nil
}

// OnProcessExit registers a callback for process exits
func (n *NativeBackend) OnProcessExit(cb ExitCallback) func() {
	return n.notifier.subscribe(cb)
}

// Start launches the template's executable inside dataPath, appending
// output to the server's log file
func (n *NativeBackend) Start(ctx context.Context, cfg *types.ServerConfig, tpl *types.Template, dataPath string) (string, error) {
	exe := tpl.Execution.Executable
	if exe == "" {
		return "", errdefs.Validation("template %s has no executable", tpl.ID)
	}
	if !filepath.IsAbs(exe) {
		exe = filepath.Join(dataPath, exe)
	}
	if !fsutil.Exists(exe) {
		return "", errdefs.NativeProcess(nil, fmt.Sprintf("executable not found: %s", exe))
	}

	if err := fsutil.EnsureDir(n.logsDir); err != nil {
		return "", err
	}
	logPath := filepath.Join(n.logsDir, cfg.ID+".log")
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return "", errdefs.FileSystem(err, fmt.Sprintf("failed to open server log %s", logPath))
	}

	cmd := exec.Command(exe, tpl.Execution.Args...)
	cmd.Dir = dataPath
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Env = append(os.Environ(), sortedEnv(cfg.Env)...)

	if err := cmd.Start(); err != nil {
		logFile.Close()
		return "", errdefs.NativeProcess(err, fmt.Sprintf("failed to start %s", exe))
	}
	if cmd.Process == nil || cmd.Process.Pid <= 0 {
		logFile.Close()
		return "", errdefs.NativeProcess(nil, "process started without a pid")
	}

	record := &processRecord{
		ServerID:    cfg.ID,
		PID:         cmd.Process.Pid,
		ProcessName: filepath.Base(exe),
		StartedAt:   time.Now().UTC(),
		HasHandle:   true,
	}

	n.mu.Lock()
	n.records[cfg.ID] = record
	n.cmds[cfg.ID] = cmd
	err = n.persistLocked()
	n.mu.Unlock()
	if err != nil {
		n.logger.Warn().Err(err).Msg("Failed to persist process records")
	}

	n.logger.Info().
		Str("server_id", cfg.ID).
		Int("pid", record.PID).
		Str("process", record.ProcessName).
		Msg("Native process started")

	go n.wait(cfg.ID, cmd, logFile)
	return strconv.Itoa(record.PID), nil
}

// wait blocks on an owned child and reports its exit
func (n *NativeBackend) wait(serverID string, cmd *exec.Cmd, logFile *os.File) {
	waitErr := cmd.Wait()
	logFile.Close()

	var exitCode *int
	if cmd.ProcessState != nil {
		code := cmd.ProcessState.ExitCode()
		exitCode = &code
	}

	n.mu.Lock()
	delete(n.records, serverID)
	delete(n.cmds, serverID)
	persistErr := n.persistLocked()
	n.mu.Unlock()
	if persistErr != nil {
		n.logger.Warn().Err(persistErr).Msg("Failed to persist process records")
	}

	event := n.logger.Info().Str("server_id", serverID)
	if exitCode != nil {
		event = event.Int("exit_code", *exitCode)
	}
	if waitErr != nil {
		event = event.AnErr("wait_error", waitErr)
	}
	event.Msg("Native process exited")

	n.notifier.fire(serverID, exitCode)
}

// Stop ends the server's process: RCON graceful shutdown when the
// template supports it, then a process-tree kill, then a bounded wait
// for the OS to release the process
func (n *NativeBackend) Stop(ctx context.Context, serverID string, tpl *types.Template, timeout time.Duration) error {
	n.mu.Lock()
	record, ok := n.records[serverID]
	n.mu.Unlock()
	if !ok {
		return nil
	}
	pid := record.PID

	if rc := tpl.Execution.RCON; rc != nil && rc.Enabled && rc.ShutdownCommand != "" {
		if n.gracefulStop(serverID, rc, timeout) {
			return n.forget(serverID)
		}
	}

	n.logger.Info().Str("server_id", serverID).Int("pid", pid).Msg("Killing native process tree")
	n.killTree(pid)

	if !n.waitDead(pid, n.release) {
		return errdefs.NativeProcess(nil, fmt.Sprintf("process %d did not exit after kill", pid))
	}
	return n.forget(serverID)
}

// gracefulStop issues the template's RCON shutdown command and waits
// for the process to die. Credentials come from the template, overlaid
// by the server's own settings file when one is declared (V Rising
// keeps the live RCON password in ServerHostSettings.json).
func (n *NativeBackend) gracefulStop(serverID string, rc *types.RCONConfig, timeout time.Duration) bool {
	port, password := n.rconCredentials(serverID, rc)

	client, err := rcon.Dial("127.0.0.1:"+strconv.Itoa(port), password)
	if err != nil {
		n.logger.Warn().Err(err).Str("server_id", serverID).Msg("RCON shutdown unavailable, will kill")
		return false
	}
	defer client.Close()

	if _, err := client.Execute(rc.ShutdownCommand); err != nil {
		n.logger.Warn().Err(err).Str("server_id", serverID).Msg("RCON shutdown command failed, will kill")
		return false
	}

	n.mu.Lock()
	record, ok := n.records[serverID]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.waitDead(record.PID, timeout) {
		n.logger.Info().Str("server_id", serverID).Msg("Native process stopped via RCON")
		return true
	}
	n.logger.Warn().Str("server_id", serverID).Dur("timeout", timeout).Msg("RCON shutdown timed out, will kill")
	return false
}

// rconCredentials resolves the port and password, preferring the
// server's settings file over template defaults
func (n *NativeBackend) rconCredentials(serverID string, rc *types.RCONConfig) (int, string) {
	port, password := rc.Port, rc.Password
	if rc.SettingsFile == "" {
		return port, password
	}

	path := filepath.Join(n.serversDir, serverID, rc.SettingsFile)
	var settings struct {
		Rcon struct {
			Port     int    `json:"Port"`
			Password string `json:"Password"`
		} `json:"Rcon"`
	}
	if err := fsutil.ReadJSON(path, &settings); err != nil {
		n.logger.Warn().Err(err).Str("server_id", serverID).Msg("Failed to read RCON settings file, using template values")
		return port, password
	}
	if settings.Rcon.Port != 0 {
		port = settings.Rcon.Port
	}
	if settings.Rcon.Password != "" {
		password = settings.Rcon.Password
	}
	return port, password
}

// killTree kills descendants depth-first, then pid itself
func (n *NativeBackend) killTree(pid int) {
	children, err := n.inspector.Children(pid)
	if err == nil {
		for _, child := range children {
			n.killTree(child)
		}
	}
	if err := n.inspector.Kill(pid); err != nil {
		n.logger.Warn().Err(err).Int("pid", pid).Msg("Kill failed")
	}
}

// waitDead polls until the pid is gone or the deadline passes
func (n *NativeBackend) waitDead(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		alive, err := n.inspector.Alive(pid)
		if err != nil || !alive {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-n.stopCh:
			return false
		case <-time.After(n.stopPoll):
		}
	}
}

// forget drops the server's record after a deliberate stop
func (n *NativeBackend) forget(serverID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.records, serverID)
	delete(n.cmds, serverID)
	return n.persistLocked()
}

// Remove kills any survivor and drops the record
func (n *NativeBackend) Remove(ctx context.Context, serverID string) error {
	n.mu.Lock()
	record, ok := n.records[serverID]
	n.mu.Unlock()
	if !ok {
		return nil
	}

	if alive, _ := n.inspector.Alive(record.PID); alive {
		n.killTree(record.PID)
	}
	return n.forget(serverID)
}

// GetProcessStatus reports liveness for the tracked pid. A native
// process has no stopped-but-present artifact, so Exists tracks
// Running.
func (n *NativeBackend) GetProcessStatus(ctx context.Context, serverID string) (*ProcessStatus, error) {
	n.mu.Lock()
	record, ok := n.records[serverID]
	n.mu.Unlock()
	if !ok {
		return &ProcessStatus{}, nil
	}

	alive, err := n.inspector.Alive(record.PID)
	if err != nil {
		return nil, errdefs.NativeProcess(err, fmt.Sprintf("failed to probe pid %d", record.PID))
	}
	if !alive {
		return &ProcessStatus{}, nil
	}
	return &ProcessStatus{Exists: true, Running: true, Ref: strconv.Itoa(record.PID)}, nil
}

// Reconcile re-adopts processes recorded by a previous daemon run.
// Dead pids are dropped. A live pid whose process name no longer
// matches the record was reused by something else; it is dropped with
// a warning and the server is reported stopped, never killed.
func (n *NativeBackend) Reconcile(ctx context.Context) error {
	var records []processRecord
	if fsutil.Exists(n.recordPath) {
		if err := fsutil.ReadJSON(n.recordPath, &records); err != nil {
			return err
		}
	}

	adopted := 0
	for i := range records {
		record := records[i]

		alive, err := n.inspector.Alive(record.PID)
		if err != nil || !alive {
			n.logger.Debug().
				Str("server_id", record.ServerID).
				Int("pid", record.PID).
				Msg("Recorded process no longer running")
			continue
		}

		name, err := n.inspector.Name(record.PID)
		if err != nil || name != record.ProcessName {
			n.logger.Warn().
				Str("server_id", record.ServerID).
				Int("pid", record.PID).
				Str("expected", record.ProcessName).
				Str("found", name).
				Msg("PID reused by a different process, dropping record")
			continue
		}

		record.HasHandle = false
		n.mu.Lock()
		n.records[record.ServerID] = &record
		n.mu.Unlock()
		go n.watch(record.ServerID, record.PID)
		adopted++
	}

	n.mu.Lock()
	err := n.persistLocked()
	n.mu.Unlock()
	if err != nil {
		return err
	}

	n.logger.Info().Int("adopted", adopted).Int("recorded", len(records)).Msg("Reconciled native processes")
	return nil
}

// watch polls an adopted pid for exit. Without a wait handle the exit
// code is unknowable, so exits are reported with a nil code.
func (n *NativeBackend) watch(serverID string, pid int) {
	ticker := time.NewTicker(n.adoptPoll)
	defer ticker.Stop()

	for {
		select {
		case <-n.stopCh:
			return
		case <-ticker.C:
		}

		n.mu.Lock()
		record, ok := n.records[serverID]
		tracked := ok && record.PID == pid
		n.mu.Unlock()
		if !tracked {
			return
		}

		alive, err := n.inspector.Alive(pid)
		if err != nil || alive {
			continue
		}

		n.mu.Lock()
		delete(n.records, serverID)
		persistErr := n.persistLocked()
		n.mu.Unlock()
		if persistErr != nil {
			n.logger.Warn().Err(persistErr).Msg("Failed to persist process records")
		}

		n.logger.Info().Str("server_id", serverID).Int("pid", pid).Msg("Adopted process exited")
		n.notifier.fire(serverID, nil)
		return
	}
}

// persistLocked writes all records to disk; callers hold n.mu
func (n *NativeBackend) persistLocked() error {
	records := make([]processRecord, 0, len(n.records))
	for _, record := range n.records {
		records = append(records, *record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].ServerID < records[j].ServerID })
	return fsutil.WriteJSON(n.recordPath, records)
}

func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}
