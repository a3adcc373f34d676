package backup

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/types"
)

func newTestEngine(t *testing.T, maxPerType int) *Engine {
	t.Helper()
	dir := t.TempDir()
	return NewEngine(filepath.Join(dir, "backups"), filepath.Join(dir, "servers"), maxPerType)
}

func seedServer(t *testing.T, e *Engine, serverID string, files map[string]string) {
	t.Helper()
	dataDir := filepath.Join(e.serversDir, serverID)
	for name, content := range files {
		path := filepath.Join(dataDir, name)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	}
}

// stepClock hands out strictly increasing timestamps so consecutive
// backups never collide on filename
func stepClock(e *Engine) func(int) time.Time {
	base := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	step := 0
	e.now = func() time.Time {
		step++
		return base.Add(time.Duration(step) * time.Minute)
	}
	return func(n int) time.Time {
		return base.Add(time.Duration(n) * time.Minute)
	}
}

func TestFilenameRoundTrip(t *testing.T) {
	ts, err := time.Parse(time.RFC3339Nano, "2026-03-14T09:26:53.589Z")
	require.NoError(t, err)

	name := filename(ts, types.BackupManual)
	assert.Equal(t, "backup-2026-03-14T09-26-53-589Z-manual.tar.gz", name)

	parsed, backupType, ok := parseFilename(name)
	require.True(t, ok)
	assert.True(t, parsed.Equal(ts))
	assert.Equal(t, types.BackupManual, backupType)
}

func TestParseFilenameRejectsForeignFiles(t *testing.T) {
	tests := []struct {
		name     string
		filename string
	}{
		{"not a backup", "notes.txt"},
		{"mangled timestamp", "backup-garbage-manual.tar.gz"},
		{"unknown type", "backup-2026-03-14T09-26-53-589Z-weekly.tar.gz"},
		{"missing millis", "backup-2026-03-14T09-26-53-manual.tar.gz"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, ok := parseFilename(tt.filename)
			assert.False(t, ok)
		})
	}
}

func TestCreateAndList(t *testing.T) {
	e := newTestEngine(t, 5)
	stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{
		"server.properties": "motd=hi",
		"world/level.dat":   "chunks",
	})

	manual, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "before mods")
	require.NoError(t, err)
	assert.Equal(t, "before mods", manual.Description)
	assert.Greater(t, manual.SizeBytes, int64(0))

	auto, err := e.Create("alpha-1a2b3c4d5e", types.BackupAuto, "")
	require.NoError(t, err)

	records, err := e.List("alpha-1a2b3c4d5e")
	require.NoError(t, err)
	require.Len(t, records, 2)

	// Newest first
	assert.Equal(t, auto.Filename, records[0].Filename)
	assert.Equal(t, types.BackupAuto, records[0].Type)
	assert.Equal(t, manual.Filename, records[1].Filename)
	assert.Equal(t, types.BackupManual, records[1].Type)
}

func TestListIgnoresForeignFiles(t *testing.T) {
	e := newTestEngine(t, 5)
	stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{"a.txt": "x"})

	_, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "")
	require.NoError(t, err)

	dir := filepath.Join(e.backupsDir, "alpha-1a2b3c4d5e")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.tar.gz"), []byte("x"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0644))

	records, err := e.List("alpha-1a2b3c4d5e")
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestListWithoutBackupsIsEmpty(t *testing.T) {
	e := newTestEngine(t, 5)
	records, err := e.List("never-backed-up")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRetentionKeepsNewestPerType(t *testing.T) {
	e := newTestEngine(t, 3)
	at := stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{"a.txt": "x"})

	// One auto backup first; it must survive manual pruning untouched
	_, err := e.Create("alpha-1a2b3c4d5e", types.BackupAuto, "")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "")
		require.NoError(t, err)
	}

	records, err := e.List("alpha-1a2b3c4d5e")
	require.NoError(t, err)

	var manualTimes []time.Time
	autoCount := 0
	for _, record := range records {
		switch record.Type {
		case types.BackupManual:
			manualTimes = append(manualTimes, record.Timestamp)
		case types.BackupAuto:
			autoCount++
		}
	}

	require.Len(t, manualTimes, 3, "only the newest three manual backups survive")
	assert.True(t, manualTimes[0].Equal(at(6)))
	assert.True(t, manualTimes[1].Equal(at(5)))
	assert.True(t, manualTimes[2].Equal(at(4)))
	assert.Equal(t, 1, autoCount)
}

func TestDelete(t *testing.T) {
	e := newTestEngine(t, 5)
	stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{"a.txt": "x"})

	record, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "")
	require.NoError(t, err)

	require.NoError(t, e.Delete("alpha-1a2b3c4d5e", record.Timestamp))

	records, err := e.List("alpha-1a2b3c4d5e")
	require.NoError(t, err)
	assert.Empty(t, records)

	err = e.Delete("alpha-1a2b3c4d5e", record.Timestamp)
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDeleteAll(t *testing.T) {
	e := newTestEngine(t, 5)
	stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{"a.txt": "x"})

	_, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "")
	require.NoError(t, err)
	_, err = e.Create("alpha-1a2b3c4d5e", types.BackupAuto, "")
	require.NoError(t, err)

	require.NoError(t, e.DeleteAll("alpha-1a2b3c4d5e"))

	records, err := e.List("alpha-1a2b3c4d5e")
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRestoreReplacesDataDir(t *testing.T) {
	e := newTestEngine(t, 5)
	stepClock(e)
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{"world/level.dat": "v1"})

	snapshot, err := e.Create("alpha-1a2b3c4d5e", types.BackupManual, "")
	require.NoError(t, err)

	// Mutate the live data after the snapshot
	seedServer(t, e, "alpha-1a2b3c4d5e", map[string]string{
		"world/level.dat": "v2",
		"extra.txt":       "added later",
	})

	result, err := e.Restore("alpha-1a2b3c4d5e", snapshot.Timestamp)
	require.NoError(t, err)
	assert.True(t, result.RestoredFrom.Equal(snapshot.Timestamp))
	require.NotNil(t, result.PreRestore)
	assert.Equal(t, types.BackupPreRestore, result.PreRestore.Type)

	dataDir := filepath.Join(e.serversDir, "alpha-1a2b3c4d5e")
	level, err := os.ReadFile(filepath.Join(dataDir, "world", "level.dat"))
	require.NoError(t, err)
	assert.Equal(t, "v1", string(level))
	assert.NoFileExists(t, filepath.Join(dataDir, "extra.txt"))

	// The pre-restore backup preserved the replaced state
	_, err = e.Restore("alpha-1a2b3c4d5e", result.PreRestore.Timestamp)
	require.NoError(t, err)
	level, err = os.ReadFile(filepath.Join(dataDir, "world", "level.dat"))
	require.NoError(t, err)
	assert.Equal(t, "v2", string(level))
	assert.FileExists(t, filepath.Join(dataDir, "extra.txt"))
}

func TestCreateMissingServer(t *testing.T) {
	e := newTestEngine(t, 5)
	_, err := e.Create("ghost-0000000000", types.BackupManual, "")
	assert.True(t, errdefs.IsNotFound(err))
}
