package backup

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/moby/go-archive"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/fsutil"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/metrics"
	"github.com/Lmdudester/Garcon/pkg/types"
)

// timestampLayout renders UTC instants with millisecond precision,
// matching the wire format used across the API
const timestampLayout = "2006-01-02T15:04:05.000Z"

var (
	// filenameRe splits a backup filename into its sanitised
	// timestamp and type
	filenameRe = regexp.MustCompile(`^backup-(.+)-(manual|auto|pre-update|pre-restore)\.tar\.gz$`)

	// sanitisedTimestampRe validates and regroups a sanitised
	// timestamp so the original instant can be reconstructed
	sanitisedTimestampRe = regexp.MustCompile(`^(\d{4}-\d{2}-\d{2}T\d{2})-(\d{2})-(\d{2})-(\d{3}Z)$`)

	timestampSanitiser = strings.NewReplacer(":", "-", ".", "-")
)

// RestoreResult reports what a restore did
type RestoreResult struct {
	// RestoredFrom is the timestamp of the applied backup
	RestoredFrom time.Time

	// PreRestore is the safety backup taken before the data
	// directory was replaced
	PreRestore *types.BackupRecord
}

// Engine creates, lists, restores, and prunes per-server backup
// archives. Archives are plain tar.gz files; the filename is the only
// metadata, so the backup directory can be copied or inspected with
// ordinary tools.
type Engine struct {
	backupsDir string
	serversDir string
	maxPerType int
	logger     zerolog.Logger
	now        func() time.Time
}

// NewEngine stores archives under backupsDir/<server-id>/ for data
// directories under serversDir. maxPerType caps retained backups per
// backup type.
func NewEngine(backupsDir, serversDir string, maxPerType int) *Engine {
	return &Engine{
		backupsDir: backupsDir,
		serversDir: serversDir,
		maxPerType: maxPerType,
		logger:     log.WithComponent("backup"),
		now:        time.Now,
	}
}

// Create archives the server's data directory. The archive is written
// to a temp file first so a crash mid-write never leaves a plausible
// but truncated backup behind. Older backups of the same type beyond
// the retention cap are pruned best-effort.
func (e *Engine) Create(serverID string, backupType types.BackupType, description string) (*types.BackupRecord, error) {
	dataDir := filepath.Join(e.serversDir, serverID)
	if !fsutil.IsDir(dataDir) {
		return nil, errdefs.NotFound("server data directory not found for %s", serverID)
	}

	dir := filepath.Join(e.backupsDir, serverID)
	if err := fsutil.EnsureDir(dir); err != nil {
		return nil, err
	}

	timestamp := e.now().UTC().Truncate(time.Millisecond)
	name := filename(timestamp, backupType)
	finalPath := filepath.Join(dir, name)

	reader, err := archive.Tar(dataDir, archive.Gzip)
	if err != nil {
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to archive %s", dataDir))
	}
	defer reader.Close()

	tmp, err := os.CreateTemp(dir, ".backup-*.tmp")
	if err != nil {
		return nil, errdefs.FileSystem(err, "failed to create backup temp file")
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, reader); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to write backup for %s", serverID))
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to write backup for %s", serverID))
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to finalise backup for %s", serverID))
	}

	size, err := fsutil.FileSize(finalPath)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("server_id", serverID).
		Str("type", string(backupType)).
		Str("filename", name).
		Int64("size_bytes", size).
		Msg("Backup created")

	metrics.RecordBackup(string(backupType))
	e.prune(serverID, backupType)

	return &types.BackupRecord{
		ServerID:    serverID,
		Timestamp:   timestamp,
		Type:        backupType,
		SizeBytes:   size,
		Description: description,
		Filename:    name,
		Path:        finalPath,
	}, nil
}

// List returns the server's backups, newest first. Files that do not
// parse as backup archives are ignored. A server with no backup
// directory has no backups.
func (e *Engine) List(serverID string) ([]types.BackupRecord, error) {
	dir := filepath.Join(e.backupsDir, serverID)
	names, err := fsutil.ListDir(dir, ".gz")
	if err != nil {
		return nil, err
	}

	records := make([]types.BackupRecord, 0, len(names))
	for _, name := range names {
		timestamp, backupType, ok := parseFilename(name)
		if !ok {
			continue
		}
		path := filepath.Join(dir, name)
		size, err := fsutil.FileSize(path)
		if err != nil {
			e.logger.Warn().Err(err).Str("filename", name).Msg("Skipping unreadable backup")
			continue
		}
		records = append(records, types.BackupRecord{
			ServerID:  serverID,
			Timestamp: timestamp,
			Type:      backupType,
			SizeBytes: size,
			Filename:  name,
			Path:      path,
		})
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Timestamp.After(records[j].Timestamp)
	})
	return records, nil
}

// Delete removes the backup with the given timestamp
func (e *Engine) Delete(serverID string, timestamp time.Time) error {
	record, err := e.find(serverID, timestamp)
	if err != nil {
		return err
	}
	if err := os.Remove(record.Path); err != nil {
		return errdefs.FileSystem(err, fmt.Sprintf("failed to delete backup %s", record.Filename))
	}
	e.logger.Info().Str("server_id", serverID).Str("filename", record.Filename).Msg("Backup deleted")
	return nil
}

// DeleteAll removes every backup for the server
func (e *Engine) DeleteAll(serverID string) error {
	return fsutil.RemoveAll(filepath.Join(e.backupsDir, serverID))
}

// Restore replaces the server's data directory with the contents of
// the chosen backup. A pre-restore backup is taken first and is
// retained even when the restore itself fails, so nothing is lost.
func (e *Engine) Restore(serverID string, timestamp time.Time) (*RestoreResult, error) {
	record, err := e.find(serverID, timestamp)
	if err != nil {
		return nil, err
	}

	preRestore, err := e.Create(serverID, types.BackupPreRestore, "before restore of "+timestamp.UTC().Format(timestampLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to create pre-restore backup: %w", err)
	}

	dataDir := filepath.Join(e.serversDir, serverID)
	if err := fsutil.RemoveAll(dataDir); err != nil {
		return nil, err
	}
	if err := fsutil.EnsureDir(dataDir); err != nil {
		return nil, err
	}

	f, err := os.Open(record.Path)
	if err != nil {
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to open backup %s", record.Filename))
	}
	defer f.Close()

	if err := archive.Untar(f, dataDir, &archive.TarOptions{NoLchown: true}); err != nil {
		return nil, errdefs.FileSystem(err, fmt.Sprintf("failed to extract backup %s", record.Filename))
	}

	e.logger.Info().
		Str("server_id", serverID).
		Str("filename", record.Filename).
		Msg("Backup restored")

	return &RestoreResult{RestoredFrom: record.Timestamp, PreRestore: preRestore}, nil
}

// find locates a backup by exact timestamp
func (e *Engine) find(serverID string, timestamp time.Time) (*types.BackupRecord, error) {
	records, err := e.List(serverID)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].Timestamp.Equal(timestamp) {
			return &records[i], nil
		}
	}
	return nil, errdefs.NotFound("backup %s not found for server %s", timestamp.UTC().Format(timestampLayout), serverID)
}

// prune drops the oldest backups of one type beyond the retention
// cap. Failures are logged and never fail the backup that triggered
// the prune.
func (e *Engine) prune(serverID string, backupType types.BackupType) {
	records, err := e.List(serverID)
	if err != nil {
		e.logger.Warn().Err(err).Str("server_id", serverID).Msg("Retention scan failed")
		return
	}

	var typed []types.BackupRecord
	for _, record := range records {
		if record.Type == backupType {
			typed = append(typed, record)
		}
	}
	if len(typed) <= e.maxPerType {
		return
	}

	for _, old := range typed[e.maxPerType:] {
		if err := os.Remove(old.Path); err != nil {
			e.logger.Warn().Err(err).Str("filename", old.Filename).Msg("Failed to prune backup")
			continue
		}
		e.logger.Debug().
			Str("server_id", serverID).
			Str("filename", old.Filename).
			Msg("Pruned backup beyond retention cap")
	}
}

// filename renders backup-<sanitised-timestamp>-<type>.tar.gz. Colons
// and dots are unsafe in filenames on Windows, so both become dashes.
func filename(timestamp time.Time, backupType types.BackupType) string {
	sanitised := timestampSanitiser.Replace(timestamp.UTC().Format(timestampLayout))
	return fmt.Sprintf("backup-%s-%s.tar.gz", sanitised, backupType)
}

// parseFilename reverses filename. The sanitised form is unambiguous:
// the first two dashes inside the time-of-day belong to colons and the
// third to the fractional-second dot.
func parseFilename(name string) (time.Time, types.BackupType, bool) {
	m := filenameRe.FindStringSubmatch(name)
	if m == nil {
		return time.Time{}, "", false
	}

	tm := sanitisedTimestampRe.FindStringSubmatch(m[1])
	if tm == nil {
		return time.Time{}, "", false
	}

	raw := fmt.Sprintf("%s:%s:%s.%s", tm[1], tm[2], tm[3], tm[4])
	timestamp, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, "", false
	}
	return timestamp.UTC(), types.BackupType(m[2]), true
}
