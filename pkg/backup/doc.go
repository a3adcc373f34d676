// Package backup archives server data directories as tar.gz files.
//
// Each server's backups live in their own directory and are named
//
//	backup-<timestamp>-<type>.tar.gz
//
// where the timestamp is the UTC instant with colons and the
// fractional-second dot replaced by dashes (2026-03-14T09:26:53.589Z
// becomes 2026-03-14T09-26-53-589Z) and type is one of manual, auto,
// pre-update, or pre-restore. The filename carries all metadata, so
// archives remain self-describing when copied elsewhere.
//
// Retention is per type: creating a backup prunes the oldest archives
// of the same type beyond the configured cap, and never touches other
// types. Pre-update and pre-restore backups therefore cannot be
// crowded out by a frequent auto-backup schedule.
package backup
