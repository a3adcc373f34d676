// Package storage persists daemon-level state in a BoltDB file.
//
// Server definitions deliberately do not live here: each server's
// configuration is a YAML sidecar in its data directory so that
// copying the directory carries the server with it. The database only
// holds state that spans servers, currently the dashboard display
// order.
package storage
