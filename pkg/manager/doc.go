// Package manager owns the per-server state machines and is the only
// component allowed to mutate server state.
//
// # State model
//
// Each server is stopped, starting, running, stopping, error, or
// updating, with an orthogonal update stage persisted in the sidecar.
// Transitions are driven by API requests, by the maintenance sweep,
// and by exit callbacks from the execution backends. An exit observed
// while the manager believed the server running or starting marks it
// error; the crashed artifact stays behind for inspection until the
// crash is acknowledged.
//
// # Serialisation
//
// Every transition, including its sidecar write, runs under that
// server's entry lock. Requests for one server queue up; distinct
// servers proceed in parallel. Events are published after the sidecar
// write, so a subscriber never observes a state the next daemon
// restart would not reconstruct.
//
// # Persistence
//
// The sidecar in each server directory is the configuration record;
// the bolt store only carries cross-server extras such as the
// dashboard display order. Deleting a server removes its directory
// but deliberately leaves its backups in place.
package manager
