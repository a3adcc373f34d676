/*
Package types defines the core data structures used throughout Garcon.

The domain model splits a managed game server into three records:

  - Template: immutable description of how to run a class of servers
    (container image or native executable, command, ports, stop
    semantics). Loaded once by the template registry.
  - ServerConfig: the mutable per-server record, persisted as the
    .garcon.yaml sidecar inside the server's data directory. The
    sidecar is the source of truth for which servers exist.
  - ServerState: the in-memory runtime view (status, started-at,
    update stage), rebuilt on startup by reconciling sidecars against
    what the execution backends report.

Enumerations use typed string constants (Status, UpdateStage,
BackupType, ExecutionMode, UpdateAction) so that sidecars and API
payloads stay human-readable.

# State Machine

Servers move through:

	stopped → starting → running → stopping → stopped
	               ↓         ↓
	             error     error   (unexpected exit; cleared by acknowledge)
	stopped → updating → stopped   (three-phase update protocol)

UpdateStage is orthogonal to Status: it survives restarts via the
sidecar, which lets a half-finished update be resumed or cancelled
after the control plane comes back up.

# Thread Safety

Types here are plain data. Mutations are synchronized by the owning
component: the orchestrator guards server entries, the registry guards
templates, the hub guards subscribers.
*/
package types
