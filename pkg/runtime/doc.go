// Package runtime executes game server processes behind a common
// Provider interface with two backends.
//
// # Container Backend
//
// DockerBackend drives a Docker Engine. Each server runs in a
// container named garcon-<server-id>, labelled so the daemon can find
// its own containers again after a restart:
//
//	com.garcon.managed=true
//	com.garcon.server-id=<server-id>
//
// The server's data directory is bind-mounted at the template's mount
// path, HOME points inside the mount so saves land on the host, and
// the container runs as user 1000:1000 with restart policy "no". The
// daemon, not Docker, decides when a server comes back. Exits are
// observed through the engine event stream (die and stop events
// filtered by the managed label), which is reopened with a delay
// whenever it fails.
//
// # Native Backend
//
// NativeBackend spawns OS processes directly for titles without a
// usable container image, such as V Rising. Only Windows hosts pass
// CheckAvailability. Tracked pids are persisted to
// native-processes.json so a restarted daemon can re-adopt them:
// Reconcile drops dead pids, verifies the process name still matches
// before trusting a live pid (a recycled pid must not be mistaken for
// the server), and polls adopted pids for exit since no wait handle
// survives the restart.
//
// Stopping a native server tries the template's RCON shutdown command
// first, waits for the process to die, and falls back to killing the
// process tree children-first.
package runtime
