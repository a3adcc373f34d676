package runtime

import (
	"context"
	"sync"
	"time"

	"github.com/Lmdudester/Garcon/pkg/types"
)

// ExitCallback is invoked when a managed process ends. exitCode is nil
// when the backend cannot determine it (re-adopted native processes).
type ExitCallback func(serverID string, exitCode *int)

// ProcessStatus reports what a backend knows about a server's process
type ProcessStatus struct {
	// Exists is true when the backend still has an artifact for the
	// server (a container, a tracked pid)
	Exists bool

	// Running is true when the process is currently executing
	Running bool

	// Ref identifies the artifact: container ID or pid
	Ref string
}

// Provider abstracts how game server processes are executed. The
// container backend drives the Docker Engine; the native backend
// spawns OS processes directly.
type Provider interface {
	// CheckAvailability reports whether the backend can be used on
	// this host right now
	CheckAvailability(ctx context.Context) error

	// StartEventMonitoring begins watching for process exits. Exits
	// observed before this call may be missed.
	StartEventMonitoring(ctx context.Context) error

	// OnProcessExit registers a callback for process exits and
	// returns a function that unregisters it
	OnProcessExit(cb ExitCallback) func()

	// GetProcessStatus probes the current process state for a server
	GetProcessStatus(ctx context.Context, serverID string) (*ProcessStatus, error)

	// Start launches the server process and returns a backend
	// reference (container ID or pid). dataPath is the server data
	// directory as this backend must address it.
	Start(ctx context.Context, cfg *types.ServerConfig, tpl *types.Template, dataPath string) (string, error)

	// Stop terminates the server process, attempting a graceful
	// shutdown within timeout before forcing
	Stop(ctx context.Context, serverID string, tpl *types.Template, timeout time.Duration) error

	// Remove deletes any remaining backend artifact for the server
	Remove(ctx context.Context, serverID string) error

	// Reconcile rebuilds backend-internal tracking from what actually
	// survives on the host, after a daemon restart
	Reconcile(ctx context.Context) error
}

// exitNotifier fans process exit events out to registered callbacks
type exitNotifier struct {
	mu        sync.Mutex
	nextID    int
	callbacks map[int]ExitCallback
}

func (n *exitNotifier) subscribe(cb ExitCallback) func() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.callbacks == nil {
		n.callbacks = make(map[int]ExitCallback)
	}
	id := n.nextID
	n.nextID++
	n.callbacks[id] = cb

	return func() {
		n.mu.Lock()
		defer n.mu.Unlock()
		delete(n.callbacks, id)
	}
}

func (n *exitNotifier) fire(serverID string, exitCode *int) {
	n.mu.Lock()
	cbs := make([]ExitCallback, 0, len(n.callbacks))
	for _, cb := range n.callbacks {
		cbs = append(cbs, cb)
	}
	n.mu.Unlock()

	for _, cb := range cbs {
		cb(serverID, exitCode)
	}
}
