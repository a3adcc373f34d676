package runtime

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/events"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	units "github.com/docker/go-units"
	"github.com/rs/zerolog"

	"github.com/Lmdudester/Garcon/pkg/errdefs"
	"github.com/Lmdudester/Garcon/pkg/log"
	"github.com/Lmdudester/Garcon/pkg/types"
)

const (
	// LabelManaged marks containers owned by this daemon
	LabelManaged = "com.garcon.managed"

	// LabelServerID carries the server a container belongs to
	LabelServerID = "com.garcon.server-id"

	// containerNamePrefix namespaces our containers on a shared daemon
	containerNamePrefix = "garcon-"

	// containerUser runs game servers unprivileged inside containers
	containerUser = "1000:1000"

	// eventRetryDelay paces event stream reconnects
	eventRetryDelay = 5 * time.Second
)

// DockerBackend runs game servers as containers on a Docker Engine
type DockerBackend struct {
	client   *client.Client
	logger   zerolog.Logger
	notifier exitNotifier

	mu         sync.RWMutex
	containers map[string]string // server ID -> container ID

	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewDockerBackend connects to the Docker Engine. host overrides the
// environment's DOCKER_HOST when non-empty; the connection is lazy, so
// a missing daemon surfaces in CheckAvailability rather than here.
func NewDockerBackend(host string) (*DockerBackend, error) {
	opts := []client.Opt{
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}

	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, errdefs.Docker(err, "failed to create docker client")
	}

	return &DockerBackend{
		client:     cli,
		logger:     log.WithComponent("docker"),
		containers: make(map[string]string),
		stopCh:     make(chan struct{}),
	}, nil
}

// Close stops event monitoring and releases the client
func (d *DockerBackend) Close() error {
	d.stopOnce.Do(func() { close(d.stopCh) })
	return d.client.Close()
}

// CheckAvailability pings the daemon
func (d *DockerBackend) CheckAvailability(ctx context.Context) error {
	if _, err := d.client.Ping(ctx); err != nil {
		return errdefs.Docker(err, "docker daemon unreachable")
	}
	return nil
}

// OnProcessExit registers a callback for container exits
func (d *DockerBackend) OnProcessExit(cb ExitCallback) func() {
	return d.notifier.subscribe(cb)
}

// Start creates and starts a container for the server. dataPath must
// be the server directory as the Docker daemon sees it (the host path,
// not a path inside this process's own container).
func (d *DockerBackend) Start(ctx context.Context, cfg *types.ServerConfig, tpl *types.Template, dataPath string) (string, error) {
	if tpl.Container == nil {
		return "", errdefs.Validation("template %s has no container configuration", tpl.ID)
	}

	if err := d.ensureImage(ctx, tpl.Container.Image); err != nil {
		return "", err
	}

	name := containerName(cfg.ID)
	if err := d.removeConflicting(ctx, name); err != nil {
		return "", err
	}

	env := mergeEnv(tpl, cfg)
	mountPath := tpl.Container.MountPath

	containerCfg := &container.Config{
		Image: tpl.Container.Image,
		User:  containerUser,
		Env:   envList(env, mountPath),
		Labels: map[string]string{
			LabelManaged:  "true",
			LabelServerID: cfg.ID,
		},
		WorkingDir: tpl.Container.WorkingDir,
	}
	if containerCfg.WorkingDir == "" {
		containerCfg.WorkingDir = mountPath
	}
	if tpl.Execution.Command != "" {
		containerCfg.Cmd = strings.Fields(expandPlaceholders(tpl.Execution.Command, env))
	}

	exposed, bindings, err := portBindings(cfg.Ports)
	if err != nil {
		return "", err
	}
	containerCfg.ExposedPorts = exposed

	hostCfg := &container.HostConfig{
		Binds:         mountBinds(dataPath, mountPath, tpl.Container.Mounts),
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: container.RestartPolicyDisabled},
	}
	if cfg.Memory != "" {
		bytes, err := units.RAMInBytes(cfg.Memory)
		if err != nil {
			return "", errdefs.Validation("invalid memory limit %q: %v", cfg.Memory, err)
		}
		hostCfg.Resources.Memory = bytes
	}
	if cfg.CPUs > 0 {
		hostCfg.Resources.NanoCPUs = int64(cfg.CPUs * 1e9)
	}

	created, err := d.client.ContainerCreate(ctx, containerCfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", errdefs.Docker(err, fmt.Sprintf("failed to create container for server %s", cfg.ID))
	}

	if err := d.client.ContainerStart(ctx, created.ID, container.StartOptions{}); err != nil {
		return "", errdefs.Docker(err, fmt.Sprintf("failed to start container for server %s", cfg.ID))
	}

	d.mu.Lock()
	d.containers[cfg.ID] = created.ID
	d.mu.Unlock()

	d.logger.Info().
		Str("server_id", cfg.ID).
		Str("container_id", created.ID[:12]).
		Str("image", tpl.Container.Image).
		Msg("Container started")

	return created.ID, nil
}

// Stop stops the server's container, giving it timeout to exit before
// the daemon kills it. A missing container counts as stopped.
func (d *DockerBackend) Stop(ctx context.Context, serverID string, tpl *types.Template, timeout time.Duration) error {
	id, err := d.lookup(ctx, serverID)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	seconds := int(timeout.Seconds())
	if err := d.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		if client.IsErrNotFound(err) {
			return nil
		}
		return errdefs.Docker(err, fmt.Sprintf("failed to stop container for server %s", serverID))
	}
	return nil
}

// Remove force-removes the server's container if one remains
func (d *DockerBackend) Remove(ctx context.Context, serverID string) error {
	id, err := d.lookup(ctx, serverID)
	if err != nil {
		return err
	}
	if id == "" {
		return nil
	}

	if err := d.client.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
		return errdefs.Docker(err, fmt.Sprintf("failed to remove container for server %s", serverID))
	}

	d.mu.Lock()
	delete(d.containers, serverID)
	d.mu.Unlock()
	return nil
}

// GetProcessStatus inspects the server's container, if any
func (d *DockerBackend) GetProcessStatus(ctx context.Context, serverID string) (*ProcessStatus, error) {
	id, err := d.lookup(ctx, serverID)
	if err != nil {
		return nil, err
	}
	if id == "" {
		return &ProcessStatus{}, nil
	}

	inspect, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if client.IsErrNotFound(err) {
			return &ProcessStatus{}, nil
		}
		return nil, errdefs.Docker(err, fmt.Sprintf("failed to inspect container for server %s", serverID))
	}

	status := &ProcessStatus{Exists: true, Ref: id}
	if inspect.State != nil {
		status.Running = inspect.State.Running
	}
	return status, nil
}

// Reconcile rebuilds the server -> container map from labelled
// containers that survived a daemon restart
func (d *DockerBackend) Reconcile(ctx context.Context) error {
	args := filters.NewArgs(filters.Arg("label", LabelManaged+"=true"))
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return errdefs.Docker(err, "failed to list managed containers")
	}

	d.mu.Lock()
	d.containers = make(map[string]string, len(list))
	for _, c := range list {
		serverID := c.Labels[LabelServerID]
		if serverID == "" {
			continue
		}
		d.containers[serverID] = c.ID
	}
	count := len(d.containers)
	d.mu.Unlock()

	d.logger.Info().Int("containers", count).Msg("Reconciled managed containers")
	return nil
}

// StartEventMonitoring watches the daemon event stream for container
// exits and fans them out to exit callbacks. The stream is reopened
// after errors until Close.
func (d *DockerBackend) StartEventMonitoring(ctx context.Context) error {
	go d.watchEvents(ctx)
	return nil
}

func (d *DockerBackend) watchEvents(ctx context.Context) {
	args := filters.NewArgs(
		filters.Arg("type", "container"),
		filters.Arg("event", "die"),
		filters.Arg("event", "stop"),
		filters.Arg("label", LabelManaged+"=true"),
	)

	for {
		msgCh, errCh := d.client.Events(ctx, events.ListOptions{Filters: args})

	stream:
		for {
			select {
			case <-d.stopCh:
				return
			case <-ctx.Done():
				return
			case msg := <-msgCh:
				d.handleEvent(msg)
			case err := <-errCh:
				if err != nil && ctx.Err() == nil {
					d.logger.Warn().Err(err).Msg("Docker event stream failed, reconnecting")
				}
				break stream
			}
		}

		select {
		case <-d.stopCh:
			return
		case <-ctx.Done():
			return
		case <-time.After(eventRetryDelay):
		}
	}
}

func (d *DockerBackend) handleEvent(msg events.Message) {
	if msg.Action != events.ActionDie && msg.Action != events.ActionStop {
		return
	}
	serverID := msg.Actor.Attributes[LabelServerID]
	if serverID == "" {
		return
	}

	var exitCode *int
	if raw, ok := msg.Actor.Attributes["exitCode"]; ok {
		if code, err := strconv.Atoi(raw); err == nil {
			exitCode = &code
		}
	}

	d.logger.Debug().
		Str("server_id", serverID).
		Str("action", string(msg.Action)).
		Msg("Container exit event")
	d.notifier.fire(serverID, exitCode)
}

// lookup resolves a server to its container ID, consulting the cache
// first and the daemon's labels second. Empty means no container.
func (d *DockerBackend) lookup(ctx context.Context, serverID string) (string, error) {
	d.mu.RLock()
	id, ok := d.containers[serverID]
	d.mu.RUnlock()
	if ok {
		return id, nil
	}

	args := filters.NewArgs(filters.Arg("label", LabelServerID+"="+serverID))
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return "", errdefs.Docker(err, fmt.Sprintf("failed to find container for server %s", serverID))
	}
	if len(list) == 0 {
		return "", nil
	}

	d.mu.Lock()
	d.containers[serverID] = list[0].ID
	d.mu.Unlock()
	return list[0].ID, nil
}

// ensureImage pulls the image when the daemon does not have it yet.
// The pull reader must be drained or the pull is aborted.
func (d *DockerBackend) ensureImage(ctx context.Context, ref string) error {
	if _, err := d.client.ImageInspect(ctx, ref); err == nil {
		return nil
	} else if !client.IsErrNotFound(err) {
		return errdefs.Docker(err, fmt.Sprintf("failed to inspect image %s", ref))
	}

	d.logger.Info().Str("image", ref).Msg("Pulling image")
	reader, err := d.client.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return errdefs.Docker(err, fmt.Sprintf("failed to pull image %s", ref))
	}
	defer reader.Close()

	if _, err := io.Copy(io.Discard, reader); err != nil {
		return errdefs.Docker(err, fmt.Sprintf("failed to pull image %s", ref))
	}
	return nil
}

// removeConflicting deletes any leftover container holding our name.
// The daemon's name filter matches substrings, so candidates are
// checked against the exact name before removal.
func (d *DockerBackend) removeConflicting(ctx context.Context, name string) error {
	args := filters.NewArgs(filters.Arg("name", name))
	list, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return errdefs.Docker(err, "failed to check for conflicting containers")
	}

	for _, c := range list {
		for _, n := range c.Names {
			if n != "/"+name {
				continue
			}
			d.logger.Warn().Str("container_id", c.ID[:12]).Str("name", name).Msg("Removing leftover container")
			if err := d.client.ContainerRemove(ctx, c.ID, container.RemoveOptions{Force: true}); err != nil && !client.IsErrNotFound(err) {
				return errdefs.Docker(err, fmt.Sprintf("failed to remove leftover container %s", name))
			}
			break
		}
	}
	return nil
}

func containerName(serverID string) string {
	return containerNamePrefix + serverID
}

// mergeEnv layers server env over template env
func mergeEnv(tpl *types.Template, cfg *types.ServerConfig) map[string]string {
	merged := make(map[string]string)
	if tpl.Container != nil {
		for k, v := range tpl.Container.Env {
			merged[k] = v
		}
	}
	for k, v := range cfg.Env {
		merged[k] = v
	}
	return merged
}

// envList renders env as KEY=VALUE with HOME pinned to the mount path
// so game servers write saves inside the bind mount
func envList(env map[string]string, mountPath string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		if k == "HOME" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys)+1)
	out = append(out, "HOME="+mountPath)
	for _, k := range keys {
		out = append(out, k+"="+env[k])
	}
	return out
}

// expandPlaceholders substitutes {VAR} tokens from env
func expandPlaceholders(s string, env map[string]string) string {
	for k, v := range env {
		s = strings.ReplaceAll(s, "{"+k+"}", v)
	}
	return s
}

func portBindings(ports []types.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := make(nat.PortSet)
	bindings := make(nat.PortMap)
	for _, p := range ports {
		port, err := nat.NewPort(p.Protocol, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, errdefs.Validation("invalid port mapping %d/%s: %v", p.ContainerPort, p.Protocol, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{HostPort: strconv.Itoa(p.HostPort)})
	}
	return exposed, bindings, nil
}

func mountBinds(dataPath, mountPath string, extra []types.MountSpec) []string {
	binds := []string{dataPath + ":" + mountPath}
	for _, m := range extra {
		source := m.HostPath
		if !filepath.IsAbs(source) {
			source = filepath.Join(dataPath, source)
		}
		bind := source + ":" + m.ContainerPath
		if m.ReadOnly {
			bind += ":ro"
		}
		binds = append(binds, bind)
	}
	return binds
}
