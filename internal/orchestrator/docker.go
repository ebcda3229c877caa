package orchestrator

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sort"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/mount"
	dockerclient "github.com/docker/docker/client"

	"github.com/theykk/agentman-gateway/internal/gwerrors"
)

const (
	labelManaged  = "agentman.managed"
	labelIdentity = "agentman.github_user"
	labelProject  = "agentman.project"
	labelWorkpath = "agentman.workspace_path"

	workspaceMountPoint = "/workspace"
)

// DockerOrchestrator provisions workspace containers on a local or remote
// Docker daemon.
type DockerOrchestrator struct {
	client    *dockerclient.Client
	available bool
}

func (d *DockerOrchestrator) Initialize(ctx context.Context) error {
	var err error
	d.client, err = dockerclient.NewClientWithOpts(
		dockerclient.FromEnv,
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return fmt.Errorf("docker client: %w", err)
	}

	if _, err := d.client.Ping(ctx); err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}

	d.available = true
	log.Println("docker daemon connected")
	return nil
}

func (d *DockerOrchestrator) IsAvailable(ctx context.Context) bool {
	if !d.available || d.client == nil {
		return false
	}
	_, err := d.client.Ping(ctx)
	return err == nil
}

func (d *DockerOrchestrator) BackendName() string { return "docker" }

// EnsureContainer returns an existing usable container for params.Name, or
// creates one. A caller-supplied existing container id (via params.Labels
// carrying "agentman.existing_id", set by the workspace layer when it has a
// WorkspaceRecord on file) is checked first so containers aren't recreated
// needlessly.
func (d *DockerOrchestrator) EnsureContainer(ctx context.Context, params CreateParams) (string, string, error) {
	if existing := params.Labels["agentman.existing_id"]; existing != "" {
		ok, name, err := d.inspectName(ctx, existing)
		if err != nil {
			return "", "", err
		}
		if ok {
			if err := d.ensureRunning(ctx, existing); err != nil {
				return "", "", err
			}
			return existing, name, nil
		}
		log.Printf("container %s for %s no longer exists, recreating", existing, params.Name)
	}

	return d.createContainer(ctx, params)
}

func (d *DockerOrchestrator) createContainer(ctx context.Context, params CreateParams) (string, string, error) {
	name, err := d.ensureUniqueName(ctx, params.Name)
	if err != nil {
		return "", "", err
	}

	labels := map[string]string{
		labelManaged:  "true",
		labelIdentity: params.Identity,
		labelProject:  params.Project,
		labelWorkpath: params.HostPath,
	}
	for k, v := range params.Labels {
		if k == "agentman.existing_id" {
			continue
		}
		labels[k] = v
	}

	hostCfg, err := buildHostConfig(params.HostPath, params.Security)
	if err != nil {
		return "", "", err
	}

	env := make([]string, 0, len(params.Env)+1)
	for k, v := range params.Env {
		env = append(env, k+"="+v)
	}
	// AGENTMAN_CONTAINER_ID carries the resolved container name, which is
	// only known after the uniqueness suffix above is applied — it cannot
	// be precomputed by the caller.
	env = append(env, "AGENTMAN_CONTAINER_ID="+name)
	sort.Strings(env)

	cfg := &container.Config{
		Image:        params.Image,
		Hostname:     name,
		Env:          env,
		Labels:       labels,
		WorkingDir:   workspaceMountPoint,
		Tty:          true,
		OpenStdin:    true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}

	resp, err := d.client.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", "", gwerrors.Wrap(err, "create container %s", name)
	}

	if err := d.client.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return "", "", gwerrors.Wrap(err, "start container %s", name)
	}

	log.Printf("created and started container %s (%s)", name, shortID(resp.ID))
	return resp.ID, name, nil
}

// buildHostConfig applies spec's security hardening: bind-mount only,
// never privileged, bridge networking, optional capability drop, no new
// privileges, readonly rootfs with scratch tmpfs mounts, and memory/CPU
// limits parsed with the binary-suffix convention.
func buildHostConfig(hostPath string, sec SecurityParams) (*container.HostConfig, error) {
	hc := &container.HostConfig{
		Mounts: []mount.Mount{{
			Type:   mount.TypeBind,
			Source: hostPath,
			Target: workspaceMountPoint,
		}},
		ExtraHosts:  []string{"host.docker.internal:host-gateway"},
		Privileged:  false,
		NetworkMode: "bridge",
		Init:        boolPtr(true),
	}

	if sec.CapDropAll {
		hc.CapDrop = []string{"ALL"}
		if len(sec.CapAdd) > 0 {
			hc.CapAdd = append([]string(nil), sec.CapAdd...)
		}
	}

	if sec.NoNewPrivileges {
		hc.SecurityOpt = append(hc.SecurityOpt, "no-new-privileges:true")
	}

	if sec.ReadonlyRootfs {
		hc.ReadonlyRootfs = true
		hc.Tmpfs = map[string]string{
			"/tmp":     "rw,noexec,nosuid,size=1g",
			"/run":     "rw,noexec,nosuid,size=64m",
			"/var/tmp": "rw,noexec,nosuid,size=256m",
		}
	}

	if sec.MemoryLimit != "" {
		bytes, err := parseMemoryLimit(sec.MemoryLimit)
		if err != nil {
			return nil, err
		}
		hc.Resources.Memory = bytes
	}

	if sec.CPULimit > 0 {
		hc.Resources.NanoCPUs = ParseCPULimit(sec.CPULimit)
	}

	return hc, nil
}

func boolPtr(b bool) *bool { return &b }

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}

// ensureUniqueName appends "-1".."-100" to baseName until no container by
// that name exists.
func (d *DockerOrchestrator) ensureUniqueName(ctx context.Context, baseName string) (string, error) {
	name := baseName
	for suffix := 0; suffix <= 100; suffix++ {
		f := filters.NewArgs(filters.Arg("name", "^"+name+"$"))
		containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
		if err != nil {
			return "", gwerrors.Wrap(err, "list containers")
		}
		if len(containers) == 0 {
			return name, nil
		}
		name = fmt.Sprintf("%s-%d", baseName, suffix+1)
	}
	return "", gwerrors.Transient(nil, "could not find unique container name after 100 attempts")
}

func (d *DockerOrchestrator) containerExists(ctx context.Context, id string) (bool, error) {
	ok, _, err := d.inspectName(ctx, id)
	return ok, err
}

// inspectName reports whether id exists and, if so, its name with the
// leading slash Docker's inspect response always prefixes stripped.
func (d *DockerOrchestrator) inspectName(ctx context.Context, id string) (bool, string, error) {
	info, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return false, "", nil
		}
		return false, "", gwerrors.Wrap(err, "inspect container %s", id)
	}
	return true, strings.TrimPrefix(info.Name, "/"), nil
}

// ensureRunning unpauses a paused container and starts a stopped one so a
// reconnecting session always finds a usable container.
func (d *DockerOrchestrator) ensureRunning(ctx context.Context, id string) error {
	info, err := d.client.ContainerInspect(ctx, id)
	if err != nil {
		return gwerrors.Wrap(err, "inspect container %s", id)
	}

	if info.State != nil && info.State.Paused {
		log.Printf("unpausing container %s", id)
		if err := d.client.ContainerUnpause(ctx, id); err != nil {
			return gwerrors.Wrap(err, "unpause container %s", id)
		}
	}

	if info.State == nil || !info.State.Running {
		log.Printf("starting stopped container %s", id)
		if err := d.client.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
			return gwerrors.Wrap(err, "start container %s", id)
		}
	}
	return nil
}

// FindByLabels lists managed containers matching (identity, project),
// for destroy's target collection.
func (d *DockerOrchestrator) FindByLabels(ctx context.Context, identity, project string) ([]string, error) {
	f := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, gwerrors.Wrap(err, "list containers")
	}

	var out []string
	for _, c := range containers {
		if c.Labels[labelIdentity] == identity && c.Labels[labelProject] == project {
			out = append(out, c.ID)
		}
	}
	return out, nil
}

// ListManaged lists every agentman-managed container, for reconcile's
// orphan sweep.
func (d *DockerOrchestrator) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	f := filters.NewArgs(filters.Arg("label", labelManaged+"=true"))
	containers, err := d.client.ContainerList(ctx, container.ListOptions{All: true, Filters: f})
	if err != nil {
		return nil, gwerrors.Wrap(err, "list containers")
	}

	out := make([]ManagedContainer, 0, len(containers))
	for _, c := range containers {
		out = append(out, ManagedContainer{
			ID:       c.ID,
			Identity: c.Labels[labelIdentity],
			Project:  c.Labels[labelProject],
		})
	}
	return out, nil
}

func (d *DockerOrchestrator) Status(ctx context.Context, nameOrID string) (Status, error) {
	info, err := d.client.ContainerInspect(ctx, nameOrID)
	if err != nil {
		if dockerclient.IsErrNotFound(err) {
			return StatusMissing, nil
		}
		return StatusError, gwerrors.Wrap(err, "inspect container %s", nameOrID)
	}
	if info.State == nil {
		return StatusError, nil
	}
	switch {
	case info.State.Paused:
		return StatusPaused, nil
	case info.State.Running:
		return StatusRunning, nil
	case info.State.Status == "created" || info.State.Status == "restarting":
		return StatusStopped, nil
	default:
		return StatusStopped, nil
	}
}

func (d *DockerOrchestrator) Stop(ctx context.Context, nameOrID string, graceSeconds int) error {
	err := d.client.ContainerStop(ctx, nameOrID, container.StopOptions{Timeout: &graceSeconds})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return gwerrors.Wrap(err, "stop container %s", nameOrID)
	}
	return nil
}

func (d *DockerOrchestrator) Pause(ctx context.Context, nameOrID string) error {
	if err := d.client.ContainerPause(ctx, nameOrID); err != nil {
		return gwerrors.Wrap(err, "pause container %s", nameOrID)
	}
	return nil
}

func (d *DockerOrchestrator) Unpause(ctx context.Context, nameOrID string) error {
	if err := d.client.ContainerUnpause(ctx, nameOrID); err != nil {
		return gwerrors.Wrap(err, "unpause container %s", nameOrID)
	}
	return nil
}

func (d *DockerOrchestrator) Remove(ctx context.Context, nameOrID string, force bool) error {
	err := d.client.ContainerRemove(ctx, nameOrID, container.RemoveOptions{Force: force, RemoveVolumes: true})
	if err != nil && !dockerclient.IsErrNotFound(err) {
		return gwerrors.Wrap(err, "remove container %s", nameOrID)
	}
	return nil
}

// Exec creates and attaches to a process inside nameOrID, matching
// spec §4.4's create-exec/start-exec shape.
func (d *DockerOrchestrator) Exec(ctx context.Context, nameOrID string, spec ExecSpec) (*ExecStream, error) {
	execCfg := container.ExecOptions{
		Cmd:          spec.Cmd,
		Env:          spec.Env,
		WorkingDir:   workspaceMountPoint,
		Tty:          spec.TTY,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	}
	if spec.WorkingDir != "" {
		execCfg.WorkingDir = spec.WorkingDir
	}
	if spec.TTY {
		execCfg.ConsoleSize = &[2]uint{24, 80}
	}

	execID, err := d.client.ContainerExecCreate(ctx, nameOrID, execCfg)
	if err != nil {
		return nil, gwerrors.Wrap(err, "create exec in %s", nameOrID)
	}

	resp, err := d.client.ContainerExecAttach(ctx, execID.ID, container.ExecAttachOptions{Tty: spec.TTY})
	if err != nil {
		return nil, gwerrors.Wrap(err, "attach exec %s", execID.ID)
	}

	stream := &ExecStream{
		Stdin:  resp.Conn,
		ExecID: execID.ID,
		Close:  func() error { resp.Close(); return nil },
	}

	if spec.TTY {
		stream.Stdout = resp.Conn
	} else {
		stdoutR, stdoutW := io.Pipe()
		stderrR, stderrW := io.Pipe()
		go demuxExecStream(resp.Reader, stdoutW, stderrW)
		stream.Stdout = stdoutR
		stream.Stderr = stderrR
	}

	stream.Resize = func(ctx context.Context, cols, rows uint16) error {
		return d.client.ContainerExecResize(ctx, execID.ID, container.ResizeOptions{
			Width:  uint(cols),
			Height: uint(rows),
		})
	}

	return stream, nil
}

// demuxExecStream splits Docker's multiplexed exec stream (8-byte header:
// stream type, 3 reserved bytes, 4-byte big-endian size) into stdout/stderr.
func demuxExecStream(r io.Reader, stdout, stderr *io.PipeWriter) {
	defer stdout.Close()
	defer stderr.Close()

	br := bufio.NewReader(r)
	header := make([]byte, 8)
	for {
		if _, err := io.ReadFull(br, header); err != nil {
			return
		}
		size := int(header[4])<<24 | int(header[5])<<16 | int(header[6])<<8 | int(header[7])
		if size == 0 {
			continue
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(br, payload); err != nil {
			return
		}
		switch header[0] {
		case 2:
			if _, err := stderr.Write(payload); err != nil {
				return
			}
		default:
			if _, err := stdout.Write(payload); err != nil {
				return
			}
		}
	}
}

func (d *DockerOrchestrator) InspectExecRunning(ctx context.Context, execID string) (bool, int, error) {
	resp, err := d.client.ContainerExecInspect(ctx, execID)
	if err != nil {
		return false, 0, gwerrors.Wrap(err, "inspect exec %s", execID)
	}
	return resp.Running, resp.ExitCode, nil
}

func (d *DockerOrchestrator) Stats(ctx context.Context, nameOrID string) (ContainerStats, error) {
	resp, err := d.client.ContainerStatsOneShot(ctx, nameOrID)
	if err != nil {
		return ContainerStats{}, gwerrors.Wrap(err, "stats %s", nameOrID)
	}
	defer resp.Body.Close()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return ContainerStats{}, gwerrors.Wrap(err, "decode stats %s", nameOrID)
	}

	cpuPercent := computeCPUPercent(raw)

	return ContainerStats{
		CPUPercent:  cpuPercent,
		MemoryUsage: raw.MemoryStats.Usage,
		MemoryLimit: raw.MemoryStats.Limit,
	}, nil
}

// computeCPUPercent applies the two-sample CPU% formula: cpu_delta over
// system_delta scaled by online cpus, falling back to cpu_delta over the
// wall-clock read interval when the engine reports no system_delta (seen
// on some cgroup v2 hosts), and reporting 0 outright when cpu_delta itself
// is zero.
func computeCPUPercent(raw container.StatsResponse) float64 {
	cpuDelta := float64(raw.CPUStats.CPUUsage.TotalUsage) - float64(raw.PreCPUStats.CPUUsage.TotalUsage)
	if cpuDelta <= 0 {
		return 0.0
	}

	systemDelta := float64(raw.CPUStats.SystemUsage) - float64(raw.PreCPUStats.SystemUsage)
	if systemDelta > 0 {
		onlineCPUs := float64(raw.CPUStats.OnlineCPUs)
		if onlineCPUs == 0 {
			onlineCPUs = float64(len(raw.CPUStats.CPUUsage.PercpuUsage))
		}
		return (cpuDelta / systemDelta) * onlineCPUs * 100.0
	}

	readDelta := raw.Read.Sub(raw.PreRead).Nanoseconds()
	if readDelta <= 0 {
		return 0.0
	}
	return (cpuDelta / float64(readDelta)) * 100.0
}

func (d *DockerOrchestrator) DiskUsage(ctx context.Context, hostPath string) (uint64, error) {
	return diskUsage(hostPath)
}
