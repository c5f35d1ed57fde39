package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
)

// DockerRuntime implements Runtime against the Docker Engine API.
type DockerRuntime struct {
	cli client.APIClient
}

// NewDocker creates a Docker-backed runtime, honoring DOCKER_HOST and
// negotiating the API version. It pings the daemon so an unreachable
// engine is reported at construction time rather than on first use.
func NewDocker(ctx context.Context) (*DockerRuntime, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, &ContainerError{Kind: KindUnavailable, Op: "connect", Err: err}
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if _, err := cli.Ping(pingCtx); err != nil {
		_ = cli.Close()
		return nil, &ContainerError{Kind: KindUnavailable, Op: "ping", Err: err}
	}
	return &DockerRuntime{cli: cli}, nil
}

// NewDockerWithClient wraps an existing API client. Used by tests.
func NewDockerWithClient(cli client.APIClient) *DockerRuntime {
	return &DockerRuntime{cli: cli}
}

func (d *DockerRuntime) EnsureImage(ctx context.Context, img string) error {
	if _, err := d.cli.ImageInspect(ctx, img); err == nil {
		return nil
	}
	slog.Info("pulling gateway image", "image", img)
	rc, err := d.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return classify("pull", err, KindImagePull)
	}
	defer func() { _ = rc.Close() }()
	if _, err := io.Copy(io.Discard, rc); err != nil {
		return &ContainerError{Kind: KindImagePull, Op: "pull", Err: err}
	}
	return nil
}

func (d *DockerRuntime) Create(ctx context.Context, spec Spec) (string, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for cport, hport := range spec.Ports {
		p, err := nat.NewPort("tcp", strconv.Itoa(cport))
		if err != nil {
			return "", fmt.Errorf("port %d: %w", cport, err)
		}
		exposed[p] = struct{}{}
		bindings[p] = []nat.PortBinding{{HostIP: "127.0.0.1", HostPort: strconv.Itoa(hport)}}
	}
	policy := container.RestartPolicyUnlessStopped
	if spec.RestartPolicy != "" {
		policy = container.RestartPolicyMode(spec.RestartPolicy)
	}
	cfg := &container.Config{
		Image:        spec.Image,
		Env:          spec.Env,
		ExposedPorts: exposed,
	}
	hostCfg := &container.HostConfig{
		PortBindings:  bindings,
		RestartPolicy: container.RestartPolicy{Name: policy},
	}
	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", classify("create", err, KindInternal)
	}
	return resp.ID, nil
}

func (d *DockerRuntime) Start(ctx context.Context, name string) error {
	if err := d.cli.ContainerStart(ctx, name, container.StartOptions{}); err != nil {
		return classify("start", err, KindInternal)
	}
	return nil
}

func (d *DockerRuntime) Stop(ctx context.Context, name string, grace time.Duration) error {
	secs := int(grace / time.Second)
	if err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs}); err != nil {
		return classify("stop", err, KindInternal)
	}
	return nil
}

func (d *DockerRuntime) Remove(ctx context.Context, name string) error {
	if err := d.cli.ContainerRemove(ctx, name, container.RemoveOptions{Force: true}); err != nil {
		return classify("remove", err, KindInternal)
	}
	return nil
}

func (d *DockerRuntime) Inspect(ctx context.Context, name string) (Inspection, error) {
	info, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return Inspection{State: StateNotFound}, nil
		}
		return Inspection{State: StateUnknown}, classify("inspect", err, KindInternal)
	}
	insp := Inspection{ID: info.ID, State: StateUnknown}
	if info.Config != nil {
		insp.Image = info.Config.Image
	}
	insp.CreatedAt = parseDockerTime(info.Created)
	if info.State != nil {
		switch info.State.Status {
		case "created":
			insp.State = StateCreated
		case "running", "restarting":
			insp.State = StateRunning
		case "exited", "dead", "paused":
			insp.State = StateExited
		}
		insp.StartedAt = parseDockerTime(info.State.StartedAt)
		insp.FinishedAt = parseDockerTime(info.State.FinishedAt)
	}
	return insp, nil
}

func (d *DockerRuntime) Logs(ctx context.Context, name string, tail int) ([]string, error) {
	rc, err := d.cli.ContainerLogs(ctx, name, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       strconv.Itoa(tail),
	})
	if err != nil {
		return nil, classify("logs", err, KindInternal)
	}
	defer func() { _ = rc.Close() }()
	var buf strings.Builder
	if _, err := stdcopy.StdCopy(&buf, &buf, rc); err != nil && err != io.EOF {
		return nil, &ContainerError{Kind: KindInternal, Op: "logs", Err: err}
	}
	var lines []string
	for _, line := range strings.Split(buf.String(), "\n") {
		if s := strings.TrimSpace(line); s != "" {
			lines = append(lines, s)
		}
	}
	return lines, nil
}

func (d *DockerRuntime) Close() error { return d.cli.Close() }

// classify maps an engine error into a ContainerError. NotFound and
// daemon-unreachable take precedence over the operation's default kind.
func classify(op string, err error, def ErrorKind) error {
	kind := def
	switch {
	case errdefs.IsNotFound(err):
		kind = KindNotFound
	case client.IsErrConnectionFailed(err):
		kind = KindUnavailable
	}
	return &ContainerError{Kind: kind, Op: op, Err: err}
}

func parseDockerTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil || t.Unix() <= 0 {
		return time.Time{}
	}
	return t
}
