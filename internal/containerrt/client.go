// Package containerrt wraps the Docker Engine API for the container
// runtime collaborator (create/start/inspect/stop/delete, exec, network
// setup). Grounded on agents/shared/docker/client.go; trimmed to the
// surface drydock's deployment state machine actually reaches — the
// teacher's file carries a much larger dyad-agent client (volumes, TTY
// exec, file copy, restart, host-port lookup) that nothing in this repo
// calls. deployment.go adds the deployment-specific container spec
// (resource limits, traefik labels, run script) on top of this.
package containerrt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
)

type Client struct {
	api *client.Client
}

// NewClient dials the Docker daemon the standard way (DOCKER_HOST /
// DOCKER_CONTEXT / the default socket). On a developer machine running
// Colima instead of Docker Desktop, the default socket ping fails even
// though a working daemon is one layer down at ~/.colima/<profile>/docker.sock,
// so a failed ping with no explicit DOCKER_HOST falls back to probing for
// that socket before giving up.
func NewClient() (*Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	if err := pingClient(cli); err == nil {
		return &Client{api: cli}, nil
	} else if os.Getenv("DOCKER_HOST") != "" {
		_ = cli.Close()
		return nil, err
	}
	_ = cli.Close()
	if host, ok := colimaDockerHost(); ok {
		alt, altErr := client.NewClientWithOpts(client.WithHost(host), client.WithAPIVersionNegotiation())
		if altErr != nil {
			return nil, err
		}
		if pingErr := pingClient(alt); pingErr == nil {
			return &Client{api: alt}, nil
		}
		_ = alt.Close()
	}
	return nil, err
}

func pingClient(cli *client.Client) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_, err := cli.Ping(ctx)
	return err
}

func (c *Client) Close() error {
	if c == nil || c.api == nil {
		return nil
	}
	return c.api.Close()
}

// colimaDockerHost looks for a Colima unix socket on macOS when neither
// DOCKER_HOST nor DOCKER_CONTEXT override the daemon choice and the default
// socket isn't there. Profiles are tried in colimaProfileCandidates' order:
// COLIMA_PROFILE/COLIMA_INSTANCE env, the profile named by docker's current
// context, every directory under the Colima home, then "default".
func colimaDockerHost() (string, bool) {
	if os.Getenv("DOCKER_HOST") != "" || strings.TrimSpace(os.Getenv("DOCKER_CONTEXT")) != "" {
		return "", false
	}
	if socketExists("/var/run/docker.sock") {
		return "", false
	}
	if runtime.GOOS != "darwin" {
		return "", false
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "", false
	}
	colimaHome := strings.TrimSpace(os.Getenv("COLIMA_HOME"))
	if colimaHome == "" {
		colimaHome = filepath.Join(home, ".colima")
	}
	for _, profile := range colimaProfileCandidates(home) {
		candidate := filepath.Join(colimaHome, profile, "docker.sock")
		if socketExists(candidate) {
			return "unix://" + candidate, true
		}
	}
	return "", false
}

// colimaProfileCandidates orders the profile names worth trying: explicit
// env hints first, then whatever profile docker's own current context
// names, then every directory under ~/.colima (alphabetically), then
// "default" as the last resort.
func colimaProfileCandidates(home string) []string {
	seen := map[string]struct{}{}
	var out []string
	push := func(name string) {
		name = strings.TrimSpace(name)
		if name == "" {
			return
		}
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	push(os.Getenv("COLIMA_PROFILE"))
	push(os.Getenv("COLIMA_INSTANCE"))
	if ctx := dockerCurrentContext(home); ctx != "" {
		if profile, ok := colimaProfileFromContext(ctx); ok {
			push(profile)
		}
	}
	colimaHome := strings.TrimSpace(os.Getenv("COLIMA_HOME"))
	if colimaHome == "" {
		colimaHome = filepath.Join(home, ".colima")
	}
	if entries, err := os.ReadDir(colimaHome); err == nil {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsDir() {
				names = append(names, e.Name())
			}
		}
		sort.Strings(names)
		for _, n := range names {
			push(n)
		}
	}
	push("default")
	return out
}

func dockerCurrentContext(home string) string {
	data, err := os.ReadFile(filepath.Join(home, ".docker", "config.json"))
	if err != nil {
		return ""
	}
	var cfg struct {
		CurrentContext string `json:"currentContext"`
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return ""
	}
	return strings.TrimSpace(cfg.CurrentContext)
}

// colimaProfileFromContext recognizes docker context names colima itself
// generates: "colima" for the default profile, "colima-<profile>" for a
// named one.
func colimaProfileFromContext(name string) (string, bool) {
	switch {
	case name == "colima":
		return "default", true
	case strings.HasPrefix(name, "colima-"):
		if profile := strings.TrimPrefix(name, "colima-"); profile != "" {
			return profile, true
		}
	}
	return "", false
}

func socketExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && info.Mode()&os.ModeSocket != 0
}

func (c *Client) EnsureNetwork(ctx context.Context, name string, labels map[string]string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("network name required")
	}
	args := filters.NewArgs()
	args.Add("name", name)
	list, err := c.api.NetworkList(ctx, types.NetworkListOptions{Filters: args})
	if err != nil {
		return "", err
	}
	for _, item := range list {
		if item.Name == name {
			return item.ID, nil
		}
	}
	resp, err := c.api.NetworkCreate(ctx, name, types.NetworkCreate{
		CheckDuplicate: true,
		Driver:         "bridge",
		Labels:         labels,
	})
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

// containersByLabel lists containers matching every given label, deployment.go's
// ContainerByLabels wraps this with the typed Status result the monitor's
// crash-recovery path needs (spec §6's label-based service resolution).
func (c *Client) containersByLabel(ctx context.Context, labels map[string]string) ([]types.Container, error) {
	args := filters.NewArgs()
	for k, v := range labels {
		if k == "" || v == "" {
			continue
		}
		args.Add("label", k+"="+v)
	}
	return c.api.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
}

// ExecOptions configures a one-shot exec invocation.
type ExecOptions struct {
	Env     []string
	WorkDir string
	User    string
}

// Exec runs cmd inside containerID and waits for it to finish, the
// container runtime collaborator's exec contract (spec §6: "exec for
// injecting log lines into a running container's stdout/stderr").
// deployment.go's InjectLogLine is the one caller today.
func (c *Client) Exec(ctx context.Context, containerID string, cmd []string, opts ExecOptions, stdout, stderr io.Writer) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	if len(cmd) == 0 {
		return errors.New("command required")
	}
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}

	execResp, err := c.api.ContainerExecCreate(ctx, containerID, types.ExecConfig{
		AttachStdout: true,
		AttachStderr: true,
		Cmd:          cmd,
		Env:          opts.Env,
		WorkingDir:   opts.WorkDir,
		User:         opts.User,
	})
	if err != nil {
		return err
	}

	attach, err := c.api.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return err
	}
	defer attach.Close()

	if _, err := stdcopy.StdCopy(stdout, stderr, attach.Reader); err != nil {
		return err
	}

	inspect, err := c.api.ContainerExecInspect(ctx, execResp.ID)
	if err != nil {
		return err
	}
	if inspect.ExitCode != 0 {
		return fmt.Errorf("exec exit code %d", inspect.ExitCode)
	}
	return nil
}

func (c *Client) CreateContainer(ctx context.Context, cfg *container.Config, hostCfg *container.HostConfig, netCfg *container.NetworkMode, name string) (string, error) {
	resp, err := c.api.ContainerCreate(ctx, cfg, hostCfg, nil, nil, name)
	if err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (c *Client) StartContainer(ctx context.Context, containerID string) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerStart(ctx, containerID, container.StartOptions{})
}

func (c *Client) RemoveContainer(ctx context.Context, containerID string, force bool) error {
	if strings.TrimSpace(containerID) == "" {
		return errors.New("container id required")
	}
	return c.api.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
}
