package containerrt

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
)

// Scheme selects which traefik entrypoint a deployment container is
// labelled for.
type Scheme string

const (
	SchemeHTTP  Scheme = "http"
	SchemeHTTPS Scheme = "https"

	// ServicePort is the fixed in-container port the edge router and the
	// readiness probe both target.
	ServicePort = 8000
)

// RunSpec describes one deployment container before it is created.
type RunSpec struct {
	Name          string
	Image         string // tag only, e.g. "node18"; resolved to "runner-<image>"
	Network       string
	Script        string // full shell pipeline run as the container's command
	CPUs          float64
	MemoryMB      int64
	Scheme        Scheme
	DeploymentID  string
	ProjectID     string
	EnvironmentID string
	Branch        string
	Subdomain     string
	DeployDomain  string
	EnvVars       map[string]string
}

// BuildRunScript assembles the ordered shell pipeline spec §4.6 describes
// for Start: clone at the given commit, optionally cd into root_dir, then
// run build/pre-deploy/start commands in sequence. Any step failing aborts
// the whole script (`set -e`), which is what drives Start's "any transient
// exception yields fail(reason=<message>)" error policy up through the
// container's own exit code.
func BuildRunScript(repoCloneURL, sha, branch, rootDir, buildCmd, preDeployCmd, startCmd string) string {
	var b strings.Builder
	b.WriteString("set -e\n")
	fmt.Fprintf(&b, "echo 'Cloning %s (Branch:%s, Commit:%s)'\n", repoCloneURL, branch, shortSHA(sha))
	b.WriteString("git init -q\n")
	fmt.Fprintf(&b, "git fetch -q --depth 1 %s %s\n", repoCloneURL, sha)
	b.WriteString("git checkout -q FETCH_HEAD\n")
	rootDir = strings.TrimSpace(rootDir)
	if rootDir != "" && rootDir != "." {
		fmt.Fprintf(&b, "[ -d %q ] || { echo \"Error: root directory %s not found\" >&2; exit 1; }\n", rootDir, rootDir)
		fmt.Fprintf(&b, "cd %q\n", rootDir)
	}
	if strings.TrimSpace(buildCmd) != "" {
		fmt.Fprintf(&b, "%s\n", buildCmd)
	}
	if strings.TrimSpace(preDeployCmd) != "" {
		fmt.Fprintf(&b, "%s\n", preDeployCmd)
	}
	fmt.Fprintf(&b, "%s\n", startCmd)
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) <= 7 {
		return sha
	}
	return sha[:7]
}

// Labels returns the label set spec §4.6/§6 requires: traefik routing
// labels so the edge router picks the container up by discovery, plus the
// deployment/project/environment/branch labels the log driver attaches to
// every shipped line.
func Labels(spec RunSpec) map[string]string {
	routerID := "router-deploy-" + spec.DeploymentID
	entryPoint := "web"
	if spec.Scheme == SchemeHTTPS {
		entryPoint = "websecure"
	}
	labels := map[string]string{
		"traefik.enable": "true",
		fmt.Sprintf("traefik.http.routers.%s.rule", routerID):                    fmt.Sprintf("Host(`%s.%s`)", spec.Subdomain, spec.DeployDomain),
		fmt.Sprintf("traefik.http.routers.%s.entrypoints", routerID):             entryPoint,
		fmt.Sprintf("traefik.http.services.%s.loadbalancer.server.port", routerID): strconv.Itoa(ServicePort),
		"deployment_id":  spec.DeploymentID,
		"project_id":     spec.ProjectID,
		"environment_id": spec.EnvironmentID,
		"branch":         spec.Branch,
	}
	if spec.Scheme == SchemeHTTPS {
		labels[fmt.Sprintf("traefik.http.routers.%s.tls", routerID)] = "true"
		labels[fmt.Sprintf("traefik.http.routers.%s.tls.certresolver", routerID)] = "default"
	}
	return labels
}

// Run creates and starts a deployment container on the shared runner
// network with the resource limits and labels spec §4.6 specifies, and
// returns its id.
func (c *Client) Run(ctx context.Context, spec RunSpec) (string, error) {
	if _, err := c.EnsureNetwork(ctx, spec.Network, map[string]string{"drydock": "runner"}); err != nil {
		return "", fmt.Errorf("ensure runner network: %w", err)
	}

	env := make([]string, 0, len(spec.EnvVars))
	for k, v := range spec.EnvVars {
		env = append(env, k+"="+v)
	}

	hostCfg := &container.HostConfig{
		NetworkMode:    container.NetworkMode(spec.Network),
		SecurityOpt:    []string{"no-new-privileges"},
		CPUPeriod:      100000,
	}
	if spec.CPUs > 0 {
		hostCfg.CPUQuota = int64(spec.CPUs * 100000)
	}
	if spec.MemoryMB > 0 {
		hostCfg.Memory = spec.MemoryMB * 1024 * 1024
	}

	cfg := &container.Config{
		Image:  "runner-" + spec.Image,
		Cmd:    []string{"/bin/sh", "-c", spec.Script},
		Env:    env,
		Labels: Labels(spec),
	}

	id, err := c.CreateContainer(ctx, cfg, hostCfg, nil, spec.Name)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}
	if err := c.StartContainer(ctx, id); err != nil {
		return "", fmt.Errorf("start container: %w", err)
	}
	return id, nil
}

// Status is a coarse readiness signal for the monitor's probe loop.
type Status struct {
	Running  bool
	ExitCode int
	IP       string
}

// Inspect reports whether a container is still running, its exit code if
// not, and its IP on the given network so the monitor can HTTP-probe it
// directly rather than going through a published port.
func (c *Client) Inspect(ctx context.Context, containerID, network string) (Status, error) {
	info, err := c.api.ContainerInspect(ctx, containerID)
	if err != nil {
		return Status{}, err
	}
	st := Status{}
	if info.State != nil {
		st.Running = info.State.Running
		st.ExitCode = info.State.ExitCode
	}
	if info.NetworkSettings != nil {
		if net, ok := info.NetworkSettings.Networks[network]; ok && net != nil {
			st.IP = net.IPAddress
		}
	}
	return st, nil
}

// KillAndRemove force-stops and removes a container, tolerating the
// "already gone" case so Fail/Cancel's cleanup is idempotent. The bool
// reports whether a container actually existed to be removed — callers use
// it to tell "we removed a container" from "there was nothing there" (spec
// §4.8: a not-found on reap records container_status=∅, not removed).
func (c *Client) KillAndRemove(ctx context.Context, containerID string) (bool, error) {
	if strings.TrimSpace(containerID) == "" {
		return false, nil
	}
	if err := c.RemoveContainer(ctx, containerID, true); err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ContainerByLabels finds a single container matching every given label and
// reports its status, the label-based resolution spec §6 calls for. Used by
// the deployment monitor's crash-recovery path to find a container whose
// deployment row never recorded its id (crashed between creating the
// container and writing container_status=running).
func (c *Client) ContainerByLabels(ctx context.Context, network string, labels map[string]string) (containerID string, status Status, found bool, err error) {
	matches, err := c.containersByLabel(ctx, labels)
	if err != nil {
		return "", Status{}, false, err
	}
	if len(matches) == 0 {
		return "", Status{}, false, nil
	}
	id := matches[0].ID
	st, err := c.Inspect(ctx, id, network)
	if err != nil {
		return "", Status{}, false, err
	}
	return id, st, true, nil
}

// InjectLogLine writes message to the container's own stdout by execing a
// shell that appends to /proc/1/fd/1 — a plain `docker exec`'s attached
// output is never captured by the container's log driver, so this is the
// only way a line originating outside the container's main process (a
// deployment-lifecycle note like "deployment failed: timeout") ends up in
// the same log stream as the application's own output (spec §6).
func (c *Client) InjectLogLine(ctx context.Context, containerID, message string) error {
	cmd := []string{"/bin/sh", "-c", "echo " + shellQuote(message) + " >> /proc/1/fd/1"}
	return c.Exec(ctx, containerID, cmd, ExecOptions{}, nil, nil)
}

// shellQuote wraps s in single quotes for use as one POSIX shell word,
// escaping any embedded single quote the usual close-escape-reopen way.
func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
