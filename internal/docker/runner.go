// Package docker runs a coding agent inside a throwaway container with the
// scenario fixture bind-mounted as its workspace.
package docker

import (
	"bytes"
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/moby/moby/api/pkg/stdcopy"
	"github.com/moby/moby/api/types/container"
	"github.com/moby/moby/api/types/mount"
	"github.com/moby/moby/client"
)

// WorkspaceDir is where the fixture appears inside the container.
const WorkspaceDir = "/workspace"

// TimeoutExitCode is reported when the container was killed on timeout,
// matching coreutils timeout(1).
const TimeoutExitCode = 124

// Label marks containers started by this package.
const Label = "llm-tool-test"

type RunOpts struct {
	Image       string
	Command     []string
	WorkDir     string
	Env         map[string]string
	Timeout     time.Duration
	ExtraMounts []Mount
	CPULimit    float64
	MemoryLimit int64
	UserID      string
	Labels      map[string]string
}

type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// RunResult carries the exit status and the demultiplexed container logs.
type RunResult struct {
	ExitCode int
	TimedOut bool
	Duration time.Duration
	Stdout   string
	Stderr   string
}

func newClient() (*client.Client, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("creating docker client: %w", err)
	}
	return cli, nil
}

// Ping checks that a Docker daemon is reachable.
func Ping(ctx context.Context) error {
	cli, err := newClient()
	if err != nil {
		return err
	}
	defer cli.Close()
	if _, err := cli.Ping(ctx, client.PingOptions{}); err != nil {
		return fmt.Errorf("pinging docker daemon: %w", err)
	}
	return nil
}

// RunContainer creates, starts and waits for a container, then collects
// its logs and removes it. A timeout is not an error: the result has
// TimedOut set and ExitCode TimeoutExitCode.
func RunContainer(ctx context.Context, opts *RunOpts) (*RunResult, error) {
	cli, err := newClient()
	if err != nil {
		return nil, err
	}
	defer cli.Close()

	envSlice := make([]string, 0, len(opts.Env))
	for k, v := range opts.Env {
		envSlice = append(envSlice, k+"="+v)
	}
	sort.Strings(envSlice)

	mounts := []mount.Mount{
		{
			Type:   mount.TypeBind,
			Source: opts.WorkDir,
			Target: WorkspaceDir,
		},
	}
	for _, m := range opts.ExtraMounts {
		mounts = append(mounts, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}

	initTrue := true
	hostCfg := &container.HostConfig{
		Mounts: mounts,
		Init:   &initTrue,
	}
	if opts.CPULimit > 0 {
		hostCfg.NanoCPUs = int64(opts.CPULimit * 1e9)
	}
	if opts.MemoryLimit > 0 {
		hostCfg.Memory = opts.MemoryLimit
	}
	// Agents talk to model APIs, sometimes through a proxy on the host.
	hostCfg.ExtraHosts = []string{"host.docker.internal:host-gateway"}

	labels := map[string]string{Label: "true"}
	for k, v := range opts.Labels {
		labels[k] = v
	}
	containerCfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        envSlice,
		WorkingDir: WorkspaceDir,
		Labels:     labels,
	}
	if opts.UserID != "" {
		containerCfg.User = opts.UserID
	}

	createResp, err := cli.ContainerCreate(ctx, client.ContainerCreateOptions{
		Config:     containerCfg,
		HostConfig: hostCfg,
	})
	if err != nil {
		return nil, fmt.Errorf("creating container: %w", err)
	}
	containerID := createResp.ID
	defer func() {
		if _, err := cli.ContainerRemove(context.Background(), containerID, client.ContainerRemoveOptions{Force: true}); err != nil {
			log.Printf("warning: removing container %s: %v", containerID, err)
		}
	}()

	start := time.Now()
	if _, err := cli.ContainerStart(ctx, containerID, client.ContainerStartOptions{}); err != nil {
		return nil, fmt.Errorf("starting container: %w", err)
	}

	waitCtx, cancel := ctx, context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		waitCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}
	defer cancel()

	res := &RunResult{}
	waitResult := cli.ContainerWait(waitCtx, containerID, client.ContainerWaitOptions{
		Condition: container.WaitConditionNotRunning,
	})
	select {
	case err := <-waitResult.Error:
		if ctx.Err() != nil {
			killContainer(cli, containerID)
			return nil, fmt.Errorf("waiting for container: %w", ctx.Err())
		}
		if waitCtx.Err() == nil {
			return nil, fmt.Errorf("waiting for container: %w", err)
		}
		killContainer(cli, containerID)
		res.ExitCode = TimeoutExitCode
		res.TimedOut = true
	case status := <-waitResult.Result:
		res.ExitCode = int(status.StatusCode)
	}
	res.Duration = time.Since(start)

	stdout, stderr, err := containerLogs(cli, containerID)
	if err != nil {
		log.Printf("warning: reading logs of container %s: %v", containerID, err)
	}
	res.Stdout, res.Stderr = stdout, stderr
	return res, nil
}

func killContainer(cli *client.Client, id string) {
	if _, err := cli.ContainerKill(context.Background(), id, client.ContainerKillOptions{Signal: "SIGKILL"}); err != nil {
		log.Printf("warning: killing container %s: %v", id, err)
	}
}

func containerLogs(cli *client.Client, id string) (string, string, error) {
	rc, err := cli.ContainerLogs(context.Background(), id, client.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return "", "", err
	}
	defer rc.Close()
	var stdout, stderr bytes.Buffer
	if _, err := stdcopy.StdCopy(&stdout, &stderr, rc); err != nil {
		return stdout.String(), stderr.String(), err
	}
	return stdout.String(), stderr.String(), nil
}
