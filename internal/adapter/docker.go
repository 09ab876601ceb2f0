package adapter

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/docker"
	"github.com/signalnine/llm-tool-test/internal/script"
)

// Docker runs the agent command inside a container image with the fixture
// mounted at /workspace. Framework variables point at container paths.
type Docker struct {
	agent config.Agent
}

func (d *Docker) Name() string { return d.agent.Name }

func (d *Docker) CheckAvailability(ctx context.Context) error {
	if err := docker.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, d.agent.Name, err)
	}
	return nil
}

func (d *Docker) Run(ctx context.Context, req *Request) (*Output, error) {
	env := agentEnv(req.Env.Target, d.agent.Env, req.Prompt)
	for k, v := range req.Env.Vars() {
		env[k] = v
	}
	env[script.VarFixtureDir] = docker.WorkspaceDir
	delete(env, script.VarResultsDir)

	mounts, err := parseMounts(d.agent.Mounts)
	if err != nil {
		return nil, fmt.Errorf("agent %s: %w", d.agent.Name, err)
	}
	res, err := docker.RunContainer(ctx, &docker.RunOpts{
		Image:       d.agent.Image,
		Command:     []string{"sh", "-c", expand(d.agent.Command, req)},
		WorkDir:     req.FixtureDir,
		Env:         env,
		Timeout:     req.Timeout,
		CPULimit:    d.agent.CPULimit,
		MemoryLimit: d.agent.MemoryLimit,
		ExtraMounts: mounts,
		UserID:      hostUser(),
		Labels: map[string]string{
			"llm-tool-test.scenario": req.Env.Scenario,
			"llm-tool-test.agent":    d.agent.Name,
			"llm-tool-test.model":    req.Model,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("running agent %s in %s: %w", d.agent.Name, d.agent.Image, err)
	}

	out := &Output{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}
	decodeOutput(out, res.Stdout, res.Stderr, d.agent.Format)
	return out, nil
}

// parseMounts reads "source:target[:ro]" specs. Sources may use ~ and
// environment variables.
func parseMounts(specs []string) ([]docker.Mount, error) {
	out := make([]docker.Mount, 0, len(specs))
	for _, spec := range specs {
		parts := strings.Split(spec, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" || parts[1] == "" {
			return nil, fmt.Errorf("invalid mount %q, want source:target[:ro]", spec)
		}
		m := docker.Mount{Source: os.ExpandEnv(parts[0]), Target: parts[1]}
		if len(parts) == 3 {
			if parts[2] != "ro" {
				return nil, fmt.Errorf("invalid mount option %q in %q", parts[2], spec)
			}
			m.ReadOnly = true
		}
		if rest, ok := strings.CutPrefix(m.Source, "~/"); ok {
			if home, err := os.UserHomeDir(); err == nil {
				m.Source = filepath.Join(home, rest)
			}
		}
		out = append(out, m)
	}
	return out, nil
}

// hostUser runs the container as the invoking user so files the agent
// writes into the fixture stay owned by them.
func hostUser() string {
	uid, gid := os.Getuid(), os.Getgid()
	if uid < 0 || gid < 0 {
		return ""
	}
	return fmt.Sprintf("%d:%d", uid, gid)
}
