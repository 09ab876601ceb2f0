package adapter

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/signalnine/llm-tool-test/internal/config"
	"github.com/signalnine/llm-tool-test/internal/script"
)

const checkTimeout = 30 * time.Second

// Command runs an agent CLI on the host through the script runner, with
// the fixture as working directory.
type Command struct {
	agent config.Agent
}

func (c *Command) Name() string { return c.agent.Name }

// CheckAvailability runs the agent's check command, or looks up the
// template's executable when no check is configured.
func (c *Command) CheckAvailability(ctx context.Context) error {
	if c.agent.Check == "" {
		fields := strings.Fields(c.agent.Command)
		if len(fields) == 0 {
			return fmt.Errorf("%w: %s has no command", ErrUnavailable, c.agent.Name)
		}
		if _, err := exec.LookPath(fields[0]); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrUnavailable, c.agent.Name, err)
		}
		return nil
	}
	r := script.New(os.TempDir(), script.Env{})
	res, err := r.Run(ctx, c.agent.Check, checkTimeout)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrUnavailable, c.agent.Name, err)
	}
	if !res.Success() {
		return fmt.Errorf("%w: %s: %q exited with code %d: %s",
			ErrUnavailable, c.agent.Name, c.agent.Check, res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

func (c *Command) Run(ctx context.Context, req *Request) (*Output, error) {
	env := req.Env
	env.Target = agentEnv(req.Env.Target, c.agent.Env, req.Prompt)

	cmdline := expand(c.agent.Command, req)
	res, err := script.New(req.FixtureDir, env).Run(ctx, cmdline, req.Timeout)
	if err != nil {
		return nil, fmt.Errorf("running agent %s: %w", c.agent.Name, err)
	}

	out := &Output{
		ExitCode: res.ExitCode,
		TimedOut: res.TimedOut,
		Duration: res.Duration,
	}
	decodeOutput(out, res.Stdout, res.Stderr, c.agent.Format)
	return out, nil
}

// decodeOutput fills the transcript, events and usage of out from the
// agent's captured streams.
func decodeOutput(out *Output, stdout, stderr, format string) {
	if format == config.FormatStreamJSON {
		if sr, ok := ParseStreamJSON(stdout); ok {
			out.Transcript = sr.Transcript
			out.Events = sr.Events
			u := sr.Usage
			out.Usage = &u
			out.CostUSD = sr.CostUSD
			if strings.TrimSpace(stderr) != "" {
				out.Transcript += stderr
			}
			return
		}
	}
	out.Transcript = stdout
	if strings.TrimSpace(stderr) != "" {
		if out.Transcript != "" && !strings.HasSuffix(out.Transcript, "\n") {
			out.Transcript += "\n"
		}
		out.Transcript += stderr
	}
}
