package runner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/signalnine/llm-tool-test/internal/result"
	"github.com/signalnine/llm-tool-test/internal/scenario"
	"github.com/signalnine/llm-tool-test/internal/script"
	"github.com/signalnine/llm-tool-test/internal/transcript"
)

const healthCheckTimeout = 30 * time.Second

// runSetup runs the scenario's setup commands in order. A failing command
// is recorded and the rest still run.
func runSetup(ctx context.Context, s *scenario.Scenario, r *script.Runner, timeout time.Duration) ([]result.SetupStep, []transcript.Event) {
	cmds := s.SetupCommands()
	if len(cmds) == 0 {
		return nil, nil
	}
	fmt.Printf("Running %d setup command(s)...\n", len(cmds))
	steps := make([]result.SetupStep, 0, len(cmds))
	events := make([]transcript.Event, 0, len(cmds))
	for i, cmd := range cmds {
		fmt.Printf("  Command %d/%d: %s\n", i+1, len(cmds), cmd)
		step := result.SetupStep{Command: cmd}
		ev := transcript.Event{
			Type:      transcript.EventSetupCommand,
			Timestamp: time.Now().UTC(),
			Command:   cmd,
			Index:     transcript.IntPtr(i),
		}
		res, err := r.Run(ctx, cmd, timeout)
		if err != nil {
			step.ExitCode = script.SpawnFailedExitCode
			step.Output = err.Error()
			ev.IsError = true
		} else {
			step.Success = res.Success()
			step.ExitCode = res.ExitCode
			step.Output = res.Stdout + res.Stderr
			ev.TimedOut = res.TimedOut
			ev.Duration = res.Duration.Seconds()
		}
		ev.ExitCode = transcript.IntPtr(step.ExitCode)
		ev.Output = step.Output
		if !step.Success {
			fmt.Printf("  Command failed with exit code %d\n", step.ExitCode)
		}
		steps = append(steps, step)
		events = append(events, ev)
	}
	fmt.Println("Setup complete.")
	return steps, events
}

// healthCheck runs target.health_check. Unlike setup, a failure here
// aborts the scenario since the tool under test is not usable.
func healthCheck(ctx context.Context, s *scenario.Scenario, r *script.Runner) error {
	cmd := s.Target.HealthCheck
	if cmd == "" {
		return nil
	}
	fmt.Printf("Running health check: %s\n", cmd)
	res, err := r.Run(ctx, cmd, healthCheckTimeout)
	if err != nil {
		return fmt.Errorf("health check for %s: %w", s.Name, err)
	}
	if res.TimedOut {
		return fmt.Errorf("health check for %s timed out after %s", s.Name, healthCheckTimeout)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("health check for %s exited with code %d: %s",
			s.Name, res.ExitCode, strings.TrimSpace(res.Stderr+res.Stdout))
	}
	return nil
}

// runPostScripts runs scripts.post in order, recording each as a
// post_script event. Failures never stop the run.
func runPostScripts(ctx context.Context, s *scenario.Scenario, r *script.Runner, eventsPath string) {
	entries := s.PostScripts()
	if len(entries) == 0 {
		return
	}
	fmt.Printf("Running %d post-execution script(s)...\n", len(entries))
	for _, entry := range entries {
		ev := transcript.Event{
			Type:      transcript.EventPostScript,
			Timestamp: time.Now().UTC(),
			Command:   entry.Command,
		}
		res, err := r.Run(ctx, entry.Command, entry.Timeout())
		switch {
		case err != nil:
			ev.ExitCode = transcript.IntPtr(script.SpawnFailedExitCode)
			ev.IsError = true
			ev.Stderr = err.Error()
			log.Printf("warning: post script failed: %s: %v", entry.Command, err)
		default:
			ev.ExitCode = transcript.IntPtr(res.ExitCode)
			ev.TimedOut = res.TimedOut
			ev.Output = res.Stdout
			ev.Stderr = res.Stderr
			ev.Duration = res.Duration.Seconds()
			if !res.Success() {
				log.Printf("warning: post script failed: %s", entry.Command)
			}
		}
		if err := transcript.AppendEvent(eventsPath, ev); err != nil {
			log.Printf("warning: recording post script event: %v", err)
		}
	}
}
