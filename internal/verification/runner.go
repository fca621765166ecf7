package verification

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"sort"
	"syscall"
	"time"

	"github.com/Th0rgal/explain.md-sub002/internal/logging"
)

// ProcessRunner is the default child-process RunnerPort implementation:
// spawns contract.Command contract.Args... in contract.WorkingDirectory
// with environment base ∪ additionalEnv ∪ contract.Env (later overrides
// earlier), sends SIGTERM on timeout, and captures both streams (spec
// §6). Grounded on the teacher's internal/tactile.DirectExecutor, which
// runs exec.CommandContext under a deadline context and captures
// stdout/stderr into bounded buffers.
type ProcessRunner struct {
	BaseEnv       []string // "KEY=VALUE" pairs; seeded from os.Environ() by NewProcessRunner
	AdditionalEnv map[string]string
}

// NewProcessRunner returns a ProcessRunner seeded with the current
// process's environment (spec §6: base ∪ additionalEnv ∪ contract.env),
// so the spawned proof-checker inherits PATH, HOME, LEAN_PATH, etc.
func NewProcessRunner() *ProcessRunner {
	return &ProcessRunner{BaseEnv: os.Environ()}
}

// Run implements RunnerPort.
func (r *ProcessRunner) Run(contract ReproducibilityContract, timeoutMs int) (RunOutput, error) {
	logging.Get(logging.CategoryVerification).Debug("running %s %v in %s (timeout=%dms)", contract.Command, contract.Args, contract.WorkingDirectory, timeoutMs)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeoutMs)*time.Millisecond)
	defer cancel()

	cmd := exec.CommandContext(ctx, contract.Command, contract.Args...)
	cmd.Dir = contract.WorkingDirectory
	cmd.Env = r.buildEnv(contract.Env)
	// Send SIGTERM on context cancellation instead of Go's default SIGKILL,
	// so the reported out.Signal below is true rather than hardcoded; give
	// the process a grace period before Go escalates to a hard kill.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = 5 * time.Second

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	duration := time.Since(start)

	out := RunOutput{
		DurationMs: int(duration.Milliseconds()),
		Stdout:     stdout.String(),
		Stderr:     stderr.String(),
	}

	if ctx.Err() == context.DeadlineExceeded {
		out.TimedOut = true
		out.Signal = "SIGTERM"
		logging.Get(logging.CategoryVerification).Warn("process timed out after %dms: %s", timeoutMs, contract.Command)
		return out, nil
	}

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return RunOutput{}, err
	}

	out.ExitCode = 0
	return out, nil
}

// buildEnv merges base ∪ AdditionalEnv ∪ contract.Env, later entries
// overriding earlier ones for the same key, sorted for determinism.
func (r *ProcessRunner) buildEnv(contractEnv map[string]string) []string {
	merged := map[string]string{}
	for _, kv := range r.BaseEnv {
		if idx := indexOfEquals(kv); idx >= 0 {
			merged[kv[:idx]] = kv[idx+1:]
		}
	}
	for k, v := range r.AdditionalEnv {
		merged[k] = v
	}
	for k, v := range contractEnv {
		merged[k] = v
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+merged[k])
	}
	return out
}

func indexOfEquals(kv string) int {
	for i := 0; i < len(kv); i++ {
		if kv[i] == '=' {
			return i
		}
	}
	return -1
}
