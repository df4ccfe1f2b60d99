package tooling

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/romforge/go-romkitchen/internal/kitchen"
)

// Runner invokes the external tools the kitchen orchestrates: formatters,
// codecs, the super packaging tool. The contract with every tool is argv plus
// exit status; stdout and stderr are merged and streamed line-by-line to the
// operation log.
type Runner struct {
	binDir string
	log    zerolog.Logger

	mu       sync.Mutex
	children map[int]*exec.Cmd
}

func NewRunner(binDir string, log zerolog.Logger) *Runner {
	return &Runner{
		binDir:   binDir,
		log:      log,
		children: make(map[int]*exec.Cmd),
	}
}

// Resolve maps a tool name to the binary to execute. A configured bin
// directory wins over PATH so a kitchen can ship its own tool set.
func (r *Runner) Resolve(tool string) string {
	if r.binDir != "" {
		candidate := filepath.Join(r.binDir, tool)
		if _, err := exec.LookPath(candidate); err == nil {
			return candidate
		}
	}
	return tool
}

// Run executes a tool to completion, streaming its merged output. Non-zero
// exit comes back as *kitchen.ToolError carrying the captured output; the
// engine never retries on its own.
func (r *Runner) Run(ctx context.Context, tool string, args ...string) error {
	_, err := r.RunOutput(ctx, tool, args...)
	return err
}

// RunIn is Run with an explicit working directory, for tools that insist on
// dumping artifacts into the current directory.
func (r *Runner) RunIn(ctx context.Context, dir, tool string, args ...string) error {
	_, err := r.run(ctx, dir, tool, args...)
	return err
}

// RunOutput is Run for callers that also want the merged output, e.g. to
// parse a metadata dump.
func (r *Runner) RunOutput(ctx context.Context, tool string, args ...string) (string, error) {
	return r.run(ctx, "", tool, args...)
}

func (r *Runner) run(ctx context.Context, dir, tool string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, r.Resolve(tool), args...)
	cmd.Dir = dir
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return "", fmt.Errorf("failed to pipe %s: %w", tool, err)
	}
	cmd.Stderr = cmd.Stdout

	r.log.Debug().Str("tool", tool).Strs("args", args).Msg("spawning")
	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("failed to start %s: %w", tool, err)
	}
	r.track(cmd)
	defer r.untrack(cmd)

	var captured strings.Builder
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		captured.WriteString(line)
		captured.WriteByte('\n')
		r.log.Info().Str("tool", tool).Msg(line)
	}

	err = cmd.Wait()
	if err == nil {
		return captured.String(), nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		toolErr := &kitchen.ToolError{
			Tool:     tool,
			Args:     args,
			ExitCode: exitErr.ExitCode(),
			Output:   captured.String(),
		}
		r.log.Error().Str("tool", tool).Int("exit", toolErr.ExitCode).Msg("tool failed")
		return captured.String(), toolErr
	}
	return captured.String(), fmt.Errorf("failed to run %s: %w", tool, err)
}

func (r *Runner) track(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd.Process != nil {
		r.children[cmd.Process.Pid] = cmd
	}
}

func (r *Runner) untrack(cmd *exec.Cmd) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cmd.Process != nil {
		delete(r.children, cmd.Process.Pid)
	}
}

// Shutdown best-effort terminates every child still running. Called when the
// host process exits; in-flight operations report the kill as a tool failure.
func (r *Runner) Shutdown() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for pid, cmd := range r.children {
		if cmd.Process != nil {
			_ = cmd.Process.Kill()
		}
		delete(r.children, pid)
	}
}
