package tooling

import (
	"context"
	"errors"
	"runtime"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/romforge/go-romkitchen/internal/kitchen"
)

func newTestRunner() *Runner {
	return NewRunner("", zerolog.Nop())
}

func TestRunCapturesOutput(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	r := newTestRunner()
	out, err := r.RunOutput(context.Background(), "sh", "-c", "echo building; echo done 1>&2")
	require.NoError(t, err)
	assert.Contains(t, out, "building")
	assert.Contains(t, out, "done")
}

func TestRunNonZeroExitIsToolError(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	r := newTestRunner()
	err := r.Run(context.Background(), "sh", "-c", "echo broken image; exit 3")

	var toolErr *kitchen.ToolError
	require.True(t, errors.As(err, &toolErr))
	assert.Equal(t, 3, toolErr.ExitCode)
	assert.Equal(t, "sh", toolErr.Tool)
	assert.Contains(t, toolErr.Output, "broken image")
}

func TestRunMissingTool(t *testing.T) {
	r := newTestRunner()
	err := r.Run(context.Background(), "definitely-not-a-real-tool-9000")
	require.Error(t, err)

	var toolErr *kitchen.ToolError
	assert.False(t, errors.As(err, &toolErr))
}

func TestRunnerTracksNoChildrenAfterExit(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("relies on sh")
	}
	r := newTestRunner()
	require.NoError(t, r.Run(context.Background(), "sh", "-c", "true"))
	r.mu.Lock()
	defer r.mu.Unlock()
	assert.Empty(t, r.children)
}
