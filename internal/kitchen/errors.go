package kitchen

import (
	"errors"
	"fmt"
	"strings"
)

// ErrProjectNotFound reports that no current project is selected or that its
// working directory no longer resolves. Operations check this precondition
// before producing any side effects.
var ErrProjectNotFound = errors.New("project not found")

// ToolError records a non-zero exit from an external tool. The merged
// stdout/stderr stream is kept so the operator log can show the tool's own
// diagnostics; the engine adds nothing beyond the argv and exit code.
type ToolError struct {
	Tool     string
	Args     []string
	ExitCode int
	Output   string
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("%s exited with status %d", e.Tool, e.ExitCode)
}

// CommandLine reproduces the invocation for logging.
func (e *ToolError) CommandLine() string {
	return e.Tool + " " + strings.Join(e.Args, " ")
}

// SidecarError reports a required companion file that is absent, e.g. a
// transfer list without its .new.dat or vice versa. The item it refers to is
// left untouched on disk.
type SidecarError struct {
	Item    string
	Missing string
}

func (e *SidecarError) Error() string {
	return fmt.Sprintf("%s: transfer file missing: %s", e.Item, e.Missing)
}

// SizeError reports that the selected partition content does not fit the
// requested super size. Adjusted carries the smallest total, grown in
// quarter-gigabyte steps from Requested, that holds the content; the caller
// must confirm it before the packaging tool is invoked.
type SizeError struct {
	Requested uint64
	Content   uint64
	Adjusted  uint64
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("selected partitions (%d bytes) exceed requested super size %d, adjusted size %d needs confirmation",
		e.Content, e.Requested, e.Adjusted)
}
