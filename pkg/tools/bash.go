package tools

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// DefaultBashTimeout applies when the model does not pass one
	DefaultBashTimeout = 60 * time.Second
	// MaxBashTimeout caps whatever the model asks for
	MaxBashTimeout = 300 * time.Second
)

// BashOptions configures shell execution
type BashOptions struct {
	// Dir is the working directory, normally the project root so that
	// skill scripts with repo-relative paths resolve.
	Dir string
	// Env holds extra environment variables appended to the parent
	// environment, typically the session id and directory.
	Env []string
	// Timeout bounds the command; zero means DefaultBashTimeout. Values
	// above MaxBashTimeout are clamped.
	Timeout time.Duration
}

// RunBash executes a shell command and renders the outcome as a string for
// the model. It never returns an error: non-zero exits, timeouts, and spawn
// failures all become textual results.
func RunBash(ctx context.Context, command string, opts BashOptions) string {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultBashTimeout
	}
	if timeout > MaxBashTimeout {
		timeout = MaxBashTimeout
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, "/bin/bash", "-c", command)
	cmd.Dir = opts.Dir
	cmd.Env = append(os.Environ(), opts.Env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	log.Debug().Str("command", command).Dur("timeout", timeout).Msg("Executing bash command")

	err := cmd.Run()

	if runCtx.Err() == context.DeadlineExceeded {
		log.Warn().Str("command", command).Msg("Bash command timed out")
		return fmt.Sprintf("Error: Command timed out after %d seconds", int(timeout.Seconds()))
	}

	output := strings.TrimSpace(stdout.String())
	errOutput := strings.TrimSpace(stderr.String())

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			detail := errOutput
			if detail == "" {
				detail = output
			}
			return fmt.Sprintf("Error (exit %d): %s", exitErr.ExitCode(), detail)
		}
		return fmt.Sprintf("Error: %v", err)
	}

	if output == "" {
		return "Command executed successfully (no output)"
	}
	return output
}

// TimeoutFromArgs reads an optional numeric timeout argument in seconds
func TimeoutFromArgs(args map[string]interface{}) time.Duration {
	switch v := args["timeout"].(type) {
	case float64:
		if v > 0 {
			return time.Duration(v * float64(time.Second))
		}
	case int:
		if v > 0 {
			return time.Duration(v) * time.Second
		}
	}
	return 0
}

// BashTool declares the shell tool. The run loop special-cases dispatch for
// this name to thread session environment variables through opts.Env.
func BashTool(opts BashOptions) Definition {
	return Definition{
		Name:        "bash",
		Description: "Execute a bash command. Use for file operations, running scripts, or system commands.",
		Parameters: []Parameter{
			{Name: "command", Type: "string", Description: "The bash command to execute", Required: true},
			{Name: "timeout", Type: "number", Description: "Maximum execution time in seconds (default 60)", Required: false, Default: 60},
		},
		Handler: func(ctx context.Context, args map[string]interface{}) (string, error) {
			command, _ := args["command"].(string)

			callOpts := opts
			if t := TimeoutFromArgs(args); t > 0 {
				callOpts.Timeout = t
			}

			return RunBash(ctx, command, callOpts), nil
		},
	}
}
