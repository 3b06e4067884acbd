package system

import (
	"bytes"
	"context"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
	"gitlab.com/tozd/go/errors"
)

// PowerShell is the shell used to drive the Hyper-V and Storage cmdlets
const PowerShell = "powershell.exe"

// Executor handles execution of external commands
type Executor struct {
	debug bool
}

// NewExecutor creates a new executor
func NewExecutor(debug bool) *Executor {
	return &Executor{
		debug: debug,
	}
}

// RunOutput executes a command and returns stdout
func (e *Executor) RunOutput(ctx context.Context, name string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	return e.RunCmd(ctx, cmd)
}

// RunPowerShell runs a script non-interactively and returns its trimmed stdout
func (e *Executor) RunPowerShell(ctx context.Context, script string) (string, error) {
	// Stop on the first cmdlet error so failures surface as a non-zero exit
	script = "$ErrorActionPreference = 'Stop'; " + script
	out, err := e.RunOutput(ctx, PowerShell,
		"-NoProfile", "-NonInteractive", "-ExecutionPolicy", "Bypass", "-Command", script)
	return strings.TrimSpace(out), err
}

// RunCmd executes a prepared command
func (e *Executor) RunCmd(ctx context.Context, cmd *exec.Cmd) (string, error) {
	logger := zerolog.Ctx(ctx)
	if e.debug {
		logger.Debug().Str("command", cmd.String()).Msg("executing")
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	if err != nil {
		return "", errors.Errorf("%s failed: %w\nStderr: %s",
			cmd.Args[0], err, strings.TrimSpace(stderr.String()))
	}

	if e.debug {
		logger.Debug().Str("stdout", strings.TrimSpace(stdout.String())).Msg("command finished")
	}
	return stdout.String(), nil
}

// CommandExists checks if a command is available in PATH
func (e *Executor) CommandExists(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// CheckDependencies verifies required commands are available
func (e *Executor) CheckDependencies(deps []string) error {
	var missing []string
	for _, dep := range deps {
		if !e.CommandExists(dep) {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return errors.Errorf("missing required commands: %s",
			strings.Join(missing, ", "))
	}
	return nil
}

// QuotePS quotes s as a PowerShell single-quoted string literal
func QuotePS(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
