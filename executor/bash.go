package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/shelly/brain"
)

const bashDescription = `Execute a shell command.
The system is Linux. Commands run with daemon process privileges.
Stdout and stderr are captured. Exit code is returned.`

var bashInputSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"command": {
			"type": "string",
			"description": "The shell command to execute"
		}
	},
	"required": ["command"]
}`)

type bashInput struct {
	Command string `json:"command"`
}

// BashTool runs shell commands.
type BashTool struct {
	config Config
}

// NewBashTool creates the bash tool.
func NewBashTool(config Config) *BashTool {
	return &BashTool{config: config}
}

// Definition implements Tool.
func (t *BashTool) Definition() brain.ToolDefinition {
	return brain.ToolDefinition{
		Name:        "bash",
		Description: bashDescription,
		InputSchema: bashInputSchema,
	}
}

// Run implements Tool. The command runs under the configured shell with a
// timeout; captured output is truncated at the configured cap.
func (t *BashTool) Run(ctx context.Context, input json.RawMessage) (Output, error) {
	var in bashInput
	if err := json.Unmarshal(input, &in); err != nil {
		return Output{}, errors.Wrap(err, "invalid bash input")
	}

	log := logger.Get(ctx)
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, t.config.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, t.config.Shell, "-c", in.Command)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()

	exitCode := 0
	switch {
	case ctx.Err() == context.DeadlineExceeded:
		exitCode = -1
	case runErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return Output{}, errors.Wrapf(runErr, "spawning %q failed", in.Command)
		}
		exitCode = exitErr.ExitCode()
	}

	var content string
	if stdout.Len() > 0 {
		content += "[stdout]\n" + stdout.String()
	}
	if stderr.Len() > 0 {
		if content != "" {
			content += "\n"
		}
		content += "[stderr]\n" + stderr.String()
	}
	if len(content) > t.config.MaxOutputBytes {
		content = content[:t.config.MaxOutputBytes] + "\n[truncated]"
	}
	if ctx.Err() == context.DeadlineExceeded {
		if content != "" {
			content += "\n"
		}
		content += fmt.Sprintf("[timeout]\ncommand did not finish within %s", t.config.Timeout)
	}
	content += fmt.Sprintf("\n[exit_code]\n%d", exitCode)

	log.Info("Bash command executed",
		zap.String("command", truncate(in.Command, 100)),
		zap.Duration("duration", time.Since(start)),
		zap.Int("exitCode", exitCode),
		zap.Int("outputBytes", len(content)))

	return Output{Content: content, IsError: exitCode != 0}, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
