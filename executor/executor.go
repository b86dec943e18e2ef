// Package executor runs the tools the model may call.
package executor

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/outofforest/shelly/brain"
)

// ErrUnknownTool is reported when the requested tool is not registered.
var ErrUnknownTool = errors.New("unknown tool")

// Output is the result of one tool run.
type Output struct {
	Content string
	IsError bool
}

// Tool is a runnable tool.
type Tool interface {
	Definition() brain.ToolDefinition
	Run(ctx context.Context, input json.RawMessage) (Output, error)
}

// Config defines executor configuration.
type Config struct {
	// Shell is the shell binary commands run under.
	Shell string
	// Timeout bounds a single tool run.
	Timeout time.Duration
	// MaxOutputBytes caps captured output; longer output is truncated.
	MaxOutputBytes int
}

// DefaultConfig returns the default executor configuration.
func DefaultConfig() Config {
	return Config{
		Shell:          "/bin/sh",
		Timeout:        30 * time.Second,
		MaxOutputBytes: 1 << 20,
	}
}

// Executor is the tool registry.
type Executor struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// New creates an executor with the bash tool registered.
func New(config Config) *Executor {
	e := &Executor{tools: map[string]Tool{}}
	e.Register(NewBashTool(config))
	return e
}

// Register adds a tool, replacing a previous one of the same name.
func (e *Executor) Register(tool Tool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tools[tool.Definition().Name] = tool
}

// Definitions returns the definitions of all registered tools.
func (e *Executor) Definitions() []brain.ToolDefinition {
	e.mu.RLock()
	defer e.mu.RUnlock()

	defs := make([]brain.ToolDefinition, 0, len(e.tools))
	for _, tool := range e.tools {
		defs = append(defs, tool.Definition())
	}
	return defs
}

// Execute runs the named tool.
func (e *Executor) Execute(ctx context.Context, name string, input json.RawMessage) (Output, error) {
	e.mu.RLock()
	tool, exists := e.tools[name]
	e.mu.RUnlock()

	if !exists {
		return Output{}, errors.Wrapf(ErrUnknownTool, "%q", name)
	}
	return tool.Run(ctx, input)
}
