// Package agent is the orchestrator: it consumes requests handed over by
// the transport layer, reasons about them with the brain and the tools, and
// resolves each reply slot exactly once.
package agent

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/outofforest/logger"
	"github.com/outofforest/shelly"
	"github.com/outofforest/shelly/brain"
	"github.com/outofforest/shelly/executor"
)

// Inferencer is the part of the brain the loop needs.
type Inferencer interface {
	Model() string
	MaxTokens() int
	Infer(ctx context.Context, req brain.Request) (*brain.Response, error)
}

// Tools is the part of the executor the loop needs.
type Tools interface {
	Definitions() []brain.ToolDefinition
	Execute(ctx context.Context, name string, input json.RawMessage) (executor.Output, error)
}

// Journal records notable events.
type Journal interface {
	Append(ctx context.Context, kind, content string) error
}

// Config defines agent configuration.
type Config struct {
	// SystemPrompt is sent with every inference.
	SystemPrompt string
	// InitPrompt drives the exploration run at startup.
	InitPrompt string
	// MaxToolRounds bounds tool use per request.
	MaxToolRounds int
	// HandleTimeout bounds the handling of one request.
	HandleTimeout time.Duration
	// InitTimeout bounds the startup exploration.
	InitTimeout time.Duration
}

// DefaultConfig returns the default agent configuration.
func DefaultConfig() Config {
	return Config{
		SystemPrompt: `You are Shelly, a system daemon running on this machine.
You are helpful, cautious, and thorough. You prefer to observe and understand before acting.
When you need to perform operations, use the tools available to you.
Always explain your reasoning before taking actions that could have side effects.`,
		InitPrompt: `You just started. Explore your environment:
- Check system metadata (hostname, OS version)
- Check disk usage
- Check network status

Use the tools available to you. Report what you find.`,
		MaxToolRounds: 20,
		HandleTimeout: 5 * time.Minute,
		InitTimeout:   2 * time.Minute,
	}
}

// Loop is the orchestration loop.
type Loop struct {
	brain   Inferencer
	tools   Tools
	journal Journal
	config  Config
}

// New creates new loop.
func New(brain Inferencer, tools Tools, journal Journal, config Config) *Loop {
	return &Loop{
		brain:   brain,
		tools:   tools,
		journal: journal,
		config:  config,
	}
}

// Init runs the startup exploration once.
func (l *Loop) Init(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, l.config.InitTimeout)
	defer cancel()

	answer, err := l.converse(ctx, l.config.InitPrompt)
	if err != nil {
		return err
	}

	l.record(ctx, "init", answer)
	return nil
}

// Run consumes requests until the context is cancelled. Requests are
// handled one at a time.
func (l *Loop) Run(ctx context.Context, requests <-chan shelly.UserRequest) error {
	for {
		select {
		case <-ctx.Done():
			return errors.WithStack(ctx.Err())
		case req := <-requests:
			l.handle(ctx, req)
		}
	}
}

func (l *Loop) handle(ctx context.Context, req shelly.UserRequest) {
	log := logger.Get(ctx)
	log.Info("Handling request",
		zap.Stringer("peer", req.Peer), zap.Int("contentLen", len(req.Content)))

	ctx, cancel := context.WithTimeout(ctx, l.config.HandleTimeout)
	defer cancel()

	answer, err := l.converse(ctx, req.Content)
	if err != nil {
		log.Error("Request handling failed", zap.Stringer("peer", req.Peer), zap.Error(err))
		l.record(ctx, "error", err.Error())
		req.Reply <- shelly.UserResponse{Content: err.Error(), IsError: true}
		return
	}

	req.Reply <- shelly.UserResponse{Content: answer}
}

// converse runs one conversation: inference, then tool rounds until the
// model stops asking for tools or the round budget is spent.
func (l *Loop) converse(ctx context.Context, content string) (string, error) {
	defs := l.tools.Definitions()
	messages := []brain.Message{brain.UserText(content)}

	for range l.config.MaxToolRounds {
		resp, err := l.brain.Infer(ctx, brain.Request{
			Model:     l.brain.Model(),
			MaxTokens: l.brain.MaxTokens(),
			System:    l.config.SystemPrompt,
			Messages:  messages,
			Tools:     defs,
		})
		if err != nil {
			return "", err
		}

		uses := resp.ToolUses()
		if len(uses) == 0 {
			return resp.Text(), nil
		}

		messages = append(messages, brain.Message{Role: brain.RoleAssistant, Content: resp.Content})
		messages = append(messages, l.runTools(ctx, uses))
	}

	return "", errors.Errorf("tool round budget of %d exhausted", l.config.MaxToolRounds)
}

func (l *Loop) runTools(ctx context.Context, uses []brain.ContentBlock) brain.Message {
	log := logger.Get(ctx)

	results := make([]brain.ContentBlock, 0, len(uses))
	for _, use := range uses {
		out, err := l.tools.Execute(ctx, use.Name, use.Input)
		if err != nil {
			log.Error("Tool execution failed", zap.String("tool", use.Name), zap.Error(err))
			l.record(ctx, "error", use.Name+": "+err.Error())
			results = append(results, brain.ToolResultBlock(use.ID, "Error: "+err.Error(), true))
			continue
		}

		l.record(ctx, "tool_result", use.Name+": "+out.Content)
		results = append(results, brain.ToolResultBlock(use.ID, out.Content, out.IsError))
	}

	return brain.Message{Role: brain.RoleUser, Content: results}
}

// record journals an event; a failing journal is logged, never fatal.
func (l *Loop) record(ctx context.Context, kind, content string) {
	if err := l.journal.Append(ctx, kind, content); err != nil {
		logger.Get(ctx).Warn("Journal append failed", zap.String("kind", kind), zap.Error(err))
	}
}
