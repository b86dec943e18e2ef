package executor_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/qa"
	"github.com/outofforest/shelly/executor"
)

func TestBashRun(t *testing.T) {
	requireT := require.New(t)

	e := executor.New(executor.DefaultConfig())

	out, err := e.Execute(qa.NewContext(t), "bash", json.RawMessage(`{"command":"echo hello"}`))
	requireT.NoError(err)
	requireT.False(out.IsError)
	requireT.Contains(out.Content, "[stdout]\nhello\n")
	requireT.Contains(out.Content, "[exit_code]\n0")
}

func TestBashStderrAndExitCode(t *testing.T) {
	requireT := require.New(t)

	e := executor.New(executor.DefaultConfig())

	out, err := e.Execute(qa.NewContext(t), "bash",
		json.RawMessage(`{"command":"echo oops >&2; exit 3"}`))
	requireT.NoError(err)
	requireT.True(out.IsError)
	requireT.Contains(out.Content, "[stderr]\noops\n")
	requireT.Contains(out.Content, "[exit_code]\n3")
}

func TestBashTimeout(t *testing.T) {
	requireT := require.New(t)

	config := executor.DefaultConfig()
	config.Timeout = 50 * time.Millisecond
	e := executor.New(config)

	start := time.Now()
	out, err := e.Execute(qa.NewContext(t), "bash", json.RawMessage(`{"command":"sleep 10"}`))
	requireT.NoError(err)
	requireT.True(out.IsError)
	requireT.Contains(out.Content, "[timeout]")
	requireT.Less(time.Since(start), 5*time.Second)
}

func TestBashOutputTruncation(t *testing.T) {
	requireT := require.New(t)

	config := executor.DefaultConfig()
	config.MaxOutputBytes = 64
	e := executor.New(config)

	out, err := e.Execute(qa.NewContext(t), "bash",
		json.RawMessage(`{"command":"head -c 1000 /dev/zero | tr '\\0' 'x'"}`))
	requireT.NoError(err)
	requireT.Contains(out.Content, "[truncated]")
	requireT.Less(len(out.Content), 200)
}

func TestBashInvalidInput(t *testing.T) {
	requireT := require.New(t)

	e := executor.New(executor.DefaultConfig())

	_, err := e.Execute(qa.NewContext(t), "bash", json.RawMessage(`not json`))
	requireT.Error(err)
}

func TestUnknownTool(t *testing.T) {
	requireT := require.New(t)

	e := executor.New(executor.DefaultConfig())

	_, err := e.Execute(qa.NewContext(t), "nope", json.RawMessage(`{}`))
	requireT.ErrorIs(err, executor.ErrUnknownTool)

	defs := e.Definitions()
	requireT.Len(defs, 1)
	requireT.Equal("bash", defs[0].Name)
}
