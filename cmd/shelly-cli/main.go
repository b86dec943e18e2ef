package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/chzyer/readline"
	"github.com/outofforest/logger"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/outofforest/shelly"
)

func main() {
	clientConfig := shelly.DefaultClientConfig()

	rootCmd := &cobra.Command{
		Use:           "shelly-cli",
		Short:         "Interactive console for a shelly daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), clientConfig)
		},
	}

	rootCmd.Flags().StringVar(&clientConfig.Target, "target", clientConfig.Target,
		"daemon address")
	rootCmd.Flags().DurationVar(&clientConfig.AckTimeout, "ack-timeout", clientConfig.AckTimeout,
		"time to wait for a delivery acknowledgement")
	rootCmd.Flags().DurationVar(&clientConfig.ResultTimeout, "result-timeout", clientConfig.ResultTimeout,
		"time to wait for a result after delivery")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithLogger(ctx, logger.New(logger.DefaultConfig))

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, config shelly.ClientConfig) error {
	client, err := shelly.NewClient(config)
	if err != nil {
		return err
	}
	defer client.Close()

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "> ",
		HistoryFile:     historyPath(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return errors.WithStack(err)
	}
	defer rl.Close()

	fmt.Printf("Connected to %s. Ctrl-D to exit.\n", config.Target)

	for {
		line, err := rl.Readline()
		switch {
		case errors.Is(err, readline.ErrInterrupt):
			continue
		case errors.Is(err, io.EOF):
			return nil
		case err != nil:
			return errors.WithStack(err)
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		result, err := client.Do(ctx, line)
		switch {
		case err != nil:
			fmt.Println("[error]", err)
		case result.IsError:
			fmt.Println("[error]", result.Content)
		default:
			fmt.Println(result.Content)
		}
	}
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".shelly_history")
}
