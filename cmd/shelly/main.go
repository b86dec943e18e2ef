package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/outofforest/logger"
	"github.com/outofforest/parallel"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/outofforest/shelly"
	"github.com/outofforest/shelly/agent"
	"github.com/outofforest/shelly/brain"
	"github.com/outofforest/shelly/executor"
	"github.com/outofforest/shelly/memory"
)

func main() {
	serverConfig := shelly.DefaultServerConfig()
	memoryConfig := memory.DefaultConfig()

	rootCmd := &cobra.Command{
		Use:           "shelly",
		Short:         "Autonomous shell agent reachable over UDP",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), serverConfig, memoryConfig)
		},
	}

	rootCmd.Flags().StringVar(&serverConfig.ListenAddr, "listen", serverConfig.ListenAddr,
		"UDP address to listen on")
	rootCmd.Flags().IntVar(&serverConfig.MaxPayloadSize, "max-payload", serverConfig.MaxPayloadSize,
		"maximum request payload size in bytes")
	rootCmd.Flags().IntVar(&serverConfig.DedupCapacity, "dedup-capacity", serverConfig.DedupCapacity,
		"retained request records per peer")
	rootCmd.Flags().DurationVar(&serverConfig.DedupTTL, "dedup-ttl", serverConfig.DedupTTL,
		"lifetime of retained request records")
	rootCmd.Flags().StringVar(&memoryConfig.Path, "journal", memoryConfig.Path,
		"path to the journal database")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx = logger.WithLogger(ctx, logger.New(logger.DefaultConfig))

	if err := rootCmd.ExecuteContext(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Get(ctx).Error("Daemon failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, serverConfig shelly.ServerConfig, memoryConfig memory.Config) error {
	log := logger.Get(ctx)

	brainConfig, err := brain.ConfigFromEnv()
	if err != nil {
		return err
	}

	addr, err := net.ResolveUDPAddr("udp", serverConfig.ListenAddr)
	if err != nil {
		return errors.Wrapf(err, "resolving listen address %q", serverConfig.ListenAddr)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return errors.Wrapf(err, "binding %q", serverConfig.ListenAddr)
	}
	log.Info("Listening", zap.Stringer("addr", conn.LocalAddr()))

	journal, err := memory.Open(memoryConfig)
	if err != nil {
		return err
	}
	defer journal.Close()

	server, requests := shelly.NewServer(conn, serverConfig)
	loop := agent.New(brain.New(brainConfig), executor.New(executor.DefaultConfig()), journal,
		agent.DefaultConfig())

	return parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("server", parallel.Fail, server.Run)
		spawn("agent", parallel.Fail, func(ctx context.Context) error {
			if err := loop.Init(ctx); err != nil {
				logger.Get(ctx).Warn("Startup exploration failed", zap.Error(err))
			}
			return loop.Run(ctx, requests)
		})
		return nil
	})
}
