package main

import (
	"context"
	"fmt"
	"math/big"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cosmossdk.io/log"
	"github.com/spf13/cobra"

	"github.com/agentc22/mega-rally/internal/config"
	"github.com/agentc22/mega-rally/internal/jobs"
	"github.com/agentc22/mega-rally/internal/ledger"
	"github.com/agentc22/mega-rally/internal/relay"
	"github.com/agentc22/mega-rally/internal/sequencer"
	"github.com/agentc22/mega-rally/internal/session"
)

const dialTimeout = 30 * time.Second

func registerFlags(cmd *cobra.Command) {
	config.RegisterFlags(cmd.Flags())
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(cmd.Flags())
	if err != nil {
		return err
	}

	filter, err := log.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("parse log level %q: %w", cfg.LogLevel, err)
	}
	logger := log.NewLogger(os.Stderr, log.FilterOption(filter))

	ctx, cancel := context.WithTimeout(cmd.Context(), dialTimeout)
	defer cancel()
	lc, err := ledger.Dial(ctx, cfg.RPCURL, cfg.ContractAddress(), cfg.PrivateKey, big.NewInt(cfg.ChainID), logger)
	if err != nil {
		return err
	}
	defer lc.Close()

	logger.Info("ledger connected",
		"rpc", cfg.RPCURL, "chain_id", cfg.ChainID,
		"contract", cfg.ContractAddress().Hex(),
		"operator", lc.Operator().Hex())
	if balance, err := lc.OperatorBalance(ctx); err != nil {
		logger.Error("read operator balance", "err", err)
	} else {
		logger.Info("operator balance", "wei", balance)
	}

	seq := sequencer.New(logger, sequencer.DefaultTimeout)
	if err := seq.Start(); err != nil {
		return fmt.Errorf("start sequencer: %w", err)
	}
	defer func() { _ = seq.Stop() }()

	registry := session.NewRegistry(logger, lc, seq)

	minBalance, err := cfg.MinBalance()
	if err != nil {
		return err
	}
	reconciler := jobs.NewReconciler(logger, jobs.Config{MinBalance: minBalance}, registry, lc, seq)
	if err := reconciler.Start(); err != nil {
		return fmt.Errorf("start reconciler: %w", err)
	}
	defer func() { _ = reconciler.Stop() }()

	srv := relay.NewServer(logger, relay.Config{
		Listen:            cfg.Listen,
		MaxConns:          cfg.MaxConns,
		MaxConnsPerOrigin: cfg.MaxConnsPerOrigin,
		TrustProxyHeader:  cfg.TrustProxyHeader,
	}, registry)
	if err := srv.Start(); err != nil {
		return fmt.Errorf("start relay server: %w", err)
	}
	defer func() { _ = srv.Stop() }()

	// Wait for signal.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("shutting down", "signal", sig.String())
	return nil
}
