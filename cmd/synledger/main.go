package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/SynergyChain/synledger-core/core"
	"github.com/SynergyChain/synledger-core/node"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "command failed %v\n", err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	c := &cobra.Command{
		Use:           "synledger",
		Short:         "Runs a Proof of Synergy ledger node",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	AddLogFlags(c.PersistentFlags())
	c.AddCommand(runCommand(), keygenCommand())
	return c
}

func runCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "run",
		Short: "Starts the node and produces a block every interval",
		RunE:  runFunc,
	}
	AddFlags(c.Flags())
	return c
}

func runFunc(c *cobra.Command, args []string) error {
	logCfg, err := ParseLogFlags(c.Flags())
	if err != nil {
		return err
	}
	log := newLogger(os.Stderr, logCfg)
	slog.SetDefault(log)

	cfg, err := ParseFlags(c.Flags(), args)
	if err != nil {
		return err
	}
	n, err := node.New(*cfg, log)
	if err != nil {
		return err
	}
	log.Info("Starting node", "id", cfg.NodeID, "listen", cfg.ListenAddr, "api", cfg.APIAddr, "peers", len(cfg.Peers))
	return n.Run(c.Context())
}

func keygenCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generates a base58 encoded signing key pair",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			keys, err := core.GenerateKeyPair()
			if err != nil {
				return err
			}
			fmt.Fprintf(c.OutOrStdout(), "public:  %s\nprivate: %s\n", keys.PublicKey, keys.PrivateKey)
			return nil
		},
	}
}

func newLogger(w io.Writer, cfg *LogConfig) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.Level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
