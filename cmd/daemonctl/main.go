// Command daemonctl is a read-only inspection tool for a fleet of
// serial-line-v1 nodes: it connects (HELLO only, never RUN) and prints
// what each node reports.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/vedpanse/daemon/internal/cliout"
	"github.com/vedpanse/daemon/internal/config"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/orchestrator"
)

var (
	cfgFile   string
	nodeFlags []string
	timeout   float64
)

func main() {
	root := &cobra.Command{
		Use:   "daemonctl",
		Short: "Inspect a fleet of hardware nodes without commanding them",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.PersistentFlags().StringArrayVar(&nodeFlags, "node", nil, "ALIAS=HOST:PORT, repeatable")
	root.PersistentFlags().Float64Var(&timeout, "timeout", 0, "HELLO timeout in seconds (default 7)")

	root.AddCommand(statusCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect to every configured node and print its reported identity and commands",
		RunE:  runStatus,
	}
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	for _, raw := range nodeFlags {
		n, err := config.ParseNodeFlag(raw)
		if err != nil {
			return err
		}
		cfg.Nodes = append(cfg.Nodes, n)
	}
	if timeout > 0 {
		cfg.ConnectTimeoutSeconds = timeout
	}
	if err := config.Validate(cfg); err != nil {
		return err
	}

	logger := obs.NewLogger()
	logger.SetLevel(cfg.LogLevel)

	targets := make([]orchestrator.NodeTarget, len(cfg.Nodes))
	for i, n := range cfg.Nodes {
		targets[i] = orchestrator.NodeTarget{Alias: n.Alias, Host: n.Host, Port: n.Port}
	}

	// No planner URL and telemetry disabled: this is a HELLO-only
	// connect, identical in shape to the orchestrator's but never
	// issuing RUN.
	orch := orchestrator.New(targets, cfg.ConnectTimeoutSeconds, cfg.StepTimeoutSeconds, "", false, logger)

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.ConnectTimeoutSeconds*float64(len(targets)+1))*time.Second)
	defer cancel()
	orch.ConnectAll(ctx)
	defer orch.CloseAll(context.Background())

	cliout.PrintTable(cmd.OutOrStdout(), cliout.NewFleetTable(orch.StatusNodes()))
	return nil
}
