// Command orchestrator connects to a configured fleet of serial-line-v1
// nodes, exposes the HTTP bridge, and executes either a single
// instruction (one-shot mode) or serves indefinitely until interrupted.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vedpanse/daemon/internal/bridge"
	"github.com/vedpanse/daemon/internal/config"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/orchestrator"
	"github.com/vedpanse/daemon/internal/validate"
)

var (
	cfgFile     string
	nodeFlags   []string
	plannerURL  string
	telemetry   bool
	instruction string
	timeout     float64
	stepTimeout float64
	httpHost    string
	httpPort    int
	visionURL   string
)

func main() {
	root := &cobra.Command{
		Use:           "orchestrator",
		Short:         "Connect to a fleet of hardware nodes and execute or serve plans",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}

	root.Flags().StringVar(&cfgFile, "config", "", "path to a YAML config file")
	root.Flags().StringArrayVar(&nodeFlags, "node", nil, "ALIAS=HOST:PORT, repeatable")
	root.Flags().StringVar(&plannerURL, "planner-url", "", "instruction planner HTTP endpoint (empty uses the built-in fallback planner)")
	root.Flags().BoolVar(&telemetry, "telemetry", false, "subscribe to and print node telemetry")
	root.Flags().StringVar(&instruction, "instruction", "", "run one instruction through the planner and exit (one-shot mode)")
	root.Flags().Float64Var(&timeout, "timeout", 0, "connect/HELLO timeout in seconds (default 7)")
	root.Flags().Float64Var(&stepTimeout, "step-timeout", 0, "RUN/STOP timeout in seconds (default 4)")
	root.Flags().StringVar(&httpHost, "http-host", "", "HTTP bridge bind host (default 0.0.0.0)")
	root.Flags().IntVar(&httpPort, "http-port", 0, "HTTP bridge bind port, 0 disables the bridge (default 8765)")
	root.Flags().StringVar(&visionURL, "vision-url", "", "upstream vision-brain URL for /pi_vision_step")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
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
	if plannerURL != "" {
		cfg.PlannerURL = plannerURL
	}
	if telemetry {
		cfg.EnableTelemetry = true
	}
	if instruction != "" {
		cfg.Instruction = instruction
	}
	if timeout > 0 {
		cfg.ConnectTimeoutSeconds = timeout
	}
	if stepTimeout > 0 {
		cfg.StepTimeoutSeconds = stepTimeout
	}
	if httpHost != "" {
		cfg.HTTPHost = httpHost
	}
	if cmd.Flags().Changed("http-port") {
		cfg.HTTPPort = httpPort
	}
	if visionURL != "" {
		cfg.VisionURL = visionURL
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

	orch := orchestrator.New(targets, cfg.ConnectTimeoutSeconds, cfg.StepTimeoutSeconds, cfg.PlannerURL, cfg.EnableTelemetry, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	orch.ConnectAll(ctx)
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer stopCancel()
		orch.Executor().EmergencyStop(stopCtx, "")
		orch.CloseAll(stopCtx)
	}()

	if cfg.Instruction != "" {
		return runOneShot(ctx, orch, cfg.Instruction, logger)
	}

	return serve(ctx, orch, cfg, logger)
}

// runOneShot plans and executes a single instruction, then returns —
// there is no HTTP bridge in this mode.
func runOneShot(ctx context.Context, orch *orchestrator.Orchestrator, instruction string, logger obs.Logger) error {
	correlationID := obs.NewCorrelationID("cli")
	plan := orch.MakePlan(ctx, instruction, correlationID)
	if err := validate.Plan(orch.Catalog(), &plan); err != nil {
		return fmt.Errorf("generated plan failed validation: %w", err)
	}
	if err := orch.Executor().ExecutePlan(ctx, plan, correlationID); err != nil {
		return fmt.Errorf("plan execution failed: %w", err)
	}
	logger.Info("instruction executed", "correlation_id", correlationID, "steps", len(plan.Steps))
	return nil
}

// serve runs the HTTP bridge (if a port is configured) until SIGINT/SIGTERM.
func serve(ctx context.Context, orch *orchestrator.Orchestrator, cfg *config.Config, logger obs.Logger) error {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if cfg.HTTPPort == 0 {
		logger.Info("HTTP bridge disabled, idling until interrupted")
		<-sigCh
		return nil
	}

	b := bridge.New(orch, logger, orch.Metrics, cfg.VisionURL).WithRedisTelemetry(cfg.RedisTelemetryAddr)
	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	srv := &http.Server{Addr: addr, Handler: b.Router()}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP bridge listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
