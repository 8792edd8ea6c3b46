// Command node runs a standalone serial-line-v1 node server, driven by a
// YAML profile describing the manifest and simulated hardware. It stands
// in for the physical nodes the orchestrator and daemonctl connect to
// during development and integration testing.
package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/nodeserver"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/profile"
)

var (
	profilePath string
	listenAddr  string
)

func main() {
	root := &cobra.Command{
		Use:   "node",
		Short: "Run a simulated serial-line-v1 node from a YAML profile",
		RunE:  run,
	}
	root.Flags().StringVar(&profilePath, "profile", "", "path to a node profile YAML file (required)")
	root.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:0", "address to listen on")
	root.MarkFlagRequired("profile")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	fs := profile.DefaultFS()
	p, err := profile.Load(fs, profilePath)
	if err != nil {
		return err
	}

	logger := obs.NewLogger()
	metrics := obs.NewMetrics()
	hw := newSimulatedHardware(p.Manifest, logger)

	srv, err := nodeserver.New(p.Manifest, hw.handlers(), hw.safeStop, logger, metrics)
	if err != nil {
		return fmt.Errorf("building node server: %w", err)
	}

	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", listenAddr, err)
	}
	logger.Info("node listening", "addr", ln.Addr().String(), "node_id", p.Manifest.Device.NodeID)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Serve(ln) }()

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		return ln.Close()
	case err := <-serveErr:
		return err
	}
}

// simulatedHardware backs every declared command with a handler that
// validates argument count and numeric range against the command's own
// spec, then simply records the last call — there is no real actuator
// behind it.
type simulatedHardware struct {
	manifest daemon.Manifest
	logger   obs.Logger

	mu    sync.Mutex
	state map[string][]string
}

func newSimulatedHardware(m daemon.Manifest, logger obs.Logger) *simulatedHardware {
	return &simulatedHardware{manifest: m, logger: logger, state: make(map[string][]string)}
}

func (h *simulatedHardware) handlers() map[string]nodeserver.CommandHandler {
	out := make(map[string]nodeserver.CommandHandler, len(h.manifest.Commands))
	for _, cmd := range h.manifest.Commands {
		cmd := cmd
		out[cmd.Token] = func(args []string) error { return h.handle(cmd, args) }
	}
	return out
}

func (h *simulatedHardware) handle(cmd daemon.CommandSpec, args []string) error {
	if len(args) != len(cmd.Args) {
		return nodeserver.BadArgs(fmt.Sprintf("%s expects %d argument(s), got %d", cmd.Token, len(cmd.Args), len(args)))
	}
	for i, spec := range cmd.Args {
		if err := checkRange(spec, args[i]); err != nil {
			if spec.Type == daemon.ArgFloat || spec.Type == daemon.ArgInt {
				if cmd.Safety.Clamp {
					var v float64
					if _, scanErr := fmt.Sscanf(args[i], "%g", &v); scanErr == nil {
						if spec.Min != nil && v < *spec.Min {
							v = *spec.Min
						}
						if spec.Max != nil && v > *spec.Max {
							v = *spec.Max
						}
						args[i] = fmt.Sprintf("%g", v)
						continue
					}
				}
			}
			return nodeserver.Range(err.Error())
		}
	}

	h.mu.Lock()
	h.state[cmd.Token] = args
	h.mu.Unlock()
	h.logger.Info("simulated run", "token", cmd.Token, "args", strings.Join(args, ","))
	return nil
}

func checkRange(spec daemon.ArgSpec, raw string) error {
	if spec.Type != daemon.ArgFloat && spec.Type != daemon.ArgInt {
		return nil
	}
	var v float64
	if _, err := fmt.Sscanf(raw, "%g", &v); err != nil {
		return fmt.Errorf("%s: not numeric", spec.Name)
	}
	if spec.Min != nil && v < *spec.Min {
		return fmt.Errorf("%s: %v below min %v", spec.Name, v, *spec.Min)
	}
	if spec.Max != nil && v > *spec.Max {
		return fmt.Errorf("%s: %v above max %v", spec.Name, v, *spec.Max)
	}
	return nil
}

// safeStop is the watchdog/STOP handler: it clears every command's
// recorded last-args, mirroring a real actuator returning to idle.
func (h *simulatedHardware) safeStop() error {
	h.mu.Lock()
	h.state = make(map[string][]string)
	h.mu.Unlock()
	return nil
}
