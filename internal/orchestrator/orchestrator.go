// Package orchestrator ties sessions, the catalog, the executor, and the
// planner together into the single object the CLI and the HTTP bridge
// both drive: connect_all/close_all, the merged manifest, and the
// telemetry snapshot.
package orchestrator

import (
	"context"
	"sort"
	"time"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/executor"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/planner"
	"github.com/vedpanse/daemon/internal/protocol"
	"github.com/vedpanse/daemon/internal/resilience"
	"github.com/vedpanse/daemon/internal/session"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// NodeTarget is one --node ALIAS=HOST:PORT entry from the CLI surface.
type NodeTarget struct {
	Alias string
	Host  string
	Port  int
}

// Orchestrator is the process-wide fleet: one session per configured
// node, the catalog built over them, the executor, and the planner
// adapter. Its exported accessors (Catalog, Executor, MergedManifest,
// TelemetrySnapshot, StatusNodes) satisfy bridge.Fleet.
type Orchestrator struct {
	sessions []*session.Session
	catalog  *catalog.Catalog
	client   *protocol.Client
	executor *executor.Executor
	planner  *planner.Adapter

	Logger         obs.Logger
	Metrics        *obs.Metrics
	TracerProvider *sdktrace.TracerProvider

	EnableTelemetry bool
}

// New builds an Orchestrator for the given targets, wiring every
// component but not yet connecting any socket. connectTimeout/stepTimeout
// are in seconds, matching the CLI surface's --timeout/--step-timeout.
func New(targets []NodeTarget, connectTimeout, stepTimeout float64, plannerURL string, enableTelemetry bool, logger obs.Logger) *Orchestrator {
	sessions := make([]*session.Session, len(targets))
	for i, tgt := range targets {
		s := session.New(tgt.Alias, tgt.Host, tgt.Port, logger)
		s.SetPrintTelemetry(enableTelemetry)
		sessions[i] = s
	}

	cat := catalog.New(sessions)
	client := protocol.New(logger)
	if connectTimeout > 0 {
		client.ConnectTimeout = time.Duration(connectTimeout * float64(time.Second))
	}
	if stepTimeout > 0 {
		client.StepTimeout = time.Duration(stepTimeout * float64(time.Second))
	}

	metrics := obs.NewMetrics()
	tp := obs.NewTracerProvider()
	tracer := obs.Tracer(tp, "daemon/orchestrator")

	ex := executor.New(cat, client, logger, metrics, tracer)
	pl := planner.New(plannerURL, logger)

	return &Orchestrator{
		sessions:        sessions,
		catalog:         cat,
		client:          client,
		executor:        ex,
		planner:         pl,
		Logger:          logger,
		Metrics:         metrics,
		TracerProvider:  tp,
		EnableTelemetry: enableTelemetry,
	}
}

// Catalog returns the fleet's command catalog.
func (o *Orchestrator) Catalog() *catalog.Catalog { return o.catalog }

// Executor returns the fleet's plan executor.
func (o *Orchestrator) Executor() *executor.Executor { return o.executor }

// Planner returns the instruction planner adapter.
func (o *Orchestrator) Planner() *planner.Adapter { return o.planner }

// Sessions returns every configured session in declaration order.
func (o *Orchestrator) Sessions() []*session.Session { return o.sessions }

// ConnectAll dials every session, learns its manifest, and (if enabled)
// subscribes to telemetry, retrying each node a bounded number of times
// before recording it as disconnected. A node that never comes up is
// left disconnected: the catalog is rebuilt from the connected subset
// and the fleet runs in degraded mode rather than aborting outright.
func (o *Orchestrator) ConnectAll(ctx context.Context) {
	for _, s := range o.sessions {
		s := s
		err := resilience.Retry(ctx, resilience.DefaultRetryConfig(), func() error {
			return o.connectOne(ctx, s)
		})
		if err != nil && o.Logger != nil {
			o.Logger.Warn("connect failed, node left disconnected (degraded mode)", "alias", s.Alias, "cause", err)
		}
	}
	o.catalog.Rebuild()
	if o.Metrics != nil {
		o.Metrics.NodesConnected.Set(float64(o.connectedCount()))
	}
}

func (o *Orchestrator) connectOne(ctx context.Context, s *session.Session) error {
	if err := s.Dial(ctx); err != nil {
		return err
	}
	if _, err := o.client.Hello(ctx, s); err != nil {
		s.Close()
		return err
	}
	if o.EnableTelemetry {
		if err := o.client.SubTelemetry(ctx, s); err != nil {
			s.Close()
			return err
		}
	}
	if o.Logger != nil {
		m := s.Manifest()
		tokens := make([]string, 0, len(m.Commands))
		for _, c := range m.Commands {
			tokens = append(tokens, c.Token)
		}
		o.Logger.Info("connected", "alias", s.Alias, "node_name", s.NodeName(), "node_id", s.NodeID(), "commands", tokens)
	}
	return nil
}

func (o *Orchestrator) connectedCount() int {
	n := 0
	for _, s := range o.sessions {
		if s.Connected() {
			n++
		}
	}
	return n
}

// CloseAll shuts down every session, best-effort unsubscribing telemetry
// first (never blocking shutdown waiting on a wedged node).
func (o *Orchestrator) CloseAll(ctx context.Context) {
	for _, s := range o.sessions {
		if !s.Connected() {
			continue
		}
		if s.Subscribed() {
			unsubCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
			_ = o.client.UnsubTelemetry(unsubCtx, s)
			cancel()
		}
		s.Close()
	}
}

// MergedManifest mirrors merged_manifest(): {daemon_version, nodes: [
// {name=alias, node_id, display_name, commands, telemetry, services?}
// ]}, plus a "catalog" summary of the qualified and unqualified token
// lists. name is always the orchestrator alias, never the device's own
// name, so plans shipped to a planner always address nodes by the
// operator's stable label.
func (o *Orchestrator) MergedManifest() map[string]interface{} {
	nodes := make([]map[string]interface{}, 0, len(o.sessions))
	for _, s := range o.sessions {
		m := s.Manifest()
		node := map[string]interface{}{
			"name":         s.Alias,
			"node_id":      m.Device.NodeID,
			"display_name": m.Device.Name,
			"commands":     m.Commands,
			"telemetry":    m.Telemetry,
		}
		if len(m.Services) > 0 {
			node["services"] = m.Services
		}
		nodes = append(nodes, node)
	}
	return map[string]interface{}{
		"daemon_version": "0.1",
		"nodes":          nodes,
		"catalog": map[string]interface{}{
			"qualified":   o.catalog.QualifiedTokens(),
			"unqualified": o.catalog.UnqualifiedTokens(),
		},
	}
}

// TelemetrySnapshot mirrors telemetry_snapshot(): each alias's latest
// key->value telemetry map.
func (o *Orchestrator) TelemetrySnapshot() map[string]interface{} {
	out := make(map[string]interface{}, len(o.sessions))
	for _, s := range o.sessions {
		snap := s.TelemetrySnapshot()
		m := make(map[string]interface{}, len(snap))
		for k, v := range snap {
			m[k] = v
		}
		out[s.Alias] = m
	}
	return out
}

// StatusNodes lists every configured node's connectivity and identity,
// in declaration order, for /status.
func (o *Orchestrator) StatusNodes() []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(o.sessions))
	for _, s := range o.sessions {
		m := s.Manifest()
		tokens := make([]string, 0, len(m.Commands))
		for _, c := range m.Commands {
			tokens = append(tokens, c.Token)
		}
		sort.Strings(tokens)
		out = append(out, map[string]interface{}{
			"alias":     s.Alias,
			"connected": s.Connected(),
			"node_name": s.NodeName(),
			"node_id":   s.NodeID(),
			"commands":  tokens,
		})
	}
	return out
}

// MakePlan delegates an instruction to the planner adapter, supplying
// the current merged manifest and telemetry snapshot as context.
func (o *Orchestrator) MakePlan(ctx context.Context, instruction, correlationID string) daemon.Plan {
	return o.planner.MakePlan(ctx, instruction, o.MergedManifest(), o.TelemetrySnapshot(), correlationID)
}
