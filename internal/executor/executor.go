// Package executor implements sequential plan execution (component F):
// RUN steps are sent and, when timed, followed by a STOP after sleeping;
// STOP steps and any step failure trigger an emergency stop across every
// session. Only one plan (or emergency stop) runs at a time per process.
package executor

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/protocol"

	"go.opentelemetry.io/otel/trace"
)

// emergencyStopTimeout bounds each node's STOP call during an emergency
// stop sweep; a slow or wedged node must not hold up the rest of the
// fleet.
const emergencyStopTimeout = 2500 * time.Millisecond

// Executor ties a catalog and protocol client together under a single
// process-wide execution mutex, sequencing Run and Stop.
type Executor struct {
	Catalog *catalog.Catalog
	Client  *protocol.Client
	Logger  obs.Logger
	Metrics *obs.Metrics
	Tracer  trace.Tracer

	running chan struct{} // 1-buffered semaphore: the execution mutex
}

// New returns an Executor ready to run plans against cat.
func New(cat *catalog.Catalog, client *protocol.Client, logger obs.Logger, metrics *obs.Metrics, tracer trace.Tracer) *Executor {
	e := &Executor{Catalog: cat, Client: client, Logger: logger, Metrics: metrics, Tracer: tracer, running: make(chan struct{}, 1)}
	e.running <- struct{}{}
	return e
}

// acquire blocks until the execution mutex is free, honoring ctx
// cancellation while waiting.
func (e *Executor) acquire(ctx context.Context) error {
	select {
	case <-e.running:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Executor) release() { e.running <- struct{}{} }

// ExecutePlan runs every step of p in order under the execution mutex.
// p must already have passed validate.Plan. correlationID is attached to
// every log line and trace span for this run.
func (e *Executor) ExecutePlan(ctx context.Context, p daemon.Plan, correlationID string) error {
	if err := e.acquire(ctx); err != nil {
		return err
	}
	defer e.release()

	ctx, span := e.startSpan(ctx, "execute_plan", correlationID)
	defer span.End()

	for i, step := range p.Steps {
		if err := e.runStep(ctx, i, step, correlationID); err != nil {
			e.emergencyStopLocked(ctx, correlationID)
			return fmt.Errorf("step[%d] failed: %w; panic STOP sent", i, err)
		}
	}
	if e.Metrics != nil {
		e.Metrics.PlansExecuted.Inc()
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, i int, step daemon.Step, correlationID string) error {
	if step.Type == daemon.StepStop {
		e.emergencyStopLocked(ctx, correlationID)
		return nil
	}

	s, cmd, err := e.Catalog.Resolve(step.Target, step.Token)
	if err != nil {
		return err
	}

	args := make([]string, len(step.Args))
	for argIdx, a := range step.Args {
		args[argIdx] = canonicalArg(a)
	}

	if e.Logger != nil {
		e.Logger.Info("run_step", "correlation_id", correlationID, "alias", s.Alias, "token", cmd.Token, "step", i)
	}
	if err := e.Client.Run(ctx, s, cmd.Token, args); err != nil {
		return err
	}
	if e.Metrics != nil {
		e.Metrics.StepsExecuted.WithLabelValues("run").Inc()
		e.Metrics.CommandsRun.WithLabelValues(cmd.Token).Inc()
	}

	if step.DurationMs != nil {
		delay := time.Duration(*step.DurationMs) * time.Millisecond
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if err := e.Client.Stop(ctx, s, e.Client.StepTimeout); err != nil {
			return fmt.Errorf("stop after duration: %w", err)
		}
		if e.Metrics != nil {
			e.Metrics.StepsExecuted.WithLabelValues("stop").Inc()
		}
	}
	return nil
}

// EmergencyStop sends STOP to every session in declaration order, never
// raising: node failures are logged and the sweep continues.
func (e *Executor) EmergencyStop(ctx context.Context, correlationID string) {
	if err := e.acquire(ctx); err != nil {
		return
	}
	defer e.release()
	e.emergencyStopLocked(ctx, correlationID)
}

// emergencyStopLocked assumes the execution mutex is already held by the
// caller (ExecutePlan calls it inline on failure without re-acquiring).
func (e *Executor) emergencyStopLocked(ctx context.Context, correlationID string) {
	ctx, span := e.startSpan(ctx, "emergency_stop", correlationID)
	defer span.End()

	if e.Metrics != nil {
		e.Metrics.EmergencyStops.Inc()
	}
	for _, s := range e.Catalog.Sessions() {
		if !s.Connected() {
			continue
		}
		if err := e.Client.Stop(ctx, s, emergencyStopTimeout); err != nil {
			if e.Logger != nil {
				e.Logger.Warn("emergency_stop node failed", "correlation_id", correlationID, "alias", s.Alias, "cause", err)
			}
			continue
		}
	}
}

func (e *Executor) startSpan(ctx context.Context, name, correlationID string) (context.Context, trace.Span) {
	if e.Tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return obs.StartSpan(ctx, e.Tracer, name)
}

// canonicalArg converts a validated argument value to its wire string
// form: integers without a decimal point, floats in shortest round-trip
// form, booleans as true/false, strings verbatim.
func canonicalArg(v interface{}) string {
	switch n := v.(type) {
	case bool:
		if n {
			return "true"
		}
		return "false"
	case float64:
		if n == float64(int64(n)) {
			return strconv.FormatInt(int64(n), 10)
		}
		return strconv.FormatFloat(n, 'g', -1, 64)
	case string:
		return n
	default:
		return fmt.Sprint(v)
	}
}
