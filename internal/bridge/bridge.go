// Package bridge implements the HTTP bridge (component H): /status,
// /telemetry, /execute_plan, /stop, /pi_vision_step, plus /metrics and
// /telemetry/stream. /execute_plan and /stop serialize through the
// executor's execution mutex; every other route is read-only.
package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/executor"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/validate"
)

// Fleet is the subset of orchestrator state the bridge needs: catalog,
// executor, the merged manifest (served by /status and injected into
// /pi_vision_step), the telemetry snapshot, and per-node status.
type Fleet interface {
	Catalog() *catalog.Catalog
	Executor() *executor.Executor
	MergedManifest() map[string]interface{}
	TelemetrySnapshot() map[string]interface{}
	StatusNodes() []map[string]interface{}
}

// Bridge wires a Fleet onto an HTTP router.
type Bridge struct {
	Fleet     Fleet
	Logger    obs.Logger
	Metrics   *obs.Metrics
	VisionURL string // optional pi_vision_step upstream
	upgrader  websocket.Upgrader

	planSchema *executePlanSchema

	// redisClient, when non-nil, receives a copy of every telemetry
	// snapshot served over /telemetry — an optional fan-out for
	// dashboards that already poll Redis rather than this bridge.
	redisClient *redis.Client
}

// New returns a Bridge with its route table installed on a fresh chi
// router, ready to be handed to http.Server. The Redis fan-out is off
// until WithRedisTelemetry is called with a non-empty address.
func New(fleet Fleet, logger obs.Logger, metrics *obs.Metrics, visionURL string) *Bridge {
	b := &Bridge{
		Fleet:      fleet,
		Logger:     logger,
		Metrics:    metrics,
		VisionURL:  visionURL,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(*http.Request) bool { return true }},
		planSchema: mustCompileExecutePlanSchema(),
	}
	return b
}

// WithRedisTelemetry configures the bridge to mirror every telemetry
// snapshot to addr under the key "daemon:telemetry", best-effort.
func (b *Bridge) WithRedisTelemetry(addr string) *Bridge {
	if addr == "" {
		return b
	}
	b.redisClient = redis.NewClient(&redis.Options{Addr: addr})
	return b
}

// Router builds the chi mux for this bridge.
func (b *Bridge) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(obs.CorrelationMiddleware)

	r.Get("/status", b.handleStatus)
	r.Get("/telemetry", b.handleTelemetry)
	r.Post("/execute_plan", b.handleExecutePlan)
	r.Post("/stop", b.handleStop)
	r.Post("/pi_vision_step", b.handleVisionStep)
	r.Get("/telemetry/stream", b.handleTelemetryStream)
	if b.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(b.Metrics.Registry, promhttp.HandlerOpts{}))
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{"ok": false, "error": "not_found"})
	})
	return r
}

func writeJSON(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func withCorrelation(w http.ResponseWriter, ctx context.Context, body map[string]interface{}) map[string]interface{} {
	if id := obs.CorrelationID(ctx); id != "" {
		body["correlation_id"] = id
	}
	return body
}

func (b *Bridge) handleStatus(w http.ResponseWriter, r *http.Request) {
	body := withCorrelation(w, r.Context(), map[string]interface{}{
		"ok":              true,
		"nodes":           b.Fleet.StatusNodes(),
		"system_manifest": b.Fleet.MergedManifest(),
	})
	writeJSON(w, http.StatusOK, body)
}

func (b *Bridge) handleTelemetry(w http.ResponseWriter, r *http.Request) {
	snapshot := b.Fleet.TelemetrySnapshot()
	b.publishTelemetryToRedis(r.Context(), snapshot)
	body := withCorrelation(w, r.Context(), map[string]interface{}{
		"ok":                 true,
		"telemetry_snapshot": snapshot,
	})
	writeJSON(w, http.StatusOK, body)
}

// publishTelemetryToRedis mirrors snapshot to Redis when configured;
// failures are logged, never surfaced to the HTTP caller, since the
// Redis fan-out is a convenience path and not the primary telemetry
// surface.
func (b *Bridge) publishTelemetryToRedis(ctx context.Context, snapshot map[string]interface{}) {
	if b.redisClient == nil {
		return
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return
	}
	setCtx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
	defer cancel()
	if err := b.redisClient.Set(setCtx, "daemon:telemetry", payload, 0).Err(); err != nil && b.Logger != nil {
		b.Logger.Warn("redis telemetry publish failed", "cause", err)
	}
}

type executePlanRequest struct {
	Plan json.RawMessage `json:"plan"`
}

func (b *Bridge) handleExecutePlan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := obs.CorrelationID(ctx)

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "failed to read request body",
		}))
		return
	}

	if err := b.planSchema.validate(raw); err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "request body failed schema validation: " + err.Error(),
		}))
		return
	}

	var req executePlanRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "request body must be a JSON object with a plan field",
		}))
		return
	}

	var steps []daemon.Step
	if err := json.Unmarshal(req.Plan, &steps); err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "plan must be a list of steps",
		}))
		return
	}
	plan := daemon.Plan{Steps: steps}

	if err := validate.Plan(b.Fleet.Catalog(), &plan); err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": err.Error(),
		}))
		return
	}

	if err := b.Fleet.Executor().ExecutePlan(ctx, plan, correlationID); err != nil {
		if b.Logger != nil {
			b.Logger.Error("execute_plan failed", "correlation_id", correlationID, "cause", err)
		}
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": err.Error(),
		}))
		return
	}

	writeJSON(w, http.StatusOK, withCorrelation(w, ctx, map[string]interface{}{"ok": true}))
}

func (b *Bridge) handleStop(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	correlationID := obs.CorrelationID(ctx)
	b.Fleet.Executor().EmergencyStop(ctx, correlationID)
	writeJSON(w, http.StatusOK, withCorrelation(w, ctx, map[string]interface{}{"ok": true}))
}

// handleVisionStep passes the request body through to the configured
// vision brain, injecting the current system manifest if the caller
// didn't supply one.
func (b *Bridge) handleVisionStep(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if b.VisionURL == "" {
		writeJSON(w, http.StatusBadGateway, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "no vision brain configured",
		}))
		return
	}

	var body map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, withCorrelation(w, ctx, map[string]interface{}{
			"ok": false, "error": "request body must be a JSON object",
		}))
		return
	}
	if _, ok := body["system_manifest"]; !ok {
		body["system_manifest"] = b.Fleet.MergedManifest()
	}

	payload, err := json.Marshal(body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, withCorrelation(w, ctx, map[string]interface{}{"ok": false, "error": err.Error()}))
		return
	}

	upstream, err := http.NewRequestWithContext(ctx, http.MethodPost, b.VisionURL, bytes.NewReader(payload))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, withCorrelation(w, ctx, map[string]interface{}{"ok": false, "error": err.Error()}))
		return
	}
	upstream.Header.Set("Content-Type", "application/json")
	obs.InjectHeader(ctx, upstream.Header)

	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Do(upstream)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, withCorrelation(w, ctx, map[string]interface{}{"ok": false, "error": err.Error()}))
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		writeJSON(w, http.StatusBadGateway, withCorrelation(w, ctx, map[string]interface{}{"ok": false, "error": err.Error()}))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(raw)
}

// handleTelemetryStream upgrades to a websocket and pushes the telemetry
// snapshot at a fixed cadence until the client disconnects — the
// supplemented streaming counterpart to the polling /telemetry route.
func (b *Bridge) handleTelemetryStream(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			if err := conn.WriteJSON(b.Fleet.TelemetrySnapshot()); err != nil {
				return
			}
		}
	}
}
