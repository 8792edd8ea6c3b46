// Package planner implements the planner adapter (component G): a POST
// to an external planning service with a deterministic, side-effect-free
// fallback that activates on any failure.
package planner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/errs"
	"github.com/vedpanse/daemon/internal/obs"
)

// Adapter resolves an instruction into a plan, preferring a remote
// planner when configured and always degrading to Fallback on failure.
type Adapter struct {
	URL    string
	Client *http.Client
	Logger obs.Logger
}

// New returns an Adapter. url may be empty, in which case every
// instruction goes straight to the fallback planner.
func New(url string, logger obs.Logger) *Adapter {
	return &Adapter{
		URL:    url,
		Client: &http.Client{Timeout: 10 * time.Second},
		Logger: logger,
	}
}

type plannerRequest struct {
	Instruction       string                 `json:"instruction"`
	SystemManifest    map[string]interface{} `json:"system_manifest"`
	TelemetrySnapshot map[string]interface{} `json:"telemetry_snapshot"`
	CorrelationID     string                 `json:"correlation_id,omitempty"`
}

type plannerResponse struct {
	Plan []json.RawMessage `json:"plan"`
}

// MakePlan returns a plan for instruction, always succeeding: remote
// planner failures of any kind (network, non-200, malformed body) are
// logged and silently replaced by Fallback(instruction).
func (a *Adapter) MakePlan(ctx context.Context, instruction string, systemManifest map[string]interface{}, telemetrySnapshot map[string]interface{}, correlationID string) daemon.Plan {
	if a.URL == "" {
		return Fallback(instruction)
	}

	plan, err := a.callRemote(ctx, instruction, systemManifest, telemetrySnapshot, correlationID)
	if err != nil {
		if a.Logger != nil {
			a.Logger.Warn("planner fallback", "correlation_id", correlationID, "cause", err)
		}
		return Fallback(instruction)
	}
	return plan
}

func (a *Adapter) callRemote(ctx context.Context, instruction string, systemManifest, telemetrySnapshot map[string]interface{}, correlationID string) (daemon.Plan, error) {
	body, err := json.Marshal(plannerRequest{
		Instruction:       instruction,
		SystemManifest:    systemManifest,
		TelemetrySnapshot: telemetrySnapshot,
		CorrelationID:     correlationID,
	})
	if err != nil {
		return daemon.Plan{}, errs.Wrap("planner.marshal", "", errs.ErrPlanner, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.URL, bytes.NewReader(body))
	if err != nil {
		return daemon.Plan{}, errs.Wrap("planner.request", "", errs.ErrPlanner, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if correlationID != "" {
		req.Header.Set(obs.HeaderCorrelationID, correlationID)
	}

	resp, err := a.Client.Do(req)
	if err != nil {
		return daemon.Plan{}, errs.Wrap("planner.do", "", errs.ErrPlanner, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return daemon.Plan{}, errs.Wrap("planner.read", "", errs.ErrPlanner, err)
	}
	if resp.StatusCode != http.StatusOK {
		return daemon.Plan{}, errs.Wrap("planner.status", "", errs.ErrPlanner,
			fmt.Errorf("planner returned status %d: %s", resp.StatusCode, raw))
	}

	var pr plannerResponse
	if err := json.Unmarshal(raw, &pr); err != nil || pr.Plan == nil {
		return daemon.Plan{}, errs.Wrap("planner.shape", "", errs.ErrPlanner,
			fmt.Errorf("planner response missing plan[]: %w", err))
	}

	steps := make([]daemon.Step, 0, len(pr.Plan))
	for i, raw := range pr.Plan {
		var s daemon.Step
		if err := json.Unmarshal(raw, &s); err != nil {
			return daemon.Plan{}, errs.Wrap("planner.step", "", errs.ErrPlanner,
				fmt.Errorf("plan[%d]: %w", i, err))
		}
		steps = append(steps, s)
	}
	return daemon.Plan{Steps: steps}, nil
}
