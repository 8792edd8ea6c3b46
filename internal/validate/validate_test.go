package validate

import (
	"context"
	"net"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/session"
)

func ptr(f float64) *float64 { return &f }

// connected builds a session against a throwaway loopback listener and
// dials it, just enough for Session.Connected() to report true, then
// caches the given manifest directly (no real handshake is exercised
// here — that is protocol package territory).
func connected(alias, name, nodeID string, cmds ...daemon.CommandSpec) *session.Session {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		panic(err)
	}
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		buf := make([]byte, 4096)
		for {
			if _, err := conn.Read(buf); err != nil {
				return
			}
		}
	}()
	host, portStr, _ := net.SplitHostPort(ln.Addr().String())
	port, _ := strconv.Atoi(portStr)

	s := session.New(alias, host, port, obs.NewLogger())
	if err := s.Dial(context.Background()); err != nil {
		panic(err)
	}
	s.SetManifest(daemon.Manifest{
		Device:    daemon.Device{Name: name, NodeID: nodeID},
		Commands:  cmds,
		Transport: daemon.Transport{Type: "serial-line-v1"},
	})
	sessionListeners[s] = ln
	return s
}

var sessionListeners = map[*session.Session]net.Listener{}

func withLiveConnNoCtx(t *testing.T, s *session.Session) func() {
	t.Helper()
	ln := sessionListeners[s]
	return func() {
		s.Close()
		if ln != nil {
			ln.Close()
		}
		delete(sessionListeners, s)
	}
}

func TestPlan_AmbiguousTokenRequiresTarget(t *testing.T) {
	base := connected("base", "base", "base-1", daemon.CommandSpec{
		Token: "TURN",
		Args:  []daemon.ArgSpec{{Name: "degrees", Type: daemon.ArgFloat, Required: true}},
	})
	drone := connected("drone", "drone", "drone-1", daemon.CommandSpec{
		Token: "TURN",
		Args:  []daemon.ArgSpec{{Name: "degrees", Type: daemon.ArgFloat, Required: true}},
	})
	cleanupA, cleanupB := withLiveConnNoCtx(t, base), withLiveConnNoCtx(t, drone)
	defer cleanupA()
	defer cleanupB()

	cat := catalog.New([]*session.Session{base, drone})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "TURN", Args: []interface{}{30.0}},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "explicit target is required")
}

func TestPlan_TypeMismatchAcrossCollidingTokens(t *testing.T) {
	arm := connected("arm", "arm", "arm-1", daemon.CommandSpec{
		Token: "GRIP",
		Args:  []daemon.ArgSpec{{Name: "state", Type: daemon.ArgString, Required: true, Enum: []interface{}{"open", "close"}}},
	})
	gripper := connected("gripper", "gripper", "gripper-1", daemon.CommandSpec{
		Token: "GRIP",
		Args:  []daemon.ArgSpec{{Name: "pwm", Type: daemon.ArgInt, Required: true}},
	})
	c1, c2 := withLiveConnNoCtx(t, arm), withLiveConnNoCtx(t, gripper)
	defer c1()
	defer c2()

	cat := catalog.New([]*session.Session{arm, gripper})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Target: "gripper", Token: "GRIP", Args: []interface{}{"close"}},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected int")

	plan2 := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Target: "arm", Token: "GRIP", Args: []interface{}{128.0}},
	}}
	err = Plan(cat, plan2)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected string")
}

func TestPlan_NumericAboveMaxRejected(t *testing.T) {
	base := connected("base", "base", "base-1", daemon.CommandSpec{
		Token: "TURN",
		Args:  []daemon.ArgSpec{{Name: "degrees", Type: daemon.ArgFloat, Required: true, Min: ptr(-180), Max: ptr(1)}},
	})
	cleanup := withLiveConnNoCtx(t, base)
	defer cleanup()

	cat := catalog.New([]*session.Session{base})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "TURN", Args: []interface{}{1.5}},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "value 1.5 > max 1")
}

func TestPlan_NegativeDurationRejected(t *testing.T) {
	base := connected("base", "base", "base-1", daemon.CommandSpec{Token: "FWD"})
	cleanup := withLiveConnNoCtx(t, base)
	defer cleanup()

	cat := catalog.New([]*session.Session{base})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "FWD", Args: []interface{}{}, DurationMs: ptr(-5)},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duration_ms")
}

func TestPlan_WrongArgCountRejected(t *testing.T) {
	base := connected("base", "base", "base-1", daemon.CommandSpec{
		Token: "FWD",
		Args:  []daemon.ArgSpec{{Name: "speed", Type: daemon.ArgFloat, Required: true}},
	})
	cleanup := withLiveConnNoCtx(t, base)
	defer cleanup()

	cat := catalog.New([]*session.Session{base})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "FWD", Args: []interface{}{}},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expects 1 argument")
}

func TestPlan_StopStepRejectsExtraFields(t *testing.T) {
	cat := catalog.New(nil)
	cat.Rebuild()
	plan := &daemon.Plan{Steps: []daemon.Step{{Type: daemon.StepStop, Token: "X"}}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STOP steps admit no other fields")
}

func TestPlan_UnknownTargetRejected(t *testing.T) {
	base := connected("base", "base", "base-1", daemon.CommandSpec{Token: "FWD"})
	cleanup := withLiveConnNoCtx(t, base)
	defer cleanup()

	cat := catalog.New([]*session.Session{base})
	cat.Rebuild()

	plan := &daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Target: "ghost", Token: "FWD", Args: []interface{}{}},
	}}
	err := Plan(cat, plan)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "does not match any connected node")
}
