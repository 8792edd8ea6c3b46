package executor

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedpanse/daemon/internal/catalog"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/protocol"
	"github.com/vedpanse/daemon/internal/session"
)

// fakeNode is a minimal serial-line-v1 responder for tests: it answers
// every RUN/STOP line with a scripted response (defaulting to "OK") and
// records every line it receives, in order, for assertions about
// panic-stop ordering.
type fakeNode struct {
	ln   net.Listener
	host string
	port int

	mu       sync.Mutex
	received []string
	respond  func(line string) string
}

func newFakeNode(t *testing.T, respond func(line string) string) *fakeNode {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	host, portStr, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	n := &fakeNode{ln: ln, host: host, port: port, respond: respond}
	go n.acceptLoop()
	return n
}

func (n *fakeNode) acceptLoop() {
	conn, err := n.ln.Accept()
	if err != nil {
		return
	}
	defer conn.Close()
	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := scanner.Text()
		n.mu.Lock()
		n.received = append(n.received, line)
		n.mu.Unlock()
		resp := "OK"
		if n.respond != nil {
			resp = n.respond(line)
		}
		if _, err := conn.Write([]byte(resp + "\n")); err != nil {
			return
		}
	}
}

func (n *fakeNode) lines() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.received))
	copy(out, n.received)
	return out
}

func (n *fakeNode) close() { n.ln.Close() }

func dialSession(t *testing.T, alias string, n *fakeNode, tokens ...string) *session.Session {
	t.Helper()
	s := session.New(alias, n.host, n.port, obs.NewLogger())
	require.NoError(t, s.Dial(context.Background()))
	cmds := make([]daemon.CommandSpec, 0, len(tokens))
	for _, tok := range tokens {
		cmds = append(cmds, daemon.CommandSpec{Token: tok})
	}
	s.SetManifest(daemon.Manifest{
		Device:    daemon.Device{Name: alias, NodeID: alias + "-1"},
		Commands:  cmds,
		Transport: daemon.Transport{Type: "serial-line-v1"},
	})
	return s
}

func TestExecutor_RunThenDurationSendsStop(t *testing.T) {
	node := newFakeNode(t, nil)
	defer node.close()
	s := dialSession(t, "base", node, "FWD")
	defer s.Close()

	cat := catalog.New([]*session.Session{s})
	cat.Rebuild()

	client := protocol.New(obs.NewLogger())
	ex := New(cat, client, obs.NewLogger(), obs.NewMetrics(), nil)

	dur := 5.0
	plan := daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "FWD", Args: []interface{}{}, DurationMs: &dur},
	}}
	err := ex.ExecutePlan(context.Background(), plan, "test-abc123456789")
	require.NoError(t, err)

	lines := node.lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "RUN FWD", lines[0])
	assert.Equal(t, "STOP", lines[1])
}

func TestExecutor_StepFailureTriggersPanicStop(t *testing.T) {
	node := newFakeNode(t, func(line string) string {
		if strings.HasPrefix(line, "RUN FWD") {
			return "ERR RANGE too_high"
		}
		return "OK"
	})
	defer node.close()
	s := dialSession(t, "base", node, "FWD")
	defer s.Close()

	cat := catalog.New([]*session.Session{s})
	cat.Rebuild()

	client := protocol.New(obs.NewLogger())
	ex := New(cat, client, obs.NewLogger(), obs.NewMetrics(), nil)

	plan := daemon.Plan{Steps: []daemon.Step{
		{Type: daemon.StepRun, Token: "FWD", Args: []interface{}{}},
	}}
	err := ex.ExecutePlan(context.Background(), plan, "test-abc123456789")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic STOP sent")

	lines := node.lines()
	require.NotEmpty(t, lines)
	assert.Equal(t, "STOP", lines[len(lines)-1])
}

func TestExecutor_EmergencyStopIsIdempotent(t *testing.T) {
	node := newFakeNode(t, nil)
	defer node.close()
	s := dialSession(t, "base", node, "FWD")
	defer s.Close()

	cat := catalog.New([]*session.Session{s})
	cat.Rebuild()

	client := protocol.New(obs.NewLogger())
	ex := New(cat, client, obs.NewLogger(), obs.NewMetrics(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ex.EmergencyStop(ctx, "stop-1")
	ex.EmergencyStop(ctx, "stop-2")

	lines := node.lines()
	require.Len(t, lines, 2)
	assert.Equal(t, "STOP", lines[0])
	assert.Equal(t, "STOP", lines[1])
}
