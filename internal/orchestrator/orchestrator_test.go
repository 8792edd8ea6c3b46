package orchestrator

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vedpanse/daemon/internal/bridge"
	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/nodeserver"
	"github.com/vedpanse/daemon/internal/obs"
)

// var _ bridge.Fleet asserts, at compile time, that Orchestrator satisfies
// the bridge's contract.
var _ bridge.Fleet = (*Orchestrator)(nil)

func fakeNodeManifest(name, nodeID string) daemon.Manifest {
	return daemon.Manifest{
		Device: daemon.Device{Name: name, NodeID: nodeID},
		Commands: []daemon.CommandSpec{
			{Token: "FWD", Args: []daemon.ArgSpec{{Name: "speed", Type: daemon.ArgFloat, Required: true}}},
		},
		Transport: daemon.Transport{Type: "serial-line-v1"},
	}
}

// startFakeNode runs a real nodeserver.Server on a loopback listener,
// returning the port it bound to and a teardown func.
func startFakeNode(t *testing.T, name, nodeID string) (port int, teardown func()) {
	t.Helper()
	manifest := fakeNodeManifest(name, nodeID)
	handlers := map[string]nodeserver.CommandHandler{
		"FWD": func(args []string) error { return nil },
	}
	srv, err := nodeserver.New(manifest, handlers, func() error { return nil }, obs.NewLogger(), obs.NewMetrics())
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go srv.Serve(ln)

	return ln.Addr().(*net.TCPAddr).Port, func() { ln.Close() }
}

func TestOrchestrator_ConnectAllLearnsManifestsAndRebuildsCatalog(t *testing.T) {
	portA, stopA := startFakeNode(t, "left-wheels", "node-a")
	defer stopA()
	portB, stopB := startFakeNode(t, "right-wheels", "node-b")
	defer stopB()

	o := New([]NodeTarget{
		{Alias: "left", Host: "127.0.0.1", Port: portA},
		{Alias: "right", Host: "127.0.0.1", Port: portB},
	}, 1, 1, "", false, obs.NewLogger())
	defer o.CloseAll(context.Background())

	o.ConnectAll(context.Background())

	nodes := o.StatusNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, true, nodes[0]["connected"])
	assert.Equal(t, true, nodes[1]["connected"])
	assert.Equal(t, "node-a", nodes[0]["node_id"])
	assert.Equal(t, "node-b", nodes[1]["node_id"])

	// Unqualified FWD is ambiguous across both nodes, so the catalog
	// should only expose it qualified by alias.
	_, _, err := o.Catalog().Resolve("", "FWD")
	require.Error(t, err)
	s, _, err := o.Catalog().Resolve("left", "FWD")
	require.NoError(t, err)
	assert.Equal(t, "left", s.Alias)
}

func TestOrchestrator_ConnectAllDegradesWhenANodeNeverComesUp(t *testing.T) {
	portA, stopA := startFakeNode(t, "solo", "node-a")
	defer stopA()

	o := New([]NodeTarget{
		{Alias: "up", Host: "127.0.0.1", Port: portA},
		{Alias: "down", Host: "127.0.0.1", Port: 1}, // nothing listens on port 1
	}, 1, 1, "", false, obs.NewLogger())
	defer o.CloseAll(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	o.ConnectAll(ctx)

	nodes := o.StatusNodes()
	require.Len(t, nodes, 2)
	assert.Equal(t, true, nodes[0]["connected"])
	assert.Equal(t, false, nodes[1]["connected"])
}

func TestOrchestrator_MergedManifestAndTelemetrySnapshotShapes(t *testing.T) {
	port, stop := startFakeNode(t, "arm", "node-arm")
	defer stop()

	o := New([]NodeTarget{{Alias: "arm", Host: "127.0.0.1", Port: port}}, 1, 1, "", true, obs.NewLogger())
	defer o.CloseAll(context.Background())
	o.ConnectAll(context.Background())

	merged := o.MergedManifest()
	assert.Equal(t, "0.1", merged["daemon_version"])
	nodes, ok := merged["nodes"].([]map[string]interface{})
	require.True(t, ok)
	require.Len(t, nodes, 1)
	assert.Equal(t, "arm", nodes[0]["name"])
	assert.Equal(t, "node-arm", nodes[0]["node_id"])
	assert.Equal(t, "arm", nodes[0]["display_name"])
	assert.NotNil(t, nodes[0]["commands"])
	assert.NotNil(t, nodes[0]["telemetry"])

	// Telemetry subscription was requested; give the node a beat to push
	// at least one TELEMETRY line before asserting on the snapshot shape.
	time.Sleep(600 * time.Millisecond)
	snap := o.TelemetrySnapshot()
	require.Contains(t, snap, "arm")
}
