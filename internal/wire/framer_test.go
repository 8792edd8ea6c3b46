package wire

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFramer_WholeStreamAtOnce(t *testing.T) {
	f := NewFramer()
	lines := f.Push([]byte("MANIFEST {}\nTELEMETRY uptime_ms=12\nOK\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "MANIFEST {}", lines[0].Text)
	assert.False(t, lines[0].Telemetry)
	assert.Equal(t, "TELEMETRY uptime_ms=12", lines[1].Text)
	assert.True(t, lines[1].Telemetry)
	assert.Equal(t, "OK", lines[2].Text)
	assert.False(t, lines[2].Telemetry)
}

func TestFramer_PartialLineWaitsForMoreBytes(t *testing.T) {
	f := NewFramer()
	assert.Empty(t, f.Push([]byte("OK")))
	lines := f.Push([]byte("\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "OK", lines[0].Text)
}

func TestFramer_EmptyLinesIgnored(t *testing.T) {
	f := NewFramer()
	lines := f.Push([]byte("\n\nOK\n\n"))
	require.Len(t, lines, 1)
	assert.Equal(t, "OK", lines[0].Text)
}

func TestFramer_InvalidUTF8Replaced(t *testing.T) {
	f := NewFramer()
	lines := f.Push([]byte{'O', 0xff, 'K', '\n'})
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0].Text, "�")
}

// TestFramer_RoundTripAtArbitraryByteBoundaries is property #7: for any
// sequence of response/TELEMETRY lines interleaved and split at arbitrary
// byte boundaries, the framer reconstructs them losslessly and never
// misclassifies.
func TestFramer_RoundTripAtArbitraryByteBoundaries(t *testing.T) {
	want := []string{
		"OK",
		"TELEMETRY uptime_ms=1 serial_ok=true",
		"ERR RANGE too_high",
		"TELEMETRY last_token=FWD",
		"MANIFEST {\"device\":{}}",
	}
	wantTelemetry := []bool{false, true, false, true, false}

	stream := ""
	for _, l := range want {
		stream += l + "\n"
	}
	raw := []byte(stream)

	rng := rand.New(rand.NewSource(42))
	f := NewFramer()
	var got []Line
	for len(raw) > 0 {
		n := 1 + rng.Intn(len(raw))
		if n > len(raw) {
			n = len(raw)
		}
		got = append(got, f.Push(raw[:n])...)
		raw = raw[n:]
	}

	require.Len(t, got, len(want))
	for i, l := range got {
		assert.Equal(t, want[i], l.Text)
		assert.Equal(t, wantTelemetry[i], l.Telemetry)
	}
}

func TestParseTelemetry(t *testing.T) {
	snap := ParseTelemetry("TELEMETRY uptime_ms=120 serial_ok=true malformed")
	assert.Equal(t, "120", snap["uptime_ms"])
	assert.Equal(t, "true", snap["serial_ok"])
	assert.Len(t, snap, 2)
}

func TestFormatTelemetry(t *testing.T) {
	got := FormatTelemetry([][2]string{{"uptime_ms", "5"}, {"serial_ok", "true"}})
	assert.Equal(t, "TELEMETRY uptime_ms=5 serial_ok=true", got)
}
