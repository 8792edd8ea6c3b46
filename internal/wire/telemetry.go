package wire

import "strings"

// ParseTelemetry splits a `TELEMETRY k1=v1 k2=v2 ...` line's payload into
// a key->value snapshot. Pairs without '=' are ignored rather than
// rejected.
func ParseTelemetry(line string) map[string]string {
	payload := strings.TrimPrefix(line, TelemetryPrefix)
	fields := strings.Fields(payload)
	out := make(map[string]string, len(fields))
	for _, pair := range fields {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		out[k] = v
	}
	return out
}

// FormatTelemetry renders a snapshot back into wire form, used by the
// node runtime's telemetry publisher. Key order is the caller's
// responsibility (pass an already-ordered slice of pairs).
func FormatTelemetry(pairs [][2]string) string {
	var b strings.Builder
	b.WriteString("TELEMETRY")
	for _, p := range pairs {
		b.WriteByte(' ')
		b.WriteString(p[0])
		b.WriteByte('=')
		b.WriteString(p[1])
	}
	return b.String()
}
