// Package wire implements the serial-line-v1 framing layer (component A):
// newline-delimited UTF-8 lines over a stream socket, with no length
// prefixes, and classification of response lines vs. asynchronous
// TELEMETRY lines.
package wire

import "bytes"

// TelemetryPrefix is the sole discriminator between a response line and
// an asynchronous telemetry line.
const TelemetryPrefix = "TELEMETRY "

// Line is one fully framed, decoded line.
type Line struct {
	// Text is the line with the trailing newline stripped. Never empty
	// (empty lines are dropped during framing, never surfaced).
	Text string
	// Telemetry is true iff Text begins with TelemetryPrefix.
	Telemetry bool
}

// Framer accumulates raw bytes from a stream socket and extracts
// complete, newline-terminated lines. It never raises on malformed
// input: invalid UTF-8 is repaired with the replacement character, and a
// line with no trailing newline simply waits in the buffer for more
// bytes. Framer is not safe for concurrent use; each session.Session's
// reader goroutine owns exactly one.
type Framer struct {
	buf []byte
}

// NewFramer returns an empty Framer.
func NewFramer() *Framer {
	return &Framer{}
}

// Push appends freshly read bytes and returns every complete line that
// can now be extracted, in arrival order. Bytes belonging to a line that
// hasn't seen its terminating '\n' yet remain buffered for the next call,
// so Push can be driven with reads of any size — a single byte at a time
// reconstructs the same line sequence as one read of the whole stream.
func (f *Framer) Push(data []byte) []Line {
	f.buf = append(f.buf, data...)

	var out []Line
	for {
		i := bytes.IndexByte(f.buf, '\n')
		if i < 0 {
			break
		}
		raw := f.buf[:i]
		f.buf = f.buf[i+1:]

		raw = bytes.TrimRight(raw, "\r")
		if len(raw) == 0 {
			continue
		}
		text := string(bytes.ToValidUTF8(raw, []byte("�")))
		out = append(out, Line{
			Text:      text,
			Telemetry: hasTelemetryPrefix(text),
		})
	}
	return out
}

func hasTelemetryPrefix(text string) bool {
	return len(text) >= len(TelemetryPrefix) && text[:len(TelemetryPrefix)] == TelemetryPrefix
}

// Encode appends the trailing newline a request or response line needs on
// the wire.
func Encode(line string) []byte {
	return append([]byte(line), '\n')
}
