// Package session implements the per-node connected state (component B):
// the socket, the request serialization lock, the telemetry snapshot, the
// cached manifest, and reconnect. It unifies the spec's telemetry-reader
// and direct-read modes behind a single always-on reader goroutine plus a
// response-line channel, which the design notes call out as an
// equivalent implementation so long as TELEMETRY lines never reach the
// response channel — they don't, because the reader classifies every
// line before routing it.
package session

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/errs"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/wire"
)

// Session is the orchestrator's connected state for one node. Exactly one
// logical request is ever in flight at a time: Do() holds reqMu for the
// entire send-then-receive window, giving strict per-session FIFO.
type Session struct {
	Alias string
	Host  string
	Port  int

	Logger obs.Logger

	reqMu sync.Mutex // held for the full send+receive window of one Do()

	connMu sync.RWMutex
	conn   net.Conn
	respCh chan string
	dead   chan struct{} // closed when the reader loop exits

	stateMu   sync.RWMutex
	manifest  daemon.Manifest
	telemetry map[string]string
	subscribed bool

	printTelemetry bool
}

// New builds a disconnected Session for alias at host:port.
func New(alias, host string, port int, logger obs.Logger) *Session {
	return &Session{
		Alias:     alias,
		Host:      host,
		Port:      port,
		Logger:    logger,
		telemetry: make(map[string]string),
	}
}

// SetPrintTelemetry toggles printing of TELEMETRY lines as they arrive,
// mirroring the CLI's --telemetry flag.
func (s *Session) SetPrintTelemetry(v bool) { s.printTelemetry = v }

// Connected reports whether the session currently owns a live socket.
func (s *Session) Connected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.conn != nil
}

// Dial opens the TCP connection and starts the reader goroutine. It does
// not perform the protocol handshake (HELLO) — that is the protocol
// package's job, layered on top of Do().
func (s *Session) Dial(ctx context.Context) error {
	d := net.Dialer{}
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return errs.Wrap("session.dial", s.Alias, errs.ErrConnect, err)
	}

	s.connMu.Lock()
	s.conn = conn
	s.respCh = make(chan string, 1)
	s.dead = make(chan struct{})
	s.connMu.Unlock()

	go s.readLoop(conn, s.respCh, s.dead)
	return nil
}

// Close shuts down the socket (if any); safe to call on an already-closed
// or never-dialed session.
func (s *Session) Close() {
	s.connMu.Lock()
	conn := s.conn
	s.conn = nil
	s.connMu.Unlock()

	if conn == nil {
		return
	}
	if tcp, ok := conn.(*net.TCPConn); ok {
		_ = tcp.CloseWrite()
	}
	_ = conn.Close()
}

// Redial tears down any existing socket and dials again, used by the
// protocol client's one-shot reconnect-and-resend.
func (s *Session) Redial(ctx context.Context) error {
	s.Close()
	return s.Dial(ctx)
}

func (s *Session) readLoop(conn net.Conn, respCh chan<- string, dead chan struct{}) {
	defer close(dead)
	framer := wire.NewFramer()
	buf := make([]byte, 4096)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for _, line := range framer.Push(buf[:n]) {
				if line.Telemetry {
					s.recordTelemetry(line.Text)
					continue
				}
				select {
				case respCh <- line.Text:
				case <-dead:
					return
				}
			}
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) recordTelemetry(line string) {
	snap := wire.ParseTelemetry(line)
	s.stateMu.Lock()
	for k, v := range snap {
		s.telemetry[k] = v
	}
	s.stateMu.Unlock()
	if s.printTelemetry && s.Logger != nil {
		s.Logger.Info("telemetry", "alias", s.Alias, "line", line)
	}
}

// Do sends line and waits for the next non-telemetry response, under the
// request lock so requests to this session are strictly FIFO and never
// overlap on the wire. timeout bounds the wait for a response.
func (s *Session) Do(ctx context.Context, line string, timeout time.Duration) (string, error) {
	s.reqMu.Lock()
	defer s.reqMu.Unlock()

	s.connMu.RLock()
	conn, respCh, dead := s.conn, s.respCh, s.dead
	s.connMu.RUnlock()

	if conn == nil {
		return "", errs.Wrap("session.do", s.Alias, errs.ErrTransport, fmt.Errorf("not connected"))
	}

	if _, err := conn.Write(wire.Encode(line)); err != nil {
		return "", errs.Wrap("session.do", s.Alias, errs.ErrTransport, err)
	}

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-dead:
		return "", errs.Wrap("session.do", s.Alias, errs.ErrTransport, fmt.Errorf("connection closed"))
	case <-deadline.C:
		return "", errs.Wrap("session.do", s.Alias, errs.ErrTransport, fmt.Errorf("timeout waiting for response to %q", firstToken(line)))
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func firstToken(line string) string {
	if i := bytes.IndexByte([]byte(line), ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// SetManifest caches the manifest learned from HELLO/READ_MANIFEST.
func (s *Session) SetManifest(m daemon.Manifest) {
	s.stateMu.Lock()
	s.manifest = m
	s.stateMu.Unlock()
}

// Manifest returns the cached manifest.
func (s *Session) Manifest() daemon.Manifest {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.manifest
}

// SetSubscribed records whether SUB TELEMETRY succeeded.
func (s *Session) SetSubscribed(v bool) {
	s.stateMu.Lock()
	s.subscribed = v
	s.stateMu.Unlock()
}

// Subscribed reports whether telemetry is currently subscribed.
func (s *Session) Subscribed() bool {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.subscribed
}

// TelemetrySnapshot returns a copy of the latest telemetry key->value map.
func (s *Session) TelemetrySnapshot() map[string]string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make(map[string]string, len(s.telemetry))
	for k, v := range s.telemetry {
		out[k] = v
	}
	return out
}

// NodeName returns the device name from the cached manifest, falling
// back to the alias if no manifest has been learned yet.
func (s *Session) NodeName() string {
	m := s.Manifest()
	if m.Device.Name != "" {
		return m.Device.Name
	}
	return s.Alias
}

// NodeID returns the device node_id from the cached manifest, falling
// back to the alias.
func (s *Session) NodeID() string {
	m := s.Manifest()
	if m.Device.NodeID != "" {
		return m.Device.NodeID
	}
	return s.Alias
}
