// Package protocol implements the serial-line-v1 request/response client
// (component C): HELLO, READ_MANIFEST, SUB/UNSUB TELEMETRY, RUN, STOP,
// each with a timeout and a one-shot reconnect-and-resend on transport
// failure.
package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/errs"
	"github.com/vedpanse/daemon/internal/obs"
	"github.com/vedpanse/daemon/internal/session"
)

// NodeError is the parsed form of a verbatim `ERR <CODE> <detail>` line.
type NodeError struct {
	Code   string
	Detail string
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s %s", e.Code, e.Detail)
}

// Known error codes, per §4.C.
const (
	CodeBadToken   = "BAD_TOKEN"
	CodeBadArgs    = "BAD_ARGS"
	CodeRange      = "RANGE"
	CodeRateLimit  = "RATE_LIMIT"
	CodeInternal   = "INTERNAL"
	CodeSerial     = "SERIAL"
	CodeBadRequest = "BAD_REQUEST"
)

// Client issues serial-line-v1 requests against a session. Its timeout
// fields carry the per-request timeouts from the CLI surface.
type Client struct {
	ConnectTimeout time.Duration // HELLO timeout (default 7s)
	StepTimeout    time.Duration // RUN/STOP timeout (default 4s)
	Logger         obs.Logger
}

// New returns a Client with the spec's default timeouts.
func New(logger obs.Logger) *Client {
	return &Client{
		ConnectTimeout: 7 * time.Second,
		StepTimeout:    4 * time.Second,
		Logger:         logger,
	}
}

// do sends line and waits for a response, retrying exactly once (with a
// redial) if the first attempt fails with a retryable transport error.
func (c *Client) do(ctx context.Context, s *session.Session, line string, timeout time.Duration) (string, error) {
	resp, err := s.Do(ctx, line, timeout)
	if err == nil {
		return resp, nil
	}
	if !errs.IsRetryable(err) {
		return "", err
	}

	if c.Logger != nil {
		c.Logger.Warn("reconnect-and-resend", "alias", s.Alias, "line", firstWord(line), "cause", err)
	}
	if rdErr := s.Redial(ctx); rdErr != nil {
		return "", errs.Wrap("protocol.do", s.Alias, errs.ErrTransport, fmt.Errorf("resend after %v: redial failed: %w", err, rdErr))
	}
	resp, err2 := s.Do(ctx, line, timeout)
	if err2 != nil {
		return "", errs.Wrap("protocol.do", s.Alias, errs.ErrTransport, fmt.Errorf("resend after %v: %w", err, err2))
	}
	return resp, nil
}

func firstWord(line string) string {
	if i := strings.IndexByte(line, ' '); i >= 0 {
		return line[:i]
	}
	return line
}

// Hello sends HELLO and parses the MANIFEST response, caching it on s.
func (c *Client) Hello(ctx context.Context, s *session.Session) (daemon.Manifest, error) {
	return c.readManifestLine(ctx, s, "HELLO")
}

// ReadManifest sends READ_MANIFEST and parses the MANIFEST response.
func (c *Client) ReadManifest(ctx context.Context, s *session.Session) (daemon.Manifest, error) {
	return c.readManifestLine(ctx, s, "READ_MANIFEST")
}

func (c *Client) readManifestLine(ctx context.Context, s *session.Session, request string) (daemon.Manifest, error) {
	resp, err := c.do(ctx, s, request, c.ConnectTimeout)
	if err != nil {
		return daemon.Manifest{}, err
	}
	const prefix = "MANIFEST "
	if !strings.HasPrefix(resp, prefix) {
		return daemon.Manifest{}, errs.Wrap("protocol.hello", s.Alias, errs.ErrProtocol,
			fmt.Errorf("expected MANIFEST, got: %s", resp))
	}

	var m daemon.Manifest
	if err := json.Unmarshal([]byte(resp[len(prefix):]), &m); err != nil {
		return daemon.Manifest{}, errs.Wrap("protocol.hello", s.Alias, errs.ErrProtocol,
			fmt.Errorf("malformed manifest json: %w", err))
	}
	s.SetManifest(m)
	return m, nil
}

// SubTelemetry sends SUB TELEMETRY and requires an OK response.
func (c *Client) SubTelemetry(ctx context.Context, s *session.Session) error {
	resp, err := c.do(ctx, s, "SUB TELEMETRY", c.ConnectTimeout)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return errs.Wrap("protocol.sub", s.Alias, errs.ErrProtocol, fmt.Errorf("subscribe failed: %s", resp))
	}
	s.SetSubscribed(true)
	return nil
}

// UnsubTelemetry sends UNSUB TELEMETRY, best-effort: callers in close_all
// should not let a failure here block shutdown.
func (c *Client) UnsubTelemetry(ctx context.Context, s *session.Session) error {
	resp, err := c.do(ctx, s, "UNSUB TELEMETRY", c.StepTimeout)
	if err != nil {
		return err
	}
	if resp != "OK" {
		return errs.Wrap("protocol.unsub", s.Alias, errs.ErrProtocol, fmt.Errorf("unsubscribe failed: %s", resp))
	}
	s.SetSubscribed(false)
	return nil
}

// Run sends `RUN <TOKEN> <args...>` and requires an OK response,
// translating a node-reported ERR into a *NodeError wrapped in
// errs.ErrNodeReported.
func (c *Client) Run(ctx context.Context, s *session.Session, token string, args []string) error {
	line := "RUN " + token
	for _, a := range args {
		line += " " + a
	}
	resp, err := c.do(ctx, s, line, c.StepTimeout)
	if err != nil {
		return err
	}
	return requireOK(s.Alias, "protocol.run", resp)
}

// Stop sends STOP and requires an OK response. timeout overrides the
// client's default step timeout (emergency stop uses a short fixed one).
func (c *Client) Stop(ctx context.Context, s *session.Session, timeout time.Duration) error {
	resp, err := c.do(ctx, s, "STOP", timeout)
	if err != nil {
		return err
	}
	return requireOK(s.Alias, "protocol.stop", resp)
}

func requireOK(alias, op, resp string) error {
	if resp == "OK" {
		return nil
	}
	if strings.HasPrefix(resp, "ERR ") {
		parts := strings.SplitN(strings.TrimPrefix(resp, "ERR "), " ", 2)
		ne := &NodeError{Code: parts[0]}
		if len(parts) > 1 {
			ne.Detail = parts[1]
		}
		return errs.Wrap(op, alias, errs.ErrNodeReported, ne)
	}
	return errs.Wrap(op, alias, errs.ErrProtocol, fmt.Errorf("unexpected response: %s", resp))
}
