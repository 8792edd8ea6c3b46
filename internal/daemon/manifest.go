// Package daemon holds the wire-level vocabulary shared by every other
// package: node manifests, command specs, and plans. Nothing here talks to
// a socket or a catalog; it is pure data plus the small amount of parsing
// logic needed to move it across JSON and the serial-line-v1 wire.
package daemon

import (
	"fmt"
	"strings"
)

// ArgType enumerates the scalar types a command argument may declare.
type ArgType string

const (
	ArgInt    ArgType = "int"
	ArgFloat  ArgType = "float"
	ArgBool   ArgType = "bool"
	ArgString ArgType = "string"
)

// ArgSpec describes one positional RUN argument.
type ArgSpec struct {
	Name     string        `json:"name" yaml:"name"`
	Type     ArgType       `json:"type" yaml:"type"`
	Min      *float64      `json:"min,omitempty" yaml:"min,omitempty"`
	Max      *float64      `json:"max,omitempty" yaml:"max,omitempty"`
	Enum     []interface{} `json:"enum,omitempty" yaml:"enum,omitempty"`
	Required bool          `json:"required" yaml:"required"`
}

// Safety carries the node-declared limits the orchestrator's validator
// never enforces itself (it only ever rejects or resolves); the node is
// the sole enforcer of rate limiting, watchdog timing, and clamping.
type Safety struct {
	RateLimitHz float64 `json:"rate_limit_hz" yaml:"rate_limit_hz"`
	WatchdogMs  int     `json:"watchdog_ms" yaml:"watchdog_ms"`
	Clamp       bool    `json:"clamp" yaml:"clamp"`
}

// CommandSpec is one element of a manifest's ordered "commands" list.
type CommandSpec struct {
	Token       string    `json:"token" yaml:"token"`
	Description string    `json:"description" yaml:"description"`
	Args        []ArgSpec `json:"args" yaml:"args"`
	Safety      Safety    `json:"safety" yaml:"safety"`
}

// TelemetryKey describes one declared telemetry field.
type TelemetryKey struct {
	Name string `json:"name" yaml:"name"`
	Type string `json:"type" yaml:"type"`
	Unit string `json:"unit,omitempty" yaml:"unit,omitempty"`
}

// Device identifies the physical node behind a manifest.
type Device struct {
	Name    string `json:"name" yaml:"name"`
	NodeID  string `json:"node_id" yaml:"node_id"`
	Version string `json:"version" yaml:"version"`
}

// Transport names the wire protocol a node speaks. The core only ever
// deals with "serial-line-v1".
type Transport struct {
	Type string `json:"type" yaml:"type"`
}

// Manifest is a node's self-description, returned verbatim by HELLO and
// READ_MANIFEST as `MANIFEST <compact-json>`.
type Manifest struct {
	Device    Device                 `json:"device" yaml:"device"`
	Commands  []CommandSpec          `json:"commands" yaml:"commands"`
	Services  map[string]interface{} `json:"services,omitempty" yaml:"services,omitempty"`
	Telemetry struct {
		Keys []TelemetryKey `json:"keys" yaml:"keys"`
	} `json:"telemetry" yaml:"telemetry"`
	Transport Transport `json:"transport" yaml:"transport"`
}

// CommandByToken returns the command spec for an exact-case token, or
// false if the manifest does not declare it.
func (m Manifest) CommandByToken(token string) (CommandSpec, bool) {
	for _, c := range m.Commands {
		if c.Token == token {
			return c, true
		}
	}
	return CommandSpec{}, false
}

// Validate performs the minimal structural sanity check a manifest must
// pass before it can be folded into a catalog: every command needs a
// non-empty uppercase token and the transport must be serial-line-v1.
func (m Manifest) Validate() error {
	if m.Transport.Type != "serial-line-v1" {
		return fmt.Errorf("unsupported transport %q", m.Transport.Type)
	}
	seen := map[string]bool{}
	for _, c := range m.Commands {
		if c.Token == "" {
			return fmt.Errorf("command with empty token")
		}
		if c.Token != strings.ToUpper(c.Token) {
			return fmt.Errorf("token %q must be uppercase", c.Token)
		}
		if seen[c.Token] {
			return fmt.Errorf("duplicate token %q within a single manifest", c.Token)
		}
		seen[c.Token] = true
	}
	return nil
}
