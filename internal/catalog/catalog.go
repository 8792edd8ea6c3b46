// Package catalog builds and resolves the command catalog (component D):
// the qualified ("alias.TOKEN") and unqualified ("TOKEN") maps derived
// from every connected session's manifest.
package catalog

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vedpanse/daemon/internal/daemon"
	"github.com/vedpanse/daemon/internal/errs"
	"github.com/vedpanse/daemon/internal/session"
)

// Catalog is rebuilt deterministically whenever a session's manifest
// changes (initial connect, or a reconnect that re-learns a manifest).
type Catalog struct {
	mu          sync.RWMutex
	sessions    []*session.Session // declaration order, preserved for emergency stop and merged manifest
	qualified   map[string]*session.Session
	unqualified map[string]*session.Session
	duplicates  map[string]bool
}

// New returns an empty catalog over sessions in declaration order. Call
// Rebuild once manifests are available.
func New(sessions []*session.Session) *Catalog {
	return &Catalog{sessions: sessions}
}

// Sessions returns the sessions in declaration order.
func (c *Catalog) Sessions() []*session.Session {
	return c.sessions
}

// Rebuild recomputes the qualified/unqualified maps from each session's
// currently cached manifest. Only sessions that are connected (currently
// own a live socket, per Session.Connected) contribute — a session left
// disconnected after connect_all still occupies its slot
// in Sessions() for status reporting but owns no tokens.
func (c *Catalog) Rebuild() {
	qualified := make(map[string]*session.Session)
	firstOwner := make(map[string]*session.Session)
	duplicates := make(map[string]bool)

	for _, s := range c.sessions {
		if !s.Connected() {
			continue
		}
		for _, cmd := range s.Manifest().Commands {
			token := strings.ToUpper(cmd.Token)
			if token == "" {
				continue
			}
			qualified[s.Alias+"."+token] = s
			if owner, ok := firstOwner[token]; ok && owner != s {
				duplicates[token] = true
			} else {
				firstOwner[token] = s
			}
		}
	}

	unqualified := make(map[string]*session.Session)
	for token, owner := range firstOwner {
		if !duplicates[token] {
			unqualified[token] = owner
		}
	}

	c.mu.Lock()
	c.qualified = qualified
	c.unqualified = unqualified
	c.duplicates = duplicates
	c.mu.Unlock()
}

// Unqualified returns the owner of a bare token, iff it is unambiguous.
func (c *Catalog) Unqualified(token string) (*session.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.unqualified[strings.ToUpper(token)]
	return s, ok
}

// Qualified returns the owner of an "alias.TOKEN" key.
func (c *Catalog) Qualified(alias, token string) (*session.Session, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.qualified[alias+"."+strings.ToUpper(token)]
	return s, ok
}

// IsAmbiguous reports whether token is declared by more than one
// connected node (and therefore absent from the unqualified map).
func (c *Catalog) IsAmbiguous(token string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.duplicates[strings.ToUpper(token)]
}

// FindSession resolves a target string against alias, device name, or
// node_id over connected sessions only. Sessions are scanned in
// declaration order and the first one matching any of the three wins.
func (c *Catalog) FindSession(target string) (*session.Session, bool) {
	for _, s := range c.sessions {
		if !s.Connected() {
			continue
		}
		if target == s.Alias || target == s.NodeName() || target == s.NodeID() {
			return s, true
		}
	}
	return nil, false
}

// Resolve implements the full resolution rule from §4.D/§4.E: if target
// is set, it must name a connected session that declares token. If
// target is empty but token is a namespaced "PREFIX.TOKEN" (the
// dotted-token supplement), PREFIX is resolved as a target. Otherwise
// token must be unambiguous in the catalog.
func (c *Catalog) Resolve(target, token string) (*session.Session, daemon.CommandSpec, error) {
	rawToken := token
	token = strings.ToUpper(token)

	if target != "" {
		s, ok := c.FindSession(target)
		if !ok {
			return nil, daemon.CommandSpec{}, errs.Wrap("catalog.resolve", target, errs.ErrNotFound,
				notFoundf("target %q does not match any connected node", target))
		}
		cmd, ok := s.Manifest().CommandByToken(token)
		if !ok {
			return nil, daemon.CommandSpec{}, errs.Wrap("catalog.resolve", s.Alias, errs.ErrNotFound,
				notFoundf("node %q does not declare token %q", s.Alias, token))
		}
		return s, cmd, nil
	}

	if prefix, bare, ok := strings.Cut(rawToken, "."); ok {
		if s, found := c.FindSession(prefix); found {
			return c.Resolve(s.Alias, bare)
		}
		return nil, daemon.CommandSpec{}, errs.Wrap("catalog.resolve", "", errs.ErrNotFound,
			notFoundf("namespaced token %q: unknown node %q", token, prefix))
	}

	if c.IsAmbiguous(token) {
		return nil, daemon.CommandSpec{}, errs.Wrap("catalog.resolve", "", errs.ErrAmbiguous,
			notFoundf("token %q is ambiguous across nodes; explicit target is required", token))
	}

	owner, ok := c.Unqualified(token)
	if !ok {
		return nil, daemon.CommandSpec{}, errs.Wrap("catalog.resolve", "", errs.ErrNotFound,
			notFoundf("token %q not found", token))
	}
	cmd, _ := owner.Manifest().CommandByToken(token)
	return owner, cmd, nil
}

// QualifiedTokens returns every "alias.TOKEN" key in sorted order, used
// by the merged manifest's catalog summary.
func (c *Catalog) QualifiedTokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.qualified))
	for k := range c.qualified {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// UnqualifiedTokens returns every unambiguous bare token in sorted order.
func (c *Catalog) UnqualifiedTokens() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.unqualified))
	for k := range c.unqualified {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func notFoundf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}
