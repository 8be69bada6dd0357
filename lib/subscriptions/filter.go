package subscriptions

import (
	"regexp"
	"strings"

	"github.com/fiffu/registrywatch/lib/models"
)

// Matcher is a compiled models.Filter. A change matches when every non-empty
// dimension of the filter passes.
type Matcher struct {
	namespaces []*regexp.Regexp
	keywords   []string
	servers    map[string]struct{}
}

func NewMatcher(f models.Filter) *Matcher {
	m := &Matcher{}
	for _, ns := range f.Namespaces {
		m.namespaces = append(m.namespaces, compileGlob(ns))
	}
	for _, kw := range f.Keywords {
		m.keywords = append(m.keywords, strings.ToLower(kw))
	}
	if len(f.Servers) > 0 {
		m.servers = make(map[string]struct{}, len(f.Servers))
		for _, s := range f.Servers {
			m.servers[s] = struct{}{}
		}
	}
	return m
}

// Match tests the server named by c. Removed changes carry no description, so
// keywords are only tested against the name for those.
func (m *Matcher) Match(c *models.Change) bool {
	return m.MatchServer(c.ServerName, c.Description())
}

func (m *Matcher) MatchServer(name, description string) bool {
	if len(m.namespaces) > 0 && !m.matchNamespace(name) {
		return false
	}
	if len(m.keywords) > 0 && !m.matchKeyword(name, description) {
		return false
	}
	if m.servers != nil {
		if _, ok := m.servers[name]; !ok {
			return false
		}
	}
	return true
}

func (m *Matcher) matchNamespace(name string) bool {
	for _, re := range m.namespaces {
		if re.MatchString(name) {
			return true
		}
	}
	return false
}

func (m *Matcher) matchKeyword(name, description string) bool {
	haystack := strings.ToLower(name + " " + description)
	for _, kw := range m.keywords {
		if strings.Contains(haystack, kw) {
			return true
		}
	}
	return false
}

// compileGlob turns "*" into ".*" and quotes everything else. The pattern is
// anchored at the start of the name only, so "io.github" is a prefix match.
func compileGlob(glob string) *regexp.Regexp {
	parts := strings.Split(glob, "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*"))
}
