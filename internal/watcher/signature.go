package watcher

import (
	"sort"
	"strings"

	"faultline/internal/eventlog"
)

// Matcher selects records of one event type whose fields equal the given
// values. Field keys are gjson paths; values are compared as strings, so
// `"dead": "true"` matches a JSON boolean true.
type Matcher struct {
	Type   string
	Fields map[string]string
}

func (m Matcher) Match(rec eventlog.Record) bool {
	if rec.Type != m.Type {
		return false
	}
	for path, want := range m.Fields {
		got := rec.Get(path)
		if !got.Exists() || got.String() != want {
			return false
		}
	}
	return true
}

func (m Matcher) String() string {
	if len(m.Fields) == 0 {
		return m.Type
	}
	keys := make([]string, 0, len(m.Fields))
	for k := range m.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + m.Fields[k]
	}
	return m.Type + "{" + strings.Join(parts, ",") + "}"
}

// Signature is a disjunction of matchers.
type Signature []Matcher

func (s Signature) Match(rec eventlog.Record) bool {
	for _, m := range s {
		if m.Match(rec) {
			return true
		}
	}
	return false
}

func (s Signature) String() string {
	parts := make([]string, len(s))
	for i, m := range s {
		parts[i] = m.String()
	}
	return strings.Join(parts, " | ")
}
