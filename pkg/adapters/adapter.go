// Package adapters turns raw scanner reports into engine.RawFinding values.
package adapters

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/user/gosec-agg/pkg/engine"
)

// Adapter parses one tool's report format.
type Adapter interface {
	Tool() string
	Parse(raw []byte) ([]engine.RawFinding, []ParseWarning, error)
}

// ParseWarning describes one report entry that was skipped.
type ParseWarning struct {
	Tool   string `json:"tool"`
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

func (w ParseWarning) String() string {
	return fmt.Sprintf("%s entry %d skipped: %s", w.Tool, w.Index, w.Reason)
}

// Registry maps tool names to adapters.
type Registry struct {
	mu       sync.RWMutex
	adapters map[string]Adapter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{adapters: make(map[string]Adapter)}
}

// DefaultRegistry returns a registry with every built-in adapter.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, a := range []Adapter{
		GitleaksAdapter{},
		TrivyAdapter{},
		SemgrepAdapter{},
		KICSAdapter{},
		GosecAdapter{},
		BanditAdapter{},
		NiktoAdapter{},
		LynisAdapter{},
		NmapAdapter{},
	} {
		r.Register(a)
	}
	return r
}

// Register adds or replaces the adapter for a.Tool().
func (r *Registry) Register(a Adapter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.adapters[strings.ToLower(a.Tool())] = a
}

// Lookup returns the adapter for tool.
func (r *Registry) Lookup(tool string) (Adapter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.adapters[strings.ToLower(strings.TrimSpace(tool))]
	return a, ok
}

// Tools lists the registered tool names.
func (r *Registry) Tools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.adapters))
	for k := range r.adapters {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Parse dispatches raw to the adapter registered for tool. Any envelope-level
// failure comes back as *engine.ParseError.
func (r *Registry) Parse(tool string, raw []byte) ([]engine.RawFinding, []ParseWarning, error) {
	a, ok := r.Lookup(tool)
	if !ok {
		return nil, nil, &engine.ParseError{Tool: tool, Err: fmt.Errorf("no adapter registered")}
	}
	findings, warnings, err := a.Parse(raw)
	if err != nil {
		return nil, warnings, asParseError(a.Tool(), err)
	}
	return findings, warnings, nil
}

func asParseError(tool string, err error) error {
	if pe, ok := err.(*engine.ParseError); ok {
		return pe
	}
	return &engine.ParseError{Tool: tool, Err: err}
}

// decodeEntries unmarshals a report envelope. Envelopes hold their entries as
// json.RawMessage so one bad entry only costs that entry.
func decodeEntries(raw []byte, envelope any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		return fmt.Errorf("empty report")
	}
	return json.Unmarshal(raw, envelope)
}

func cleanPath(p string) string {
	p = filepath.ToSlash(strings.TrimSpace(p))
	for strings.HasPrefix(p, "../") {
		p = strings.TrimPrefix(p, "../")
	}
	return strings.TrimPrefix(p, "./")
}

func safeLine(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// flexLine accepts a number encoded either as a JSON number or as a string
// such as "12" or "12-14" (gosec line ranges, nikto ports).
type flexLine int

func (l *flexLine) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*l = 0
		return nil
	}
	if i := strings.IndexByte(s, '-'); i > 0 {
		s = s[:i]
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fmt.Errorf("invalid line %q", s)
	}
	*l = flexLine(n)
	return nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}
