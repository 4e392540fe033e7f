// Package history keeps the inputs executed in this kernel process and
// answers history_request queries over them.
package history

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"gokernel/pkg/protocol"
)

// CurrentSession is the session number reported for this process.
const CurrentSession = 1

type Entry struct {
	Line   int
	Raw    string
	Input  string
	Output *string
	At     time.Time
}

// Memory is an in-process history log ordered by line number.
type Memory struct {
	mu      sync.RWMutex
	entries []Entry
}

func NewMemory() *Memory {
	return &Memory{}
}

// Record stores one executed cell. raw is the source as typed, input the
// source after magic expansion.
func (m *Memory) Record(line int, raw string, input string) {
	if line <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = append(m.entries, Entry{
		Line:  line,
		Raw:   raw,
		Input: input,
		At:    time.Now().UTC(),
	})
}

// SetOutput attaches the text/plain result of line.
func (m *Memory) SetOutput(line int, output string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := len(m.entries) - 1; i >= 0; i-- {
		if m.entries[i].Line == line {
			m.entries[i].Output = &output
			return
		}
	}
}

func (m *Memory) List() []Entry {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.entries) == 0 {
		return nil
	}

	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

func (m *Memory) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.entries = nil
}

// Query answers a history_request.
func (m *Memory) Query(req *protocol.HistoryRequest) ([]protocol.HistoryEntry, error) {
	if req == nil || req.Query == nil {
		return nil, fmt.Errorf("history query is required")
	}

	entries := m.List()
	var selected []Entry

	switch q := req.Query.(type) {
	case protocol.RangeQuery:
		selected = selectRange(entries, q)
	case protocol.TailQuery:
		selected = lastN(entries, q.N)
	case protocol.SearchQuery:
		matched, err := search(entries, q)
		if err != nil {
			return nil, err
		}
		selected = matched
	default:
		return nil, fmt.Errorf("unsupported hist_access_type %q", req.Query.AccessType())
	}

	out := make([]protocol.HistoryEntry, 0, len(selected))
	for _, e := range selected {
		item := protocol.HistoryEntry{Session: CurrentSession, Line: e.Line, Input: e.Input}
		if req.Raw {
			item.Input = e.Raw
		}
		if req.Output {
			output := ""
			if e.Output != nil {
				output = *e.Output
			}
			item.Output = &output
		}
		out = append(out, item)
	}
	return out, nil
}

// selectRange returns lines in [start, stop). A negative start counts back
// from the newest line; stop <= 0 means no upper bound. Session 0 and
// CurrentSession both name this process.
func selectRange(entries []Entry, q protocol.RangeQuery) []Entry {
	if q.Session != 0 && q.Session != CurrentSession {
		return nil
	}

	start := q.Start
	if start < 0 && len(entries) > 0 {
		start = entries[len(entries)-1].Line + start + 1
	}

	var out []Entry
	for _, e := range entries {
		if e.Line < start {
			continue
		}
		if q.Stop > 0 && e.Line >= q.Stop {
			continue
		}
		out = append(out, e)
	}
	return out
}

func lastN(entries []Entry, n int) []Entry {
	if n <= 0 || n >= len(entries) {
		return entries
	}
	return entries[len(entries)-n:]
}

func search(entries []Entry, q protocol.SearchQuery) ([]Entry, error) {
	pattern := q.Pattern
	if pattern == "" {
		pattern = "*"
	}
	re, err := globToRegexp(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid history pattern %q: %w", q.Pattern, err)
	}

	var matched []Entry
	for _, e := range entries {
		if re.MatchString(e.Raw) {
			matched = append(matched, e)
		}
	}

	if q.Unique {
		seen := make(map[string]bool, len(matched))
		unique := make([]Entry, 0, len(matched))
		for i := len(matched) - 1; i >= 0; i-- {
			if seen[matched[i].Raw] {
				continue
			}
			seen[matched[i].Raw] = true
			unique = append(unique, matched[i])
		}
		for i, j := 0, len(unique)-1; i < j; i, j = i+1, j-1 {
			unique[i], unique[j] = unique[j], unique[i]
		}
		matched = unique
	}

	return lastN(matched, q.N), nil
}

// globToRegexp converts a shell glob matched against the whole input.
// '*' and '?' cross newlines.
func globToRegexp(glob string) (*regexp.Regexp, error) {
	var b strings.Builder
	b.WriteString(`(?s)\A`)
	inClass := false
	for _, r := range glob {
		switch {
		case inClass:
			if r == ']' {
				inClass = false
			}
			if r == '\\' {
				b.WriteString(`\\`)
				continue
			}
			b.WriteRune(r)
		case r == '*':
			b.WriteString(".*")
		case r == '?':
			b.WriteString(".")
		case r == '[':
			inClass = true
			b.WriteRune(r)
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	if inClass {
		return nil, fmt.Errorf("unterminated character class")
	}
	b.WriteString(`\z`)
	return regexp.Compile(b.String())
}
