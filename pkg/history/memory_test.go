package history

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"gokernel/pkg/protocol"
)

func seeded() *Memory {
	m := NewMemory()
	m.Record(1, "%env HOME", "echo /root")
	m.Record(2, "ls -la", "ls -la")
	m.Record(3, "echo one", "echo one")
	m.Record(4, "ls -la", "ls -la")
	m.Record(5, "echo two\necho three", "echo two\necho three")
	m.SetOutput(3, "one")
	return m
}

func lines(entries []protocol.HistoryEntry) []int {
	out := make([]int, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Line)
	}
	return out
}

func TestMemoryRecordListClear(t *testing.T) {
	m := NewMemory()
	m.Record(1, "a", "a")
	m.Record(0, "ignored", "ignored")

	if got := len(m.List()); got != 1 {
		t.Fatalf("len(entries) = %d, want 1", got)
	}

	m.Clear()
	if got := len(m.List()); got != 0 {
		t.Fatalf("len(entries) after clear = %d, want 0", got)
	}
}

func TestMemoryConcurrentRecord(t *testing.T) {
	m := NewMemory()
	const n = 50

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 1; i <= n; i++ {
		go func(line int) {
			defer wg.Done()
			m.Record(line, "x", "x")
		}(i)
	}
	wg.Wait()

	if got := len(m.List()); got != n {
		t.Fatalf("len(entries) = %d, want %d", got, n)
	}
}

func TestQueryRange(t *testing.T) {
	m := seeded()

	got, err := m.Query(&protocol.HistoryRequest{Query: protocol.RangeQuery{Start: 2, Stop: 4}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 3}, lines(got))
	require.Equal(t, CurrentSession, got[0].Session)

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.RangeQuery{Start: -2}})
	require.NoError(t, err)
	require.Equal(t, []int{4, 5}, lines(got))

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.RangeQuery{Session: 7, Start: 1}})
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestQueryTailRawAndOutput(t *testing.T) {
	m := seeded()

	got, err := m.Query(&protocol.HistoryRequest{Output: true, Query: protocol.TailQuery{N: 3}})
	require.NoError(t, err)
	require.Equal(t, []int{3, 4, 5}, lines(got))
	require.NotNil(t, got[0].Output)
	require.Equal(t, "one", *got[0].Output)
	require.Equal(t, "", *got[1].Output)

	got, err = m.Query(&protocol.HistoryRequest{Raw: true, Query: protocol.TailQuery{N: 5}})
	require.NoError(t, err)
	require.Equal(t, "%env HOME", got[0].Input)
	require.Nil(t, got[0].Output)

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.TailQuery{N: 5}})
	require.NoError(t, err)
	require.Equal(t, "echo /root", got[0].Input)
}

func TestQuerySearch(t *testing.T) {
	m := seeded()

	got, err := m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "ls*"}})
	require.NoError(t, err)
	require.Equal(t, []int{2, 4}, lines(got))

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "ls*", Unique: true}})
	require.NoError(t, err)
	require.Equal(t, []int{4}, lines(got))

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "echo*three"}})
	require.NoError(t, err)
	require.Equal(t, []int{5}, lines(got))

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "echo ???"}})
	require.NoError(t, err)
	require.Equal(t, []int{3}, lines(got))

	got, err = m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "*", N: 2}})
	require.NoError(t, err)
	require.Equal(t, []int{4, 5}, lines(got))

	_, err = m.Query(&protocol.HistoryRequest{Query: protocol.SearchQuery{Pattern: "[ab"}})
	require.Error(t, err)
}

func TestGlobToRegexpEscapesMeta(t *testing.T) {
	re, err := globToRegexp("a.b+[cd]")
	require.NoError(t, err)

	require.True(t, re.MatchString("a.b+c"))
	require.False(t, re.MatchString("axb+c"))
	require.False(t, re.MatchString("a.b+e"))
}
