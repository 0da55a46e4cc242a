package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/types"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
	"github.com/edgecomet/urlclean/pkg/betterurl"
)

func str(s string) *string { return &s }

// testState builds a task state around rawURL with empty params and an
// off unthreader.
func testState(t *testing.T, rawURL string) *TaskState {
	t.Helper()
	return &TaskState{
		URL:        betterurl.MustParse(rawURL),
		Scratchpad: types.NewScratchpad(),
		Params:     &Params{},
		Commons:    &Commons{},
		Unthreader: unthreader.NewHandle(unthreader.NewOff()),
		Cache:      cache.NewHandle(nil, cache.DefaultPolicy()),
		HTTP:       httpx.NewClient(httpx.ClientConfig{}, nil),
	}
}

// testStateWithCache is testState plus a memory-backed cache.
func testStateWithCache(t *testing.T, rawURL string) (*TaskState, *cache.SQLiteCache) {
	t.Helper()
	inner := cache.NewMemoryCache(nil)
	t.Cleanup(func() { inner.Close() })
	ts := testState(t, rawURL)
	ts.Cache = cache.NewHandle(inner, cache.DefaultPolicy())
	return ts, inner
}

// paramsWithRedirectHosts builds params shared by the membership and
// end-to-end tests.
func paramsWithRedirectHosts(t *testing.T) *Params {
	t.Helper()
	var np types.NamedPartitioning
	require.NoError(t, json.Unmarshal([]byte(`{"shorteners": ["t.co", "bit.ly"], "mirrors": ["vxtwitter.com"]}`), &np))
	return &Params{
		Sets: map[string]*types.Set{"redirect_hosts": types.NewSetOf("t.co", "bit.ly")},
		Maps: map[string]*types.Map[string]{
			"mirrors": {Map: map[string]string{"x.com": "vxtwitter.com"}},
		},
		NamedPartitionings: map[string]*types.NamedPartitioning{"host_kinds": &np},
	}
}

func mustSource(t *testing.T, raw string) StringSource {
	t.Helper()
	var s StringSource
	require.NoError(t, json.Unmarshal([]byte(raw), &s))
	return s
}

func mustMod(t *testing.T, raw string) StringModification {
	t.Helper()
	var m StringModification
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func mustMatcher(t *testing.T, raw string) StringMatcher {
	t.Helper()
	var m StringMatcher
	require.NoError(t, json.Unmarshal([]byte(raw), &m))
	return m
}

func mustCondition(t *testing.T, raw string) Condition {
	t.Helper()
	var c Condition
	require.NoError(t, json.Unmarshal([]byte(raw), &c))
	return c
}

func mustAction(t *testing.T, raw string) Action {
	t.Helper()
	var a Action
	require.NoError(t, json.Unmarshal([]byte(raw), &a))
	return a
}

func mustPart(t *testing.T, raw string) UrlPart {
	t.Helper()
	var p UrlPart
	require.NoError(t, json.Unmarshal([]byte(raw), &p))
	return p
}

// getSome evaluates a source that must yield a value.
func getSome(t *testing.T, s StringSource, view *TaskStateView) string {
	t.Helper()
	v, ok, err := s.Get(view)
	require.NoError(t, err)
	require.True(t, ok, "expected some, got none")
	return v
}

// getNone evaluates a source that must yield none.
func getNone(t *testing.T, s StringSource, view *TaskStateView) {
	t.Helper()
	_, ok, err := s.Get(view)
	require.NoError(t, err)
	require.False(t, ok, "expected none, got some")
}
