package rules

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActionSetPart(t *testing.T) {
	ts := testState(t, "http://example.com/a?x=1")

	require.NoError(t, mustAction(t, `{"SetPart": {"part": "Scheme", "value": "https"}}`).Apply(ts))
	assert.Equal(t, "https://example.com/a?x=1", ts.URL.String())

	require.NoError(t, mustAction(t, `{"SetPart": {"part": "Fragment", "value": {"Part": {"QueryParam": "x"}}}}`).Apply(ts))
	assert.Equal(t, "https://example.com/a?x=1#1", ts.URL.String())

	// Absent value removes the part.
	require.NoError(t, mustAction(t, `{"SetPart": {"part": "Fragment"}}`).Apply(ts))
	assert.Equal(t, "https://example.com/a?x=1", ts.URL.String())
}

func TestActionQueryParamRemoval(t *testing.T) {
	t.Run("remove listed", func(t *testing.T) {
		ts := testState(t, "https://example.com/a?a=1&utm_source=x&b=2")
		require.NoError(t, mustAction(t, `{"RemoveQueryParams": ["utm_source", "gclid"]}`).Apply(ts))
		assert.Equal(t, "https://example.com/a?a=1&b=2", ts.URL.String())
	})

	t.Run("allow listed", func(t *testing.T) {
		ts := testState(t, "https://example.com/a?a=1&utm_source=x&b=2")
		require.NoError(t, mustAction(t, `{"AllowQueryParams": ["a", "b"]}`).Apply(ts))
		assert.Equal(t, "https://example.com/a?a=1&b=2", ts.URL.String())
	})

	t.Run("remove matching", func(t *testing.T) {
		ts := testState(t, "https://example.com/a?utm_source=x&utm_medium=y&id=1")
		require.NoError(t, mustAction(t, `{"RemoveQueryParamsMatching": {"Glob": "utm_*"}}`).Apply(ts))
		assert.Equal(t, "https://example.com/a?id=1", ts.URL.String())
	})
}

func TestActionIf(t *testing.T) {
	ts := testState(t, "http://example.com/")
	ts.Params = &Params{Flags: FlagSet{"https_upgrade": {}}}

	upgrade := mustAction(t, `{"If": {
		"if": {"All": [{"FlagIsSet": "https_upgrade"}, {"PartIs": {"part": "Scheme", "value": "http"}}]},
		"then": {"SetPart": {"part": "Scheme", "value": "https"}}
	}}`)
	require.NoError(t, upgrade.Apply(ts))
	assert.Equal(t, "https://example.com/", ts.URL.String())

	// Flag off leaves the URL alone.
	off := testState(t, "http://example.com/")
	require.NoError(t, upgrade.Apply(off))
	assert.Equal(t, "http://example.com/", off.URL.String())
}

func TestActionPartMap(t *testing.T) {
	action := mustAction(t, `{"PartMap": {"part": "Hostname", "map": {"map": {
		"x.com": {"SetPart": {"part": "Host", "value": "vxtwitter.com"}},
		"t.co": {"SetFlag": {"name": "was_shortener", "value": true}}
	}}}}`)

	ts := testState(t, "https://x.com/user/status/1")
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://vxtwitter.com/user/status/1", ts.URL.String())

	// Missing entry with no else is a no-op.
	other := testState(t, "https://unrelated.org/")
	require.NoError(t, action.Apply(other))
	assert.Equal(t, "https://unrelated.org/", other.URL.String())
}

func TestActionPartMapFallbacks(t *testing.T) {
	action := mustAction(t, `{"PartMap": {"part": "Fragment", "map": {
		"map": {},
		"if_none": {"SetFlag": {"name": "no_fragment", "value": true}},
		"else": {"SetFlag": {"name": "other", "value": true}}
	}}}`)

	ts := testState(t, "https://example.com/")
	require.NoError(t, action.Apply(ts))
	assert.True(t, ts.Scratchpad.FlagIsSet("no_fragment"))
	assert.False(t, ts.Scratchpad.FlagIsSet("other"))
}

func TestActionStringMap(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Params = &Params{Vars: map[string]string{"mode": "embed"}}

	action := mustAction(t, `{"StringMap": {"value": {"Var": "mode"}, "map": {"map": {
		"embed": {"SetPart": {"part": "Subdomain", "value": "embed"}}
	}}}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://embed.example.com/", ts.URL.String())
}

func TestActionPartNamedPartitioning(t *testing.T) {
	ts := testState(t, "https://t.co/abc")
	ts.Params = paramsWithRedirectHosts(t)

	action := mustAction(t, `{"PartNamedPartitioning": {
		"partitioning": "host_kinds",
		"part": "RegDomain",
		"map": {"map": {
			"shorteners": {"SetFlag": {"name": "shortener", "value": true}}
		}}
	}}`)
	require.NoError(t, action.Apply(ts))
	assert.True(t, ts.Scratchpad.FlagIsSet("shortener"))
}

func TestActionScratchpad(t *testing.T) {
	ts := testState(t, "https://example.com/")

	require.NoError(t, mustAction(t, `{"SetFlag": {"name": "f", "value": true}}`).Apply(ts))
	assert.True(t, ts.Scratchpad.FlagIsSet("f"))

	require.NoError(t, mustAction(t, `{"SetVar": {"name": "v", "value": {"Part": "Scheme"}}}`).Apply(ts))
	got, ok := ts.Scratchpad.Var("v")
	require.True(t, ok)
	assert.Equal(t, "https", got)

	require.NoError(t, mustAction(t, `{"SetVar": {"name": "v"}}`).Apply(ts))
	_, ok = ts.Scratchpad.Var("v")
	assert.False(t, ok)
}

func TestActionRepeatReachesFixedPoint(t *testing.T) {
	ts := testState(t, "https://a.t.co/")
	// The first iteration removes the whole subdomain; the second
	// changes nothing, so the state has reached its fixed point.
	action := mustAction(t, `{"Repeat": {"actions": [
		{"IgnoreError": {"SetPart": {"part": "Subdomain"}}}
	]}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://t.co/", ts.URL.String())
}

func TestActionRepeatHonorsLimit(t *testing.T) {
	ts := testState(t, "https://example.com/")
	// Never reaches a fixed point: appends a path segment per round.
	action := mustAction(t, `{"Repeat": {"limit": 3, "actions": [
		{"SetPart": {"part": "NextPathSegment", "value": "x"}}
	]}}`)
	require.NoError(t, action.Apply(ts))

	segments, ok := ts.URL.PathSegments()
	require.True(t, ok)
	assert.Len(t, segments, 3)
}

func TestActionRepeatDefaultLimit(t *testing.T) {
	ts := testState(t, "https://example.com/")
	action := mustAction(t, `{"Repeat": {"actions": [
		{"SetPart": {"part": "NextPathSegment", "value": "x"}}
	]}}`)
	require.NoError(t, action.Apply(ts))

	segments, ok := ts.URL.PathSegments()
	require.True(t, ok)
	assert.Len(t, segments, defaultRepeatLimit)
}

func TestActionRepeatRevertedChangesTerminate(t *testing.T) {
	ts := testState(t, "https://example.com/")
	// The iteration changes state and changes it back; the end state
	// matches the start state, so Repeat must exit after one round.
	action := mustAction(t, `{"Repeat": {"actions": [
		{"SetFlag": {"name": "tmp", "value": true}},
		{"SetFlag": {"name": "tmp", "value": false}}
	]}}`)
	require.NoError(t, action.Apply(ts))
	assert.False(t, ts.Scratchpad.FlagIsSet("tmp"))
}

func TestActionRevertRestoresOnError(t *testing.T) {
	ts := testState(t, "https://example.com/a")

	action := mustAction(t, `{"Revert": [
		{"SetPart": {"part": "Path", "value": "/changed"}},
		{"SetPart": {"part": "Scheme"}}
	]}`)
	require.Error(t, action.Apply(ts))
	assert.Equal(t, "https://example.com/a", ts.URL.String(), "failed Revert must restore the snapshot")
}

func TestActionIgnoreError(t *testing.T) {
	ts := testState(t, "https://example.com/a")
	action := mustAction(t, `{"IgnoreError": {"SetPart": {"part": "Scheme"}}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://example.com/a", ts.URL.String())
}

func TestActionExpandRedirect(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		http.Redirect(w, r, "https://final.example/landing", http.StatusMovedPermanently)
	}))
	defer srv.Close()

	ts, inner := testStateWithCache(t, srv.URL+"/shortlink")
	require.NoError(t, mustAction(t, `"ExpandRedirect"`).Apply(ts))
	assert.Equal(t, "https://final.example/landing", ts.URL.String())
	assert.Equal(t, 1, hits)

	// A second task for the same input must hit the cache, not the
	// network.
	ts2 := testState(t, srv.URL+"/shortlink")
	ts2.Cache = ts.Cache
	require.NoError(t, mustAction(t, `"ExpandRedirect"`).Apply(ts2))
	assert.Equal(t, "https://final.example/landing", ts2.URL.String())
	assert.Equal(t, 1, hits)

	// The cache row records the expansion.
	entry, found, err := inner.Read(context.Background(), "redirect", srv.URL+"/shortlink")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "https://final.example/landing", *entry.Value)
}

func TestActionExpandRedirectRelativeLocation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Location", "/moved/here")
		w.WriteHeader(http.StatusFound)
	}))
	defer srv.Close()

	ts, _ := testStateWithCache(t, srv.URL+"/old")
	require.NoError(t, mustAction(t, `"ExpandRedirect"`).Apply(ts))
	assert.Equal(t, srv.URL+"/moved/here", ts.URL.String())
}

func TestActionExpandRedirectRefreshHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Refresh", "0; url=https://refreshed.example/")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ts, _ := testStateWithCache(t, srv.URL+"/page")
	require.NoError(t, mustAction(t, `"ExpandRedirect"`).Apply(ts))
	assert.Equal(t, "https://refreshed.example/", ts.URL.String())
}

func TestActionExpandRedirectNoTarget(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		w.Write([]byte("just a page"))
	}))
	defer srv.Close()

	ts, _ := testStateWithCache(t, srv.URL+"/page")
	assert.ErrorIs(t, mustAction(t, `"ExpandRedirect"`).Apply(ts), ErrNoRedirect)

	// The absence is cached too: retrying does not refetch.
	ts2 := testState(t, srv.URL+"/page")
	ts2.Cache = ts.Cache
	assert.ErrorIs(t, mustAction(t, `"ExpandRedirect"`).Apply(ts2), ErrNoRedirect)
	assert.Equal(t, 1, hits)
}

func TestActionChainedRedirectsViaRepeat(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()
	mux.HandleFunc("/hop1", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/hop2", http.StatusFound)
	})
	mux.HandleFunc("/hop2", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, srv.URL+"/final?si=tracking", http.StatusFound)
	})
	mux.HandleFunc("/final", func(w http.ResponseWriter, r *http.Request) {})

	ts, _ := testStateWithCache(t, srv.URL+"/hop1")
	action := mustAction(t, `{"All": [
		{"Repeat": {"actions": [{"IgnoreError": "ExpandRedirect"}]}},
		{"RemoveQueryParams": ["si"]}
	]}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, srv.URL+"/final", ts.URL.String())

	// Cleaning again changes nothing.
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, srv.URL+"/final", ts.URL.String())
}
