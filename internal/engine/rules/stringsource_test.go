package rules

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/urlclean/internal/engine/types"
)

func TestStringSourceLiteralShortForm(t *testing.T) {
	ts := testState(t, "https://example.com/")
	s := mustSource(t, `"hello"`)
	assert.Equal(t, "hello", getSome(t, s, ts.View()))

	// Round-trips back to the bare string.
	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"hello"`, string(out))
}

func TestStringSourcePart(t *testing.T) {
	ts := testState(t, "https://sub.example.com/a?x=1")

	assert.Equal(t, "sub.example.com", getSome(t, mustSource(t, `{"Part": "Hostname"}`), ts.View()))
	assert.Equal(t, "1", getSome(t, mustSource(t, `{"Part": {"QueryParam": "x"}}`), ts.View()))
	getNone(t, mustSource(t, `{"Part": "Fragment"}`), ts.View())
}

func TestStringSourceVarScopes(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Params = &Params{Vars: map[string]string{"pv": "from-params"}}
	ts.Scratchpad.SetVar("sv", str("from-scratchpad"))
	ts.Context = &TaskContext{Vars: map[string]string{"tv": "from-task"}}
	ts.JobContext = &JobContext{Vars: map[string]string{"jv": "from-job"}}

	assert.Equal(t, "from-params", getSome(t, mustSource(t, `{"Var": "pv"}`), ts.View()))
	assert.Equal(t, "from-scratchpad", getSome(t, mustSource(t, `{"Var": {"scope": "Scratchpad", "name": "sv"}}`), ts.View()))
	assert.Equal(t, "from-task", getSome(t, mustSource(t, `{"Var": {"scope": "TaskContext", "name": "tv"}}`), ts.View()))
	assert.Equal(t, "from-job", getSome(t, mustSource(t, `{"Var": {"scope": "JobContext", "name": "jv"}}`), ts.View()))
	getNone(t, mustSource(t, `{"Var": "missing"}`), ts.View())
}

func TestStringSourceEnv(t *testing.T) {
	t.Setenv("URLCLEAN_TEST_VAR", "env-value")
	ts := testState(t, "https://example.com/")

	assert.Equal(t, "env-value", getSome(t, mustSource(t, `{"Env": "URLCLEAN_TEST_VAR"}`), ts.View()))
	getNone(t, mustSource(t, `{"Env": "URLCLEAN_DEFINITELY_ABSENT"}`), ts.View())
}

func TestStringSourceMapLookup(t *testing.T) {
	ts := testState(t, "https://x.com/user/status/1")
	elseVal := "unknown"
	ts.Params = &Params{Maps: map[string]*types.Map[string]{
		"mirrors": {
			Map:  map[string]string{"x.com": "vxtwitter.com"},
			Else: &elseVal,
		},
	}}

	source := mustSource(t, `{"Map": {"map": "mirrors", "key": {"Part": "Hostname"}}}`)
	assert.Equal(t, "vxtwitter.com", getSome(t, source, ts.View()))

	other := testState(t, "https://other.net/")
	other.Params = ts.Params
	assert.Equal(t, "unknown", getSome(t, source, other.View()))

	missing := mustSource(t, `{"Map": {"map": "nope", "key": "k"}}`)
	_, _, err := missing.Get(ts.View())
	var resolution *ResolutionError
	require.ErrorAs(t, err, &resolution)
}

func TestStringSourcePartitioningLookup(t *testing.T) {
	ts := testState(t, "https://google.com/")
	var np types.NamedPartitioning
	require.NoError(t, json.Unmarshal([]byte(`{"search": ["google.com"], "social": ["x.com"]}`), &np))
	ts.Params = &Params{NamedPartitionings: map[string]*types.NamedPartitioning{"kinds": &np}}

	source := mustSource(t, `{"Partitioning": {"partitioning": "kinds", "key": {"Part": "Hostname"}}}`)
	assert.Equal(t, "search", getSome(t, source, ts.View()))
}

func TestStringSourceModified(t *testing.T) {
	ts := testState(t, "https://EXAMPLE.com/")
	source := mustSource(t, `{"Modified": {"value": "MiXeD", "modification": "Lowercase"}}`)
	assert.Equal(t, "mixed", getSome(t, source, ts.View()))

	// Modifying a none value is an error.
	bad := mustSource(t, `{"Modified": {"value": {"Part": "Fragment"}, "modification": "Lowercase"}}`)
	_, _, err := bad.Get(ts.View())
	assert.ErrorIs(t, err, ErrStringSourceIsNone)
}

func TestStringSourceControlFlow(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Params = &Params{Flags: FlagSet{"on": {}}}

	ifSource := mustSource(t, `{"If": {"if": {"FlagIsSet": "on"}, "then": "yes", "else": "no"}}`)
	assert.Equal(t, "yes", getSome(t, ifSource, ts.View()))

	ifNoElse := mustSource(t, `{"If": {"if": "Never", "then": "yes"}}`)
	getNone(t, ifNoElse, ts.View())

	first := mustSource(t, `{"FirstNotNone": [{"Part": "Fragment"}, {"Part": "Scheme"}, "fallback"]}`)
	assert.Equal(t, "https", getSome(t, first, ts.View()))

	ifSome := mustSource(t, `{"IfSome": {"value": {"Part": "Fragment"}, "else": "absent"}}`)
	assert.Equal(t, "absent", getSome(t, ifSome, ts.View()))

	noneTo := mustSource(t, `{"NoneTo": {"value": {"Part": "Fragment"}, "if_none": "x"}}`)
	assert.Equal(t, "x", getSome(t, noneTo, ts.View()))

	join := mustSource(t, `{"Join": {"sources": [{"Part": "Scheme"}, {"Part": "Hostname"}], "separator": "://"}}`)
	assert.Equal(t, "https://example.com", getSome(t, join, ts.View()))

	empty := mustSource(t, `{"NoneToEmptyString": {"Part": "Fragment"}}`)
	assert.Equal(t, "", getSome(t, empty, ts.View()))
}

func TestStringSourceNoneIsNotEmptyString(t *testing.T) {
	ts := testState(t, "https://example.com/?a=")

	// "a=" has an empty value; that is some(""), not none.
	v, ok, err := mustSource(t, `{"Part": {"QueryParam": "a"}}`).Get(ts.View())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "", v)

	getNone(t, mustSource(t, `{"Part": {"QueryParam": "b"}}`), ts.View())
}

func TestStringSourceCacheRead(t *testing.T) {
	ts, inner := testStateWithCache(t, "https://example.com/")
	ts.Params = &Params{Vars: map[string]string{"expensive": "computed-once"}}

	source := mustSource(t, `{"CacheRead": {"subject": "test", "key": {"Part": "Whole"}, "value": {"Var": "expensive"}}}`)
	assert.Equal(t, "computed-once", getSome(t, source, ts.View()))

	// The computed value must now be stored.
	entry, found, err := inner.Read(context.Background(), "test", "https://example.com/")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "computed-once", *entry.Value)

	// A second read must come from the cache even if the inner source
	// changes.
	ts.Params = &Params{Vars: map[string]string{"expensive": "changed"}}
	assert.Equal(t, "computed-once", getSome(t, source, ts.View()))
}

func TestStringSourceHttpRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "dynamic-value", r.Header.Get("X-Dynamic"))
		assert.Empty(t, r.Header.Values("X-Omitted"))
		w.Write([]byte("response-body"))
	}))
	defer srv.Close()

	ts := testState(t, "https://example.com/")
	source := mustSource(t, `{"HttpRequest": {
		"url": "`+srv.URL+`",
		"dynamic_headers": {
			"X-Dynamic": "dynamic-value",
			"X-Omitted": {"Part": "Fragment"}
		}
	}}`)
	assert.Equal(t, "response-body", getSome(t, source, ts.View()))
}

func TestStringSourceIgnoreError(t *testing.T) {
	ts := testState(t, "https://example.com/")
	source := mustSource(t, `{"IgnoreError": {"Modified": {"value": {"Part": "Fragment"}, "modification": "Lowercase"}}}`)
	getNone(t, source, ts.View())
}

func TestStringSourceExtractPart(t *testing.T) {
	ts := testState(t, "https://l.example.com/?u=https%3A%2F%2Ftarget.net%2Fpage")
	source := mustSource(t, `{"ExtractPart": {"value": {"Part": {"QueryParam": "u"}}, "part": "Hostname"}}`)
	assert.Equal(t, "target.net", getSome(t, source, ts.View()))
}

func TestStringSourceJSONRoundTrip(t *testing.T) {
	raws := []string{
		`"literal"`,
		`{"Part":"Host"}`,
		`{"Var":"name"}`,
		`{"Modified":{"value":"x","modification":"Uppercase"}}`,
		`{"FirstNotNone":["a","b"]}`,
		`{"CacheRead":{"subject":"s","key":"k","value":"v"}}`,
	}
	for _, raw := range raws {
		s := mustSource(t, raw)
		out, err := json.Marshal(s)
		require.NoError(t, err)
		again := mustSource(t, string(out))
		outAgain, err := json.Marshal(again)
		require.NoError(t, err)
		assert.JSONEq(t, string(out), string(outAgain), raw)
	}
}

func TestStringSourceRejectsUnknownVariant(t *testing.T) {
	var s StringSource
	assert.Error(t, json.Unmarshal([]byte(`{"Bogus": 1}`), &s))
	assert.Error(t, json.Unmarshal([]byte(`{"If": {"then": "x", "typo_field": 1}}`), &s))
}
