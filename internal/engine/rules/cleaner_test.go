package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/edgecomet/urlclean/internal/engine/types"
)

// scenarioCleaner is the document from the end-to-end scenarios:
// remove utm_source, upgrade http to https when the https_upgrade flag
// is set, and rehost via the mirrors map.
const scenarioCleaner = `{
	"docs": {
		"name": "scenario",
		"description": ["Strips utm_source and optionally upgrades to https."],
		"flags": {"https_upgrade": "Rewrite http URLs to https."}
	},
	"params": {
		"flags": [],
		"maps": {
			"mirrors": {"map": {"x.com": "vxtwitter.com"}}
		}
	},
	"actions": {"All": [
		{"RemoveQueryParams": ["utm_source"]},
		{"If": {
			"if": {"All": [{"FlagIsSet": "https_upgrade"}, {"PartIs": {"part": "Scheme", "value": "http"}}]},
			"then": {"SetPart": {"part": "Scheme", "value": "https"}}
		}},
		{"PartMap": {"part": "Hostname", "map": {"map": {
			"x.com": {"SetPart": {"part": "Host", "value": {"Map": {"map": "mirrors", "key": {"Part": "Hostname"}}}}}
		}}}}
	]}
}`

func cleanOnce(t *testing.T, c *Cleaner, rawURL string) string {
	t.Helper()
	ts := testState(t, rawURL)
	ts.Params = c.Params
	ts.Commons = c.Commons
	require.NoError(t, c.Apply(ts))
	return ts.URL.String()
}

func TestCleanerScenarios(t *testing.T) {
	c, err := ParseCleaner([]byte(scenarioCleaner))
	require.NoError(t, err)
	require.NoError(t, c.Validate())

	flagged := c.WithParams((&ParamsDiff{Flags: []string{"https_upgrade"}}).Apply(c.Params))

	tests := []struct {
		name    string
		cleaner *Cleaner
		in      string
		want    string
	}{
		{"strip utm_source", c, "https://example.com/?utm_source=x", "https://example.com/"},
		{"order preserved", c, "https://example.com/a?a=1&utm_source=x&b=2", "https://example.com/a?a=1&b=2"},
		{"flag off keeps http", c, "http://example.com/", "http://example.com/"},
		{"flag on upgrades", flagged, "http://example.com/", "https://example.com/"},
		{"mirror rehost", c, "https://x.com/user/status/1", "https://vxtwitter.com/user/status/1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, cleanOnce(t, tt.cleaner, tt.in))
		})
	}
}

func TestCleanerIdempotent(t *testing.T) {
	c, err := ParseCleaner([]byte(scenarioCleaner))
	require.NoError(t, err)
	flagged := c.WithParams((&ParamsDiff{Flags: []string{"https_upgrade"}}).Apply(c.Params))

	inputs := []string{
		"https://example.com/?utm_source=x",
		"https://example.com/a?a=1&utm_source=x&b=2",
		"http://example.com/",
		"https://x.com/user/status/1",
		"https://unrelated.net/p?q=1",
	}
	for _, in := range inputs {
		once := cleanOnce(t, flagged, in)
		twice := cleanOnce(t, flagged, once)
		assert.Equal(t, once, twice, "cleaning %q twice must be stable", in)
	}
}

func TestParseCleanerRejectsGarbage(t *testing.T) {
	_, err := ParseCleaner([]byte(`{"actions": {"NotARealAction": 1}}`))
	assert.Error(t, err)

	_, err = ParseCleaner([]byte(`not json`))
	assert.Error(t, err)
}

func TestCleanerValidateCatchesBadPatterns(t *testing.T) {
	c, err := ParseCleaner([]byte(`{"actions": {"RemoveQueryParamsMatching": {"Regex": "("}}}`))
	require.NoError(t, err, "lazy compilation defers the failure past parsing")
	assert.Error(t, c.Validate())
}

func TestCleanerValidateCatchesUnknownCommon(t *testing.T) {
	c, err := ParseCleaner([]byte(`{"actions": {"CommonCall": {"name": "ghost"}}}`))
	require.NoError(t, err)
	assert.Error(t, c.Validate())
}

func TestCleanerValidateCatchesUnknownParamsRefs(t *testing.T) {
	c, err := ParseCleaner([]byte(`{"actions": {"If": {
		"if": {"PartMatches": {"part": "Host", "matcher": {"InSet": "ghost_set"}}},
		"then": "None"
	}}}`))
	require.NoError(t, err)
	assert.Error(t, c.Validate())
}

func TestParamsDiffCopyOnWrite(t *testing.T) {
	base := &Params{
		Flags: FlagSet{"keep": {}},
		Vars:  map[string]string{"v": "1"},
		Sets:  map[string]*types.Set{"s": types.NewSetOf("a")},
		Maps:  map[string]*types.Map[string]{"m": {Map: map[string]string{"k": "v"}}},
		Lists: map[string][]string{"l": {"x"}},
	}

	diff := &ParamsDiff{
		Flags:          []string{"added"},
		Unflags:        []string{"keep"},
		Vars:           map[string]string{"v": "2"},
		InsertIntoSets: map[string][]*string{"s": {str("b")}},
	}
	derived := diff.Apply(base)

	// Derived params see the edits.
	_, ok := derived.Flags["added"]
	assert.True(t, ok)
	_, ok = derived.Flags["keep"]
	assert.False(t, ok)
	assert.Equal(t, "2", derived.Vars["v"])
	assert.True(t, derived.Sets["s"].Contains(str("b")))

	// The base is untouched.
	_, ok = base.Flags["keep"]
	assert.True(t, ok)
	assert.Equal(t, "1", base.Vars["v"])
	assert.False(t, base.Sets["s"].Contains(str("b")))

	// Untouched containers are shared, not copied.
	assert.Same(t, base.Maps["m"], derived.Maps["m"])
	base.Lists["l"][0] = "mutated"
	assert.Equal(t, "mutated", derived.Lists["l"][0], "untouched lists must share storage")
}

func TestParamsDiffMapEdits(t *testing.T) {
	base := &Params{Maps: map[string]*types.Map[string]{
		"m": {Map: map[string]string{"a": "1", "b": "2"}},
	}}

	diff := &ParamsDiff{
		InsertIntoMaps: map[string]map[string]string{"m": {"c": "3"}},
		RemoveFromMaps: map[string][]string{"m": {"a"}},
		MapElses:       map[string]string{"m": "fallback"},
	}
	derived := diff.Apply(base)

	got, ok := derived.Maps["m"].Get(str("c"))
	require.True(t, ok)
	assert.Equal(t, "3", got)

	got, ok = derived.Maps["m"].Get(str("a"))
	require.True(t, ok)
	assert.Equal(t, "fallback", got, "removed key falls back to else")

	_, ok = base.Maps["m"].Get(str("c"))
	assert.False(t, ok)
	assert.Nil(t, base.Maps["m"].Else)
}

func TestProfiles(t *testing.T) {
	c, err := ParseCleaner([]byte(scenarioCleaner))
	require.NoError(t, err)

	var pc ProfilesConfig
	require.NoError(t, json.Unmarshal([]byte(`{
		"base": {"vars": {"tier": "base"}},
		"named": {
			"strict": {"flags": ["https_upgrade"]},
			"loose": {"unvars": ["tier"]}
		}
	}`), &pc))

	profiled := NewProfiledCleaner(c, &pc)
	assert.Equal(t, []string{"loose", "strict"}, profiled.Profiles().Names())

	base, ok := profiled.Cleaner(nil)
	require.True(t, ok)
	assert.Equal(t, "base", base.Params.Vars["tier"])
	assert.Equal(t, "http://example.com/", cleanOnce(t, base, "http://example.com/"))

	strict, ok := profiled.Cleaner(str("strict"))
	require.True(t, ok)
	// Named profiles derive from the base profile.
	assert.Equal(t, "base", strict.Params.Vars["tier"])
	assert.Equal(t, "https://example.com/", cleanOnce(t, strict, "http://example.com/"))

	loose, ok := profiled.Cleaner(str("loose"))
	require.True(t, ok)
	_, hasTier := loose.Params.Vars["tier"]
	assert.False(t, hasTier)

	_, ok = profiled.Cleaner(str("ghost"))
	assert.False(t, ok)

	// Docs and commons are shared across profile cleaners.
	assert.Equal(t, c.Docs.Name, strict.Docs.Name)
	assert.Same(t, c.Commons, strict.Commons)
}

func TestCleanerJSONRoundTrip(t *testing.T) {
	c, err := ParseCleaner([]byte(scenarioCleaner))
	require.NoError(t, err)

	out, err := json.Marshal(c)
	require.NoError(t, err)

	again, err := ParseCleaner(out)
	require.NoError(t, err)
	assert.Equal(t, "https://example.com/", cleanOnce(t, again, "https://example.com/?utm_source=x"))
}
