package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func commonsFixture(t *testing.T) *Commons {
	t.Helper()
	return &Commons{
		Conditions: map[string]Condition{
			"is_http": mustCondition(t, `{"PartIs": {"part": "Scheme", "value": "http"}}`),
			"flagged": mustCondition(t, `{"FlagIsSet": {"scope": "CommonCallArg", "name": "go"}}`),
		},
		Actions: map[string]Action{
			"set_fragment_from_arg": mustAction(t, `{"SetPart": {"part": "Fragment", "value": {"Var": {"scope": "CommonCallArg", "name": "frag"}}}}`),
			"recurse_strip": mustAction(t, `{"All": [
				{"IgnoreError": {"SetPart": {"part": "Subdomain"}}}
			]}`),
			"run_arg": mustAction(t, `{"CommonCallArg": "payload"}`),
		},
		StringSources: map[string]StringSource{
			"greeting": mustSource(t, `{"Join": {"sources": ["hello ", {"Var": {"scope": "CommonCallArg", "name": "who"}}], "separator": ""}}`),
		},
		StringModifications: map[string]StringModification{
			"tidy": mustMod(t, `{"All": ["Trim", "Lowercase"]}`),
		},
		StringMatchers: map[string]StringMatcher{
			"is_tracking": mustMatcher(t, `{"Glob": "utm_*"}`),
		},
	}
}

func TestCommonCallCondition(t *testing.T) {
	ts := testState(t, "http://example.com/")
	ts.Commons = commonsFixture(t)

	got, err := checkCond(t, `{"CommonCall": {"name": "is_http"}}`, ts)
	require.NoError(t, err)
	assert.True(t, got)

	// Args flags are visible through CommonCallArg refs.
	got, err = checkCond(t, `{"CommonCall": {"name": "flagged", "args": {"flags": ["go"]}}}`, ts)
	require.NoError(t, err)
	assert.True(t, got)

	got, err = checkCond(t, `{"CommonCall": {"name": "flagged"}}`, ts)
	require.NoError(t, err)
	assert.False(t, got)

	_, err = checkCond(t, `{"CommonCall": {"name": "missing"}}`, ts)
	var resolution *ResolutionError
	assert.ErrorAs(t, err, &resolution)
}

func TestCommonCallActionWithVars(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Commons = commonsFixture(t)

	// The arg var is evaluated in the caller's frame before the call.
	action := mustAction(t, `{"CommonCall": {"name": "set_fragment_from_arg", "args": {"vars": {"frag": {"Part": "Scheme"}}}}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://example.com/#https", ts.URL.String())
}

func TestCommonCallArgComponentTables(t *testing.T) {
	ts := testState(t, "https://example.com/a")
	ts.Commons = commonsFixture(t)

	// The call passes an action in its args; the callee dispatches to
	// it by CommonCallArg reference.
	action := mustAction(t, `{"CommonCall": {"name": "run_arg", "args": {"actions": {
		"payload": {"SetPart": {"part": "Path", "value": "/from-arg"}}
	}}}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://example.com/from-arg", ts.URL.String())
}

func TestCommonCallStringSourceAndFramePop(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Commons = commonsFixture(t)

	source := mustSource(t, `{"CommonCall": {"name": "greeting", "args": {"vars": {"who": "world"}}}}`)
	assert.Equal(t, "hello world", getSome(t, source, ts.View()))

	// Outside the call there is no frame.
	_, _, err := mustSource(t, `{"Var": {"scope": "CommonCallArg", "name": "who"}}`).Get(ts.View())
	assert.ErrorIs(t, err, ErrNoCommonArgs)
}

func TestCommonCallModificationAndMatcher(t *testing.T) {
	ts := testState(t, "https://example.com/")
	ts.Commons = commonsFixture(t)

	value := "  MiXeD  "
	require.NoError(t, mustMod(t, `{"CommonCall": {"name": "tidy"}}`).Apply(&value, ts.View()))
	assert.Equal(t, "mixed", value)

	got, err := mustMatcher(t, `{"CommonCall": {"name": "is_tracking"}}`).Check("utm_medium", ts.View())
	require.NoError(t, err)
	assert.True(t, got)
}

func TestCommonCallRecursionTerminates(t *testing.T) {
	ts := testState(t, "https://a.b.c.example.com/")
	ts.Commons = commonsFixture(t)

	// Repeated self-application through Repeat; relies on fixed-point
	// detection, not on a recursion limit.
	action := mustAction(t, `{"Repeat": {"actions": [{"CommonCall": {"name": "recurse_strip"}}]}}`)
	require.NoError(t, action.Apply(ts))
	assert.Equal(t, "https://example.com/", ts.URL.String())
}
