package rules

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyMod(t *testing.T, raw, value string) (string, error) {
	t.Helper()
	ts := testState(t, "https://example.com/")
	mod := mustMod(t, raw)
	err := mod.Apply(&value, ts.View())
	return value, err
}

func TestStringModificationBasics(t *testing.T) {
	tests := []struct {
		name string
		mod  string
		in   string
		want string
	}{
		{"lowercase", `"Lowercase"`, "MiXeD", "mixed"},
		{"uppercase", `"Uppercase"`, "MiXeD", "MIXED"},
		{"trim", `"Trim"`, "  x \t", "x"},
		{"append", `{"Append": "-end"}`, "v", "v-end"},
		{"prepend", `{"Prepend": "pre-"}`, "v", "pre-v"},
		{"strip prefix", `{"StripPrefix": "www."}`, "www.example.com", "example.com"},
		{"strip suffix", `{"StripSuffix": ".html"}`, "page.html", "page"},
		{"maybe prefix absent", `{"StripMaybePrefix": "www."}`, "example.com", "example.com"},
		{"maybe suffix absent", `{"StripMaybeSuffix": ".html"}`, "page", "page"},
		{"replace", `{"Replace": {"find": "-", "replace": "_"}}`, "a-b-c", "a_b_c"},
		{"regex replace", `{"RegexReplace": {"regex": "[0-9]+", "replace": "N"}}`, "a1b22c", "aNbNc"},
		{"regex extract", `{"RegexExtract": {"regex": "id=([0-9]+)", "template": "$1"}}`, "x?id=42&y", "42"},
		{"keep before", `{"KeepBefore": "?"}`, "path?query", "path"},
		{"keep after", `{"KeepAfter": "="}`, "k=v", "v"},
		{"keep segments", `{"KeepSegments": {"split": "/", "start": 1, "end": 3}}`, "a/b/c/d", "b/c"},
		{"keep segments negative", `{"KeepSegments": {"split": ".", "start": -2}}`, "a.b.c.d", "c.d"},
		{"keep nth segment", `{"KeepNthSegment": {"split": "/", "n": -1}}`, "a/b/c", "c"},
		{"percent encode", `"PercentEncode"`, "a b&c", "a+b%26c"},
		{"percent decode", `"PercentDecode"`, "a+b%26c", "a b&c"},
		{"html unescape", `"HtmlUnescape"`, "a &amp; b", "a & b"},
		{"base64 encode", `"Base64Encode"`, "hi", "aGk="},
		{"base64 decode", `"Base64Decode"`, "aGk=", "hi"},
		{"base64 decode unpadded", `"Base64Decode"`, "aGk", "hi"},
		{"json pointer", `{"JsonPointer": "/a/1/b"}`, `{"a": [{}, {"b": "found"}]}`, "found"},
		{"js string literal", `"ExtractJsStringLiteral"`, `var u = "https:\/\/x.com\/a";`, "https://x.com/a"},
		{"html attribute", `{"ExtractHtmlAttribute": "content"}`, `<meta http-equiv="refresh" content="0; url=x">`, "0; url=x"},
		{"all", `{"All": ["Trim", "Lowercase"]}`, " ABC ", "abc"},
		{"if matched", `{"If": {"if": {"StartsWith": "a"}, "then": "Uppercase", "else": "Lowercase"}}`, "abc", "ABC"},
		{"if unmatched", `{"If": {"if": {"StartsWith": "z"}, "then": "Uppercase", "else": "Lowercase"}}`, "ABC", "abc"},
		{"if unmatched no else", `{"If": {"if": {"StartsWith": "z"}, "then": "Uppercase"}}`, "AbC", "AbC"},
		{"ignore error", `{"IgnoreError": {"StripPrefix": "nope"}}`, "value", "value"},
		{"set", `{"Set": "override"}`, "anything", "override"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := applyMod(t, tt.mod, tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestStringModificationErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  string
		in   string
	}{
		{"strip prefix missing", `{"StripPrefix": "www."}`, "example.com"},
		{"keep before missing", `{"KeepBefore": "?"}`, "no-question-mark"},
		{"regex extract no match", `{"RegexExtract": {"regex": "^z", "template": "$0"}}`, "abc"},
		{"bad regex", `{"RegexReplace": {"regex": "(", "replace": ""}}`, "x"},
		{"bad base64", `"Base64Decode"`, "!!!"},
		{"json pointer on non-json", `{"JsonPointer": "/a"}`, "not json"},
		{"json pointer missing member", `{"JsonPointer": "/missing"}`, `{"a": 1}`},
		{"inverted range", `{"KeepSegments": {"split": "/", "start": 3, "end": 1}}`, "a/b/c/d"},
		{"segment out of range", `{"KeepNthSegment": {"split": "/", "n": 9}}`, "a/b"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := tt.in
			_, err := applyMod(t, tt.mod, in)
			assert.Error(t, err)
		})
	}
}

func TestStringModificationErrorLeavesValueUnchanged(t *testing.T) {
	ts := testState(t, "https://example.com/")
	mod := mustMod(t, `{"StripPrefix": "nope"}`)
	value := "original"
	require.Error(t, mod.Apply(&value, ts.View()))
	assert.Equal(t, "original", value)
}

func TestJsonPointerNonStringValues(t *testing.T) {
	got, err := applyMod(t, `{"JsonPointer": "/n"}`, `{"n": 42}`)
	require.NoError(t, err)
	assert.Equal(t, "42", got)

	got, err = applyMod(t, `{"JsonPointer": "/o"}`, `{"o": {"k": "v"}}`)
	require.NoError(t, err)
	assert.JSONEq(t, `{"k": "v"}`, got)
}
