// Package rules implements the declarative cleaning engine: the
// UrlPart addressing layer, the string layer (sources, modifications,
// matchers), conditions and actions, commons, params, profiles, and the
// top-level Cleaner.
//
// Every component family is a closed set of variants serialized as
// externally tagged JSON ({"Variant": payload} or "Variant"), so a
// cleaner document is a plain data tree the interpreter walks.
package rules

import (
	"errors"
	"fmt"
)

var (
	// ErrStringSourceIsNone is returned where a caller required a value
	// and the source yielded none.
	ErrStringSourceIsNone = errors.New("string source yielded none")
	// ErrNoCommonArgs is returned when a CommonCallArg reference is
	// evaluated outside any commons call.
	ErrNoCommonArgs = errors.New("no common call args in scope")
	// ErrNoRedirect is returned by redirect expansion when the response
	// carries neither a Location nor a Refresh target.
	ErrNoRedirect = errors.New("response has no redirect target")
	// ErrEnvVarNotUtf8 is returned when an environment variable holds
	// bytes that are not valid UTF-8.
	ErrEnvVarNotUtf8 = errors.New("environment variable is not valid UTF-8")
	// ErrRepeatLimitZero rejects a Repeat configured to run zero times.
	ErrRepeatLimitZero = errors.New("repeat limit must be at least 1")
)

// ResolutionError reports a name that did not resolve in its table
// (commons entry, params set, callarg, ...).
type ResolutionError struct {
	Kind string // "common action", "params set", ...
	Name string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("unknown %s %q", e.Kind, e.Name)
}

// ParseError reports a malformed cleaner document fragment.
type ParseError struct {
	What string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.What, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
