package rules

import (
	"context"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/types"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
	"github.com/edgecomet/urlclean/pkg/betterurl"
)

// JobContext is caller-supplied context shared by every task of a job,
// for example the page the cleaned links were found on.
type JobContext struct {
	SourceHost *betterurl.Host
	Flags      map[string]struct{}
	Vars       map[string]string
}

type jobContextJSON struct {
	SourceHost *string           `json:"source_host,omitempty"`
	Flags      []string          `json:"flags,omitempty"`
	Vars       map[string]string `json:"vars,omitempty"`
}

func (c *JobContext) UnmarshalJSON(data []byte) error {
	var raw jobContextJSON
	if err := unmarshalStrict(data, &raw); err != nil {
		return err
	}
	*c = JobContext{Vars: raw.Vars}
	if raw.SourceHost != nil {
		host, err := betterurl.ParseHost(*raw.SourceHost)
		if err != nil {
			return &ParseError{What: "job context source host", Err: err}
		}
		c.SourceHost = host
	}
	if len(raw.Flags) > 0 {
		c.Flags = make(map[string]struct{}, len(raw.Flags))
		for _, f := range raw.Flags {
			c.Flags[f] = struct{}{}
		}
	}
	return nil
}

func (c *JobContext) MarshalJSON() ([]byte, error) {
	raw := jobContextJSON{Vars: c.Vars, Flags: sortedKeys(c.Flags)}
	if c.SourceHost != nil {
		s := c.SourceHost.String()
		raw.SourceHost = &s
	}
	return marshalJSON(raw)
}

// TaskContext is caller-supplied context for one task.
type TaskContext struct {
	Flags map[string]struct{} `json:"-"`
	Vars  map[string]string   `json:"vars,omitempty"`
}

type taskContextJSON struct {
	Flags []string          `json:"flags,omitempty"`
	Vars  map[string]string `json:"vars,omitempty"`
}

func (c *TaskContext) UnmarshalJSON(data []byte) error {
	var raw taskContextJSON
	if err := unmarshalStrict(data, &raw); err != nil {
		return err
	}
	*c = TaskContext{Vars: raw.Vars}
	if len(raw.Flags) > 0 {
		c.Flags = make(map[string]struct{}, len(raw.Flags))
		for _, f := range raw.Flags {
			c.Flags[f] = struct{}{}
		}
	}
	return nil
}

func (c *TaskContext) MarshalJSON() ([]byte, error) {
	return marshalJSON(taskContextJSON{Flags: sortedKeys(c.Flags), Vars: c.Vars})
}

// TaskState is the mutable interpretation context for one task. It owns
// the URL being cleaned and the scratchpad; everything else is shared
// read-only with the rest of the job.
type TaskState struct {
	Ctx        context.Context
	URL        *betterurl.URL
	Scratchpad *types.Scratchpad
	CommonArgs *CallArgs
	Context    *TaskContext
	JobContext *JobContext
	Params     *Params
	Commons    *Commons
	Unthreader *unthreader.Handle
	Cache      *cache.Handle
	HTTP       *httpx.Client
	Logger     *zap.Logger
}

// TaskStateView is the read-only view handed to get/check callers. The
// URL and scratchpad must not be mutated through it.
type TaskStateView struct {
	Ctx        context.Context
	URL        *betterurl.URL
	Scratchpad *types.Scratchpad
	CommonArgs *CallArgs
	Context    *TaskContext
	JobContext *JobContext
	Params     *Params
	Commons    *Commons
	Unthreader *unthreader.Handle
	Cache      *cache.Handle
	HTTP       *httpx.Client
	Logger     *zap.Logger
}

// View returns the read-only view of ts.
func (ts *TaskState) View() *TaskStateView {
	return &TaskStateView{
		Ctx:        ts.Ctx,
		URL:        ts.URL,
		Scratchpad: ts.Scratchpad,
		CommonArgs: ts.CommonArgs,
		Context:    ts.Context,
		JobContext: ts.JobContext,
		Params:     ts.Params,
		Commons:    ts.Commons,
		Unthreader: ts.Unthreader,
		Cache:      ts.Cache,
		HTTP:       ts.HTTP,
		Logger:     ts.Logger,
	}
}

// withArgs returns a copy of ts with the commons call frame replaced.
func (ts *TaskState) withArgs(args *CallArgs) *TaskState {
	child := *ts
	child.CommonArgs = args
	return &child
}

func (view *TaskStateView) withArgs(args *CallArgs) *TaskStateView {
	child := *view
	child.CommonArgs = args
	return &child
}

func (view *TaskStateView) logger() *zap.Logger {
	if view.Logger == nil {
		return zap.NewNop()
	}
	return view.Logger
}

func (view *TaskStateView) ctx() context.Context {
	if view.Ctx == nil {
		return context.Background()
	}
	return view.Ctx
}

// snapshot captures the state Repeat and Revert compare and restore.
type snapshot struct {
	url        *betterurl.URL
	scratchpad *types.Scratchpad
}

func (ts *TaskState) snapshot() snapshot {
	return snapshot{url: ts.URL.Clone(), scratchpad: ts.Scratchpad.Clone()}
}

func (ts *TaskState) restore(s snapshot) {
	*ts.URL = *s.url.Clone()
	*ts.Scratchpad = *s.scratchpad.Clone()
}

func (ts *TaskState) equalsSnapshot(s snapshot) bool {
	return ts.URL.Equal(s.url) && ts.Scratchpad.Equal(s.scratchpad)
}
