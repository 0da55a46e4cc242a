// Package pipeline turns streams of raw inputs into cleaned URLs:
// LazyTaskConfig (raw bytes) -> LazyTask (cheap to move across
// workers) -> Task (parsed) -> cleaned URL.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/internal/engine/types"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
	"github.com/edgecomet/urlclean/pkg/betterurl"
)

// LazyTaskConfig is one unparsed input. Parsing is deferred to
// LazyTask.Make so reading inputs stays cheap.
type LazyTaskConfig struct {
	raw []byte
}

// TaskConfigFromString wraps a line-mode input.
func TaskConfigFromString(s string) LazyTaskConfig {
	return LazyTaskConfig{raw: []byte(s)}
}

// TaskConfigFromBytes wraps raw bytes.
func TaskConfigFromBytes(b []byte) LazyTaskConfig {
	return LazyTaskConfig{raw: b}
}

// TaskConfigFromJSON wraps a JSON task value.
func TaskConfigFromJSON(raw json.RawMessage) LazyTaskConfig {
	return LazyTaskConfig{raw: raw}
}

// taskConfig is the parsed JSON object form of an input.
type taskConfig struct {
	URL     string             `json:"url"`
	Context *rules.TaskContext `json:"context,omitempty"`
}

// LazyTask is a task that has not parsed its URL yet.
type LazyTask struct {
	Config LazyTaskConfig
	Index  int
	job    *JobConfig
	err    error // input was rejected before parsing
}

// Make parses the input. Inputs beginning with '{' or '"' are JSON
// ({"url": ..., "context": ...} or a JSON string); anything else is a
// plain URL string with an empty context.
func (lt *LazyTask) Make() (*Task, error) {
	raw := bytes.TrimSpace(lt.Config.raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty task input")
	}

	var rawURL string
	var taskCtx *rules.TaskContext
	switch raw[0] {
	case '{':
		var config taskConfig
		if err := json.Unmarshal(raw, &config); err != nil {
			return nil, fmt.Errorf("invalid task json: %w", err)
		}
		rawURL = config.URL
		taskCtx = config.Context
	case '"':
		if err := json.Unmarshal(raw, &rawURL); err != nil {
			return nil, fmt.Errorf("invalid task json: %w", err)
		}
	default:
		rawURL = string(raw)
	}

	u, err := betterurl.Parse(rawURL)
	if err != nil {
		return nil, err
	}
	return &Task{URL: u, Context: taskCtx, Index: lt.Index, job: lt.job}, nil
}

// Task is a parsed URL plus context, ready to clean.
type Task struct {
	URL     *betterurl.URL
	Context *rules.TaskContext
	Index   int
	job     *JobConfig
}

// Do cleans the task: it builds a fresh TaskState around the owned URL
// and applies the cleaner's root action. The returned URL is the
// task's own, mutated in place.
func (t *Task) Do(ctx context.Context) (*betterurl.URL, error) {
	ts := &rules.TaskState{
		Ctx:        ctx,
		URL:        t.URL,
		Scratchpad: types.NewScratchpad(),
		Context:    t.Context,
		JobContext: t.job.Context,
		Params:     t.job.Cleaner.Params,
		Commons:    t.job.Cleaner.Commons,
		Unthreader: unthreader.NewHandle(t.job.Unthreader),
		Cache:      t.job.Cache,
		HTTP:       t.job.HTTP,
		Logger:     t.job.Logger,
	}
	if err := t.job.Cleaner.Apply(ts); err != nil {
		return nil, err
	}
	return t.URL, nil
}
