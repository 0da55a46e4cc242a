package pipeline

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/metrics"
	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
)

// BatchRequest is the batch-mode input: tasks plus per-job knobs.
type BatchRequest struct {
	Tasks      []json.RawMessage `json:"tasks"`
	Context    *rules.JobContext `json:"context,omitempty"`
	Profile    *string           `json:"profile,omitempty"`
	ParamsDiff *rules.ParamsDiff `json:"params_diff,omitempty"`
	Unthread   bool              `json:"unthread,omitempty"`
	ReadCache  *bool             `json:"read_cache,omitempty"`
	WriteCache *bool             `json:"write_cache,omitempty"`
	CacheDelay bool              `json:"cache_delay,omitempty"`
}

// BatchResult is one task's outcome: exactly one of URL and Err is set.
type BatchResult struct {
	URL *string `json:"url,omitempty"`
	Err *string `json:"error,omitempty"`
}

// BatchDeps is what a frontend provides to run batches.
type BatchDeps struct {
	Cleaners   *rules.ProfiledCleaner
	InnerCache cache.InnerCache
	HTTP       *httpx.Client
	Logger     *zap.Logger
	Metrics    *metrics.Collector
	Workers    int
}

// RunBatch executes one batch request and returns results in task
// order.
func RunBatch(ctx context.Context, deps BatchDeps, req *BatchRequest) ([]BatchResult, error) {
	cleaner, ok := deps.Cleaners.Cleaner(req.Profile)
	if !ok {
		return nil, fmt.Errorf("unknown profile %q", *req.Profile)
	}
	if req.ParamsDiff != nil {
		cleaner = cleaner.WithParams(req.ParamsDiff.Apply(cleaner.Params))
	}

	policy := cache.DefaultPolicy()
	if req.ReadCache != nil {
		policy.Read = *req.ReadCache
	}
	if req.WriteCache != nil {
		policy.Write = *req.WriteCache
	}
	policy.Delay = req.CacheDelay

	mode := unthreader.Off
	if req.Unthread {
		mode = unthreader.Serialize
	}

	config := &JobConfig{
		Context:    req.Context,
		Cleaner:    cleaner,
		Unthreader: unthreader.New(mode, 0),
		Cache:      cache.NewHandle(deps.InnerCache, policy),
		HTTP:       deps.HTTP,
		Logger:     deps.Logger,
		Metrics:    deps.Metrics,
	}

	inputs := make([]LazyTaskConfig, len(req.Tasks))
	for i, raw := range req.Tasks {
		inputs[i] = TaskConfigFromJSON(raw)
	}

	results := make([]BatchResult, len(inputs))
	for r := range NewJob(config, inputs).Run(ctx, deps.Workers) {
		if r.Err != nil {
			msg := errorDiscriminator(r.Err)
			results[r.Index] = BatchResult{Err: &msg}
		} else {
			u := r.URL
			results[r.Index] = BatchResult{URL: &u}
		}
	}
	return results, nil
}
