package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"runtime"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/metrics"
	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
)

// maxLineBytes bounds one line-mode input; longer lines fail that task
// instead of aborting the job.
const maxLineBytes = 1 << 20

// JobConfig is the shared immutable context of one job.
type JobConfig struct {
	Context    *rules.JobContext
	Cleaner    *rules.Cleaner
	Unthreader *unthreader.Unthreader
	Cache      *cache.Handle
	HTTP       *httpx.Client
	Logger     *zap.Logger
	Metrics    *metrics.Collector
}

// Result is the outcome of one task, tagged with its input index so
// frontends can restore input order.
type Result struct {
	Index int
	URL   string
	Err   error
}

// Job couples a JobConfig with a stream of inputs.
type Job struct {
	Config *JobConfig
	inputs func(yield func(LazyTask) bool)
}

// failedTask marks an input that was rejected before parsing (for
// example an overlong line).
func failedTask(config *JobConfig, index int, err error) LazyTask {
	return LazyTask{Index: index, job: config, err: err}
}

// NewJob builds a job over explicit inputs.
func NewJob(config *JobConfig, inputs []LazyTaskConfig) *Job {
	return &Job{
		Config: config,
		inputs: func(yield func(LazyTask) bool) {
			for i, input := range inputs {
				if !yield(LazyTask{Config: input, Index: i, job: config}) {
					return
				}
			}
		},
	}
}

// NewLineJob builds a job reading one task per line. Blank lines are
// skipped; a "\r" before the newline is stripped; an overlong line
// becomes a failed task.
func NewLineJob(config *JobConfig, r io.Reader) *Job {
	return &Job{
		Config: config,
		inputs: func(yield func(LazyTask) bool) {
			reader := bufio.NewReaderSize(r, 64<<10)
			index := 0
			for {
				line, err := readLine(reader)
				if err == io.EOF {
					return
				}
				if err != nil {
					// Stream failure; surface once and stop.
					yield(failedTask(config, index, err))
					return
				}
				line = strings.TrimSuffix(line, "\r")
				if line == "" {
					continue
				}
				if len(line) > maxLineBytes {
					if !yield(failedTask(config, index, fmt.Errorf("input line exceeds %d bytes", maxLineBytes))) {
						return
					}
					index++
					continue
				}
				if !yield(LazyTask{Config: TaskConfigFromString(line), Index: index, job: config}) {
					return
				}
				index++
			}
		},
	}
}

// readLine reads up to the next newline.
func readLine(r *bufio.Reader) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := r.ReadString('\n')
		sb.WriteString(strings.TrimSuffix(chunk, "\n"))
		if err == io.EOF {
			if sb.Len() == 0 {
				return "", io.EOF
			}
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if strings.HasSuffix(chunk, "\n") {
			return sb.String(), nil
		}
	}
}

// Run cleans every input with workers parallel workers (default: the
// hardware parallelism) and streams results as tasks finish.
// Completion order is undefined; use Result.Index to restore it.
func (j *Job) Run(ctx context.Context, workers int) <-chan Result {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}

	tasks := make(chan LazyTask, workers)
	results := make(chan Result, workers)

	go func() {
		defer close(tasks)
		j.inputs(func(lt LazyTask) bool {
			select {
			case tasks <- lt:
				return true
			case <-ctx.Done():
				return false
			}
		})
	}()

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for lt := range tasks {
				results <- j.runOne(ctx, lt)
			}
		}()
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (j *Job) runOne(ctx context.Context, lt LazyTask) Result {
	start := time.Now()

	if lt.err != nil {
		j.Config.Metrics.TaskDone(time.Since(start).Seconds(), true)
		return Result{Index: lt.Index, Err: lt.err}
	}

	task, err := lt.Make()
	if err != nil {
		j.Config.Metrics.TaskDone(time.Since(start).Seconds(), true)
		return Result{Index: lt.Index, Err: err}
	}

	cleaned, err := task.Do(ctx)
	j.Config.Metrics.TaskDone(time.Since(start).Seconds(), err != nil)
	if err != nil {
		return Result{Index: lt.Index, Err: err}
	}
	return Result{Index: lt.Index, URL: cleaned.String()}
}

// Reorder adapts an unordered result stream back into input order.
// It buffers out-of-order results until their predecessors arrive.
func Reorder(results <-chan Result) <-chan Result {
	out := make(chan Result)
	go func() {
		defer close(out)
		pending := make(map[int]Result)
		next := 0
		for r := range results {
			pending[r.Index] = r
			for {
				buffered, ok := pending[next]
				if !ok {
					break
				}
				delete(pending, next)
				out <- buffered
				next++
			}
		}
		// Flush anything left in index order, stepping over gaps (gaps
		// can only happen if the producer skipped indices on
		// cancellation).
		for len(pending) > 0 {
			if buffered, ok := pending[next]; ok {
				delete(pending, next)
				out <- buffered
			}
			next++
		}
	}()
	return out
}

// FormatResult renders a result the way the line frontends print it:
// the cleaned URL, or "-" followed by the error discriminator.
func FormatResult(r Result) string {
	if r.Err != nil {
		return "-" + errorDiscriminator(r.Err)
	}
	return r.URL
}

// errorDiscriminator is a compact debug form of the error kind.
func errorDiscriminator(err error) string {
	return fmt.Sprintf("%T(%v)", err, err)
}
