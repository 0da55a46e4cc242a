package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/common/configtypes"
	"github.com/edgecomet/urlclean/internal/common/logger"
	"github.com/edgecomet/urlclean/internal/engine/cache"
	"github.com/edgecomet/urlclean/internal/engine/httpx"
	"github.com/edgecomet/urlclean/internal/engine/pipeline"
	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/internal/engine/unthreader"
)

func main() {
	cleanerPath := flag.String("c", "configs/default-cleaner.json", "path to the cleaner document")
	inputPath := flag.String("i", "-", "input file; - reads stdin")
	workers := flag.Int("w", 0, "worker count; 0 uses hardware parallelism")
	cachePath := flag.String("cache", "", "sqlite cache path; empty disables the cache")
	noReadCache := flag.Bool("no-read-cache", false, "do not read cached side effects")
	noWriteCache := flag.Bool("no-write-cache", false, "do not store side effects")
	cacheDelay := flag.Bool("cache-delay", false, "make cache hits take about as long as the original computation")
	unthread := flag.Bool("unthread", false, "serialize side effects across workers")
	ratelimit := flag.Duration("ratelimit", 0, "minimum interval between side effects (implies -unthread)")
	verbose := flag.Bool("v", false, "debug logging")
	flag.Parse()

	zapLogger, err := logger.NewLogger(configtypes.LogConfig{
		Level: configtypes.LogLevelDebug,
		Console: configtypes.ConsoleLogConfig{
			Enabled: true,
			Format:  configtypes.LogFormatConsole,
		},
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer zapLogger.Sync()
	if !*verbose {
		zapLogger = zap.NewNop()
	}

	cleaner, err := rules.LoadCleaner(*cleanerPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := cleaner.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "cleaner %s is not valid: %v\n", *cleanerPath, err)
		os.Exit(1)
	}

	var input io.Reader = os.Stdin
	if *inputPath != "-" {
		f, err := os.Open(*inputPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		defer f.Close()
		input = f
	}

	var inner cache.InnerCache
	if *cachePath != "" {
		sqlite := cache.NewSQLiteCache(*cachePath, zapLogger)
		defer sqlite.Close()
		inner = sqlite
	}

	mode := unthreader.Off
	if *unthread {
		mode = unthreader.Serialize
	}
	if *ratelimit > 0 {
		mode = unthreader.Ratelimit
	}

	config := &pipeline.JobConfig{
		Cleaner:    cleaner,
		Unthreader: unthreader.New(mode, *ratelimit),
		Cache: cache.NewHandle(inner, cache.Policy{
			Read:  !*noReadCache,
			Write: !*noWriteCache,
			Delay: *cacheDelay,
		}),
		HTTP:   httpx.NewClient(cleaner.Params.HTTPClient, zapLogger),
		Logger: zapLogger,
	}

	start := time.Now()
	count := 0
	job := pipeline.NewLineJob(config, input)
	for result := range pipeline.Reorder(job.Run(context.Background(), *workers)) {
		fmt.Println(pipeline.FormatResult(result))
		count++
	}

	zapLogger.Info("Job finished",
		zap.Int("tasks", count),
		zap.Duration("duration", time.Since(start)))
}
