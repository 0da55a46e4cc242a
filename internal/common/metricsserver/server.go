// Package metricsserver serves the Prometheus endpoint on its own
// listener, separate from the cleaning API.
package metricsserver

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
	"go.uber.org/zap"
)

// Start launches the metrics server when enabled. Returns the server
// so the caller can shut it down, or nil when disabled.
func Start(enabled bool, listen, path string, gatherer prometheus.Gatherer, logger *zap.Logger) *fasthttp.Server {
	if !enabled {
		logger.Info("Metrics collection disabled")
		return nil
	}
	if path == "" {
		path = "/metrics"
	}

	promHandler := fasthttpadaptor.NewFastHTTPHandler(
		promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	server := &fasthttp.Server{
		Name:               "urlclean-metrics",
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       10 * time.Second,
		MaxRequestBodySize: 1024,
		Handler: func(ctx *fasthttp.RequestCtx) {
			if string(ctx.Path()) == path {
				promHandler(ctx)
				return
			}
			ctx.SetStatusCode(fasthttp.StatusNotFound)
			ctx.SetBodyString("Not Found")
		},
	}

	go func() {
		logger.Info("Metrics server listening",
			zap.String("listen", listen),
			zap.String("path", path))
		if err := server.ListenAndServe(listen); err != nil {
			logger.Error("Metrics server stopped",
				zap.String("listen", listen),
				zap.Error(err))
		}
	}()
	return server
}
