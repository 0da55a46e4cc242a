// Package server is the batch HTTP frontend: it accepts batches of
// task configs, runs them through the engine, and returns per-task
// results.
package server

import (
	"encoding/json"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/edgecomet/urlclean/internal/common/httputil"
	"github.com/edgecomet/urlclean/internal/common/requestid"
	"github.com/edgecomet/urlclean/internal/engine/pipeline"
	"github.com/edgecomet/urlclean/internal/engine/rules"
	"github.com/edgecomet/urlclean/pkg/betterurl"
)

// Server handles the cleaning API.
type Server struct {
	deps   pipeline.BatchDeps
	docs   rules.Docs
	logger *zap.Logger
}

// NewServer wires the engine dependencies into the HTTP surface.
func NewServer(deps pipeline.BatchDeps, docs rules.Docs, logger *zap.Logger) *Server {
	return &Server{deps: deps, docs: docs, logger: logger}
}

// HandleRequest is the fasthttp entry point.
func (s *Server) HandleRequest(ctx *fasthttp.RequestCtx) {
	requestID := requestid.Sanitize(string(ctx.Request.Header.Peek("X-Request-ID")))
	ctx.Response.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	path := string(ctx.Path())
	logger := s.logger.With(zap.String("request_id", requestID), zap.String("path", path))

	switch path {
	case "/clean":
		s.handleClean(ctx, logger)
	case "/profiles":
		s.handleProfiles(ctx)
	case "/host-parts":
		s.handleHostParts(ctx)
	case "/docs":
		httputil.JSONData(ctx, s.docs, fasthttp.StatusOK)
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	default:
		httputil.JSONError(ctx, "not found", fasthttp.StatusNotFound)
	}

	logger.Debug("Request handled",
		zap.Int("status", ctx.Response.StatusCode()),
		zap.Duration("duration", time.Since(start)))
}

func (s *Server) handleClean(ctx *fasthttp.RequestCtx, logger *zap.Logger) {
	if !ctx.IsPost() {
		httputil.JSONError(ctx, "method not allowed", fasthttp.StatusMethodNotAllowed)
		return
	}

	var req pipeline.BatchRequest
	if err := json.Unmarshal(ctx.PostBody(), &req); err != nil {
		httputil.JSONError(ctx, "invalid batch request: "+err.Error(), fasthttp.StatusBadRequest)
		return
	}
	if len(req.Tasks) == 0 {
		httputil.JSONError(ctx, "batch has no tasks", fasthttp.StatusBadRequest)
		return
	}

	results, err := pipeline.RunBatch(ctx, s.deps, &req)
	if err != nil {
		logger.Warn("Batch rejected", zap.Error(err))
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}

	logger.Info("Batch cleaned", zap.Int("tasks", len(results)))
	httputil.JSONData(ctx, map[string]any{"results": results}, fasthttp.StatusOK)
}

func (s *Server) handleProfiles(ctx *fasthttp.RequestCtx) {
	httputil.JSONData(ctx, map[string]any{
		"profiles": s.deps.Cleaners.Profiles().Names(),
	}, fasthttp.StatusOK)
}

// hostParts is the host decomposition response.
type hostParts struct {
	Kind            string  `json:"kind"`
	NormalizedHost  string  `json:"normalized_host,omitempty"`
	Subdomain       *string `json:"subdomain,omitempty"`
	DomainMiddle    *string `json:"domain_middle,omitempty"`
	RegDomain       *string `json:"reg_domain,omitempty"`
	NotDomainSuffix *string `json:"not_domain_suffix,omitempty"`
	DomainSuffix    *string `json:"domain_suffix,omitempty"`
}

func (s *Server) handleHostParts(ctx *fasthttp.RequestCtx) {
	raw := string(ctx.QueryArgs().Peek("host"))
	if raw == "" {
		httputil.JSONError(ctx, "host query parameter is required", fasthttp.StatusBadRequest)
		return
	}

	host, err := betterurl.ParseHost(raw)
	if err != nil {
		httputil.JSONError(ctx, err.Error(), fasthttp.StatusBadRequest)
		return
	}

	parts := hostParts{
		Kind:           host.Kind().String(),
		NormalizedHost: host.NormalizedHost(),
	}
	maybe := func(v string, ok bool) *string {
		if !ok {
			return nil
		}
		return &v
	}
	parts.Subdomain = maybe(host.Subdomain())
	parts.DomainMiddle = maybe(host.DomainMiddle())
	parts.RegDomain = maybe(host.RegDomain())
	parts.NotDomainSuffix = maybe(host.NotDomainSuffix())
	parts.DomainSuffix = maybe(host.DomainSuffix())

	httputil.JSONData(ctx, parts, fasthttp.StatusOK)
}
