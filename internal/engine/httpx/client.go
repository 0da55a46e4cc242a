// Package httpx is the outbound HTTP layer of the cleaner: a lazily
// built client with browser-like default headers, redirect following
// disabled, and helpers for reading responses.
package httpx

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// defaultUserAgent mimics a mainstream browser; redirect hosts serve
// bot-specific interstitials otherwise.
const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:132.0) Gecko/20100101 Firefox/132.0"

// maxBodyBytes bounds how much of a response body is read.
const maxBodyBytes = 4 << 20

// ProxyConfig points outbound requests at a proxy.
type ProxyConfig struct {
	URL string `json:"url"`
}

// ClientConfig is the serializable HTTP client configuration carried in
// a cleaner's params.
type ClientConfig struct {
	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Proxy     *ProxyConfig      `json:"proxy,omitempty"`
	// TimeoutSeconds caps each request; zero uses no client timeout.
	TimeoutSeconds float64 `json:"timeout,omitempty"`
}

// Client builds the underlying http.Client on first use and is safe for
// concurrent use afterwards.
type Client struct {
	config ClientConfig
	logger *zap.Logger

	once  sync.Once
	inner *http.Client
	err   error
}

// NewClient wraps config; nothing is dialed until the first request.
func NewClient(config ClientConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{config: config, logger: logger}
}

func (c *Client) build() {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if c.config.Proxy != nil {
		proxyURL, err := url.Parse(c.config.Proxy.URL)
		if err != nil {
			c.err = fmt.Errorf("invalid proxy url %q: %w", c.config.Proxy.URL, err)
			return
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	}

	c.inner = &http.Client{
		Transport: transport,
		// Redirects are an observable the rules inspect; never follow
		// them automatically.
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
		Timeout: time.Duration(c.config.TimeoutSeconds * float64(time.Second)),
	}
}

// Do sends req with the configured default headers filled in for any
// header the request does not already set.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	c.once.Do(c.build)
	if c.err != nil {
		return nil, c.err
	}

	ua := c.config.UserAgent
	if ua == "" {
		ua = defaultUserAgent
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", ua)
	}
	if req.Header.Get("DNT") == "" {
		req.Header.Set("DNT", "1")
	}
	if req.Header.Get("Sec-GPC") == "" {
		req.Header.Set("Sec-GPC", "1")
	}
	for name, value := range c.config.Headers {
		if req.Header.Get(name) == "" {
			req.Header.Set(name, value)
		}
	}
	// The transport must not advertise nor transparently undo
	// compression behind our back; body decoding is handled in ReadBody.
	req.Header.Set("Accept-Encoding", "gzip")

	return c.inner.Do(req)
}

// ReadBody drains and closes resp.Body, decompressing gzip bodies.
func ReadBody(resp *http.Response) (string, error) {
	defer resp.Body.Close()

	var reader io.Reader = io.LimitReader(resp.Body, maxBodyBytes)
	if resp.Header.Get("Content-Encoding") == "gzip" {
		gz, err := gzip.NewReader(reader)
		if err != nil {
			return "", fmt.Errorf("failed to decode gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	}

	body, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	return string(body), nil
}
