// Package http provides the HTTP surface of the mock dispatch engine.
package http

import (
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/mockengine/adapters/metrics"
	"github.com/artpar/mockengine/app"
	"github.com/artpar/mockengine/domain/mockhttp"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// MockHandler serves `/rest/{service}/{version}/**` by delegating to the
// dispatch pipeline.
type MockHandler struct {
	engine      *app.MockDispatchService
	logger      zerolog.Logger
	metrics     *metrics.Collector
	contextPath string
}

// NewMockHandler creates a new HTTP mock handler.
func NewMockHandler(engine *app.MockDispatchService, logger zerolog.Logger, contextPath string) *MockHandler {
	return &MockHandler{
		engine:      engine,
		logger:      logger.With().Str("component", "http").Logger(),
		contextPath: strings.TrimSuffix(contextPath, "/"),
	}
}

// SetMetrics attaches the Prometheus collector for request accounting.
func (h *MockHandler) SetMetrics(m *metrics.Collector) {
	h.metrics = m
}

// RouterConfig configures the top-level router.
type RouterConfig struct {
	MetricsEnabled bool
	MetricsPath    string
	// MetricsHandler serves the scrape endpoint; defaults to the global
	// promhttp handler when nil.
	MetricsHandler http.Handler
}

// NewRouter builds the chi router: the mock surface, a liveness endpoint,
// and optionally the Prometheus scrape endpoint.
func NewRouter(h *MockHandler, cfg RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if cfg.MetricsEnabled {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		handler := cfg.MetricsHandler
		if handler == nil {
			handler = promhttp.Handler()
		}
		r.Handle(path, handler)
	}

	mockPath := h.contextPath + "/rest/*"
	r.Handle(mockPath, h)

	return r
}

// ServeHTTP extracts the wire request once, hands it to the pipeline, and
// writes the resulting response.
func (h *MockHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req, ok := h.buildRequest(r)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	resp := h.engine.Handle(r.Context(), req)

	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	w.WriteHeader(resp.Status)
	if len(resp.Body) > 0 {
		if _, err := w.Write(resp.Body); err != nil {
			h.logger.Error().Err(err).Msg("failed to write response body")
		}
	}

	if h.metrics != nil {
		h.metrics.RequestsTotal.WithLabelValues(req.ServiceName, req.Method, strconv.Itoa(resp.Status)).Inc()
		h.metrics.RequestDuration.WithLabelValues(req.ServiceName, req.Method).Observe(time.Since(start).Seconds())
	}

	h.logger.Debug().
		Str("method", req.Method).
		Str("service", req.ServiceName).
		Str("version", req.Version).
		Str("path", req.ResourcePath).
		Int("status", resp.Status).
		Dur("duration", time.Since(start)).
		Msg("mock request")
}

// buildRequest extracts the engine's view of the request. The resource path
// is kept percent-encoded: the pipeline decides where to decode it.
func (h *MockHandler) buildRequest(r *http.Request) (mockhttp.Request, bool) {
	service, version, resourcePath, ok := h.splitMockPath(r.URL.EscapedPath())
	if !ok {
		return mockhttp.Request{}, false
	}

	var body []byte
	if r.Body != nil {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, 10<<20)) // 10MB limit
		if err != nil {
			h.logger.Error().Err(err).Msg("failed to read request body")
			return mockhttp.Request{}, false
		}
	}

	scheme := "http"
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	} else if r.TLS != nil {
		scheme = "https"
	}

	host, port := splitHostPort(r.Host, scheme)

	req := mockhttp.Request{
		Method:       r.Method,
		Scheme:       scheme,
		Host:         host,
		Port:         port,
		ContextPath:  h.contextPath,
		ServiceName:  service,
		Version:      version,
		ResourcePath: resourcePath,
		Query:        r.URL.RawQuery,
		Headers:      r.Header,
		Body:         body,
	}

	if delay := r.URL.Query().Get("delay"); delay != "" {
		if millis, err := strconv.ParseInt(delay, 10, 64); err == nil && millis >= 0 {
			req.DelayMillis = &millis
		}
	}

	return req, true
}

// splitMockPath carves "<contextPath>/rest/<service>/<version><resource>"
// out of the still-encoded request path. Service and version segments are
// percent-decoded here; the resource remainder is not.
func (h *MockHandler) splitMockPath(escapedPath string) (service, version, resourcePath string, ok bool) {
	rest := strings.TrimPrefix(escapedPath, h.contextPath)
	if !strings.HasPrefix(rest, "/rest/") {
		return "", "", "", false
	}
	rest = rest[len("/rest/"):]

	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", false
	}

	service = decodeSegment(parts[0])
	version = decodeSegment(parts[1])
	if len(parts) == 3 {
		resourcePath = "/" + parts[2]
	} else {
		resourcePath = "/"
	}
	return service, version, resourcePath, true
}

func decodeSegment(s string) string {
	decoded, err := url.PathUnescape(s)
	if err != nil {
		return s
	}
	return decoded
}

func splitHostPort(hostport, scheme string) (host, port string) {
	host, port, err := net.SplitHostPort(hostport)
	if err != nil {
		host = hostport
		if scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}
	return host, port
}
