package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/textproto"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/artpar/mockengine/domain/dispatch"
	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/domain/mockhttp"
	"github.com/artpar/mockengine/domain/uripattern"
	"github.com/artpar/mockengine/ports"
	"github.com/go-openapi/jsonpointer"
	"github.com/rs/zerolog"
)

// MockConfig carries the runtime toggles of the dispatch pipeline. It can
// be swapped at runtime (config hot reload) without restarting.
type MockConfig struct {
	EnableInvocationStats bool
	EnableCORSPolicy      bool
	CORSAllowedOrigins    string
	CORSAllowCredentials  bool
}

// MockDispatchDeps groups the collaborators of MockDispatchService.
type MockDispatchDeps struct {
	Catalog   *ServiceCatalog
	Responses ports.ResponseRepository
	State     ports.ServiceStateRepository
	Scripts   ports.ScriptEvaluator
	Templates ports.TemplateEngine
	Proxy     ports.ProxyClient
	Sink      ports.InvocationSink
	Clock     ports.Clock
	IDGen     ports.IDGenerator
}

// MockDispatchService is the request-to-response pipeline: it resolves the
// operation, computes the dispatch criterion, selects a canned response
// (or proxies upstream), renders headers and body, enforces the response
// delay, and records the invocation.
type MockDispatchService struct {
	deps   MockDispatchDeps
	logger zerolog.Logger
	cfg    atomic.Pointer[MockConfig]
}

// NewMockDispatchService creates the dispatch pipeline.
func NewMockDispatchService(deps MockDispatchDeps, cfg MockConfig, logger zerolog.Logger) *MockDispatchService {
	s := &MockDispatchService{
		deps:   deps,
		logger: logger.With().Str("service", "mock").Logger(),
	}
	s.cfg.Store(&cfg)
	return s
}

// UpdateConfig swaps the runtime toggles; safe for concurrent use.
func (s *MockDispatchService) UpdateConfig(cfg MockConfig) {
	s.cfg.Store(&cfg)
}

func (s *MockDispatchService) config() MockConfig {
	return *s.cfg.Load()
}

// dispatchOutcome is the per-request result of criterion evaluation.
type dispatchOutcome struct {
	criteria    string
	hasCriteria bool
	// requestContext is the scratchpad shared between SCRIPT evaluation and
	// template rendering. Always non-nil.
	requestContext map[string]any
}

// Handle runs the full pipeline for one request.
func (s *MockDispatchService) Handle(ctx context.Context, req mockhttp.Request) mockhttp.Response {
	start := s.deps.Clock.Now()
	cfg := s.config()

	serviceName := strings.ReplaceAll(req.ServiceName, "+", " ")

	svc := s.deps.Catalog.FindByNameAndVersion(ctx, serviceName, req.Version)
	if svc == nil {
		if cfg.EnableCORSPolicy && req.Method == "OPTIONS" {
			return corsPreflight(req, cfg)
		}
		return textResponse(404, fmt.Sprintf("The service %s with version %s does not exist!", serviceName, req.Version))
	}

	op, found := mockdef.ResolveOperation(*svc, req.Method, req.ResourcePath)
	if !found {
		if cfg.EnableCORSPolicy && req.Method == "OPTIONS" {
			return corsPreflight(req, cfg)
		}
		return emptyResponse(404)
	}

	logger := s.logger.With().
		Str("service", svc.Name).
		Str("version", svc.Version).
		Str("operation", op.Name).
		Logger()

	query, err := url.ParseQuery(req.Query)
	if err != nil {
		logger.Debug().Err(err).Msg("unparseable query string")
		query = url.Values{}
	}
	decodedPath := uripattern.DecodePath(req.ResourcePath)
	pathVars := pathVariables(op, decodedPath)

	if violations := mockdef.ValidateConstraints(op.ParameterConstraints, mockdef.ConstraintInput{
		Headers:       req.Headers,
		Query:         query,
		PathVariables: pathVars,
	}); len(violations) > 0 {
		return textResponse(400, strings.Join(violations, "; ")+". Check parameter constraints.")
	}

	evalReq := mockhttp.EvaluableRequest{
		Body:          string(req.Body),
		Path:          decodedPath,
		Method:        req.Method,
		Headers:       req.Headers,
		QueryParams:   query,
		PathVariables: pathVars,
		Scheme:        req.Scheme,
		Host:          req.Host,
		Port:          req.Port,
		ContextPath:   req.ContextPath,
	}

	outcome := s.evaluateDispatch(ctx, *svc, op, req, decodedPath, evalReq, logger)

	selected := s.selectResponse(ctx, *svc, op, outcome, req.Header("Accept"), logger)

	if target, ok := proxyTarget(op, req, selected); ok {
		resp := s.callProxy(ctx, target, req, logger)
		s.enforceDelay(ctx, start, op, req)
		s.account(cfg, *svc, op, nil, req, start, true)
		return resp
	}

	if selected == nil {
		if op.HasDispatcher() {
			return textResponse(400, fmt.Sprintf("The response %s does not exist!", outcome.criteria))
		}
		return emptyResponse(400)
	}

	resp := s.render(ctx, *svc, op, *selected, evalReq, outcome.requestContext)

	s.enforceDelay(ctx, start, op, req)
	s.account(cfg, *svc, op, selected, req, start, false)

	return resp
}

// evaluateDispatch computes the dispatch criterion for op. Evaluation
// failures are logged and swallowed, leaving the criterion null.
func (s *MockDispatchService) evaluateDispatch(
	ctx context.Context,
	svc mockdef.Service,
	op mockdef.Operation,
	req mockhttp.Request,
	decodedPath string,
	evalReq mockhttp.EvaluableRequest,
	logger zerolog.Logger,
) dispatchOutcome {
	outcome := dispatchOutcome{requestContext: map[string]any{}}
	if !op.HasDispatcher() {
		return outcome
	}

	pattern := op.Pattern()

	switch op.Dispatcher {
	case mockdef.DispatcherSequence, mockdef.DispatcherURIParts:
		criteria, ok := uripattern.ExtractFromURIPattern(op.DispatcherRules, pattern, decodedPath)
		if !ok {
			logger.Error().Str("dispatcher", string(op.Dispatcher)).Msg("uri pattern did not match resource path")
			return outcome
		}
		outcome.criteria = criteria
		outcome.hasCriteria = true

	case mockdef.DispatcherURIParams:
		outcome.criteria = uripattern.ExtractFromURIParams(op.DispatcherRules, req.FullURI())
		outcome.hasCriteria = true

	case mockdef.DispatcherURIElements:
		partsCriteria, ok := uripattern.ExtractFromURIPattern(op.DispatcherRules, pattern, decodedPath)
		if !ok {
			logger.Error().Str("dispatcher", string(op.Dispatcher)).Msg("uri pattern did not match resource path")
			return outcome
		}
		outcome.criteria = partsCriteria + uripattern.ExtractFromURIParams(op.DispatcherRules, req.FullURI())
		outcome.hasCriteria = true

	case mockdef.DispatcherScript:
		store := NewScopedStateStore(ctx, s.deps.State, svc.ID, logger)
		result, err := s.deps.Scripts.Eval(ctx, op.DispatcherRules, ports.ScriptBindings{
			Request:        evalReq,
			RequestContext: outcome.requestContext,
			Body:           string(req.Body),
			Store:          store,
		})
		if err != nil {
			logger.Error().Err(err).Str("dispatcher", "SCRIPT").Msg("script evaluation failed")
			return outcome
		}
		outcome.criteria = toString(result)
		outcome.hasCriteria = true

	case mockdef.DispatcherJSONBody:
		criteria, err := dispatch.EvaluateJSONBody(op.DispatcherRules, string(req.Body))
		if err != nil {
			logger.Error().Err(err).Str("dispatcher", "JSON_BODY").Msg("json body evaluation failed")
			return outcome
		}
		outcome.criteria = criteria
		outcome.hasCriteria = true

	case mockdef.DispatcherProxy:
		// Criterion stays null; the proxy decision happens downstream.

	default:
		logger.Error().Str("dispatcher", string(op.Dispatcher)).Msg("unknown dispatcher")
	}

	return outcome
}

// selectResponse walks the lookup ladder: criterion, criterion-as-name,
// fallback name, and, for dispatcher-less operations, the whole operation.
func (s *MockDispatchService) selectResponse(
	ctx context.Context,
	svc mockdef.Service,
	op mockdef.Operation,
	outcome dispatchOutcome,
	accept string,
	logger zerolog.Logger,
) *mockdef.Response {
	opID := svc.OperationID(op)

	if outcome.hasCriteria {
		if r, ok := s.pick(ctx, logger, accept, func() ([]mockdef.Response, error) {
			return s.deps.Responses.FindByOperationIDAndDispatchCriteria(ctx, opID, outcome.criteria)
		}); ok {
			return r
		}

		// SCRIPT and JSON_BODY strategies may return a response name.
		if r, ok := s.pick(ctx, logger, accept, func() ([]mockdef.Response, error) {
			return s.deps.Responses.FindByOperationIDAndName(ctx, opID, outcome.criteria)
		}); ok {
			return r
		}
	}

	if op.Fallback != nil {
		if r, ok := s.pick(ctx, logger, accept, func() ([]mockdef.Response, error) {
			return s.deps.Responses.FindByOperationIDAndName(ctx, opID, op.Fallback.Fallback)
		}); ok {
			return r
		}
	}

	if !op.HasDispatcher() {
		if r, ok := s.pick(ctx, logger, accept, func() ([]mockdef.Response, error) {
			return s.deps.Responses.FindByOperationID(ctx, opID)
		}); ok {
			return r
		}
	}

	return nil
}

func (s *MockDispatchService) pick(ctx context.Context, logger zerolog.Logger, accept string, query func() ([]mockdef.Response, error)) (*mockdef.Response, bool) {
	responses, err := query()
	if err != nil {
		logger.Error().Err(err).Msg("response lookup failed")
		return nil, false
	}
	r, ok := mockdef.Negotiate(responses, accept)
	if !ok {
		return nil, false
	}
	return &r, true
}

// proxyTarget decides whether the request leaves the mock entirely. It
// returns an upstream URL for PROXY operations, or when a Proxy-Fallback is
// configured and the selection missed (or hit the status condition).
func proxyTarget(op mockdef.Operation, req mockhttp.Request, selected *mockdef.Response) (string, bool) {
	buildURL := func(base string) string {
		target := strings.TrimSuffix(base, "/") + req.ResourcePath
		if req.Query != "" {
			target += "?" + req.Query
		}
		return target
	}

	if op.Dispatcher == mockdef.DispatcherProxy && op.DispatcherRules != "" {
		return buildURL(op.DispatcherRules), true
	}

	pf := op.ProxyFallback
	if pf == nil || pf.ProxyURL == "" {
		return "", false
	}
	if selected == nil {
		return buildURL(pf.ProxyURL), true
	}
	if pf.StatusCondition != 0 && selected.StatusOrDefault() == pf.StatusCondition {
		return buildURL(pf.ProxyURL), true
	}
	return "", false
}

func (s *MockDispatchService) callProxy(ctx context.Context, target string, req mockhttp.Request, logger zerolog.Logger) mockhttp.Response {
	resp, err := s.deps.Proxy.CallExternal(ctx, target, req.Method, req.Headers, req.Body)
	if err != nil {
		logger.Error().Err(err).Str("target", target).Msg("proxy call failed")
		return emptyResponse(502)
	}
	return resp
}

// render produces the outgoing response: Content-Type from the mediaType,
// recopied constraint headers, template headers (with Location rewrite and
// Transfer-Encoding suppression), and the templated body.
func (s *MockDispatchService) render(
	ctx context.Context,
	svc mockdef.Service,
	op mockdef.Operation,
	response mockdef.Response,
	evalReq mockhttp.EvaluableRequest,
	requestContext map[string]any,
) mockhttp.Response {
	tctx := ports.TemplateContext{
		Request:        evalReq,
		RequestContext: requestContext,
		Response:       response,
	}

	headers := make(map[string][]string)

	if response.MediaType != "" {
		headers["Content-Type"] = []string{response.MediaType + ";charset=UTF-8"}
	}

	for name, values := range mockdef.RecopyHeaders(op.ParameterConstraints, evalReq.Headers) {
		headers[name] = values
	}

	for _, h := range response.Headers {
		name := textproto.CanonicalMIMEHeaderKey(h.Name)
		if name == "Transfer-Encoding" {
			continue
		}

		rendered := make([]string, 0, len(h.Values))
		for _, v := range h.Values {
			out, err := s.deps.Templates.Render(ctx, v, tctx)
			if err != nil {
				out = v
			}
			if name == "Location" && !uripattern.AbsoluteURL.MatchString(out) {
				out = fmt.Sprintf("%s://%s:%s%s/rest/%s/%s%s",
					evalReq.Scheme, evalReq.Host, evalReq.Port, evalReq.ContextPath,
					svc.Name, svc.Version, out)
			}
			rendered = append(rendered, out)
		}
		headers[name] = rendered
	}

	var body []byte
	if response.Content != "" {
		rendered, err := s.deps.Templates.Render(ctx, response.Content, tctx)
		if err != nil {
			rendered = response.Content
		}
		body = []byte(rendered)
	}

	return mockhttp.Response{
		Status:  response.StatusOrDefault(),
		Headers: headers,
		Body:    body,
	}
}

// enforceDelay sleeps until the configured minimum duration has passed. A
// request-level ?delay= overrides the operation default. The sleep aborts
// when the request context is cancelled.
func (s *MockDispatchService) enforceDelay(ctx context.Context, start time.Time, op mockdef.Operation, req mockhttp.Request) {
	delay := op.DefaultDelay
	if req.DelayMillis != nil {
		delay = time.Duration(*req.DelayMillis) * time.Millisecond
	}
	if delay <= 0 {
		return
	}

	elapsed := s.deps.Clock.Now().Sub(start)
	if elapsed >= delay {
		return
	}

	timer := time.NewTimer(delay - elapsed)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}

// account records the invocation when stats are enabled.
func (s *MockDispatchService) account(
	cfg MockConfig,
	svc mockdef.Service,
	op mockdef.Operation,
	selected *mockdef.Response,
	req mockhttp.Request,
	start time.Time,
	proxied bool,
) {
	if !cfg.EnableInvocationStats || s.deps.Sink == nil {
		return
	}

	requestID := extractRequestID(op, req)

	event := ports.InvocationEvent{
		ID:             s.deps.IDGen.New(),
		ServiceName:    svc.Name,
		ServiceVersion: svc.Version,
		OperationName:  op.Name,
		RequestID:      requestID,
		StartTime:      start,
		Duration:       s.deps.Clock.Now().Sub(start),
		Proxied:        proxied,
	}
	if selected != nil {
		event.ResponseName = selected.Name
		event.Status = selected.StatusOrDefault()
	}

	s.logger.Debug().
		Str("requestId", requestID).
		Str("service", svc.Name).
		Str("operation", op.Name).
		Msg("invocation recorded")

	s.deps.Sink.Record(event)
}

// extractRequestID pulls a request identifier for accounting: the
// operation's idPath pointer applied to the body when set, otherwise the
// last path segment.
func extractRequestID(op mockdef.Operation, req mockhttp.Request) string {
	if op.IDPath != "" && len(req.Body) > 0 {
		var doc any
		if err := json.Unmarshal(req.Body, &doc); err == nil {
			if ptr, err := jsonpointer.New(op.IDPath); err == nil {
				if value, _, err := ptr.Get(doc); err == nil {
					return toString(value)
				}
			}
		}
	}

	path := strings.TrimSuffix(req.ResourcePath, "/")
	if idx := strings.LastIndexByte(path, '/'); idx >= 0 {
		return path[idx+1:]
	}
	return path
}

// corsPreflight synthesizes the 204 pre-flight response.
func corsPreflight(req mockhttp.Request, cfg MockConfig) mockhttp.Response {
	headers := map[string][]string{
		"Access-Control-Allow-Origin":  {cfg.CORSAllowedOrigins},
		"Access-Control-Allow-Methods": {"POST, PUT, GET, OPTIONS, DELETE, PATCH"},
		"Access-Allow-Credentials":     {fmt.Sprintf("%t", cfg.CORSAllowCredentials)},
		"Access-Control-Max-Age":       {"3600"},
		"Vary":                         {"Accept-Encoding, Origin"},
	}

	if requested := req.Headers["Access-Control-Request-Headers"]; len(requested) > 0 {
		echoed := strings.Join(requested, ", ")
		headers["Access-Control-Allow-Headers"] = []string{echoed}
		headers["Access-Control-Expose-Headers"] = []string{echoed}
	}

	return mockhttp.Response{Status: 204, Headers: headers}
}

func pathVariables(op mockdef.Operation, decodedPath string) map[string]string {
	compiled, err := uripattern.PatternToRegex(op.Pattern())
	if err != nil {
		return map[string]string{}
	}
	vars, ok := compiled.Match(decodedPath)
	if !ok {
		return map[string]string{}
	}
	return vars
}

func textResponse(status int, message string) mockhttp.Response {
	return mockhttp.Response{
		Status:  status,
		Headers: map[string][]string{"Content-Type": {"text/plain;charset=UTF-8"}},
		Body:    []byte(message),
	}
}

func emptyResponse(status int) mockhttp.Response {
	return mockhttp.Response{Status: status, Headers: map[string][]string{}}
}
