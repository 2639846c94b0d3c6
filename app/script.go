package app

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/artpar/mockengine/ports"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
	"github.com/rs/zerolog"
)

// ScriptService evaluates SCRIPT dispatcher rules with Expr. A script sees
// the read-only request, the raw body, a store scoped to its service, and a
// mutable requestContext it can publish template values into via set().
//
// Programs are compiled once per distinct source and cached; the bindings
// are fresh per request, so no script can observe another request's state.
type ScriptService struct {
	cache   map[string]*vm.Program
	cacheMu sync.RWMutex

	logger zerolog.Logger
}

// NewScriptService creates a script evaluation service.
func NewScriptService(logger zerolog.Logger) *ScriptService {
	return &ScriptService{
		cache:  make(map[string]*vm.Program),
		logger: logger.With().Str("service", "script").Logger(),
	}
}

// Eval runs source against the per-request bindings and returns its result.
func (s *ScriptService) Eval(ctx context.Context, source string, bindings ports.ScriptBindings) (any, error) {
	env := s.buildEnv(bindings)

	program, err := s.getOrCompile(source, env)
	if err != nil {
		return nil, err
	}

	return expr.Run(program, env)
}

func (s *ScriptService) buildEnv(b ports.ScriptBindings) map[string]any {
	requestContext := b.RequestContext
	if requestContext == nil {
		requestContext = map[string]any{}
	}

	env := map[string]any{
		"request": map[string]any{
			"body":          b.Request.Body,
			"path":          b.Request.Path,
			"method":        b.Request.Method,
			"headers":       headerMap(b.Request.Headers),
			"queryParams":   queryMap(b.Request.QueryParams),
			"pathVariables": b.Request.PathVariables,
		},
		"requestContext": requestContext,
		"body":           b.Body,
		"store":          b.Store,

		// set publishes a value into requestContext for later rendering.
		"set": func(key string, value any) any {
			requestContext[key] = value
			return value
		},
	}

	// Scripts routinely branch on body fields; expose the parsed form too.
	if b.Body != "" {
		var parsed any
		if err := json.Unmarshal([]byte(b.Body), &parsed); err == nil {
			env["bodyJson"] = parsed
		}
	}
	if _, ok := env["bodyJson"]; !ok {
		env["bodyJson"] = map[string]any{}
	}

	return env
}

func (s *ScriptService) getOrCompile(source string, env map[string]any) (*vm.Program, error) {
	s.cacheMu.RLock()
	program, ok := s.cache[source]
	s.cacheMu.RUnlock()

	if ok {
		return program, nil
	}

	program, err := expr.Compile(source, expr.Env(env))
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[source] = program
	s.cacheMu.Unlock()

	return program, nil
}

// scopedStateStore adapts ServiceStateRepository to the script-facing store,
// pinned to one serviceID. Store errors are logged and absorbed so they
// never surface as script exceptions.
type scopedStateStore struct {
	ctx       context.Context
	repo      ports.ServiceStateRepository
	serviceID string
	logger    zerolog.Logger
}

// NewScopedStateStore builds the script-facing store for one request.
func NewScopedStateStore(ctx context.Context, repo ports.ServiceStateRepository, serviceID string, logger zerolog.Logger) ports.ServiceStateStore {
	return &scopedStateStore{ctx: ctx, repo: repo, serviceID: serviceID, logger: logger}
}

func (s *scopedStateStore) Get(key string) string {
	value, found, err := s.repo.Get(s.ctx, s.serviceID, key)
	if err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("state store get failed")
		return ""
	}
	if !found {
		return ""
	}
	return value
}

func (s *scopedStateStore) Put(key, value string) string {
	if err := s.repo.Set(s.ctx, s.serviceID, key, value); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("state store put failed")
	}
	return value
}

func (s *scopedStateStore) Delete(key string) string {
	if err := s.repo.Delete(s.ctx, s.serviceID, key); err != nil {
		s.logger.Error().Err(err).Str("key", key).Msg("state store delete failed")
	}
	return ""
}

// Ensure interface compliance.
var _ ports.ScriptEvaluator = (*ScriptService)(nil)
