// Package app provides application services that orchestrate domain logic.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/artpar/mockengine/ports"
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// TemplateService renders response header and body templates. A template is
// a literal string with embedded {{ ... }} expression spans evaluated by
// Expr against the request context.
//
// Rendering is lenient: a span that fails to compile or evaluate is left in
// the output verbatim, so a bad template degrades to its raw text instead
// of failing the request.
type TemplateService struct {
	cache   map[string]*vm.Program
	cacheMu sync.RWMutex

	envOptions []expr.Option
}

// NewTemplateService creates a template service with the custom Expr
// functions available in all templates.
func NewTemplateService() *TemplateService {
	s := &TemplateService{
		cache: make(map[string]*vm.Program),
	}

	s.envOptions = []expr.Option{
		expr.Function("lower", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("lower requires 1 argument")
			}
			return strings.ToLower(toString(params[0])), nil
		}),
		expr.Function("upper", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("upper requires 1 argument")
			}
			return strings.ToUpper(toString(params[0])), nil
		}),
		expr.Function("trim", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("trim requires 1 argument")
			}
			return strings.TrimSpace(toString(params[0])), nil
		}),
		expr.Function("split", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("split requires 2 arguments")
			}
			return strings.Split(toString(params[0]), toString(params[1])), nil
		}),
		expr.Function("join", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("join requires 2 arguments")
			}
			arr, ok := params[0].([]string)
			if !ok {
				anyArr, ok := params[0].([]any)
				if !ok {
					return nil, fmt.Errorf("join first argument must be array")
				}
				arr = make([]string, len(anyArr))
				for i, v := range anyArr {
					arr[i] = toString(v)
				}
			}
			return strings.Join(arr, toString(params[1])), nil
		}),
		expr.Function("urlEncode", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("urlEncode requires 1 argument")
			}
			return url.QueryEscape(toString(params[0])), nil
		}),
		expr.Function("urlDecode", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("urlDecode requires 1 argument")
			}
			decoded, err := url.QueryUnescape(toString(params[0]))
			if err != nil {
				return nil, err
			}
			return decoded, nil
		}),
		expr.Function("jsonEncode", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("jsonEncode requires 1 argument")
			}
			b, err := json.Marshal(params[0])
			if err != nil {
				return nil, err
			}
			return string(b), nil
		}),
		expr.Function("jsonDecode", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("jsonDecode requires 1 argument")
			}
			var result any
			if err := json.Unmarshal([]byte(toString(params[0])), &result); err != nil {
				return nil, err
			}
			return result, nil
		}),
		expr.Function("now", func(params ...any) (any, error) {
			return time.Now().Unix(), nil
		}),
		expr.Function("nowRFC3339", func(params ...any) (any, error) {
			return time.Now().Format(time.RFC3339), nil
		}),
		expr.Function("coalesce", func(params ...any) (any, error) {
			for _, p := range params {
				if p != nil && p != "" {
					return p, nil
				}
			}
			return nil, nil
		}),
		expr.Function("default", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("default requires 2 arguments (value, defaultValue)")
			}
			if params[0] == nil || params[0] == "" {
				return params[1], nil
			}
			return params[0], nil
		}),
		expr.Function("toString", func(params ...any) (any, error) {
			if len(params) != 1 {
				return nil, fmt.Errorf("toString requires 1 argument")
			}
			return toString(params[0]), nil
		}),
		expr.Function("get", func(params ...any) (any, error) {
			if len(params) != 2 {
				return nil, fmt.Errorf("get requires 2 arguments (obj, path)")
			}
			current := params[0]
			for _, part := range strings.Split(toString(params[1]), ".") {
				m, ok := current.(map[string]any)
				if !ok {
					return nil, nil
				}
				current = m[part]
			}
			return current, nil
		}),
	}

	return s
}

// Render evaluates every {{ ... }} span of template against tctx and splices
// the results into the literal text. Spans that fail are left verbatim.
func (s *TemplateService) Render(ctx context.Context, template string, tctx ports.TemplateContext) (string, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	env := s.buildEnv(tctx)

	var sb strings.Builder
	rest := template
	for {
		open := strings.Index(rest, "{{")
		if open < 0 {
			sb.WriteString(rest)
			break
		}
		end := strings.Index(rest[open:], "}}")
		if end < 0 {
			sb.WriteString(rest)
			break
		}
		end += open

		sb.WriteString(rest[:open])
		span := rest[open : end+2]
		expression := strings.TrimSpace(rest[open+2 : end])

		value, err := s.eval(expression, env)
		if err != nil {
			sb.WriteString(span)
		} else {
			sb.WriteString(toString(value))
		}

		rest = rest[end+2:]
	}

	return sb.String(), nil
}

func (s *TemplateService) buildEnv(tctx ports.TemplateContext) map[string]any {
	requestContext := tctx.RequestContext
	if requestContext == nil {
		requestContext = map[string]any{}
	}

	env := map[string]any{
		"request": map[string]any{
			"body":          tctx.Request.Body,
			"path":          tctx.Request.Path,
			"method":        tctx.Request.Method,
			"headers":       headerMap(tctx.Request.Headers),
			"queryParams":   queryMap(tctx.Request.QueryParams),
			"pathVariables": tctx.Request.PathVariables,
			"scheme":        tctx.Request.Scheme,
			"host":          tctx.Request.Host,
			"port":          tctx.Request.Port,
			"contextPath":   tctx.Request.ContextPath,
		},
		"requestContext": requestContext,
		"response": map[string]any{
			"name":      tctx.Response.Name,
			"status":    tctx.Response.StatusOrDefault(),
			"mediaType": tctx.Response.MediaType,
		},
	}

	// Parse the body as JSON when possible so templates can reach into it.
	if tctx.Request.Body != "" {
		var body any
		if err := json.Unmarshal([]byte(tctx.Request.Body), &body); err == nil {
			env["body"] = body
		}
	}
	if _, ok := env["body"]; !ok {
		env["body"] = tctx.Request.Body
	}

	return env
}

func (s *TemplateService) eval(expression string, env map[string]any) (any, error) {
	program, err := s.getOrCompile(expression, env)
	if err != nil {
		return nil, err
	}
	return expr.Run(program, env)
}

// getOrCompile returns a cached compiled program or compiles a new one.
func (s *TemplateService) getOrCompile(expression string, env map[string]any) (*vm.Program, error) {
	s.cacheMu.RLock()
	program, ok := s.cache[expression]
	s.cacheMu.RUnlock()

	if ok {
		return program, nil
	}

	opts := append([]expr.Option{expr.Env(env)}, s.envOptions...)
	program, err := expr.Compile(expression, opts...)
	if err != nil {
		return nil, err
	}

	s.cacheMu.Lock()
	s.cache[expression] = program
	s.cacheMu.Unlock()

	return program, nil
}

// ClearCache clears the compiled expression cache.
func (s *TemplateService) ClearCache() {
	s.cacheMu.Lock()
	s.cache = make(map[string]*vm.Program)
	s.cacheMu.Unlock()
}

func headerMap(h map[string][]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, vs := range h {
		if len(vs) > 0 {
			out[k] = vs[0]
		}
	}
	return out
}

func queryMap(q map[string][]string) map[string]string {
	return headerMap(q)
}

func toString(v any) string {
	if v == nil {
		return ""
	}
	switch val := v.(type) {
	case string:
		return val
	case []byte:
		return string(val)
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Ensure interface compliance.
var _ ports.TemplateEngine = (*TemplateService)(nil)
