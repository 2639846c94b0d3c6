package app_test

import (
	"context"
	"testing"

	"github.com/artpar/mockengine/app"
	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/domain/mockhttp"
	"github.com/artpar/mockengine/ports"
)

func templateContext() ports.TemplateContext {
	return ports.TemplateContext{
		Request: mockhttp.EvaluableRequest{
			Body:   `{"name":"rex","tags":["a","b"]}`,
			Path:   "/pets/7",
			Method: "GET",
			Headers: map[string][]string{
				"X-Token": {"secret"},
			},
			QueryParams: map[string][]string{
				"status": {"available"},
			},
			PathVariables: map[string]string{"id": "7"},
			Scheme:        "http",
			Host:          "api.local",
			Port:          "8080",
			ContextPath:   "",
		},
		RequestContext: map[string]any{"greeting": "hi"},
		Response:       mockdef.Response{Name: "r1", Status: 201, MediaType: "application/json"},
	}
}

func TestTemplateRender(t *testing.T) {
	s := app.NewTemplateService()
	tctx := templateContext()

	tests := []struct {
		name     string
		template string
		want     string
	}{
		{"plain text untouched", "no spans here", "no spans here"},
		{"path variable", `{"id":"{{ request.pathVariables.id }}"}`, `{"id":"7"}`},
		{"query param", "{{ request.queryParams.status }}", "available"},
		{"header", "{{ request.headers['X-Token'] }}", "secret"},
		{"method and path", "{{ request.method }} {{ request.path }}", "GET /pets/7"},
		{"request context", "{{ requestContext.greeting }} there", "hi there"},
		{"response fields", "{{ response.name }}:{{ response.status }}", "r1:201"},
		{"parsed body field", "{{ body.name }}", "rex"},
		{"function call", "{{ upper(request.method) }}", "GET"},
		{"join function", `{{ join(body.tags, ",") }}`, "a,b"},
		{"default function", `{{ default(requestContext.missing, "fallback") }}`, "fallback"},
		{"multiple spans", "{{ request.pathVariables.id }}-{{ response.name }}", "7-r1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Render(context.Background(), tt.template, tctx)
			if err != nil {
				t.Fatalf("Render: %v", err)
			}
			if got != tt.want {
				t.Errorf("Render(%q) = %q, want %q", tt.template, got, tt.want)
			}
		})
	}
}

// A span that does not evaluate is left verbatim instead of failing the
// request.
func TestTemplateRender_LenientOnBadSpan(t *testing.T) {
	s := app.NewTemplateService()
	tctx := templateContext()

	got, err := s.Render(context.Background(), "before {{ not a valid (( expr }} after", tctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	want := "before {{ not a valid (( expr }} after"
	if got != want {
		t.Errorf("Render = %q, want %q", got, want)
	}
}

func TestTemplateRender_UnterminatedSpan(t *testing.T) {
	s := app.NewTemplateService()
	tctx := templateContext()

	got, err := s.Render(context.Background(), "text {{ response.name", tctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "text {{ response.name" {
		t.Errorf("Render = %q, want input verbatim", got)
	}
}

func TestTemplateRender_NilRequestContext(t *testing.T) {
	s := app.NewTemplateService()
	tctx := templateContext()
	tctx.RequestContext = nil

	got, err := s.Render(context.Background(), "{{ response.name }}", tctx)
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "r1" {
		t.Errorf("Render = %q, want %q", got, "r1")
	}
}

func TestTemplateRender_CacheReuse(t *testing.T) {
	s := app.NewTemplateService()
	tctx := templateContext()

	for i := 0; i < 3; i++ {
		got, err := s.Render(context.Background(), "{{ request.pathVariables.id }}", tctx)
		if err != nil {
			t.Fatalf("Render: %v", err)
		}
		if got != "7" {
			t.Errorf("Render = %q, want %q", got, "7")
		}
	}

	s.ClearCache()
	got, err := s.Render(context.Background(), "{{ request.pathVariables.id }}", tctx)
	if err != nil {
		t.Fatalf("Render after ClearCache: %v", err)
	}
	if got != "7" {
		t.Errorf("Render = %q, want %q", got, "7")
	}
}
