// Package ports defines interfaces (contracts) between layers.
// These interfaces enable dependency injection and testability.
// Implementations live in adapters/.
package ports

import (
	"context"
	"time"

	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/domain/mockhttp"
)

// -----------------------------------------------------------------------------
// Infrastructure Ports
// -----------------------------------------------------------------------------

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

// IDGenerator generates unique identifiers.
type IDGenerator interface {
	New() string
}

// -----------------------------------------------------------------------------
// Data Store Ports
// -----------------------------------------------------------------------------

// ServiceRepository looks up virtualized service definitions.
type ServiceRepository interface {
	// FindByNameAndVersion retrieves a service, or nil when no service
	// matches the (name, version) pair.
	FindByNameAndVersion(ctx context.Context, name, version string) (*mockdef.Service, error)

	// List returns all services. Used by the catalog snapshot refresh.
	List(ctx context.Context) ([]mockdef.Service, error)
}

// ResponseRepository looks up canned responses by operation id.
type ResponseRepository interface {
	// FindByOperationIDAndDispatchCriteria returns responses whose stored
	// dispatch criteria equals criteria.
	FindByOperationIDAndDispatchCriteria(ctx context.Context, operationID, criteria string) ([]mockdef.Response, error)

	// FindByOperationIDAndName returns responses by their name.
	FindByOperationIDAndName(ctx context.Context, operationID, name string) ([]mockdef.Response, error)

	// FindByOperationID returns every response of an operation.
	FindByOperationID(ctx context.Context, operationID string) ([]mockdef.Response, error)
}

// ServiceStateRepository is a key/value store keyed by (serviceID, key).
// It mediates any cross-request state a SCRIPT dispatcher persists;
// read/write atomicity is the repository's concern.
type ServiceStateRepository interface {
	Get(ctx context.Context, serviceID, key string) (value string, found bool, err error)
	Set(ctx context.Context, serviceID, key, value string) error
	Delete(ctx context.Context, serviceID, key string) error
}

// -----------------------------------------------------------------------------
// Evaluation Ports
// -----------------------------------------------------------------------------

// ServiceStateStore is the script-facing view of ServiceStateRepository,
// already scoped to one serviceID. Errors are absorbed by the adapter so a
// flaky store never turns into a script exception.
type ServiceStateStore interface {
	Get(key string) string
	Put(key, value string) string
	Delete(key string) string
}

// ScriptBindings are the per-request values bound into a SCRIPT evaluation.
// RequestContext is mutable: values a script publishes there are visible to
// header and body rendering afterwards.
type ScriptBindings struct {
	Request        mockhttp.EvaluableRequest
	RequestContext map[string]any
	Body           string
	Store          ServiceStateStore
}

// ScriptEvaluator runs a dispatcher script and returns its result value.
type ScriptEvaluator interface {
	Eval(ctx context.Context, source string, bindings ScriptBindings) (any, error)
}

// TemplateContext is the data visible to response templates.
type TemplateContext struct {
	Request        mockhttp.EvaluableRequest
	RequestContext map[string]any
	Response       mockdef.Response
}

// TemplateEngine renders response header and body templates.
type TemplateEngine interface {
	Render(ctx context.Context, template string, tctx TemplateContext) (string, error)
}

// -----------------------------------------------------------------------------
// External Service Ports
// -----------------------------------------------------------------------------

// ProxyClient forwards a request to an external upstream and returns the
// upstream response untouched.
type ProxyClient interface {
	CallExternal(ctx context.Context, url, method string, headers map[string][]string, body []byte) (mockhttp.Response, error)
}

// -----------------------------------------------------------------------------
// Event Ports
// -----------------------------------------------------------------------------

// InvocationEvent describes one served mock invocation.
type InvocationEvent struct {
	ID             string
	ServiceName    string
	ServiceVersion string
	OperationName  string
	ResponseName   string
	Status         int
	RequestID      string
	StartTime      time.Time
	Duration       time.Duration
	Proxied        bool
}

// InvocationSink receives invocation events for telemetry.
// Record must be non-blocking.
type InvocationSink interface {
	Record(event InvocationEvent)
}
