package memory

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/ports"
	"gopkg.in/yaml.v3"
)

// Fixture is the YAML document the in-memory store loads at startup. It is
// a static definition source, not an authoring API: the engine never writes
// it back.
type Fixture struct {
	Services []FixtureService `yaml:"services"`
}

// FixtureService is one virtualized service in the fixture.
type FixtureService struct {
	Name       string             `yaml:"name"`
	Version    string             `yaml:"version"`
	Operations []FixtureOperation `yaml:"operations"`
}

// FixtureOperation is one operation plus its canned responses.
type FixtureOperation struct {
	Name            string              `yaml:"name"`
	Method          string              `yaml:"method"`
	ResourcePaths   []string            `yaml:"resourcePaths"`
	Dispatcher      string              `yaml:"dispatcher"`
	DispatcherRules string              `yaml:"dispatcherRules"`
	DefaultDelay    time.Duration       `yaml:"defaultDelay"`
	IDPath          string              `yaml:"idPath"`
	Constraints     []FixtureConstraint `yaml:"constraints"`
	Fallback        *FixtureFallback    `yaml:"fallback"`
	ProxyFallback   *FixtureProxy       `yaml:"proxyFallback"`
	Responses       []FixtureResponse   `yaml:"responses"`
}

// FixtureConstraint mirrors mockdef.ParameterConstraint.
type FixtureConstraint struct {
	Name           string `yaml:"name"`
	In             string `yaml:"in"`
	Required       bool   `yaml:"required"`
	Recopy         bool   `yaml:"recopy"`
	MustMatchRegex string `yaml:"mustMatchRegex"`
}

// FixtureFallback names the default response for criterion misses.
type FixtureFallback struct {
	Fallback string `yaml:"fallback"`
}

// FixtureProxy directs unmatched requests upstream.
type FixtureProxy struct {
	ProxyURL        string `yaml:"proxyUrl"`
	StatusCondition int    `yaml:"statusCondition"`
}

// FixtureResponse is one canned response.
type FixtureResponse struct {
	Name             string              `yaml:"name"`
	Status           int                 `yaml:"status"`
	MediaType        string              `yaml:"mediaType"`
	DispatchCriteria string              `yaml:"dispatchCriteria"`
	Headers          map[string][]string `yaml:"headers"`
	Content          string              `yaml:"content"`
}

// LoadFixture reads and converts a fixture file into repository entities.
func LoadFixture(path string, ids ports.IDGenerator) ([]mockdef.Service, []mockdef.Response, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("read fixture: %w", err)
	}
	return ParseFixture(data, ids)
}

// ParseFixture converts fixture YAML into repository entities.
func ParseFixture(data []byte, ids ports.IDGenerator) ([]mockdef.Service, []mockdef.Response, error) {
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, nil, fmt.Errorf("parse fixture: %w", err)
	}

	var services []mockdef.Service
	var responses []mockdef.Response

	for _, fs := range f.Services {
		if fs.Name == "" || fs.Version == "" {
			return nil, nil, fmt.Errorf("fixture service needs both name and version (got %q/%q)", fs.Name, fs.Version)
		}

		svc := mockdef.NewService(fs.Name, fs.Version)
		var ops []mockdef.Operation

		for _, fo := range fs.Operations {
			if fo.Name == "" {
				return nil, nil, fmt.Errorf("service %s: operation needs a name", fs.Name)
			}

			method := fo.Method
			if method == "" {
				// Derive from the "<VERB> <pattern>" operation name shape.
				if idx := strings.IndexByte(fo.Name, ' '); idx > 0 {
					method = fo.Name[:idx]
				}
			}
			if method == "" {
				return nil, nil, fmt.Errorf("service %s: operation %q has no method", fs.Name, fo.Name)
			}

			op := mockdef.Operation{
				Name:            fo.Name,
				Method:          strings.ToUpper(method),
				ResourcePaths:   fo.ResourcePaths,
				Dispatcher:      mockdef.Dispatcher(fo.Dispatcher),
				DispatcherRules: fo.DispatcherRules,
				DefaultDelay:    fo.DefaultDelay,
				IDPath:          fo.IDPath,
			}

			for _, fc := range fo.Constraints {
				op.ParameterConstraints = append(op.ParameterConstraints, mockdef.ParameterConstraint{
					Name:           fc.Name,
					In:             mockdef.ParameterIn(fc.In),
					Required:       fc.Required,
					Recopy:         fc.Recopy,
					MustMatchRegex: fc.MustMatchRegex,
				})
			}

			if fo.Fallback != nil {
				op = op.WithFallback(mockdef.FallbackSpecification{
					Dispatcher:      op.Dispatcher,
					DispatcherRules: op.DispatcherRules,
					Fallback:        fo.Fallback.Fallback,
				})
			}
			if fo.ProxyFallback != nil {
				op = op.WithProxyFallback(mockdef.ProxyFallbackSpecification{
					Dispatcher:      op.Dispatcher,
					DispatcherRules: op.DispatcherRules,
					ProxyURL:        fo.ProxyFallback.ProxyURL,
					StatusCondition: fo.ProxyFallback.StatusCondition,
				})
			}

			ops = append(ops, op)

			opID := svc.OperationID(op)
			for _, fr := range fo.Responses {
				if fr.Name == "" {
					return nil, nil, fmt.Errorf("service %s operation %q: response needs a name", fs.Name, fo.Name)
				}

				var headers []mockdef.ResponseHeader
				for name, values := range fr.Headers {
					headers = append(headers, mockdef.ResponseHeader{Name: name, Values: values})
				}

				responses = append(responses, mockdef.Response{
					ID:               ids.New(),
					OperationID:      opID,
					Name:             fr.Name,
					Status:           fr.Status,
					MediaType:        fr.MediaType,
					Content:          fr.Content,
					Headers:          headers,
					DispatchCriteria: fr.DispatchCriteria,
				})
			}
		}

		services = append(services, svc.WithOperations(ops...))
	}

	return services, responses, nil
}
