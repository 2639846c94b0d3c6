package mockdef

import (
	"strings"

	"github.com/artpar/mockengine/domain/uripattern"
)

// ResolveOperation finds the operation of svc serving (method, resourcePath).
//
// Resolution is two-pass: first an exact lookup against each operation's
// recorded resourcePaths (tolerating one trailing slash on the request),
// then a regex fallback over each operation's URI pattern. Both passes walk
// operations in definition order, so overlapping patterns such as
// /pets/{id} and /pets/count resolve to whichever was defined first.
//
// resourcePath is compared in its received (still percent-encoded) form;
// decoding happens later, for criterion extraction only.
func ResolveOperation(svc Service, method, resourcePath string) (Operation, bool) {
	trimmed := resourcePath
	if len(trimmed) > 1 && strings.HasSuffix(trimmed, "/") {
		trimmed = trimmed[:len(trimmed)-1]
	}

	for _, op := range svc.Operations {
		if op.Method != method {
			continue
		}
		for _, p := range op.ResourcePaths {
			if p == resourcePath || p == trimmed {
				return op, true
			}
		}
	}

	for _, op := range svc.Operations {
		if op.Method != method {
			continue
		}
		pattern := uripattern.UriPatternFromOperationName(op.Name)
		compiled, err := uripattern.PatternToRegex(pattern)
		if err != nil {
			continue
		}
		if _, ok := compiled.Match(resourcePath); ok {
			return op, true
		}
	}

	return Operation{}, false
}

// Pattern returns the operation's URI pattern, stripped of its verb prefix.
func (o Operation) Pattern() string {
	return uripattern.UriPatternFromOperationName(o.Name)
}
