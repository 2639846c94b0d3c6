package mockdef_test

import (
	"testing"

	"github.com/artpar/mockengine/domain/mockdef"
)

func petsService() mockdef.Service {
	svc := mockdef.NewService("Pets", "1.0")
	return svc.WithOperations(
		mockdef.Operation{
			Name:          "GET /pets/count",
			Method:        "GET",
			ResourcePaths: []string{"/pets/count"},
		},
		mockdef.Operation{
			Name:          "GET /pets/{id}",
			Method:        "GET",
			ResourcePaths: []string{"/pets/1", "/pets/2"},
		},
		mockdef.Operation{
			Name:   "POST /pets",
			Method: "POST",
		},
	)
}

func TestResolveOperation_LiteralPath(t *testing.T) {
	svc := petsService()

	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/1")
	if !ok {
		t.Fatal("expected a match")
	}
	if op.Name != "GET /pets/{id}" {
		t.Errorf("op = %q, want %q", op.Name, "GET /pets/{id}")
	}
}

func TestResolveOperation_TrailingSlashTolerated(t *testing.T) {
	svc := petsService()

	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/1/")
	if !ok {
		t.Fatal("expected a match")
	}
	if op.Name != "GET /pets/{id}" {
		t.Errorf("op = %q, want %q", op.Name, "GET /pets/{id}")
	}
}

func TestResolveOperation_RegexFallback(t *testing.T) {
	svc := petsService()

	// /pets/99 is not in any resourcePaths; the pattern pass picks it up.
	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/99")
	if !ok {
		t.Fatal("expected a match")
	}
	if op.Name != "GET /pets/{id}" {
		t.Errorf("op = %q, want %q", op.Name, "GET /pets/{id}")
	}
}

func TestResolveOperation_LiteralBeatsPattern(t *testing.T) {
	svc := petsService()

	// /pets/count literally belongs to the count operation even though the
	// {id} pattern would also match it.
	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/count")
	if !ok {
		t.Fatal("expected a match")
	}
	if op.Name != "GET /pets/count" {
		t.Errorf("op = %q, want %q", op.Name, "GET /pets/count")
	}
}

func TestResolveOperation_PatternAmbiguityDefinitionOrder(t *testing.T) {
	// Neither operation has resourcePaths; both patterns match /pets/count.
	// The first in definition order wins.
	svc := mockdef.NewService("Pets", "1.0").WithOperations(
		mockdef.Operation{Name: "GET /pets/{id}", Method: "GET"},
		mockdef.Operation{Name: "GET /pets/count", Method: "GET"},
	)

	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/count")
	if !ok {
		t.Fatal("expected a match")
	}
	if op.Name != "GET /pets/{id}" {
		t.Errorf("op = %q, want %q (definition order)", op.Name, "GET /pets/{id}")
	}
}

func TestResolveOperation_MethodIsCaseSensitive(t *testing.T) {
	svc := petsService()

	if _, ok := mockdef.ResolveOperation(svc, "get", "/pets/1"); ok {
		t.Error("lowercase method should not match")
	}
	if _, ok := mockdef.ResolveOperation(svc, "DELETE", "/pets/1"); ok {
		t.Error("unregistered method should not match")
	}
}

func TestResolveOperation_NoMatch(t *testing.T) {
	svc := petsService()

	if _, ok := mockdef.ResolveOperation(svc, "GET", "/cats/1"); ok {
		t.Error("expected no match for unknown path")
	}
}

// Literal comparison uses the still-encoded request path: an operation that
// recorded an encoded resourcePath matches the encoded form, and the decoded
// form does not sneak in through the literal pass.
func TestResolveOperation_EncodedPathComparedVerbatim(t *testing.T) {
	svc := mockdef.NewService("Pets", "1.0").WithOperations(
		mockdef.Operation{
			Name:          "GET /pets/{name}",
			Method:        "GET",
			ResourcePaths: []string{"/pets/mr%20rex"},
		},
	)

	op, ok := mockdef.ResolveOperation(svc, "GET", "/pets/mr%20rex")
	if !ok {
		t.Fatal("expected encoded literal to match")
	}
	if op.Name != "GET /pets/{name}" {
		t.Errorf("op = %q, want %q", op.Name, "GET /pets/{name}")
	}

	// The decoded form still resolves, but only via the pattern pass.
	if _, ok := mockdef.ResolveOperation(svc, "GET", "/pets/mr rex"); !ok {
		t.Error("decoded form should still match through the pattern fallback")
	}
}

func TestOperationID(t *testing.T) {
	svc := mockdef.NewService("Pets", "1.0")
	op := mockdef.Operation{Name: "GET /pets/{id}", Method: "GET"}

	if got, want := svc.OperationID(op), "Pets-1.0-GET /pets/{id}"; got != want {
		t.Errorf("OperationID = %q, want %q", got, want)
	}
}
