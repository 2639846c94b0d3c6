package memory_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/artpar/mockengine/adapters/idgen"
	"github.com/artpar/mockengine/adapters/memory"
	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/rs/zerolog"
)

const petsFixture = `
services:
  - name: Pets
    version: "1.0"
    operations:
      - name: "GET /pets/{id}"
        dispatcher: SEQUENCE
        dispatcherRules: id
        defaultDelay: 150ms
        resourcePaths:
          - /pets/1
        constraints:
          - name: X-Token
            in: header
            required: true
        responses:
          - name: r1
            status: 200
            mediaType: application/json
            dispatchCriteria: "?id=1"
            headers:
              Location:
                - /pets/1
            content: '{"id":1}'
      - name: "POST /pets"
        method: post
        fallback:
          fallback: default
        responses:
          - name: default
            content: created
`

func TestParseFixture(t *testing.T) {
	services, responses, err := memory.ParseFixture([]byte(petsFixture), idgen.UUID{})
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}

	if len(services) != 1 {
		t.Fatalf("services = %d, want 1", len(services))
	}
	svc := services[0]
	if svc.Name != "Pets" || svc.Version != "1.0" {
		t.Errorf("service = %s/%s", svc.Name, svc.Version)
	}
	if len(svc.Operations) != 2 {
		t.Fatalf("operations = %d, want 2", len(svc.Operations))
	}

	get := svc.Operations[0]
	if get.Method != "GET" {
		t.Errorf("method = %q, want GET (derived from name)", get.Method)
	}
	if get.Dispatcher != mockdef.DispatcherSequence || get.DispatcherRules != "id" {
		t.Errorf("dispatcher = %s/%s", get.Dispatcher, get.DispatcherRules)
	}
	if get.DefaultDelay != 150*time.Millisecond {
		t.Errorf("defaultDelay = %v", get.DefaultDelay)
	}
	if len(get.ParameterConstraints) != 1 || get.ParameterConstraints[0].In != mockdef.InHeader {
		t.Errorf("constraints = %+v", get.ParameterConstraints)
	}

	post := svc.Operations[1]
	if post.Method != "POST" {
		t.Errorf("explicit method = %q, want POST (upcased)", post.Method)
	}
	if post.Fallback == nil || post.Fallback.Fallback != "default" {
		t.Errorf("fallback = %+v", post.Fallback)
	}

	if len(responses) != 2 {
		t.Fatalf("responses = %d, want 2", len(responses))
	}
	r1 := responses[0]
	if r1.OperationID != svc.OperationID(get) {
		t.Errorf("response operationID = %q", r1.OperationID)
	}
	if r1.DispatchCriteria != "?id=1" || r1.MediaType != "application/json" {
		t.Errorf("response = %+v", r1)
	}
	if r1.ID == "" {
		t.Error("response id was not minted")
	}
	if len(r1.Headers) != 1 || r1.Headers[0].Name != "Location" {
		t.Errorf("headers = %+v", r1.Headers)
	}
}

func TestParseFixture_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		fixture string
	}{
		{"not yaml", "\t{{{"},
		{"missing version", "services:\n  - name: Pets\n"},
		{"unnamed operation", "services:\n  - name: Pets\n    version: '1.0'\n    operations:\n      - dispatcher: SEQUENCE\n"},
		{"unnamed response", "services:\n  - name: Pets\n    version: '1.0'\n    operations:\n      - name: GET /pets\n        responses:\n          - content: x\n"},
		{"no derivable method", "services:\n  - name: Pets\n    version: '1.0'\n    operations:\n      - name: pets\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := memory.ParseFixture([]byte(tt.fixture), idgen.UUID{}); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestMockStore_Lookups(t *testing.T) {
	services, responses, err := memory.ParseFixture([]byte(petsFixture), idgen.UUID{})
	if err != nil {
		t.Fatalf("ParseFixture: %v", err)
	}

	store := memory.NewMockStore()
	store.Replace(services, responses)

	ctx := context.Background()

	svc, err := store.FindByNameAndVersion(ctx, "Pets", "1.0")
	if err != nil || svc == nil {
		t.Fatalf("FindByNameAndVersion = %v, %v", svc, err)
	}

	if missing, _ := store.FindByNameAndVersion(ctx, "Pets", "9.9"); missing != nil {
		t.Errorf("unknown version = %v, want nil", missing)
	}

	opID := svc.OperationID(svc.Operations[0])

	byCriteria, err := store.FindByOperationIDAndDispatchCriteria(ctx, opID, "?id=1")
	if err != nil || len(byCriteria) != 1 {
		t.Fatalf("FindByOperationIDAndDispatchCriteria = %v, %v", byCriteria, err)
	}

	byName, err := store.FindByOperationIDAndName(ctx, opID, "r1")
	if err != nil || len(byName) != 1 {
		t.Fatalf("FindByOperationIDAndName = %v, %v", byName, err)
	}

	all, err := store.FindByOperationID(ctx, opID)
	if err != nil || len(all) != 1 {
		t.Fatalf("FindByOperationID = %v, %v", all, err)
	}
}

func TestStateStore_Scoping(t *testing.T) {
	store := memory.NewStateStore()
	ctx := context.Background()

	if err := store.Set(ctx, "svc-a", "counter", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	v, found, err := store.Get(ctx, "svc-a", "counter")
	if err != nil || !found || v != "1" {
		t.Errorf("Get = %q, %v, %v", v, found, err)
	}

	// A different service never sees another service's keys.
	if _, found, _ := store.Get(ctx, "svc-b", "counter"); found {
		t.Error("state leaked across service scopes")
	}

	if err := store.Delete(ctx, "svc-a", "counter"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "svc-a", "counter"); found {
		t.Error("value survived delete")
	}
}

func TestFixtureWatcher_ReloadOnChange(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mocks.yaml")
	if err := os.WriteFile(path, []byte(petsFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := memory.NewMockStore()
	watcher, err := memory.NewFixtureWatcher(store, path, idgen.UUID{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFixtureWatcher: %v", err)
	}

	reloaded := make(chan struct{}, 4)
	watcher.OnReload(func() { reloaded <- struct{}{} })

	if err := watcher.Watch(); err != nil {
		t.Fatalf("Watch: %v", err)
	}
	defer watcher.Stop()

	updated := "services:\n  - name: Vets\n    version: '2.0'\n    operations:\n      - name: GET /vets\n"
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}

	select {
	case <-reloaded:
	case <-time.After(3 * time.Second):
		t.Fatal("reload never fired")
	}

	svc, err := store.FindByNameAndVersion(context.Background(), "Vets", "2.0")
	if err != nil || svc == nil {
		t.Fatalf("reloaded service lookup = %v, %v", svc, err)
	}
}

func TestFixtureWatcher_BadReloadKeepsOldData(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "mocks.yaml")
	if err := os.WriteFile(path, []byte(petsFixture), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	store := memory.NewMockStore()
	watcher, err := memory.NewFixtureWatcher(store, path, idgen.UUID{}, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewFixtureWatcher: %v", err)
	}
	defer watcher.Stop()

	if err := os.WriteFile(path, []byte("\t{{{"), 0o644); err != nil {
		t.Fatalf("rewrite fixture: %v", err)
	}
	if err := watcher.Reload(); err == nil {
		t.Fatal("expected reload error for broken fixture")
	}

	svc, err := store.FindByNameAndVersion(context.Background(), "Pets", "1.0")
	if err != nil || svc == nil {
		t.Error("old dataset was lost after failed reload")
	}
}
