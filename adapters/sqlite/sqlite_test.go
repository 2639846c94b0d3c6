package sqlite_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/artpar/mockengine/adapters/sqlite"
	"github.com/artpar/mockengine/domain/mockdef"
)

func setupTestDB(t *testing.T) *sqlite.DB {
	t.Helper()

	f, err := os.CreateTemp("", "mockengine-test-*.db")
	if err != nil {
		t.Fatalf("create temp file: %v", err)
	}
	path := f.Name()
	f.Close()

	db, err := sqlite.Open(path)
	if err != nil {
		os.Remove(path)
		t.Fatalf("open database: %v", err)
	}

	if err := db.Migrate(); err != nil {
		db.Close()
		os.Remove(path)
		t.Fatalf("migrate: %v", err)
	}

	t.Cleanup(func() {
		db.Close()
		os.Remove(path)
	})
	return db
}

func seedPets(t *testing.T, store *sqlite.MockStore) mockdef.Service {
	t.Helper()

	op := mockdef.Operation{
		Name:            "GET /pets/{id}",
		Method:          "GET",
		ResourcePaths:   []string{"/pets/1", "/pets/2"},
		Dispatcher:      mockdef.DispatcherSequence,
		DispatcherRules: "id",
		DefaultDelay:    250 * time.Millisecond,
		IDPath:          "/id",
		ParameterConstraints: []mockdef.ParameterConstraint{
			{Name: "X-Token", In: mockdef.InHeader, Required: true, Recopy: true},
		},
	}.WithFallback(mockdef.FallbackSpecification{Fallback: "default"})

	svc := mockdef.NewService("Pets", "1.0").WithOperations(
		op,
		mockdef.Operation{Name: "POST /pets", Method: "POST"},
	)

	if err := store.SaveService(context.Background(), svc); err != nil {
		t.Fatalf("SaveService: %v", err)
	}
	return svc
}

func TestMockStore_ServiceRoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewMockStore(db)
	seeded := seedPets(t, store)

	got, err := store.FindByNameAndVersion(context.Background(), "Pets", "1.0")
	if err != nil {
		t.Fatalf("FindByNameAndVersion: %v", err)
	}
	if got == nil {
		t.Fatal("service not found after save")
	}
	if got.ID != seeded.ID {
		t.Errorf("id = %q, want %q", got.ID, seeded.ID)
	}
	if len(got.Operations) != 2 {
		t.Fatalf("operations = %d, want 2", len(got.Operations))
	}

	op := got.Operations[0]
	if op.Name != "GET /pets/{id}" || op.Method != "GET" {
		t.Errorf("operation = %s %s", op.Method, op.Name)
	}
	if op.Dispatcher != mockdef.DispatcherSequence || op.DispatcherRules != "id" {
		t.Errorf("dispatcher = %s/%s", op.Dispatcher, op.DispatcherRules)
	}
	if op.DefaultDelay != 250*time.Millisecond {
		t.Errorf("defaultDelay = %v", op.DefaultDelay)
	}
	if op.IDPath != "/id" {
		t.Errorf("idPath = %q", op.IDPath)
	}
	if len(op.ResourcePaths) != 2 || op.ResourcePaths[0] != "/pets/1" {
		t.Errorf("resourcePaths = %v", op.ResourcePaths)
	}
	if len(op.ParameterConstraints) != 1 || !op.ParameterConstraints[0].Recopy {
		t.Errorf("constraints = %+v", op.ParameterConstraints)
	}
	if op.Fallback == nil || op.Fallback.Fallback != "default" {
		t.Errorf("fallback = %+v", op.Fallback)
	}

	// Definition order survives the round trip.
	if got.Operations[1].Name != "POST /pets" {
		t.Errorf("operation order lost: %v", got.Operations[1].Name)
	}
}

func TestMockStore_FindUnknownServiceIsNil(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewMockStore(db)

	got, err := store.FindByNameAndVersion(context.Background(), "Nope", "0")
	if err != nil {
		t.Fatalf("FindByNameAndVersion: %v", err)
	}
	if got != nil {
		t.Errorf("got %v, want nil", got)
	}
}

func TestMockStore_List(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewMockStore(db)
	seedPets(t, store)

	other := mockdef.NewService("Vets", "2.0")
	if err := store.SaveService(context.Background(), other); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	services, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(services) != 2 {
		t.Fatalf("services = %d, want 2", len(services))
	}
	if services[0].Name != "Pets" || services[1].Name != "Vets" {
		t.Errorf("order = %s, %s", services[0].Name, services[1].Name)
	}
	if len(services[0].Operations) != 2 {
		t.Errorf("Pets operations = %d, want 2", len(services[0].Operations))
	}
}

func TestMockStore_SaveServiceReplacesOperations(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewMockStore(db)
	svc := seedPets(t, store)

	svc.Operations = svc.Operations[:1]
	if err := store.SaveService(context.Background(), svc); err != nil {
		t.Fatalf("SaveService: %v", err)
	}

	got, err := store.FindByNameAndVersion(context.Background(), "Pets", "1.0")
	if err != nil || got == nil {
		t.Fatalf("FindByNameAndVersion: %v, %v", got, err)
	}
	if len(got.Operations) != 1 {
		t.Errorf("operations = %d, want 1 after replace", len(got.Operations))
	}
}

func TestMockStore_ResponseLookups(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewMockStore(db)
	svc := seedPets(t, store)
	opID := svc.OperationID(svc.Operations[0])

	responses := []mockdef.Response{
		{
			ID: "r-1", OperationID: opID, Name: "r1",
			Status: 200, MediaType: "application/json",
			Content:          `{"id":1}`,
			DispatchCriteria: "?id=1",
			Headers: []mockdef.ResponseHeader{
				{Name: "Location", Values: []string{"/pets/1"}},
			},
		},
		{
			ID: "r-2", OperationID: opID, Name: "default",
			Status: 200, Content: `{}`,
		},
	}
	for i, r := range responses {
		if err := store.SaveResponse(context.Background(), r, i); err != nil {
			t.Fatalf("SaveResponse: %v", err)
		}
	}

	ctx := context.Background()

	byCriteria, err := store.FindByOperationIDAndDispatchCriteria(ctx, opID, "?id=1")
	if err != nil {
		t.Fatalf("FindByOperationIDAndDispatchCriteria: %v", err)
	}
	if len(byCriteria) != 1 || byCriteria[0].Name != "r1" {
		t.Fatalf("byCriteria = %v", byCriteria)
	}
	if len(byCriteria[0].Headers) != 1 || byCriteria[0].Headers[0].Name != "Location" {
		t.Errorf("headers = %+v", byCriteria[0].Headers)
	}

	byName, err := store.FindByOperationIDAndName(ctx, opID, "default")
	if err != nil {
		t.Fatalf("FindByOperationIDAndName: %v", err)
	}
	if len(byName) != 1 || byName[0].ID != "r-2" {
		t.Errorf("byName = %v", byName)
	}

	all, err := store.FindByOperationID(ctx, opID)
	if err != nil {
		t.Fatalf("FindByOperationID: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("all = %d, want 2", len(all))
	}
	if all[0].Name != "r1" {
		t.Errorf("position order lost: first = %q", all[0].Name)
	}

	if miss, _ := store.FindByOperationIDAndDispatchCriteria(ctx, opID, "?id=404"); len(miss) != 0 {
		t.Errorf("criteria miss = %v, want empty", miss)
	}
}

func TestStateStore_RoundTrip(t *testing.T) {
	db := setupTestDB(t)
	store := sqlite.NewStateStore(db)
	ctx := context.Background()

	if _, found, err := store.Get(ctx, "svc", "missing"); err != nil || found {
		t.Fatalf("Get missing = found=%v err=%v", found, err)
	}

	if err := store.Set(ctx, "svc", "counter", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := store.Set(ctx, "svc", "counter", "2"); err != nil {
		t.Fatalf("Set upsert: %v", err)
	}

	v, found, err := store.Get(ctx, "svc", "counter")
	if err != nil || !found || v != "2" {
		t.Fatalf("Get = %q found=%v err=%v, want 2", v, found, err)
	}

	// Scoped by service id.
	if _, found, _ := store.Get(ctx, "other-svc", "counter"); found {
		t.Error("state leaked across services")
	}

	if err := store.Delete(ctx, "svc", "counter"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, _ := store.Get(ctx, "svc", "counter"); found {
		t.Error("value survived delete")
	}
}
