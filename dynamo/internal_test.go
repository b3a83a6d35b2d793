package dynamo

import (
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/espalier/record"
)

// --- Config Tests ---

func TestConfig_Validate_FillsDefaults(t *testing.T) {
	cfg := Config{}
	cfg.validate()

	if cfg.Table != "espalier_records" {
		t.Errorf("expected default table, got %q", cfg.Table)
	}
	if cfg.Index != "kind-path-index" {
		t.Errorf("expected default index, got %q", cfg.Index)
	}
	if cfg.UniqueTable != "" {
		t.Errorf("expected unique table to stay disabled, got %q", cfg.UniqueTable)
	}
}

func TestConfig_Validate_KeepsCustomValues(t *testing.T) {
	cfg := Config{Table: "t", Index: "i", UniqueTable: "u"}
	cfg.validate()
	if cfg.Table != "t" || cfg.Index != "i" || cfg.UniqueTable != "u" {
		t.Errorf("custom values overwritten: %+v", cfg)
	}
}

func TestDefaultConfig_EnablesUniqueTable(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.UniqueTable != "espalier_unique" {
		t.Errorf("expected unique table enabled by default, got %q", cfg.UniqueTable)
	}
}

// --- New Tests ---

func TestNew_RejectsReservedAttributeNames(t *testing.T) {
	reg := record.NewRegistry()
	reg.MustRegister(record.MustSchema("Bad",
		record.Property{Name: "pk", Kind: record.KindString},
	))

	_, err := New(nil, DefaultConfig(), reg)
	if !errors.Is(err, record.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

// --- identityFor Tests ---

func TestIdentityFor_AllocatesWhenKeyless(t *testing.T) {
	schema := record.MustSchema("Task", record.Property{Name: "title", Kind: record.KindString})
	rec := record.NewRecord(schema)

	id := identityFor(rec)
	if !id.Complete() {
		t.Fatal("expected an allocated identity")
	}
	if id.Kind() != "Task" {
		t.Errorf("expected kind 'Task', got %q", id.Kind())
	}
}

func TestIdentityFor_CompletesPendingChild(t *testing.T) {
	schema := record.MustSchema("Task", record.Property{Name: "title", Kind: record.KindString})
	rec := record.NewRecord(schema)
	parent := record.NewIdentity("Person", "ann")
	if err := rec.SetPendingKey(record.NewChildIdentity(parent, "Task", nil)); err != nil {
		t.Fatalf("SetPendingKey failed: %v", err)
	}

	id := identityFor(rec)
	if !id.Complete() {
		t.Fatal("expected an allocated identity")
	}
	if id.Parent() == nil || !id.Parent().Equal(parent) {
		t.Errorf("expected parent kept, got %v", id.Parent())
	}
}

func TestIdentityFor_KeepsCompleteKey(t *testing.T) {
	schema := record.MustSchema("Task", record.Property{Name: "title", Kind: record.KindString})
	rec := record.NewRecord(schema)
	want := record.NewIdentity("Task", "t1")
	if err := rec.SetPendingKey(want); err != nil {
		t.Fatalf("SetPendingKey failed: %v", err)
	}

	if got := identityFor(rec); !got.Equal(want) {
		t.Errorf("expected %v, got %v", want, got)
	}
}

// --- uniquePK Tests ---

func uniqueStore(t *testing.T, uniqueTable string) (*Store, *record.Schema) {
	t.Helper()
	schema := record.MustSchema("User",
		record.Property{Name: "email", Kind: record.KindString},
		record.Property{Name: "name", Kind: record.KindString},
	)
	if err := schema.SetUnique("email"); err != nil {
		t.Fatalf("SetUnique failed: %v", err)
	}
	reg := record.NewRegistry()
	reg.MustRegister(schema)

	s, err := New(nil, Config{UniqueTable: uniqueTable}, reg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return s, schema
}

func TestUniquePK_Deterministic(t *testing.T) {
	s, schema := uniqueStore(t, "u")
	conv := record.NewConverter(schema)

	rec := record.NewRecord(schema)
	if err := rec.Set("email", "ann@example.com"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	a, err := s.uniquePK(schema, conv, rec)
	if err != nil {
		t.Fatalf("uniquePK failed: %v", err)
	}
	b, err := s.uniquePK(schema, conv, rec)
	if err != nil {
		t.Fatalf("uniquePK failed: %v", err)
	}
	if a == "" || a != b {
		t.Errorf("expected a stable non-empty pk, got %q and %q", a, b)
	}
}

func TestUniquePK_SkipsUnsetValues(t *testing.T) {
	s, schema := uniqueStore(t, "u")
	conv := record.NewConverter(schema)
	rec := record.NewRecord(schema)

	pk, err := s.uniquePK(schema, conv, rec)
	if err != nil {
		t.Fatalf("uniquePK failed: %v", err)
	}
	if pk != "" {
		t.Errorf("expected no pk for unset values, got %q", pk)
	}
}

func TestUniquePK_DisabledTable(t *testing.T) {
	s, schema := uniqueStore(t, "")
	conv := record.NewConverter(schema)
	rec := record.NewRecord(schema)
	if err := rec.Set("email", "ann@example.com"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	pk, err := s.uniquePK(schema, conv, rec)
	if err != nil {
		t.Fatalf("uniquePK failed: %v", err)
	}
	if pk != "" {
		t.Errorf("expected no pk with the table disabled, got %q", pk)
	}
}

// --- Transaction Error Mapping Tests ---

func TestMapTransactError_ConstraintFailure(t *testing.T) {
	s, schema := uniqueStore(t, "u")

	canceled := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("None")},
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	err := s.mapTransactError(canceled, 1, schema)
	if !errors.Is(err, record.ErrDuplicateEntry) {
		t.Fatalf("expected ErrDuplicateEntry, got %v", err)
	}
	var dup *record.DuplicateEntryError
	if !errors.As(err, &dup) || dup.Kind != "User" {
		t.Errorf("expected the offending kind named, got %v", err)
	}
}

func TestMapTransactError_OtherFailurePassesThrough(t *testing.T) {
	s, schema := uniqueStore(t, "u")
	sentinel := errors.New("throttled")

	if got := s.mapTransactError(sentinel, 1, schema); got != sentinel {
		t.Errorf("expected the original error, got %v", got)
	}
}

func TestMapTransactError_NoConstraintIndex(t *testing.T) {
	s, schema := uniqueStore(t, "u")
	canceled := &types.TransactionCanceledException{
		CancellationReasons: []types.CancellationReason{
			{Code: aws.String("ConditionalCheckFailed")},
		},
	}
	if got := s.mapTransactError(canceled, -1, schema); !errors.As(got, &canceled) {
		t.Errorf("expected the original error without a constraint item, got %v", got)
	}
}

// --- Attribute Helpers ---

func TestStringAttr(t *testing.T) {
	item := map[string]types.AttributeValue{
		"pk": &types.AttributeValueMemberS{Value: "Task:s:t1"},
		"n":  &types.AttributeValueMemberN{Value: "1"},
	}
	if got := stringAttr(item, "pk"); got != "Task:s:t1" {
		t.Errorf("expected path, got %q", got)
	}
	if got := stringAttr(item, "n"); got != "" {
		t.Errorf("expected empty for non-string attr, got %q", got)
	}
	if got := stringAttr(nil, "pk"); got != "" {
		t.Errorf("expected empty for nil item, got %q", got)
	}
}
