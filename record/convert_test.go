package record_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jacentio/espalier/record"
)

func geoSchema(t *testing.T) *record.Schema {
	t.Helper()
	return record.MustSchema("Geo",
		record.Property{Name: "lat", Kind: record.KindFloat},
		record.Property{Name: "lng", Kind: record.KindFloat},
	)
}

func addressSchema(t *testing.T) *record.Schema {
	t.Helper()
	return record.MustSchema("Address",
		record.Property{Name: "street", Kind: record.KindString},
		record.Property{Name: "city", Kind: record.KindString},
		record.Property{Name: "geo", Kind: record.KindNested, Nested: geoSchema(t)},
	)
}

func personSchema(t *testing.T) *record.Schema {
	t.Helper()
	return record.MustSchema("Person",
		record.Property{Name: "name", Kind: record.KindString},
		record.Property{Name: "age", Kind: record.KindInt},
		record.Property{Name: "member", Kind: record.KindBool},
		record.Property{Name: "birthday", Kind: record.KindDate},
		record.Property{Name: "last_seen", Kind: record.KindDateTime},
		record.Property{Name: "best_friend", Kind: record.KindKey},
		record.Property{Name: "address", Kind: record.KindNested, Nested: addressSchema(t)},
		record.Property{Name: "tags", Kind: record.KindString, Repeated: true},
	)
}

// --- DecodeValues Tests ---

func TestDecodeValues_Scalars(t *testing.T) {
	conv := record.NewConverter(personSchema(t))

	friend := record.NewIdentity("Person", "bob")
	values, err := conv.DecodeValues(map[string]any{
		"name":        "ann",
		"age":         float64(30), // JSON numbers arrive as float64
		"member":      true,
		"birthday":    "1995-04-01",
		"last_seen":   "2026-08-30T10:11:12.000500",
		"best_friend": record.EncodeKey(friend),
		"tags":        []any{"a", "b"},
	}, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}

	if values["name"] != "ann" {
		t.Errorf("expected name 'ann', got %v", values["name"])
	}
	if values["age"] != int64(30) {
		t.Errorf("expected age int64(30), got %T %v", values["age"], values["age"])
	}
	bd, ok := values["birthday"].(time.Time)
	if !ok || bd.Format("2006-01-02") != "1995-04-01" {
		t.Errorf("expected birthday 1995-04-01, got %v", values["birthday"])
	}
	ls, ok := values["last_seen"].(time.Time)
	if !ok || ls.Nanosecond() != 500000 {
		t.Errorf("expected 500 microseconds, got %v", values["last_seen"])
	}
	bf, ok := values["best_friend"].(*record.Identity)
	if !ok || !bf.Equal(friend) {
		t.Errorf("expected best_friend %v, got %v", friend, values["best_friend"])
	}
	tags, ok := values["tags"].([]any)
	if !ok || len(tags) != 2 || tags[0] != "a" {
		t.Errorf("unexpected tags: %v", values["tags"])
	}
}

func TestDecodeValues_DateTimeWithoutFraction(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	values, err := conv.DecodeValues(map[string]any{"last_seen": "2026-08-30T10:11:12"}, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	if _, ok := values["last_seen"].(time.Time); !ok {
		t.Errorf("expected time.Time, got %T", values["last_seen"])
	}
}

func TestDecodeValues_Nested(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	values, err := conv.DecodeValues(map[string]any{
		"address": map[string]any{
			"street": "Main St 1",
			"geo":    map[string]any{"lat": 52.5, "lng": 13.4},
		},
	}, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}

	addr, ok := values["address"].(*record.Record)
	if !ok {
		t.Fatalf("expected nested *Record, got %T", values["address"])
	}
	if addr.Get("street") != "Main St 1" {
		t.Errorf("expected street 'Main St 1', got %v", addr.Get("street"))
	}
	geo, ok := addr.Get("geo").(*record.Record)
	if !ok {
		t.Fatalf("expected nested geo record, got %T", addr.Get("geo"))
	}
	if geo.Get("lat") != 52.5 {
		t.Errorf("expected lat 52.5, got %v", geo.Get("lat"))
	}
}

func TestDecodeValues_UnknownKey(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	_, err := conv.DecodeValues(map[string]any{"nope": 1}, false)
	if !errors.Is(err, record.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestDecodeValues_NestedExpectsMap(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	_, err := conv.DecodeValues(map[string]any{"address": "not a map"}, false)
	if !errors.Is(err, record.ErrInvalidValue) {
		t.Errorf("expected ErrInvalidValue, got %v", err)
	}
}

func TestDecodeValues_ConversionError(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	_, err := conv.DecodeValues(map[string]any{"birthday": "not a date"}, false)

	var convErr *record.ConversionError
	if !errors.As(err, &convErr) {
		t.Fatalf("expected *ConversionError, got %v", err)
	}
	if convErr.Key != "birthday" {
		t.Errorf("expected key 'birthday', got %q", convErr.Key)
	}
	if convErr.Value != "not a date" {
		t.Errorf("expected offending value, got %v", convErr.Value)
	}
	if !errors.Is(err, record.ErrConversion) {
		t.Error("expected errors.Is(err, ErrConversion)")
	}
	if errors.Unwrap(convErr) == nil {
		t.Error("expected an underlying cause")
	}
}

func TestDecodeValues_NullHandling(t *testing.T) {
	conv := record.NewConverter(personSchema(t))

	values, err := conv.DecodeValues(map[string]any{"name": nil}, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	if v, present := values["name"]; !present || v != nil {
		t.Errorf("expected explicit null to survive, got %v (present=%v)", v, present)
	}

	values, err = conv.DecodeValues(map[string]any{"name": nil}, true)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	if _, present := values["name"]; present {
		t.Error("expected null to be dropped with skipNull")
	}
}

func TestDecodeValues_SkipNullNested(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	values, err := conv.DecodeValues(map[string]any{
		"address": map[string]any{"street": "Main St 1", "city": nil},
	}, true)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	addr := values["address"].(*record.Record)
	if addr.Get("city") != nil {
		t.Errorf("expected nested null dropped, got %v", addr.Get("city"))
	}
	if addr.Get("street") != "Main St 1" {
		t.Errorf("expected street kept, got %v", addr.Get("street"))
	}
}

func TestDecodeValues_DoesNotMutateInput(t *testing.T) {
	conv := record.NewConverter(personSchema(t))
	in := map[string]any{
		"name":    "ann",
		"address": map[string]any{"street": "Main St 1"},
	}
	if _, err := conv.DecodeValues(in, false); err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	if in["address"].(map[string]any)["street"] != "Main St 1" {
		t.Error("input map was mutated")
	}
	if len(in) != 2 {
		t.Errorf("input map changed size: %d", len(in))
	}
}

// --- EncodeValues Tests ---

func TestEncodeValues_FullRoundTrip(t *testing.T) {
	schema := personSchema(t)
	conv := record.NewConverter(schema)

	in := map[string]any{
		"name":      "ann",
		"age":       float64(30),
		"member":    true,
		"birthday":  "1995-04-01",
		"last_seen": "2026-08-30T10:11:12.000500",
		"tags":      []any{"a", "b"},
		"address": map[string]any{
			"street": "Main St 1",
			"city":   "Berlin",
			"geo":    map[string]any{"lat": 52.5, "lng": 13.4},
		},
	}
	values, err := conv.DecodeValues(in, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	rec := record.NewRecord(schema)
	if err := rec.Populate(values); err != nil {
		t.Fatalf("Populate failed: %v", err)
	}

	out, err := conv.EncodeValues(rec, true)
	if err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	if out["birthday"] != "1995-04-01" {
		t.Errorf("expected birthday '1995-04-01', got %v", out["birthday"])
	}
	if out["last_seen"] != "2026-08-30T10:11:12.000500" {
		t.Errorf("expected microsecond datetime, got %v", out["last_seen"])
	}
	if out["age"] != int64(30) {
		t.Errorf("expected age int64(30), got %T %v", out["age"], out["age"])
	}
	addr, ok := out["address"].(map[string]any)
	if !ok {
		t.Fatalf("expected nested map, got %T", out["address"])
	}
	geo, ok := addr["geo"].(map[string]any)
	if !ok || geo["lat"] != 52.5 {
		t.Errorf("unexpected geo: %v", addr["geo"])
	}
}

func TestEncodeValues_UnsetAsNull(t *testing.T) {
	schema := personSchema(t)
	conv := record.NewConverter(schema)
	rec := record.NewRecord(schema)
	if err := rec.Set("name", "ann"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}

	out, err := conv.EncodeValues(rec, false)
	if err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	if v, present := out["birthday"]; !present || v != nil {
		t.Errorf("expected unset birthday as explicit null, got %v (present=%v)", v, present)
	}

	out, err = conv.EncodeValues(rec, true)
	if err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	if _, present := out["birthday"]; present {
		t.Error("expected unset birthday dropped with skipNull")
	}
	if out["name"] != "ann" {
		t.Errorf("expected name kept, got %v", out["name"])
	}
}

func TestEncodeValues_KeyAsToken(t *testing.T) {
	schema := personSchema(t)
	conv := record.NewConverter(schema)
	friend := record.NewIdentity("Person", "bob")

	rec := record.NewRecord(schema)
	if err := rec.Set("best_friend", &friend); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	out, err := conv.EncodeValues(rec, true)
	if err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	tok, ok := out["best_friend"].(string)
	if !ok || record.DecodeKey(tok) == nil {
		t.Errorf("expected a decodable token, got %v", out["best_friend"])
	}
}

// --- Custom Conversion Tests ---

func TestConverter_CustomDecodeFunc(t *testing.T) {
	schema := personSchema(t)
	conv := record.NewConverter(schema,
		record.WithDecodeFunc(record.KindString, func(prop *record.Property, v any) (any, error) {
			s, ok := v.(string)
			if !ok {
				return nil, errors.New("expected a string")
			}
			return strings.ToUpper(s), nil
		}),
	)
	values, err := conv.DecodeValues(map[string]any{
		"name":    "ann",
		"address": map[string]any{"city": "berlin"},
	}, false)
	if err != nil {
		t.Fatalf("DecodeValues failed: %v", err)
	}
	if values["name"] != "ANN" {
		t.Errorf("expected custom decoder applied, got %v", values["name"])
	}
	addr := values["address"].(*record.Record)
	if addr.Get("city") != "BERLIN" {
		t.Errorf("expected custom decoder inside nested schema, got %v", addr.Get("city"))
	}
}

func TestConverter_CustomEncodeFunc(t *testing.T) {
	schema := personSchema(t)
	conv := record.NewConverter(schema,
		record.WithEncodeFunc(record.KindBool, func(prop *record.Property, v any) (any, error) {
			if v == true {
				return "yes", nil
			}
			return "no", nil
		}),
	)
	rec := record.NewRecord(schema)
	if err := rec.Set("member", true); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	out, err := conv.EncodeValues(rec, true)
	if err != nil {
		t.Fatalf("EncodeValues failed: %v", err)
	}
	if out["member"] != "yes" {
		t.Errorf("expected 'yes', got %v", out["member"])
	}
}
