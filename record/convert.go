package record

import (
	"encoding/json"
	"fmt"
	"time"
)

// Wire formats for temporal values. Datetimes carry microsecond precision
// and no timezone suffix; the parse layout tolerates a missing fraction.
const (
	dateLayout          = "2006-01-02"
	dateTimeLayout      = "2006-01-02T15:04:05.000000"
	dateTimeParseLayout = "2006-01-02T15:04:05.999999"
)

// DecodeFunc converts one external value into its typed form for a property.
type DecodeFunc func(prop *Property, value any) (any, error)

// EncodeFunc converts one typed property value into its external form.
type EncodeFunc func(prop *Property, value any) (any, error)

// Converter translates between a record and a plain JSON-like map, in both
// directions, recursively over nested schemas. Conversion dispatches over
// the property Kind; installing DecodeFunc/EncodeFunc entries replaces the
// default behavior for a kind without any subclassing.
type Converter struct {
	schema *Schema
	decode map[Kind]DecodeFunc
	encode map[Kind]EncodeFunc
}

// ConverterOption customizes a Converter.
type ConverterOption func(*Converter)

// WithDecodeFunc installs a custom decoder for a kind. The function also
// applies inside nested schemas.
func WithDecodeFunc(kind Kind, fn DecodeFunc) ConverterOption {
	return func(c *Converter) { c.decode[kind] = fn }
}

// WithEncodeFunc installs a custom encoder for a kind.
func WithEncodeFunc(kind Kind, fn EncodeFunc) ConverterOption {
	return func(c *Converter) { c.encode[kind] = fn }
}

// NewConverter creates a converter for a schema with the default per-kind
// conversion table.
func NewConverter(schema *Schema, opts ...ConverterOption) *Converter {
	c := &Converter{
		schema: schema,
		decode: map[Kind]DecodeFunc{
			KindString:   decodeString,
			KindInt:      decodeInt,
			KindFloat:    decodeFloat,
			KindBool:     decodeBool,
			KindDate:     decodeDate,
			KindDateTime: decodeDateTime,
			KindKey:      decodeKeyValue,
		},
		encode: map[Kind]EncodeFunc{
			KindString:   encodePassthrough,
			KindInt:      encodePassthrough,
			KindFloat:    encodePassthrough,
			KindBool:     encodePassthrough,
			KindDate:     encodeDate,
			KindDateTime: encodeDateTime,
			KindKey:      encodeKeyValue,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Schema returns the schema the converter is bound to.
func (c *Converter) Schema() *Schema { return c.schema }

// DecodeValues converts an external map into typed record values: dates and
// datetimes become time.Time, key tokens become identities, nested maps
// become records of the nested schema. The input is never mutated; unknown
// keys and shape mismatches are ErrInvalidValue, per-value failures are
// wrapped as *ConversionError. With skipNull, null entries are dropped at
// every nesting level; otherwise they pass through unchanged.
func (c *Converter) DecodeValues(in map[string]any, skipNull bool) (map[string]any, error) {
	return c.decodeMap(c.schema, in, skipNull)
}

func (c *Converter) decodeMap(schema *Schema, in map[string]any, skipNull bool) (map[string]any, error) {
	out := make(map[string]any, len(in))
	for name, value := range in {
		prop, ok := schema.Property(name)
		if !ok {
			return nil, fmt.Errorf("%w: %q is not a property of %q", ErrInvalidValue, name, schema.Name())
		}
		if value == nil {
			if !skipNull {
				out[name] = nil
			}
			continue
		}
		v, err := c.decodeProperty(prop, value, skipNull)
		if err != nil {
			return nil, err
		}
		out[name] = v
	}
	return out, nil
}

func (c *Converter) decodeProperty(prop *Property, value any, skipNull bool) (any, error) {
	if prop.Repeated {
		elems, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: repeated property %q expects a list, got %T", ErrInvalidValue, prop.Name, value)
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			if e == nil {
				out = append(out, nil)
				continue
			}
			v, err := c.decodeScalar(prop, e, skipNull)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return c.decodeScalar(prop, value, skipNull)
}

func (c *Converter) decodeScalar(prop *Property, value any, skipNull bool) (any, error) {
	if prop.Kind == KindNested {
		nested, ok := value.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: nested property %q expects a map as value but got %v of type %T", ErrInvalidValue, prop.Name, value, value)
		}
		values, err := c.decodeMap(prop.Nested, nested, skipNull)
		if err != nil {
			return nil, err
		}
		rec := NewRecord(prop.Nested)
		if err := rec.Populate(values); err != nil {
			return nil, err
		}
		return rec, nil
	}
	fn, ok := c.decode[prop.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no decoder for kind %s of property %q", ErrInvalidValue, prop.Kind, prop.Name)
	}
	v, err := fn(prop, value)
	if err != nil {
		return nil, &ConversionError{Key: prop.Name, Value: value, Err: err}
	}
	return v, nil
}

// EncodeValues converts a record into its external map form: every schema
// property appears, unset ones as null; dates render as YYYY-MM-DD,
// datetimes as ISO-8601 with microsecond precision and no zone suffix, key
// references as tokens, nested records as recursively flattened maps. With
// skipNull, null leaf entries are removed after conversion at every level.
func (c *Converter) EncodeValues(rec *Record, skipNull bool) (map[string]any, error) {
	return c.encodeRecord(rec, skipNull)
}

func (c *Converter) encodeRecord(rec *Record, skipNull bool) (map[string]any, error) {
	schema := rec.Schema()
	out := make(map[string]any, len(schema.Properties()))
	for i := range schema.Properties() {
		prop := &schema.Properties()[i]
		value := rec.Get(prop.Name)
		if value == nil {
			if !skipNull {
				out[prop.Name] = nil
			}
			continue
		}
		v, err := c.encodeProperty(prop, value, skipNull)
		if err != nil {
			return nil, err
		}
		out[prop.Name] = v
	}
	return out, nil
}

func (c *Converter) encodeProperty(prop *Property, value any, skipNull bool) (any, error) {
	if prop.Repeated {
		elems, ok := value.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: repeated property %q holds %T instead of a list", ErrInvalidValue, prop.Name, value)
		}
		out := make([]any, 0, len(elems))
		for _, e := range elems {
			if e == nil {
				out = append(out, nil)
				continue
			}
			v, err := c.encodeScalar(prop, e, skipNull)
			if err != nil {
				return nil, err
			}
			out = append(out, v)
		}
		return out, nil
	}
	return c.encodeScalar(prop, value, skipNull)
}

func (c *Converter) encodeScalar(prop *Property, value any, skipNull bool) (any, error) {
	if prop.Kind == KindNested {
		nested, ok := value.(*Record)
		if !ok {
			return nil, fmt.Errorf("%w: nested property %q holds %T instead of a record", ErrInvalidValue, prop.Name, value)
		}
		return c.encodeRecord(nested, skipNull)
	}
	fn, ok := c.encode[prop.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: no encoder for kind %s of property %q", ErrInvalidValue, prop.Kind, prop.Name)
	}
	v, err := fn(prop, value)
	if err != nil {
		return nil, &ConversionError{Key: prop.Name, Value: value, Err: err}
	}
	return v, nil
}

// --- Default per-kind conversions ---

func decodeString(prop *Property, value any) (any, error) {
	if v, ok := value.(string); ok {
		return v, nil
	}
	return nil, fmt.Errorf("expected a string, got %T", value)
}

func decodeInt(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case int64:
		return v, nil
	case int:
		return int64(v), nil
	case int32:
		return int64(v), nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return nil, fmt.Errorf("number %v is not an integer", v)
	case json.Number:
		return v.Int64()
	}
	return nil, fmt.Errorf("expected an integer, got %T", value)
}

func decodeFloat(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	case json.Number:
		return v.Float64()
	}
	return nil, fmt.Errorf("expected a number, got %T", value)
}

func decodeBool(prop *Property, value any) (any, error) {
	if v, ok := value.(bool); ok {
		return v, nil
	}
	return nil, fmt.Errorf("expected a bool, got %T", value)
}

func decodeDate(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(dateLayout, v)
	}
	return nil, fmt.Errorf("expected a %s date string, got %T", dateLayout, value)
}

func decodeDateTime(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case time.Time:
		return v, nil
	case string:
		return time.Parse(dateTimeParseLayout, v)
	}
	return nil, fmt.Errorf("expected an ISO-8601 datetime string, got %T", value)
}

func decodeKeyValue(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case *Identity:
		return v, nil
	case Identity:
		return &v, nil
	case string:
		return DecodeKeyStrict(v)
	}
	return nil, fmt.Errorf("expected a key token, got %T", value)
}

func encodePassthrough(prop *Property, value any) (any, error) {
	return value, nil
}

func encodeDate(prop *Property, value any) (any, error) {
	v, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("property expected a date value but got %v", value)
	}
	return v.Format(dateLayout), nil
}

func encodeDateTime(prop *Property, value any) (any, error) {
	v, ok := value.(time.Time)
	if !ok {
		return nil, fmt.Errorf("property expected a datetime value but got %v", value)
	}
	return v.Format(dateTimeLayout), nil
}

func encodeKeyValue(prop *Property, value any) (any, error) {
	switch v := value.(type) {
	case *Identity:
		return EncodeKey(*v), nil
	case Identity:
		return EncodeKey(v), nil
	}
	return nil, fmt.Errorf("expected an identity value, got %T", value)
}
