package db

import (
	"errors"
	"fmt"
	"strconv"
)

// ErrTooManyRows is returned by ConvertToOptional for results with more
// than one row.
var ErrTooManyRows = errors.New("db: too many rows to convert")

type fieldKind int

const (
	kindInt fieldKind = iota
	kindString
	kindBool
	kindFloat
)

// Field describes one projected column: the key it lands under and the
// type its value converts to.
type Field struct {
	name     string
	kind     fieldKind
	optional bool
}

func IntField(name string) Field    { return Field{name: name, kind: kindInt} }
func StringField(name string) Field { return Field{name: name, kind: kindString} }
func BoolField(name string) Field   { return Field{name: name, kind: kindBool} }
func FloatField(name string) Field  { return Field{name: name, kind: kindFloat} }

// Optional marks the field as nullable: a SQL NULL becomes a nil value
// instead of an error.
func (f Field) Optional() Field {
	f.optional = true
	return f
}

// Projection converts result rows to objects by ordered, typed column
// descriptors. The i-th descriptor consumes the i-th column regardless of
// column names.
type Projection struct {
	fields []Field
}

// NewProjection builds a projection from descriptors in column order.
func NewProjection(fields ...Field) Projection {
	return Projection{fields: fields}
}

// ConvertRow projects one row's raw values into an object.
func (p Projection) ConvertRow(row []any) (map[string]any, error) {
	if len(row) < len(p.fields) {
		return nil, fmt.Errorf("db: row has %d columns, projection needs %d", len(row), len(p.fields))
	}
	obj := make(map[string]any, len(p.fields))
	for i, f := range p.fields {
		v, err := f.convert(row[i])
		if err != nil {
			return nil, err
		}
		obj[f.name] = v
	}
	return obj, nil
}

// ConvertToVector projects every row of the result.
func (p Projection) ConvertToVector(r *Result) ([]map[string]any, error) {
	out := make([]map[string]any, 0, r.Len())
	for i := 0; i < r.Len(); i++ {
		obj, err := p.ConvertRow(r.Row(i))
		if err != nil {
			return nil, err
		}
		out = append(out, obj)
	}
	return out, nil
}

// ConvertToOptional projects a result expected to hold at most one row:
// (nil, false) for zero rows, the object for one, ErrTooManyRows otherwise.
func (p Projection) ConvertToOptional(r *Result) (map[string]any, bool, error) {
	switch r.Len() {
	case 0:
		return nil, false, nil
	case 1:
		obj, err := p.ConvertRow(r.Row(0))
		return obj, err == nil, err
	default:
		return nil, false, ErrTooManyRows
	}
}

func (f Field) convert(v any) (any, error) {
	if v == nil {
		if f.optional {
			return nil, nil
		}
		return nil, fmt.Errorf("db: unexpected null in column %q", f.name)
	}
	switch f.kind {
	case kindInt:
		return toInt64(f.name, v)
	case kindString:
		return toString(f.name, v)
	case kindBool:
		return toBool(f.name, v)
	case kindFloat:
		return toFloat64(f.name, v)
	}
	return nil, fmt.Errorf("db: unknown field kind for column %q", f.name)
}

func toInt64(name string, v any) (int64, error) {
	switch val := v.(type) {
	case int64:
		return val, nil
	case []byte:
		return strconv.ParseInt(string(val), 10, 64)
	case string:
		return strconv.ParseInt(val, 10, 64)
	}
	return 0, fmt.Errorf("db: column %q is %T, want integer", name, v)
}

func toString(name string, v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case []byte:
		return string(val), nil
	}
	return "", fmt.Errorf("db: column %q is %T, want string", name, v)
}

func toBool(name string, v any) (bool, error) {
	switch val := v.(type) {
	case bool:
		return val, nil
	case []byte:
		return strconv.ParseBool(string(val))
	case string:
		return strconv.ParseBool(val)
	}
	return false, fmt.Errorf("db: column %q is %T, want bool", name, v)
}

func toFloat64(name string, v any) (float64, error) {
	switch val := v.(type) {
	case float64:
		return val, nil
	case []byte:
		return strconv.ParseFloat(string(val), 64)
	case string:
		return strconv.ParseFloat(val, 64)
	}
	return 0, fmt.Errorf("db: column %q is %T, want float", name, v)
}
