package db

import (
	"errors"
	"fmt"
	"reflect"
	"strconv"

	"github.com/lib/pq"
)

// ErrUnsupportedValueKind reports a dynamic value the templater cannot
// render (maps, structs, channels, ...).
var ErrUnsupportedValueKind = errors.New("db: unsupported value kind")

// Param renders to a SQL fragment. Values passed to Tx.Exec that are not
// Params are converted with the default value rendering; Name wraps
// identifiers.
type Param interface {
	render() (string, error)
}

// Name quotes its value as a SQL identifier.
type Name string

func (n Name) render() (string, error) {
	return pq.QuoteIdentifier(string(n)), nil
}

// Null renders as the SQL null literal.
type Null struct{}

func (Null) render() (string, error) { return "null", nil }

// convertParam maps an argument to its Param rendering. Pointers model
// optional values (nil renders null); slices render as ARRAY[...] with each
// element converted recursively.
func convertParam(v any) (Param, error) {
	switch val := v.(type) {
	case Param:
		return val, nil
	case nil:
		return Null{}, nil
	case string:
		return literalParam(val), nil
	case bool:
		return boolParam(val), nil
	case int:
		return intParam(int64(val)), nil
	case int32:
		return intParam(int64(val)), nil
	case int64:
		return intParam(val), nil
	case uint64:
		return renderedParam(strconv.FormatUint(val, 10)), nil
	case float32:
		return floatParam(float64(val)), nil
	case float64:
		return floatParam(val), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer:
		if rv.IsNil() {
			return Null{}, nil
		}
		return convertParam(rv.Elem().Interface())
	case reflect.Slice, reflect.Array:
		return listParam(rv)
	}
	return nil, fmt.Errorf("%w: %T", ErrUnsupportedValueKind, v)
}

type renderedParam string

func (p renderedParam) render() (string, error) { return string(p), nil }

func literalParam(s string) Param {
	return renderedParam(pq.QuoteLiteral(s))
}

func boolParam(b bool) Param {
	if b {
		return renderedParam("true")
	}
	return renderedParam("false")
}

func intParam(i int64) Param {
	return renderedParam(strconv.FormatInt(i, 10))
}

func floatParam(f float64) Param {
	return renderedParam(strconv.FormatFloat(f, 'g', -1, 64))
}

func listParam(rv reflect.Value) (Param, error) {
	out := "ARRAY["
	for i := 0; i < rv.Len(); i++ {
		elem, err := convertParam(rv.Index(i).Interface())
		if err != nil {
			return nil, err
		}
		s, err := elem.render()
		if err != nil {
			return nil, err
		}
		if i > 0 {
			out += ", "
		}
		out += s
	}
	return renderedParam(out + "]"), nil
}
