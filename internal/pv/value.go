package pv

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
)

// Value is a PV value. Exactly one of Scalar, Vector or Enum.
type Value interface {
	// Raw unwraps the value to its semantic form: the element value for a
	// scalar, the typed slice for a vector, the choice index for an enum.
	Raw() any
	Kind() Kind
	isValue()
}

// Scalar holds a single element: int8..uint64 or string.
type Scalar struct {
	V any
}

// Vector holds a typed slice: []int8..[]uint64 or []string.
type Vector struct {
	V any
}

// Enum holds the selected choice index.
type Enum struct {
	Index   int
	Choices []string
}

func (s Scalar) Raw() any   { return s.V }
func (s Scalar) Kind() Kind { return KindScalar }
func (Scalar) isValue()     {}

func (v Vector) Raw() any   { return v.V }
func (v Vector) Kind() Kind { return KindVector }
func (Vector) isValue()     {}

// Len returns the number of elements.
func (v Vector) Len() int {
	if v.V == nil {
		return 0
	}
	return reflect.ValueOf(v.V).Len()
}

func (e Enum) Raw() any   { return e.Index }
func (e Enum) Kind() Kind { return KindEnum }
func (Enum) isValue()     {}

// Choice returns the text of the selected choice, or "" when out of range.
func (e Enum) Choice() string {
	if e.Index < 0 || e.Index >= len(e.Choices) {
		return ""
	}
	return e.Choices[e.Index]
}

// Zero returns the value a PV of this type starts with when no initial
// value is supplied.
func (t Type) Zero() Value {
	switch t.Kind {
	case KindVector:
		return Vector{V: reflect.MakeSlice(reflect.SliceOf(t.Elem.goType()), 0, 0).Interface()}
	case KindEnum:
		return Enum{Index: 0, Choices: t.Choices}
	default:
		return Scalar{V: reflect.Zero(t.Elem.goType()).Interface()}
	}
}

// Coerce converts x into a Value of this type. It accepts Go integers,
// float64 and json.Number holding integral values, strings for char
// elements and enum choice text, slices for vectors and other Value
// variants. A single-element list is unwrapped for scalars and a scalar
// is wrapped for vectors. Anything that does not fit returns ErrTypeMismatch.
func (t Type) Coerce(x any) (Value, error) {
	if v, ok := x.(Value); ok {
		x = v.Raw()
	}

	switch t.Kind {
	case KindEnum:
		return t.coerceEnum(x)
	case KindVector:
		return t.coerceVector(x)
	default:
		x, err := unwrapSingle(x)
		if err != nil {
			return nil, err
		}
		el, err := t.Elem.coerce(x)
		if err != nil {
			return nil, err
		}
		return Scalar{V: el}, nil
	}
}

func (t Type) coerceEnum(x any) (Value, error) {
	x, err := unwrapSingle(x)
	if err != nil {
		return nil, err
	}
	if s, ok := x.(string); ok {
		for i, c := range t.Choices {
			if c == s {
				return Enum{Index: i, Choices: t.Choices}, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not one of %v", ErrTypeMismatch, s, t.Choices)
	}
	neg, mag, err := integer(x)
	if err != nil {
		return nil, err
	}
	if neg || mag >= uint64(len(t.Choices)) {
		return nil, fmt.Errorf("%w: choice index %v out of range [0,%d)", ErrTypeMismatch, x, len(t.Choices))
	}
	return Enum{Index: int(mag), Choices: t.Choices}, nil
}

func (t Type) coerceVector(x any) (Value, error) {
	if x == nil {
		return nil, fmt.Errorf("%w: nil value for %s", ErrTypeMismatch, t)
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice {
		rv = reflect.ValueOf([]any{x})
	}

	out := reflect.MakeSlice(reflect.SliceOf(t.Elem.goType()), rv.Len(), rv.Len())
	for i := 0; i < rv.Len(); i++ {
		el, err := t.Elem.coerce(rv.Index(i).Interface())
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out.Index(i).Set(reflect.ValueOf(el))
	}
	return Vector{V: out.Interface()}, nil
}

// unwrapSingle returns the only element of a one-element list, and x
// itself when it is not a list.
func unwrapSingle(x any) (any, error) {
	if _, ok := x.(string); ok || x == nil {
		return x, nil
	}
	rv := reflect.ValueOf(x)
	if rv.Kind() != reflect.Slice {
		return x, nil
	}
	if rv.Len() != 1 {
		return nil, fmt.Errorf("%w: expected a single value, got %d", ErrTypeMismatch, rv.Len())
	}
	return rv.Index(0).Interface(), nil
}

// goType returns the canonical Go type for the element.
func (e Elem) goType() reflect.Type {
	switch e {
	case Int8:
		return reflect.TypeFor[int8]()
	case Uint8:
		return reflect.TypeFor[uint8]()
	case Int16:
		return reflect.TypeFor[int16]()
	case Uint16:
		return reflect.TypeFor[uint16]()
	case Int32:
		return reflect.TypeFor[int32]()
	case Uint32:
		return reflect.TypeFor[uint32]()
	case Int64:
		return reflect.TypeFor[int64]()
	case Uint64:
		return reflect.TypeFor[uint64]()
	default:
		return reflect.TypeFor[string]()
	}
}

// coerce converts x into the element's canonical Go type.
func (e Elem) coerce(x any) (any, error) {
	if e == Char {
		s, ok := x.(string)
		if !ok {
			return nil, fmt.Errorf("%w: %T is not a string", ErrTypeMismatch, x)
		}
		return s, nil
	}

	neg, mag, err := integer(x)
	if err != nil {
		return nil, err
	}

	width, signed := e.bits()
	if signed {
		limit := uint64(1) << (width - 1)
		if (neg && mag > limit) || (!neg && mag >= limit) {
			return nil, fmt.Errorf("%w: %v overflows %s", ErrTypeMismatch, x, e)
		}
	} else {
		if neg && mag != 0 {
			return nil, fmt.Errorf("%w: %v is negative for %s", ErrTypeMismatch, x, e)
		}
		if width < 64 && mag >= uint64(1)<<width {
			return nil, fmt.Errorf("%w: %v overflows %s", ErrTypeMismatch, x, e)
		}
	}

	i := int64(mag)
	if neg {
		i = int64(^mag + 1)
	}

	switch e {
	case Int8:
		return int8(i), nil
	case Uint8:
		return uint8(mag), nil
	case Int16:
		return int16(i), nil
	case Uint16:
		return uint16(mag), nil
	case Int32:
		return int32(i), nil
	case Uint32:
		return uint32(mag), nil
	case Int64:
		return i, nil
	default:
		return mag, nil
	}
}

// integer decomposes an integral value into sign and magnitude.
func integer(x any) (neg bool, mag uint64, err error) {
	switch n := x.(type) {
	case int:
		return fromInt64(int64(n))
	case int8:
		return fromInt64(int64(n))
	case int16:
		return fromInt64(int64(n))
	case int32:
		return fromInt64(int64(n))
	case int64:
		return fromInt64(n)
	case uint:
		return false, uint64(n), nil
	case uint8:
		return false, uint64(n), nil
	case uint16:
		return false, uint64(n), nil
	case uint32:
		return false, uint64(n), nil
	case uint64:
		return false, n, nil
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case json.Number:
		if i, perr := strconv.ParseInt(string(n), 10, 64); perr == nil {
			return fromInt64(i)
		}
		if u, perr := strconv.ParseUint(string(n), 10, 64); perr == nil {
			return false, u, nil
		}
		f, perr := n.Float64()
		if perr != nil {
			return false, 0, fmt.Errorf("%w: %q is not a number", ErrTypeMismatch, string(n))
		}
		return fromFloat(f)
	default:
		return false, 0, fmt.Errorf("%w: %T is not an integer", ErrTypeMismatch, x)
	}
}

func fromInt64(i int64) (bool, uint64, error) {
	if i < 0 {
		return true, ^uint64(i) + 1, nil
	}
	return false, uint64(i), nil
}

func fromFloat(f float64) (bool, uint64, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return false, 0, fmt.Errorf("%w: %v is not an integer", ErrTypeMismatch, f)
	}
	if math.Abs(f) >= 1<<64 {
		return false, 0, fmt.Errorf("%w: %v is out of range", ErrTypeMismatch, f)
	}
	if f < 0 {
		return true, uint64(-f), nil
	}
	return false, uint64(f), nil
}

// JSONValue returns a representation of v suitable for encoding/json.
func JSONValue(v Value) any {
	if v == nil {
		return nil
	}
	return JSONRaw(v.Raw())
}

// JSONRaw widens []uint8 so it encodes as a list rather than base64.
// Other values are returned unchanged.
func JSONRaw(raw any) any {
	b, ok := raw.([]uint8)
	if !ok {
		return raw
	}
	out := make([]uint16, len(b))
	for i, x := range b {
		out[i] = uint16(x)
	}
	return out
}

// Float returns a numeric scalar as float64, for metrics and history.
func Float(v Value) (float64, bool) {
	switch val := v.(type) {
	case Enum:
		return float64(val.Index), true
	case Scalar:
		neg, mag, err := integer(val.V)
		if err != nil {
			return 0, false
		}
		if neg {
			return -float64(mag), true
		}
		return float64(mag), true
	default:
		return 0, false
	}
}
