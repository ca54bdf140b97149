package pv

import (
	"fmt"
	"strings"
)

// Elem is a register element type, identified by its one-letter wire code.
type Elem byte

// Supported element types.
const (
	Int8   Elem = 'b'
	Uint8  Elem = 'B'
	Int16  Elem = 'h'
	Uint16 Elem = 'H'
	Int32  Elem = 'i'
	Uint32 Elem = 'I'
	Int64  Elem = 'l'
	Uint64 Elem = 'L'
	Char   Elem = 's'
)

// baseTypes maps backend base type names onto element types.
var baseTypes = map[string]Elem{
	"int8":   Int8,
	"uint8":  Uint8,
	"int16":  Int16,
	"uint16": Uint16,
	"int32":  Int32,
	"uint32": Uint32,
	"int64":  Int64,
	"uint64": Uint64,
	"char":   Char,
}

// vectorMarker suffixes a base type name to mean "vector of".
const vectorMarker = "*"

// Code returns the wire type code.
func (e Elem) Code() string {
	return string(rune(e))
}

// String returns the backend base type name.
func (e Elem) String() string {
	for name, el := range baseTypes {
		if el == e {
			return name
		}
	}
	return fmt.Sprintf("elem(%q)", rune(e))
}

// Numeric reports whether the element is an integer type.
func (e Elem) Numeric() bool {
	return e != Char
}

// bits returns the integer width and signedness.
func (e Elem) bits() (width uint, signed bool) {
	switch e {
	case Int8:
		return 8, true
	case Uint8:
		return 8, false
	case Int16:
		return 16, true
	case Uint16:
		return 16, false
	case Int32:
		return 32, true
	case Uint32:
		return 32, false
	case Int64:
		return 64, true
	case Uint64:
		return 64, false
	default:
		return 0, false
	}
}

// Kind distinguishes the three PV representations.
type Kind int

// PV kinds.
const (
	KindScalar Kind = iota
	KindVector
	KindEnum
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindVector:
		return "vector"
	case KindEnum:
		return "enum"
	default:
		return "unknown"
	}
}

// Type is the full representation of a PV: its kind, element type, and
// for enumerations the ordered choice set.
type Type struct {
	Kind    Kind
	Elem    Elem
	Choices []string
}

// ScalarOf returns a scalar type of the given element.
func ScalarOf(e Elem) Type { return Type{Kind: KindScalar, Elem: e} }

// VectorOf returns a vector type of the given element.
func VectorOf(e Elem) Type { return Type{Kind: KindVector, Elem: e} }

// EnumOf returns an enumeration over the given choices.
func EnumOf(choices ...string) Type { return Type{Kind: KindEnum, Choices: choices} }

// String renders the type the way the backend names it ("int16", "char*"),
// or "enum" for enumerations.
func (t Type) String() string {
	switch t.Kind {
	case KindVector:
		return t.Elem.String() + vectorMarker
	case KindEnum:
		return "enum"
	default:
		return t.Elem.String()
	}
}

// Code returns the wire code, prefixed with 'a' for vectors.
func (t Type) Code() string {
	switch t.Kind {
	case KindVector:
		return "a" + t.Elem.Code()
	case KindEnum:
		return "enum_t"
	default:
		return t.Elem.Code()
	}
}

// Numeric reports whether limits can be attached to values of this type.
func (t Type) Numeric() bool {
	return t.Kind != KindEnum && t.Elem.Numeric()
}

// MapType resolves a backend type name such as "int16" or "uint8*".
// A trailing "*" selects a vector of the base type.
func MapType(typeName string) (Type, error) {
	base, vector := strings.CutSuffix(typeName, vectorMarker)
	elem, ok := baseTypes[base]
	if !ok {
		return Type{}, fmt.Errorf("%w: %q", ErrUnknownType, typeName)
	}
	if vector {
		return VectorOf(elem), nil
	}
	return ScalarOf(elem), nil
}

// CheckShape rejects registers of rank greater than one.
func CheckShape(shape []int) error {
	if len(shape) > 1 {
		return fmt.Errorf("%w: rank %d %v", ErrUnsupportedShape, len(shape), shape)
	}
	return nil
}
