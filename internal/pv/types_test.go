package pv

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapType(t *testing.T) {
	tests := []struct {
		name string
		elem Elem
		code string
	}{
		{"int8", Int8, "b"},
		{"uint8", Uint8, "B"},
		{"int16", Int16, "h"},
		{"uint16", Uint16, "H"},
		{"int32", Int32, "i"},
		{"uint32", Uint32, "I"},
		{"int64", Int64, "l"},
		{"uint64", Uint64, "L"},
		{"char", Char, "s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scalar, err := MapType(tt.name)
			require.NoError(t, err)
			assert.Equal(t, KindScalar, scalar.Kind)
			assert.Equal(t, tt.elem, scalar.Elem)
			assert.Equal(t, tt.code, scalar.Code())
			assert.Equal(t, tt.name, scalar.String())

			vector, err := MapType(tt.name + "*")
			require.NoError(t, err)
			assert.Equal(t, KindVector, vector.Kind)
			assert.Equal(t, tt.elem, vector.Elem)
			assert.Equal(t, "a"+tt.code, vector.Code())
			assert.Equal(t, tt.name+"*", vector.String())
		})
	}
}

func TestMapType_Unknown(t *testing.T) {
	for _, name := range []string{"float32", "double", "", "*", "int32**", "Int32"} {
		_, err := MapType(name)
		assert.True(t, errors.Is(err, ErrUnknownType), "MapType(%q) = %v", name, err)
	}
}

func TestCheckShape(t *testing.T) {
	assert.NoError(t, CheckShape(nil))
	assert.NoError(t, CheckShape([]int{1}))
	assert.NoError(t, CheckShape([]int{16}))
	assert.ErrorIs(t, CheckShape([]int{2, 3}), ErrUnsupportedShape)
	assert.ErrorIs(t, CheckShape([]int{1, 1, 1}), ErrUnsupportedShape)
}

func TestCoerce_Scalar(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		in   any
		want any
	}{
		{"int from float64", ScalarOf(Int32), float64(42), int32(42)},
		{"int from json number", ScalarOf(Int16), json.Number("-7"), int16(-7)},
		{"int8 min", ScalarOf(Int8), -128, int8(-128)},
		{"uint8 max", ScalarOf(Uint8), 255, uint8(255)},
		{"uint64 max", ScalarOf(Uint64), json.Number("18446744073709551615"), uint64(math.MaxUint64)},
		{"int64 min", ScalarOf(Int64), int64(math.MinInt64), int64(math.MinInt64)},
		{"single element list", ScalarOf(Int32), []any{float64(42)}, int32(42)},
		{"char", ScalarOf(Char), "hello", "hello"},
		{"from Value", ScalarOf(Uint32), Scalar{V: uint16(9)}, uint32(9)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := tt.typ.Coerce(tt.in)
			require.NoError(t, err)
			assert.Equal(t, KindScalar, v.Kind())
			assert.Equal(t, tt.want, v.Raw())
		})
	}
}

func TestCoerce_Mismatch(t *testing.T) {
	tests := []struct {
		name string
		typ  Type
		in   any
	}{
		{"int8 overflow", ScalarOf(Int8), 128},
		{"int8 underflow", ScalarOf(Int8), -129},
		{"uint negative", ScalarOf(Uint16), -1},
		{"uint32 overflow", ScalarOf(Uint32), float64(1 << 32)},
		{"fraction", ScalarOf(Int32), 1.5},
		{"nan", ScalarOf(Int32), math.NaN()},
		{"string for int", ScalarOf(Int32), "12"},
		{"number for char", ScalarOf(Char), 12},
		{"bool", ScalarOf(Int8), true},
		{"nil", ScalarOf(Int8), nil},
		{"multi element list for scalar", ScalarOf(Int32), []any{1, 2}},
		{"bad vector element", VectorOf(Uint8), []any{1, 300}},
		{"nil vector", VectorOf(Uint8), nil},
		{"enum index out of range", EnumOf("Run", "Stop"), 2},
		{"enum negative", EnumOf("Run", "Stop"), -1},
		{"enum unknown text", EnumOf("Run", "Stop"), "Pause"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.typ.Coerce(tt.in)
			assert.ErrorIs(t, err, ErrTypeMismatch)
		})
	}
}

func TestCoerce_Vector(t *testing.T) {
	v, err := VectorOf(Int16).Coerce([]any{float64(1), json.Number("-2"), 3})
	require.NoError(t, err)
	assert.Equal(t, []int16{1, -2, 3}, v.Raw())
	assert.Equal(t, 3, v.(Vector).Len())

	wrapped, err := VectorOf(Uint8).Coerce(7)
	require.NoError(t, err)
	assert.Equal(t, []uint8{7}, wrapped.Raw())

	strs, err := VectorOf(Char).Coerce([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, strs.Raw())

	empty, err := VectorOf(Int64).Coerce([]any{})
	require.NoError(t, err)
	assert.Equal(t, []int64{}, empty.Raw())
}

func TestCoerce_Enum(t *testing.T) {
	typ := EnumOf("Run", "Stop")

	byIndex, err := typ.Coerce(float64(1))
	require.NoError(t, err)
	assert.Equal(t, 1, byIndex.Raw())
	assert.Equal(t, "Stop", byIndex.(Enum).Choice())

	byText, err := typ.Coerce("Run")
	require.NoError(t, err)
	assert.Equal(t, 0, byText.Raw())

	fromEnum, err := typ.Coerce(Enum{Index: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, fromEnum.Raw())
}

func TestZero(t *testing.T) {
	assert.Equal(t, int32(0), ScalarOf(Int32).Zero().Raw())
	assert.Equal(t, "", ScalarOf(Char).Zero().Raw())
	assert.Equal(t, []uint16{}, VectorOf(Uint16).Zero().Raw())
	assert.Equal(t, 0, EnumOf("Run", "Stop").Zero().Raw())
}

func TestJSONValue_WidensBytes(t *testing.T) {
	b, err := json.Marshal(JSONValue(Vector{V: []uint8{1, 2}}))
	require.NoError(t, err)
	assert.JSONEq(t, `[1,2]`, string(b))
}

func TestFloat(t *testing.T) {
	f, ok := Float(Scalar{V: int8(-3)})
	assert.True(t, ok)
	assert.Equal(t, -3.0, f)

	f, ok = Float(Enum{Index: 1})
	assert.True(t, ok)
	assert.Equal(t, 1.0, f)

	_, ok = Float(Scalar{V: "text"})
	assert.False(t, ok)
	_, ok = Float(Vector{V: []int32{1}})
	assert.False(t, ok)
}
