// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package tfp

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// FieldType is the primitive type of a payload field
type FieldType int

// Field types
const (
	Bool FieldType = iota
	Int8
	Uint8
	Int16
	Uint16
	Int32
	Uint32
	Float32
	Char
	String
)

var fieldTypeNames = [...]string{
	Bool:    "bool",
	Int8:    "int8",
	Uint8:   "uint8",
	Int16:   "int16",
	Uint16:  "uint16",
	Int32:   "int32",
	Uint32:  "uint32",
	Float32: "float32",
	Char:    "char",
	String:  "string",
}

func (t FieldType) String() string {
	if t < 0 || int(t) >= len(fieldTypeNames) {
		return fmt.Sprintf("FieldType(%d)", int(t))
	}
	return fieldTypeNames[t]
}

// width returns the size of one element in bytes (bools are bit-packed)
func (t FieldType) width() int {
	switch t {
	case Int16, Uint16:
		return 2
	case Int32, Uint32, Float32:
		return 4
	default:
		return 1
	}
}

// Field is one entry of a fixed payload layout. Count > 1 makes the field a
// fixed-length array; for String it is the byte length.
type Field struct {
	Name  string
	Type  FieldType
	Count int
}

// Size returns the encoded size of the field in bytes
func (f Field) Size() int {
	n := f.Count
	if n < 1 {
		n = 1
	}
	if f.Type == Bool {
		return (n + 7) / 8
	}
	return n * f.Type.width()
}

func (f Field) isArray() bool {
	return f.Count > 1 && f.Type != String
}

// Field constructors used by descriptor tables.

func B(name string) Field { return Field{Name: name, Type: Bool, Count: 1} }
func Bs(name string, n int) Field { return Field{Name: name, Type: Bool, Count: n} }
func I8(name string) Field { return Field{Name: name, Type: Int8, Count: 1} }
func U8(name string) Field { return Field{Name: name, Type: Uint8, Count: 1} }
func U8s(name string, n int) Field { return Field{Name: name, Type: Uint8, Count: n} }
func I16(name string) Field { return Field{Name: name, Type: Int16, Count: 1} }
func I16s(name string, n int) Field { return Field{Name: name, Type: Int16, Count: n} }
func U16(name string) Field { return Field{Name: name, Type: Uint16, Count: 1} }
func U16s(name string, n int) Field { return Field{Name: name, Type: Uint16, Count: n} }
func I32(name string) Field { return Field{Name: name, Type: Int32, Count: 1} }
func U32(name string) Field { return Field{Name: name, Type: Uint32, Count: 1} }
func U32s(name string, n int) Field { return Field{Name: name, Type: Uint32, Count: n} }
func F32(name string) Field { return Field{Name: name, Type: Float32, Count: 1} }
func F32s(name string, n int) Field { return Field{Name: name, Type: Float32, Count: n} }
func C(name string) Field { return Field{Name: name, Type: Char, Count: 1} }
func Str(name string, length int) Field { return Field{Name: name, Type: String, Count: length} }

// Layout is an ordered list of fields with a fixed total size
type Layout []Field

// Size returns the encoded payload size in bytes
func (l Layout) Size() int {
	size := 0
	for _, f := range l {
		size += f.Size()
	}
	return size
}

// String renders the layout as "name:type[count] ..."
func (l Layout) String() string {
	parts := make([]string, 0, len(l))
	for _, f := range l {
		if f.Count > 1 {
			parts = append(parts, fmt.Sprintf("%s:%s[%d]", f.Name, f.Type, f.Count))
		} else {
			parts = append(parts, fmt.Sprintf("%s:%s", f.Name, f.Type))
		}
	}
	return strings.Join(parts, " ")
}

// Encode coerces args to the layout and returns the payload bytes.
// Integers of any Go width are accepted if they fit the field's range.
func (l Layout) Encode(args []any) ([]byte, error) {
	if len(args) != len(l) {
		return nil, fmt.Errorf("tfp: layout has %d fields, got %d arguments", len(l), len(args))
	}

	buf := make([]byte, 0, l.Size())
	for i, f := range l {
		var err error
		buf, err = f.appendValue(buf, args[i])
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

// Decode converts a payload into typed values in declared order.
//
// Scalars decode to bool, int8, uint8, int16, uint16, int32, uint32, float32
// and byte (char). Arrays decode to the matching slice type, strings to a
// string with trailing NUL bytes removed.
func (l Layout) Decode(data []byte) ([]any, error) {
	if len(data) != l.Size() {
		return nil, fmt.Errorf("tfp: payload is %d bytes, layout needs %d", len(data), l.Size())
	}

	values := make([]any, 0, len(l))
	offset := 0
	for _, f := range l {
		size := f.Size()
		values = append(values, f.decodeValue(data[offset:offset+size]))
		offset += size
	}
	return values, nil
}

func (f Field) appendValue(buf []byte, v any) ([]byte, error) {
	switch {
	case f.Type == String:
		return f.appendString(buf, v)
	case f.Type == Bool && f.isArray():
		bits, ok := v.([]bool)
		if !ok {
			return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected []bool, got %T", v)}
		}
		if len(bits) != f.Count {
			return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected %d elements, got %d", f.Count, len(bits))}
		}
		packed := make([]byte, f.Size())
		for i, bit := range bits {
			if bit {
				packed[i/8] |= 1 << (i % 8)
			}
		}
		return append(buf, packed...), nil
	case f.isArray():
		elems, err := f.elements(v)
		if err != nil {
			return nil, err
		}
		for _, e := range elems {
			buf, err = f.appendScalar(buf, e)
			if err != nil {
				return nil, err
			}
		}
		return buf, nil
	default:
		return f.appendScalar(buf, v)
	}
}

func (f Field) appendString(buf []byte, v any) ([]byte, error) {
	var raw []byte
	switch s := v.(type) {
	case string:
		raw = []byte(s)
	case []byte:
		raw = s
	default:
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected string, got %T", v)}
	}
	if len(raw) > f.Count {
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("string longer than %d bytes", f.Count)}
	}
	padded := make([]byte, f.Count)
	copy(padded, raw)
	return append(buf, padded...), nil
}

// elements flattens a typed slice argument into []any
func (f Field) elements(v any) ([]any, error) {
	var out []any
	switch s := v.(type) {
	case []any:
		out = s
	case []int8:
		for _, e := range s {
			out = append(out, e)
		}
	case []uint8:
		for _, e := range s {
			out = append(out, e)
		}
	case []int16:
		for _, e := range s {
			out = append(out, e)
		}
	case []uint16:
		for _, e := range s {
			out = append(out, e)
		}
	case []int32:
		for _, e := range s {
			out = append(out, e)
		}
	case []uint32:
		for _, e := range s {
			out = append(out, e)
		}
	case []int:
		for _, e := range s {
			out = append(out, e)
		}
	case []float32:
		for _, e := range s {
			out = append(out, e)
		}
	case []float64:
		for _, e := range s {
			out = append(out, e)
		}
	default:
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected array, got %T", v)}
	}
	if len(out) != f.Count {
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected %d elements, got %d", f.Count, len(out))}
	}
	return out, nil
}

func (f Field) appendScalar(buf []byte, v any) ([]byte, error) {
	switch f.Type {
	case Bool:
		b, ok := v.(bool)
		if !ok {
			return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected bool, got %T", v)}
		}
		if b {
			return append(buf, 1), nil
		}
		return append(buf, 0), nil

	case Char:
		switch c := v.(type) {
		case byte:
			return append(buf, c), nil
		case rune:
			if c > 0xFF {
				return nil, &LayoutError{Field: f.Name, Reason: "char out of range"}
			}
			return append(buf, byte(c)), nil
		case string:
			if len(c) != 1 {
				return nil, &LayoutError{Field: f.Name, Reason: "expected a single character"}
			}
			return append(buf, c[0]), nil
		}
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected char, got %T", v)}

	case Float32:
		var x float64
		switch n := v.(type) {
		case float32:
			x = float64(n)
		case float64:
			x = n
		default:
			i, ok := toInt64(v)
			if !ok {
				return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected number, got %T", v)}
			}
			x = float64(i)
		}
		return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(x))), nil
	}

	n, ok := toInt64(v)
	if !ok {
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("expected integer, got %T", v)}
	}
	lo, hi := f.Type.bounds()
	if n < lo || n > hi {
		return nil, &LayoutError{Field: f.Name, Reason: fmt.Sprintf("%d out of range for %s", n, f.Type)}
	}

	switch f.Type.width() {
	case 1:
		return append(buf, byte(n)), nil
	case 2:
		return binary.LittleEndian.AppendUint16(buf, uint16(n)), nil
	default:
		return binary.LittleEndian.AppendUint32(buf, uint32(n)), nil
	}
}

func (t FieldType) bounds() (int64, int64) {
	switch t {
	case Int8:
		return math.MinInt8, math.MaxInt8
	case Uint8:
		return 0, math.MaxUint8
	case Int16:
		return math.MinInt16, math.MaxInt16
	case Uint16:
		return 0, math.MaxUint16
	case Int32:
		return math.MinInt32, math.MaxInt32
	default:
		return 0, math.MaxUint32
	}
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		if uint64(n) > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	}
	return 0, false
}

func (f Field) decodeValue(data []byte) any {
	if f.Type == String {
		if i := strings.IndexByte(string(data), 0); i >= 0 {
			return string(data[:i])
		}
		return string(data)
	}

	if !f.isArray() {
		return decodeScalar(f.Type, data)
	}

	switch f.Type {
	case Bool:
		out := make([]bool, f.Count)
		for i := range out {
			out[i] = data[i/8]&(1<<(i%8)) != 0
		}
		return out
	case Int8:
		out := make([]int8, f.Count)
		for i := range out {
			out[i] = int8(data[i])
		}
		return out
	case Uint8, Char:
		out := make([]uint8, f.Count)
		copy(out, data)
		return out
	case Int16:
		out := make([]int16, f.Count)
		for i := range out {
			out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
		}
		return out
	case Uint16:
		out := make([]uint16, f.Count)
		for i := range out {
			out[i] = binary.LittleEndian.Uint16(data[i*2:])
		}
		return out
	case Int32:
		out := make([]int32, f.Count)
		for i := range out {
			out[i] = int32(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out
	case Uint32:
		out := make([]uint32, f.Count)
		for i := range out {
			out[i] = binary.LittleEndian.Uint32(data[i*4:])
		}
		return out
	default:
		out := make([]float32, f.Count)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
		return out
	}
}

func decodeScalar(t FieldType, data []byte) any {
	switch t {
	case Bool:
		return data[0] != 0
	case Int8:
		return int8(data[0])
	case Uint8, Char:
		return data[0]
	case Int16:
		return int16(binary.LittleEndian.Uint16(data))
	case Uint16:
		return binary.LittleEndian.Uint16(data)
	case Int32:
		return int32(binary.LittleEndian.Uint32(data))
	case Uint32:
		return binary.LittleEndian.Uint32(data)
	default:
		return math.Float32frombits(binary.LittleEndian.Uint32(data))
	}
}
