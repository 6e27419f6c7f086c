// Package decode turns loosely typed values (the shape produced by
// encoding/json into an interface{}) into typed Go values.
//
// A Decoder either produces a value or a structured *Error describing where
// in the input the failure happened. Decoders compose: Field, Index, List,
// OneOf, Map and AndThen build larger decoders out of smaller ones.
package decode

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
)

// Decoder converts a raw value into T.
type Decoder[T any] func(v any) (T, error)

// Decode runs the decoder on an already parsed value.
func (d Decoder[T]) Decode(v any) (T, error) {
	return d(v)
}

// DecodeJSON parses raw JSON and runs the decoder on the result.
func DecodeJSON[T any](d Decoder[T], raw []byte) (T, error) {
	var zero T
	v, err := Parse(raw)
	if err != nil {
		return zero, err
	}
	return d(v)
}

// Parse parses raw JSON into the value model decoders operate on. Numbers
// are kept as json.Number so integers survive round trips.
func Parse(raw []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, &Error{Kind: KindFailure, Message: "This is not valid JSON! " + err.Error(), Value: string(raw)}
	}
	if _, err := dec.Token(); err != io.EOF {
		return nil, &Error{Kind: KindFailure, Message: "This is not valid JSON! Unexpected data after the value", Value: string(raw)}
	}
	return v, nil
}

func fail[T any](msg string, v any) (T, error) {
	var zero T
	return zero, &Error{Kind: KindFailure, Message: msg, Value: v}
}

// String decodes a string.
func String() Decoder[string] {
	return func(v any) (string, error) {
		if s, ok := v.(string); ok {
			return s, nil
		}
		return fail[string]("Expecting a STRING", v)
	}
}

// Bool decodes a boolean.
func Bool() Decoder[bool] {
	return func(v any) (bool, error) {
		if b, ok := v.(bool); ok {
			return b, nil
		}
		return fail[bool]("Expecting a BOOL", v)
	}
}

// Float decodes any number.
func Float() Decoder[float64] {
	return func(v any) (float64, error) {
		if f, ok := toFloat(v); ok {
			return f, nil
		}
		return fail[float64]("Expecting a FLOAT", v)
	}
}

// Int decodes a number with no fractional part.
func Int() Decoder[int] {
	return func(v any) (int, error) {
		switch n := v.(type) {
		case int:
			return n, nil
		case int64:
			if n >= math.MinInt && n <= math.MaxInt {
				return int(n), nil
			}
			return fail[int]("Expecting an INT", v)
		case json.Number:
			if i, err := n.Int64(); err == nil && i >= math.MinInt && i <= math.MaxInt {
				return int(i), nil
			}
		}
		if f, ok := toFloat(v); ok && f == math.Trunc(f) && f >= minIntFloat && f < maxIntFloat {
			return int(f), nil
		}
		return fail[int]("Expecting an INT", v)
	}
}

// Bounds of the floats that convert to int exactly. 2^63 (or 2^31) itself
// is out of range.
const (
	minIntFloat = float64(math.MinInt)
	maxIntFloat = -float64(math.MinInt)
)

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

// Value passes the raw value through untouched.
func Value() Decoder[any] {
	return func(v any) (any, error) { return v, nil }
}

// Null succeeds with def when the value is null.
func Null[T any](def T) Decoder[T] {
	return func(v any) (T, error) {
		if v == nil {
			return def, nil
		}
		return fail[T]("Expecting null", v)
	}
}

// Succeed ignores the input and produces v.
func Succeed[T any](v T) Decoder[T] {
	return func(any) (T, error) { return v, nil }
}

// Fail ignores the input and fails with msg.
func Fail[T any](msg string) Decoder[T] {
	return func(v any) (T, error) { return fail[T](msg, v) }
}

// Field decodes the named field of an object. A missing field is reported
// under the field's name so that the error path points at it.
func Field[T any](name string, d Decoder[T]) Decoder[T] {
	return func(v any) (T, error) {
		var zero T
		obj, ok := v.(map[string]any)
		if !ok {
			return fail[T](fmt.Sprintf("Expecting an OBJECT with a field named `%s`", name), v)
		}
		fv, present := obj[name]
		if !present {
			return zero, &Error{
				Kind:  KindField,
				Field: name,
				Inner: &Error{Kind: KindFailure, Message: "Expecting a value but the field is missing", Value: v},
			}
		}
		out, err := d(fv)
		if err != nil {
			return zero, &Error{Kind: KindField, Field: name, Inner: asError(err, fv)}
		}
		return out, nil
	}
}

// At decodes a nested field path.
func At[T any](path []string, d Decoder[T]) Decoder[T] {
	for i := len(path) - 1; i >= 0; i-- {
		d = Field(path[i], d)
	}
	return d
}

// Index decodes one element of an array.
func Index[T any](i int, d Decoder[T]) Decoder[T] {
	return func(v any) (T, error) {
		var zero T
		arr, ok := v.([]any)
		if !ok {
			return fail[T]("Expecting an ARRAY", v)
		}
		if i < 0 || i >= len(arr) {
			return fail[T](fmt.Sprintf("Expecting a LONGER array. Need index %d but only see %d entries", i, len(arr)), v)
		}
		out, err := d(arr[i])
		if err != nil {
			return zero, &Error{Kind: KindIndex, Index: i, Inner: asError(err, arr[i])}
		}
		return out, nil
	}
}

// List decodes every element of an array.
func List[T any](d Decoder[T]) Decoder[[]T] {
	return func(v any) ([]T, error) {
		arr, ok := v.([]any)
		if !ok {
			return fail[[]T]("Expecting a LIST", v)
		}
		out := make([]T, 0, len(arr))
		for i, item := range arr {
			x, err := d(item)
			if err != nil {
				return nil, &Error{Kind: KindIndex, Index: i, Inner: asError(err, item)}
			}
			out = append(out, x)
		}
		return out, nil
	}
}

// Dict decodes every field of an object.
func Dict[T any](d Decoder[T]) Decoder[map[string]T] {
	return func(v any) (map[string]T, error) {
		obj, ok := v.(map[string]any)
		if !ok {
			return fail[map[string]T]("Expecting an OBJECT", v)
		}
		out := make(map[string]T, len(obj))
		for k, item := range obj {
			x, err := d(item)
			if err != nil {
				return nil, &Error{Kind: KindField, Field: k, Inner: asError(err, item)}
			}
			out[k] = x
		}
		return out, nil
	}
}

// OneOf tries each decoder in order and keeps the first success. When all
// fail the error lists every alternative's failure.
func OneOf[T any](ds ...Decoder[T]) Decoder[T] {
	return func(v any) (T, error) {
		var zero T
		errs := make([]*Error, 0, len(ds))
		for _, d := range ds {
			out, err := d(v)
			if err == nil {
				return out, nil
			}
			errs = append(errs, asError(err, v))
		}
		return zero, &Error{Kind: KindOneOf, Errors: errs}
	}
}

// Optional decodes the field if present and not null, otherwise def.
func Optional[T any](name string, d Decoder[T], def T) Decoder[T] {
	return func(v any) (T, error) {
		obj, ok := v.(map[string]any)
		if !ok {
			return fail[T]("Expecting an OBJECT", v)
		}
		if fv, present := obj[name]; !present || fv == nil {
			return def, nil
		}
		return Field(name, d)(v)
	}
}

// Nullable decodes null as nil and anything else with d.
func Nullable[T any](d Decoder[T]) Decoder[*T] {
	return func(v any) (*T, error) {
		if v == nil {
			return nil, nil
		}
		out, err := d(v)
		if err != nil {
			return nil, err
		}
		return &out, nil
	}
}

// Map transforms a successful result.
func Map[A, B any](d Decoder[A], f func(A) B) Decoder[B] {
	return func(v any) (B, error) {
		var zero B
		a, err := d(v)
		if err != nil {
			return zero, err
		}
		return f(a), nil
	}
}

// Map2 combines two decoders run on the same value.
func Map2[A, B, C any](da Decoder[A], db Decoder[B], f func(A, B) C) Decoder[C] {
	return func(v any) (C, error) {
		var zero C
		a, err := da(v)
		if err != nil {
			return zero, err
		}
		b, err := db(v)
		if err != nil {
			return zero, err
		}
		return f(a, b), nil
	}
}

// Map3 combines three decoders run on the same value.
func Map3[A, B, C, D any](da Decoder[A], db Decoder[B], dc Decoder[C], f func(A, B, C) D) Decoder[D] {
	return func(v any) (D, error) {
		var zero D
		a, err := da(v)
		if err != nil {
			return zero, err
		}
		b, err := db(v)
		if err != nil {
			return zero, err
		}
		c, err := dc(v)
		if err != nil {
			return zero, err
		}
		return f(a, b, c), nil
	}
}

// AndThen picks the next decoder based on a previously decoded value.
func AndThen[A, B any](d Decoder[A], f func(A) Decoder[B]) Decoder[B] {
	return func(v any) (B, error) {
		var zero B
		a, err := d(v)
		if err != nil {
			return zero, err
		}
		return f(a)(v)
	}
}

// Lazy defers building a decoder, for recursive structures.
func Lazy[T any](f func() Decoder[T]) Decoder[T] {
	return func(v any) (T, error) { return f()(v) }
}

// Erase forgets the result type. Event handlers and ports store decoders
// in this form.
func Erase[T any](d Decoder[T]) Decoder[any] {
	return func(v any) (any, error) {
		out, err := d(v)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

func asError(err error, v any) *Error {
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Kind: KindFailure, Message: err.Error(), Value: v}
}
