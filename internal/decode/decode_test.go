package decode

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type entry struct {
	Title  string
	Amount int
	Tags   []string
}

var entryDecoder = Map3(
	Field("title", String()),
	Field("amount", Int()),
	Optional("tags", List(String()), nil),
	func(title string, amount int, tags []string) entry {
		return entry{Title: title, Amount: amount, Tags: tags}
	},
)

func TestPrimitives(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		run     func(any) error
		wantErr bool
	}{
		{"string", `"x"`, func(v any) error { _, err := String()(v); return err }, false},
		{"string from number", `1`, func(v any) error { _, err := String()(v); return err }, true},
		{"int", `42`, func(v any) error { _, err := Int()(v); return err }, false},
		{"int from fraction", `4.5`, func(v any) error { _, err := Int()(v); return err }, true},
		{"float from int", `4`, func(v any) error { _, err := Float()(v); return err }, false},
		{"bool", `true`, func(v any) error { _, err := Bool()(v); return err }, false},
		{"null", `null`, func(v any) error { _, err := Null(0)(v); return err }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, err := Parse([]byte(tt.raw))
			require.NoError(t, err)
			if tt.wantErr {
				assert.Error(t, tt.run(v))
			} else {
				assert.NoError(t, tt.run(v))
			}
		})
	}
}

func TestIntRange(t *testing.T) {
	for _, raw := range []string{"1e20", "-1e19", "9223372036854775808", "-9223372036854775809", "9.3e18"} {
		t.Run(raw, func(t *testing.T) {
			_, err := DecodeJSON(Int(), []byte(raw))
			require.Error(t, err)
			assert.Contains(t, err.Error(), "Expecting an INT")
		})
	}

	got, err := DecodeJSON(Int(), []byte("9223372036854775807"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MaxInt64), int64(got))

	got, err = DecodeJSON(Int(), []byte("-9223372036854775808"))
	require.NoError(t, err)
	assert.Equal(t, int64(math.MinInt64), int64(got))

	got, err = DecodeJSON(Int(), []byte("1e3"))
	require.NoError(t, err)
	assert.Equal(t, 1000, got)
}

func TestDecodeObject(t *testing.T) {
	got, err := DecodeJSON(entryDecoder, []byte(`{"title":"Rent","amount":1200,"tags":["home"]}`))
	require.NoError(t, err)
	assert.Equal(t, entry{Title: "Rent", Amount: 1200, Tags: []string{"home"}}, got)

	got, err = DecodeJSON(entryDecoder, []byte(`{"title":"Coffee","amount":4,"tags":null}`))
	require.NoError(t, err)
	assert.Nil(t, got.Tags)
}

func TestMissingFieldPath(t *testing.T) {
	_, err := DecodeJSON(entryDecoder, []byte(`{"title":"Rent"}`))
	require.Error(t, err)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "json.amount", de.Path())
	assert.Contains(t, err.Error(), "json.amount")
	assert.Contains(t, err.Error(), "field is missing")
}

func TestNestedPath(t *testing.T) {
	d := Field("entries", List(Field("amount", Int())))
	_, err := DecodeJSON(d, []byte(`{"entries":[{"amount":1},{"amount":"two"}]}`))
	require.Error(t, err)

	var de *Error
	require.True(t, errors.As(err, &de))
	assert.Equal(t, "json.entries[1].amount", de.Path())
	assert.Contains(t, err.Error(), "Expecting an INT")
	assert.Contains(t, err.Error(), `"two"`)
}

func TestOddFieldNamesAreQuoted(t *testing.T) {
	_, err := DecodeJSON(Field("the key", Int()), []byte(`{"the key":"x"}`))
	require.Error(t, err)
	assert.Equal(t, "json['the key']", err.(*Error).Path())
}

func TestOneOf(t *testing.T) {
	d := OneOf(
		Int(),
		Map(String(), func(s string) int { return len(s) }),
	)

	n, err := DecodeJSON(d, []byte(`"abc"`))
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	_, err = DecodeJSON(d, []byte(`true`))
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "failed in the following 2 ways")
	assert.Contains(t, msg, "(1)")
	assert.Contains(t, msg, "(2)")
}

func TestIndex(t *testing.T) {
	v, err := Parse([]byte(`[10,20]`))
	require.NoError(t, err)

	n, err := Index(1, Int())(v)
	require.NoError(t, err)
	assert.Equal(t, 20, n)

	_, err = Index(5, Int())(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "LONGER array")
}

func TestAndThen(t *testing.T) {
	shape := AndThen(Field("kind", String()), func(kind string) Decoder[float64] {
		switch kind {
		case "circle":
			return Field("r", Float())
		default:
			return Fail[float64]("unknown kind " + kind)
		}
	})

	r, err := DecodeJSON(shape, []byte(`{"kind":"circle","r":2.5}`))
	require.NoError(t, err)
	assert.InDelta(t, 2.5, r, 1e-9)

	_, err = DecodeJSON(shape, []byte(`{"kind":"square"}`))
	assert.ErrorContains(t, err, "unknown kind square")
}

func TestAtAndDict(t *testing.T) {
	v, err := Parse([]byte(`{"a":{"b":{"x":1,"y":2}}}`))
	require.NoError(t, err)

	m, err := At([]string{"a", "b"}, Dict(Int()))(v)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"x": 1, "y": 2}, m)
}

func TestErase(t *testing.T) {
	out, err := Erase(Int())(float64(3))
	require.NoError(t, err)
	assert.Equal(t, 3, out)
}

func TestParseInvalidJSON(t *testing.T) {
	for _, raw := range []string{`{`, `{"a":1} {"b":2}`, `1 2`, `[1]]`, ``} {
		_, err := Parse([]byte(raw))
		require.Error(t, err, raw)
		assert.Contains(t, err.Error(), "not valid JSON")
	}

	v, err := Parse([]byte(" {\"a\":1} \n"))
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": json.Number("1")}, v)
}
