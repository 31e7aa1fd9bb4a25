package qs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeShapes(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{
			name:   "nested map",
			params: map[string]any{"a": map[string]any{"b": 1, "c": 2}},
			want:   "a%5Bb%5D=1&a%5Bc%5D=2",
		},
		{
			name:   "array",
			params: map[string]any{"xs": []any{10, 20}},
			want:   "xs%5B0%5D=10&xs%5B1%5D=20",
		},
		{
			name:   "booleans",
			params: map[string]any{"on": true, "off": false},
			want:   "off=0&on=1",
		},
		{
			name:   "nil and zero",
			params: map[string]any{"empty": nil, "zero": 0},
			want:   "empty=&zero=0",
		},
		{
			name:   "string slice",
			params: map[string]any{"select": []string{"ID", "TITLE"}},
			want:   "select%5B0%5D=ID&select%5B1%5D=TITLE",
		},
		{
			name: "deep nesting",
			params: map[string]any{
				"filter": map[string]any{
					"fields": map[string]any{"STAGE": "NEW"},
				},
			},
			want: "filter%5Bfields%5D%5BSTAGE%5D=NEW",
		},
		{
			name:   "integral float stays integral",
			params: map[string]any{"id": 42.0},
			want:   "id=42",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, EncodeString(tt.params))
		})
	}
}

func TestEncodeOverwritesDuplicateKeys(t *testing.T) {
	values := Encode(map[string]any{"a": map[string]any{"b": 1}})
	values.Set("a[b]", "2")
	assert.Equal(t, "2", values.Get("a[b]"))
	assert.Len(t, values["a[b]"], 1)
}

func TestEncodeIdempotent(t *testing.T) {
	params := map[string]any{
		"fields": map[string]any{"TITLE": "deal", "OPPORTUNITY": 1500},
		"params": map[string]any{"REGISTER_SONET_EVENT": true},
	}
	first := EncodeString(params)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, EncodeString(params))
	}
}

func TestDecode(t *testing.T) {
	got, err := Decode("a%5Bb%5D=1&a%5Bc%5D=2&xs%5B0%5D=10&xs%5B1%5D=20&flat=x")
	require.NoError(t, err)

	assert.Equal(t, map[string]any{
		"a":    map[string]any{"b": "1", "c": "2"},
		"xs":   []any{"10", "20"},
		"flat": "x",
	}, got)
}

func TestDecodeSparseIndexesStayMaps(t *testing.T) {
	got, err := Decode("xs%5B0%5D=a&xs%5B2%5D=c")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"xs": map[string]any{"0": "a", "2": "c"}}, got)
}

func TestDecodeMalformedKey(t *testing.T) {
	_, err := Decode("a%5Bb=1")
	require.Error(t, err)
}

// Round-trip: for any valid encoded query, encoding its decoded tree yields
// the same bytes.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	queries := []string{
		"a%5Bb%5D=1&a%5Bc%5D=2",
		"xs%5B0%5D=10&xs%5B1%5D=20",
		"auth=T&fields%5BTITLE%5D=hello+world",
		"empty=&zero=0",
		"filter%5B%3ETITLE%5D=a&order%5BID%5D=DESC",
	}
	for _, q := range queries {
		decoded, err := Decode(q)
		require.NoError(t, err, q)
		assert.Equal(t, q, EncodeString(decoded), q)
	}
}
