package codec

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/tracedqueue/internal/runtime/errors"
)

type filaPayload struct {
	Fila     string
	Contagem int
}

func TestJSONEncodeUsesFieldNames(t *testing.T) {
	data, err := NewJSON[filaPayload]().Encode(filaPayload{Fila: "ok", Contagem: 3})
	require.NoError(t, err)
	assert.JSONEq(t, `{"Fila":"ok","Contagem":3}`, string(data))
}

func TestJSONEncodeIsDeterministic(t *testing.T) {
	c := NewJSON[map[string]int]()
	in := map[string]int{"zeta": 1, "alpha": 2, "mid": 3}

	first, err := c.Encode(in)
	require.NoError(t, err)
	for range 20 {
		again, err := c.Encode(in)
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.Equal(t, `{"alpha":2,"mid":3,"zeta":1}`, string(first))
}

func TestJSONDecodeIsCaseInsensitive(t *testing.T) {
	c := NewJSON[filaPayload]()

	for _, body := range []string{
		`{"Fila":"ok","Contagem":3}`,
		`{"fila":"ok","contagem":3}`,
		`{"FILA":"ok","CONTAGEM":3}`,
	} {
		got, err := c.Decode([]byte(body))
		require.NoError(t, err, body)
		assert.Equal(t, filaPayload{Fila: "ok", Contagem: 3}, got, body)
	}
}

func TestJSONRoundTrip(t *testing.T) {
	c := NewJSON[filaPayload]()
	in := filaPayload{Fila: "pedidos", Contagem: 42}

	data, err := c.Encode(in)
	require.NoError(t, err)
	out, err := c.Decode(data)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestJSONDecodeFailures(t *testing.T) {
	c := NewJSON[filaPayload]()

	tests := []struct {
		name  string
		body  []byte
		empty bool
	}{
		{name: "nil body", body: nil, empty: true},
		{name: "whitespace", body: []byte("  \n"), empty: true},
		{name: "null literal", body: []byte("null"), empty: true},
		{name: "malformed", body: []byte(`{"Fila":`)},
		{name: "wrong type", body: []byte(`{"Contagem":"three"}`)},
		{name: "not an object", body: []byte(`[1,2,3]`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.body)
			require.Error(t, err)
			assert.Equal(t, filaPayload{}, got)

			var decodeErr *errspkg.DecodeError
			require.True(t, errors.As(err, &decodeErr))
			assert.Equal(t, "json", decodeErr.Codec)
			assert.Equal(t, tt.empty, errors.Is(err, errspkg.ErrEmptyPayload))
		})
	}
}
