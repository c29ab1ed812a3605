package codec

import (
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string         `json:"name"`
	Count int            `json:"count"`
	Attrs map[string]any `json:"attrs"`
}

func TestByName(t *testing.T) {
	for _, name := range Names() {
		c, ok := ByName(name)
		require.True(t, ok, name)
		assert.Equal(t, name, c.Name())
	}

	c, ok := ByName("")
	require.True(t, ok)
	assert.Equal(t, Default.Name(), c.Name())

	_, ok = ByName("msgpack")
	assert.False(t, ok)
}

func TestRoundTrip(t *testing.T) {
	in := doc{Name: "prices", Count: 3, Attrs: map[string]any{"source": "feed", "ok": true}}

	for _, c := range []Codec{JSON, GoJSON} {
		t.Run(c.Name(), func(t *testing.T) {
			b := MustMarshal(c, in)

			var out doc
			require.NoError(t, c.Unmarshal(b, &out))
			assert.Equal(t, in, out)
		})
	}
}

func TestCodecsInteroperate(t *testing.T) {
	b, err := GoJSON.Marshal(map[string]any{"a": 1.5})
	require.NoError(t, err)

	var out map[string]any
	require.NoError(t, JSON.Unmarshal(b, &out))
	assert.Equal(t, 1.5, out["a"])
}

type upper struct{}

func (upper) Marshal(v any) ([]byte, error)      { return GoJSON.Marshal(v) }
func (upper) Unmarshal(data []byte, v any) error { return GoJSON.Unmarshal(data, v) }
func (upper) Name() string                       { return "test-upper" }

func TestRegister(t *testing.T) {
	if _, ok := ByName("test-upper"); !ok {
		Register(upper{})
	}
	c, ok := ByName("test-upper")
	require.True(t, ok)
	assert.Equal(t, "test-upper", c.Name())
	assert.Contains(t, Names(), "test-upper")
	assert.True(t, slices.IsSorted(Names()))

	assert.Panics(t, func() { Register(upper{}) })
	assert.Panics(t, func() { Register(JSON) })
}

func TestMustMarshalPanics(t *testing.T) {
	assert.Panics(t, func() { MustMarshal(nil, make(chan int)) })
}
