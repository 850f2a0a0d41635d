package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type payload struct {
	Name string
	Args []int
}

func init() {
	RegisterGobType(payload{})
}

func TestGobRoundTrip(t *testing.T) {
	c := Gob{}
	in := payload{Name: "call", Args: []int{1, 2, 3}}

	data, err := c.Encode(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "gob", c.Name())
}

func TestSonicRoundTrip(t *testing.T) {
	c := Sonic{}
	in := payload{Name: "call", Args: []int{4, 5}}

	data, err := c.Encode(in)
	require.NoError(t, err)

	var out payload
	require.NoError(t, c.Decode(data, &out))
	assert.Equal(t, in, out)
	assert.Equal(t, "sonic", c.Name())
}

func TestByNameDefaultsToGob(t *testing.T) {
	assert.Equal(t, "gob", ByName("").Name())
	assert.Equal(t, "gob", ByName("bogus").Name())
	assert.Equal(t, "sonic", ByName("sonic").Name())
}
