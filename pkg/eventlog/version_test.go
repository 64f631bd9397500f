package eventlog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersion_Normalization(t *testing.T) {
	assert.True(t, Nothing().IsNothing())
	assert.True(t, Exact(-1).IsNothing())
	assert.True(t, Exact(-42).IsNothing())
	assert.False(t, Exact(0).IsNothing())

	v, ok := Exact(3).Value()
	require.True(t, ok)
	assert.Equal(t, int64(3), v)

	_, ok = Nothing().Value()
	assert.False(t, ok)

	// The zero value is the sentinel.
	var zero Version
	assert.True(t, zero.IsNothing())
}

func TestVersion_Wire(t *testing.T) {
	assert.Equal(t, int64(-1), Nothing().Wire())
	assert.Equal(t, int64(0), Exact(0).Wire())
	assert.Equal(t, int64(7), Exact(7).Wire())
}

func TestVersion_String(t *testing.T) {
	assert.Equal(t, "nothing", Nothing().String())
	assert.Equal(t, "5", Exact(5).String())
}

func TestVersion_JSON(t *testing.T) {
	data, err := json.Marshal(Exact(2))
	require.NoError(t, err)
	assert.Equal(t, "2", string(data))

	data, err = json.Marshal(Nothing())
	require.NoError(t, err)
	assert.Equal(t, "-1", string(data))

	var v Version
	require.NoError(t, json.Unmarshal([]byte("7"), &v))
	assert.Equal(t, Exact(7), v)

	require.NoError(t, json.Unmarshal([]byte("-1"), &v))
	assert.True(t, v.IsNothing())

	require.NoError(t, json.Unmarshal([]byte("-9"), &v))
	assert.True(t, v.IsNothing())

	assert.Error(t, json.Unmarshal([]byte(`"seven"`), &v))
}
