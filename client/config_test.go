package client

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnitConfigDriver(t *testing.T) {
	assert.Equal(t, DefaultDriver, Config{}.Driver())
	assert.Equal(t, "ibmsarama", Config{KeyDriver: " ibmsarama "}.Driver())
}

func TestUnitConfigBrokers(t *testing.T) {
	c := Config{KeyBootstrap: "a:9092, b:9092,,c:9092 "}
	assert.Equal(t, []string{"a:9092", "b:9092", "c:9092"}, c.Brokers())
	assert.Nil(t, Config{}.Brokers())
}

func TestUnitConfigDefaultTimeout(t *testing.T) {
	d, ok := Config{}.DefaultTimeout()
	assert.True(t, ok)
	assert.Equal(t, DefaultTimeout, d)
	d, ok = Config{KeyDefaultTimeout: "250"}.DefaultTimeout()
	assert.True(t, ok)
	assert.Equal(t, 250*time.Millisecond, d)
	d, ok = Config{KeyDefaultTimeout: "soon"}.DefaultTimeout()
	assert.False(t, ok)
	assert.Equal(t, DefaultTimeout, d)
	_, ok = Config{KeyDefaultTimeout: "-1"}.DefaultTimeout()
	assert.False(t, ok)
}

func TestUnitConfigDriverConfig(t *testing.T) {
	c := Config{
		KeyDriver:         "confluent",
		KeyDefaultTimeout: "100",
		KeyGroupID:        "g",
		"fetch.min.bytes": "1",
	}
	assert.Equal(t, Config{KeyGroupID: "g", "fetch.min.bytes": "1"}, c.DriverConfig())
	assert.Len(t, c, 4, "DriverConfig must not mutate the receiver")
}

func TestUnitConfigParse(t *testing.T) {
	c := Config{"a": "12", "b": "x", "c": "true", "d": "250"}
	n, ok, err := c.Int("a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 12, n)
	_, ok, err = c.Int("b")
	assert.True(t, ok)
	assert.Error(t, err)
	_, ok, err = c.Int("missing")
	assert.False(t, ok)
	assert.NoError(t, err)
	b, _, err := c.Bool("c")
	require.NoError(t, err)
	assert.True(t, b)
	d, _, err := c.Milliseconds("d")
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, d)
	assert.Equal(t, []string{"a", "b", "c", "d"}, c.Keys())
}
