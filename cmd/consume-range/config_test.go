package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/philtrade/kafkasource/client"
)

func TestUnitLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bootstrap.servers: localhost:9092
group.id: g
enable.partition.eof: true
fetch.min.bytes: 1024
source.driver: sarama
`), 0644))
	var o overlay
	require.NoError(t, o.Set("group.id=h"))
	require.NoError(t, o.Set("sasl.password=a=b"))
	assert.Error(t, o.Set("nope"))
	config, err := loadConfig(path, o)
	require.NoError(t, err)
	assert.Equal(t, "localhost:9092", config[client.KeyBootstrap])
	assert.Equal(t, "h", config[client.KeyGroupID])
	assert.Equal(t, "true", config["enable.partition.eof"])
	assert.Equal(t, "1024", config["fetch.min.bytes"])
	assert.Equal(t, "a=b", config["sasl.password"])
	assert.Equal(t, "sarama", config.Driver())
	assert.True(t, strings.HasPrefix(config[client.KeyClientID], "consume-range-"))
}

func TestUnitLoadConfigRejectsNesting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "consumer.yaml")
	require.NoError(t, os.WriteFile(path, []byte("sasl:\n  username: u\n"), 0644))
	_, err := loadConfig(path, nil)
	assert.Error(t, err)
	_, err = loadConfig(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	assert.Error(t, err)
}

func TestUnitLoadConfigKeepsClientID(t *testing.T) {
	config, err := loadConfig("", []string{"client.id=me"})
	require.NoError(t, err)
	assert.Equal(t, client.Config{"client.id": "me"}, config)
}
