package config

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, DefaultMaxCollectPasses, c.MaxCollectPasses)
	assert.False(t, c.ProductionMode)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	in := `
addr: ":9090"
productionMode: true
rootComponent: app.Shell
`
	c, err := LoadYAML(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, ":9090", c.Addr)
	assert.True(t, c.ProductionMode)
	assert.Equal(t, "app.Shell", c.RootComponent)
	// untouched fields keep their defaults
	assert.Equal(t, DefaultMaxCollectPasses, c.MaxCollectPasses)
	assert.Equal(t, "body", c.RootTag)
}

func TestLoadJSON(t *testing.T) {
	in := `{"addr": ":7000", "maxCollectPasses": 5, "logLevel": "debug"}`
	c, err := LoadJSON(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, ":7000", c.Addr)
	assert.Equal(t, 5, c.MaxCollectPasses)
	assert.Equal(t, "debug", c.LogLevel)
}

func TestValidateRejectsBadValues(t *testing.T) {
	c := Default()
	c.MaxCollectPasses = 0
	assert.Error(t, c.Validate())

	c = Default()
	c.Addr = ""
	assert.Error(t, c.Validate())

	_, err := LoadJSON(strings.NewReader(`{"maxCollectPasses": -1}`))
	assert.Error(t, err)
}
