package main

import (
	"testing"

	"github.com/ausocean/utils/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nasa-jpl/pecam/pecam"
)

func TestDefaultConfig(t *testing.T) {
	setupconfig()
	c := loadconf()
	assert.Equal(t, ":8000", c.Addr)
	assert.Equal(t, "mock", c.Driver)
	assert.Equal(t, pecam.DefaultConfig(), c.Camera)
	require.NoError(t, c.Camera.Validate())
}

func TestLogLevel(t *testing.T) {
	assert.Equal(t, logging.Debug, logLevel("debug"))
	assert.Equal(t, logging.Warning, logLevel("Warning"))
	assert.Equal(t, logging.Info, logLevel("bogus"))
}

func TestMockDriver(t *testing.T) {
	open, err := drivers["mock"](config{Mock: mockConfig{Width: 32, Height: 16, Level: 10}})
	require.NoError(t, err)
	dev, err := open()
	require.NoError(t, err)
	defer dev.Close()
	w, h, err := dev.DetectorSize()
	require.NoError(t, err)
	assert.Equal(t, 32, w)
	assert.Equal(t, 16, h)
}
