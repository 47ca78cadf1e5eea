package logging

import (
	"bytes"
	"testing"

	"github.com/hashicorp/go-hclog"
	"github.com/stretchr/testify/assert"

	"github.com/isometry/adbridge/internal/config"
)

func TestNewWithOutput(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(config.LoggingConfig{Level: "warn", JSON: true}, &buf)

	logger.Info("hidden")
	logger.Named("sync").Warn("shown", "created", 2)

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"@module":"adbridge.sync"`)
	assert.Contains(t, buf.String(), `"created":2`)
}

func TestNewWithOutput_UnknownLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithOutput(config.LoggingConfig{Level: "loud"}, &buf)

	assert.Equal(t, hclog.Info, logger.GetLevel())
}
