package logger

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel(" WARN "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel(""))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("loud"))
}

func TestInit(t *testing.T) {
	saved := log.Logger
	t.Cleanup(func() { log.Logger = saved })

	Init(Options{Production: true, Level: "error"})
	assert.Equal(t, zerolog.ErrorLevel, log.Logger.GetLevel())

	Init(Options{})
	assert.Equal(t, zerolog.DebugLevel, log.Logger.GetLevel())
}
