// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	for _, tc := range []struct {
		format, level string
		enabled       zapcore.Level
		disabled      zapcore.Level
	}{
		{"text", "info", zapcore.InfoLevel, zapcore.DebugLevel},
		{"json", "debug", zapcore.DebugLevel, zapcore.DebugLevel - 1},
		{"", "", zapcore.InfoLevel, zapcore.DebugLevel},
		{"text", "error", zapcore.ErrorLevel, zapcore.WarnLevel},
	} {
		t.Run(tc.format+"/"+tc.level, func(t *testing.T) {
			log, err := New(tc.format, tc.level)
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tc.enabled))
			assert.False(t, log.Core().Enabled(tc.disabled))
		})
	}
}

func TestNew_None(t *testing.T) {
	log, err := New("json", "none")
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.ErrorLevel))
}

func TestNew_Unknown(t *testing.T) {
	_, err := New("text", "verbose")
	assert.ErrorContains(t, err, "unknown log level")

	_, err = New("xml", "info")
	assert.ErrorContains(t, err, "unknown log format")
}
