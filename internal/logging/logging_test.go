package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		level   string
		format  string
		wantErr string
	}{
		{name: "json default", level: "info", format: ""},
		{name: "console debug", level: "DEBUG", format: FormatConsole},
		{name: "bad level", level: "loud", format: FormatJSON, wantErr: "parse log level"},
		{name: "bad format", level: "info", format: "xml", wantErr: "unknown log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.level, tt.format)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, log)
		})
	}
}

func TestNew_LevelGates(t *testing.T) {
	log, err := New("warn", FormatJSON)
	require.NoError(t, err)
	assert.False(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, log.Core().Enabled(zapcore.ErrorLevel))
}
