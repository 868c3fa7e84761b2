package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Conceptual-Machines/magda-bebop/internal/solo"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("ENVIRONMENT", "")
	t.Setenv("AUTH_MODE", "")
	t.Setenv("SOLO_CONFIG_FILE", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, AuthModeNone, cfg.AuthMode)
	assert.False(t, cfg.IsProduction())
	assert.False(t, cfg.HistoryEnabled())
	assert.True(t, cfg.SeedExamples)
	assert.Equal(t, solo.DefaultConfig(), cfg.Solo)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SOLO_CONFIG_FILE", "")
	t.Setenv("DEFAULT_TEMPO", "180")
	t.Setenv("QUERY_TIMEOUT_MS", "25")
	t.Setenv("ACCEPTANCE_THRESHOLD", "0.6")
	t.Setenv("MAX_DISSONANCE", "0.2")
	t.Setenv("RETRIEVAL_K", "8")
	t.Setenv("WATCH_SOURCE_DIR", "true")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 180.0, cfg.Solo.Tempo)
	assert.Equal(t, 25*time.Millisecond, cfg.Solo.QueryTimeout)
	assert.Equal(t, 0.6, cfg.Solo.AcceptanceThreshold)
	assert.Equal(t, 0.2, cfg.Solo.MaxDissonance)
	assert.Equal(t, 8, cfg.Solo.K)
	assert.True(t, cfg.WatchSourceDir)
}

func TestLoadFileOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solo.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
solo:
  tempo: 200
  query_timeout: 30ms
  low_pitch: 55
  high_pitch: 79
  rhythm: swing
segment:
  gap_beats: 0.5
`), 0o644))
	t.Setenv("SOLO_CONFIG_FILE", path)
	// env keys win over the file
	t.Setenv("DEFAULT_TEMPO", "160")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 160.0, cfg.Solo.Tempo)
	assert.Equal(t, 30*time.Millisecond, cfg.Solo.QueryTimeout)
	assert.Equal(t, 55, cfg.Solo.LowPitch)
	assert.Equal(t, "swing", cfg.Solo.Rhythm)
	assert.Equal(t, solo.DefaultK, cfg.Solo.K, "unset fields keep defaults")
	assert.Equal(t, 0.5, cfg.Segment.GapBeats)
	assert.Equal(t, 8.0, cfg.Segment.WindowBeats)
}

func TestLoadFileOverlayRejectsUnknownRhythm(t *testing.T) {
	path := filepath.Join(t.TempDir(), "solo.yaml")
	require.NoError(t, os.WriteFile(path, []byte("solo:\n  rhythm: bogus\n"), 0o644))
	t.Setenv("SOLO_CONFIG_FILE", path)

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "swing")
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad number", map[string]string{"DEFAULT_TEMPO": "fast"}},
		{"bad int", map[string]string{"RETRIEVAL_K": "many"}},
		{"unknown auth", map[string]string{"AUTH_MODE": "magic"}},
		{"jwt without secret", map[string]string{"AUTH_MODE": AuthModeJWT, "JWT_SECRET": ""}},
		{"dissonance above one", map[string]string{"MAX_DISSONANCE": "1.5"}},
		{"missing file", map[string]string{"SOLO_CONFIG_FILE": "/nonexistent/solo.yaml"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("SOLO_CONFIG_FILE", "")
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			_, err := Load()
			assert.Error(t, err)
		})
	}
}
