package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
	assert.Equal(t, 2, cfg.Audio.Channels)
	assert.Equal(t, 16, cfg.Audio.BitsPerSample)
	assert.Equal(t, 440, cfg.Audio.ToneHz)
	assert.False(t, cfg.Audio.PreferPCM)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("AUDIO_SAMPLE_RATE", "22050")
	t.Setenv("AUDIO_CHANNELS", "1")
	t.Setenv("AUDIO_TONE_HZ", "880")
	t.Setenv("AUDIO_PREFER_PCM", "true")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 22050, cfg.Audio.SampleRate)
	assert.Equal(t, 1, cfg.Audio.Channels)
	assert.Equal(t, 880, cfg.Audio.ToneHz)
	assert.True(t, cfg.Audio.PreferPCM)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoad_FlagOverridesBeatEnv(t *testing.T) {
	t.Setenv("SERVER_HOST", "10.0.0.1")
	t.Setenv("LOG_LEVEL", "warn")

	cfg, err := LoadWithOverrides(LoadOptions{Host: "127.0.0.1", LogLevel: "error"})
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, "error", cfg.Logging.Level)
}

func TestLoad_InvalidEnvFallsBack(t *testing.T) {
	t.Setenv("AUDIO_SAMPLE_RATE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 44100, cfg.Audio.SampleRate)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := Load()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty port", func(c *Config) { c.Server.Port = "" }},
		{"bad port", func(c *Config) { c.Server.Port = "99999" }},
		{"zero sample rate", func(c *Config) { c.Audio.SampleRate = 0 }},
		{"too many channels", func(c *Config) { c.Audio.Channels = 6 }},
		{"odd sample width", func(c *Config) { c.Audio.BitsPerSample = 24 }},
		{"tone above nyquist", func(c *Config) { c.Audio.ToneHz = c.Audio.SampleRate }},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}

	assert.NoError(t, valid().Validate())
}
