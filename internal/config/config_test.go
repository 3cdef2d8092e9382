package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/emrgen/omnistore/internal/kind"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSettings(t *testing.T, body string) *Config {
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return &Config{SettingsFile: path}
}

func TestLoadConfig(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("VIEW_COOLDOWN", "15m")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "9090", cfg.HttpPort)
	assert.Equal(t, 15*time.Minute, cfg.ViewCooldown)
	assert.Equal(t, "sqlite", cfg.DB.Type)
	assert.Equal(t, "omnistore:", cfg.Redis.Prefix)

	t.Setenv("LOG_LEVEL", "chatty")
	_, err = LoadConfig()
	assert.Error(t, err)
}

func TestLoadSettings(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		check func(t *testing.T, s *Settings)
		err   string
	}{
		{
			name: "overrides",
			body: "catalog:\n  maxObjects:\n    Note: 3\n    Tag: 0\nreactionScores:\n  \"👎\": -5\n",
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 3, s.Catalog.MaxObjects[kind.Note])
				assert.Equal(t, 0, s.Catalog.MaxObjects[kind.Tag])
				assert.Equal(t, 10000, s.Catalog.MaxObjects[kind.Comment])
				assert.Equal(t, int64(-5), s.Scores.Of("👎"))
				assert.Equal(t, int64(1), s.Scores.Of("👍"))
			},
		},
		{
			name: "empty file",
			body: "",
			check: func(t *testing.T, s *Settings) {
				assert.Equal(t, 1000, s.Catalog.MaxObjects[kind.Note])
			},
		},
		{
			name: "negative cap",
			body: "catalog:\n  maxObjects:\n    Note: -1\n",
			err:  "must not be negative",
		},
		{
			name: "malformed",
			body: "catalog: [",
			err:  "failed to parse settings",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := LoadSettings(writeSettings(t, tt.body))
			if tt.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.err)
				return
			}
			require.NoError(t, err)
			tt.check(t, s)
		})
	}
}

func TestLoadSettings_Defaults(t *testing.T) {
	s, err := LoadSettings(&Config{})
	require.NoError(t, err)
	assert.Equal(t, 500, s.Catalog.MaxObjects[kind.Tag])
	assert.Equal(t, int64(2), s.Scores.Of("❤️"))

	_, err = LoadSettings(&Config{SettingsFile: filepath.Join(t.TempDir(), "missing.yaml")})
	assert.Error(t, err)
}

func TestGetDb(t *testing.T) {
	db, err := GetDb(&Config{DB: DBConfig{Type: "sqlite", URL: filepath.Join(t.TempDir(), "test.db")}})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	assert.NoError(t, sqlDB.Ping())
	assert.NoError(t, sqlDB.Close())

	_, err = GetDb(&Config{DB: DBConfig{Type: "mysql"}})
	assert.Error(t, err)
}
