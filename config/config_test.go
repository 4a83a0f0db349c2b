package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileUsesEnvironment(t *testing.T) {
	t.Setenv("LICENSEWARD_SERVER_URL", "https://licensing.example.com")

	cfg, err := Load(filepath.Join(t.TempDir(), "config.yml"))
	require.NoError(t, err)
	assert.Equal(t, "https://licensing.example.com", cfg.ServerURL)
	require.NoError(t, cfg.Validate())
}

func TestLoad_FileThenEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	content := []byte("server_url: https://file.example.com\nlicense_key: LIC-FILE\nmax_offline_days: 7\n")
	require.NoError(t, os.WriteFile(path, content, 0600))

	t.Setenv("LICENSEWARD_LICENSE_KEY", "LIC-ENV")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example.com", cfg.ServerURL)
	assert.Equal(t, "LIC-ENV", cfg.LicenseKey)
	assert.Equal(t, 7, cfg.MaxOfflineDays)
}

func TestLoad_MalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte("server_url: [unterminated"), 0600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	in := &Config{
		ServerURL:            "https://licensing.example.com",
		LicenseKey:           "LIC-1",
		ProductSlug:          "acme-app",
		AutoValidateInterval: 6 * time.Hour,
		HeartbeatInterval:    time.Hour,
		MaxOfflineDays:       14,
		OfflineFallback:      true,
	}
	require.NoError(t, in.Save(path))

	// Key material gets restricted permissions.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestValidate_RequiresServerURL(t *testing.T) {
	cfg := &Config{LicenseKey: "LIC-1"}
	assert.Error(t, cfg.Validate())
}
