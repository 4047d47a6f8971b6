package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFileGivesDefaults(t *testing.T) {
	settings, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestLoadOverridesOnlyGivenFields(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
pool_size: 8
rotate: false
image_path: /srv/feed/latest.png
pong_timeout: 30s
`), 0o644))

	settings, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 8, settings.PoolSize)
	assert.False(t, settings.Rotate)
	assert.Equal(t, "/srv/feed/latest.png", settings.ImagePath)
	assert.Equal(t, 30*time.Second, settings.PongTimeout)
	assert.Equal(t, ":8080", settings.Listen)
	assert.Equal(t, "info", settings.LogLevel)
}

func TestLoadRejectsInvalid(t *testing.T) {
	for name, body := range map[string]string{
		"zero pool":   "pool_size: 0\n",
		"bad level":   "log_level: chatty\n",
		"empty addr":  "listen: \"\"\n",
		"neg timeout": "pong_timeout: -1s\n",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.yaml")
			require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
			settings, err := Load(path)
			assert.ErrorIs(t, err, ErrInvalid)
			assert.Equal(t, DefaultSettings(), settings)
		})
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pool_size: [unterminated\n"), 0o644))
	_, err := Load(path)
	assert.Error(t, err)
}

func TestDefaultPathHonorsXDG(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	path, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "viewshare", "config.yaml"), path)

	settings, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DefaultSettings(), settings)
}

func TestSaveThenLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	want := DefaultSettings()
	want.PoolSize = 2
	want.ImagePath = "feed.png"

	require.NoError(t, Save(path, want))
	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
