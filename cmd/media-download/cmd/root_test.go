package cmd

import (
	"path/filepath"
	"testing"

	"go-media-download/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadGlobalConfigMissingFileKeepsDefaults(t *testing.T) {
	origCfgFile, origConfig := cfgFile, globalConfig
	t.Cleanup(func() {
		cfgFile, globalConfig = origCfgFile, origConfig
	})

	cfgFile = filepath.Join(t.TempDir(), "does-not-exist.toml")
	globalConfig = models.Config{}

	require.NoError(t, loadGlobalConfig(rootCmd, nil))

	// Workers started under this config must still enforce a subprocess
	// wall-clock timeout and the other operational bounds.
	assert.Positive(t, globalConfig.DownloadTimeoutSec)
	assert.Positive(t, globalConfig.QueueCapacity)
	assert.Positive(t, globalConfig.MaxFileSizeMB)
	assert.Equal(t, "yt-dlp", globalConfig.YtdlpPath)
}
