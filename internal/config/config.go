package config

import (
	"fmt"

	"go-media-download/internal/models"

	"github.com/BurntSushi/toml"
	log "github.com/sirupsen/logrus"
)

// LoadConfig reads the configuration from the specified path (defaulting to
// "config.toml"), fills in defaults for unset operational knobs, and returns
// the populated models.Config.
func LoadConfig(configFilePath string) (models.Config, error) {
	if configFilePath == "" {
		configFilePath = "config.toml"
	}
	var cfg models.Config
	_, err := toml.DecodeFile(configFilePath, &cfg)
	if err != nil {
		return models.Config{}, fmt.Errorf("error loading config file %s: %w", configFilePath, err)
	}

	if cfg.SavePath == "" {
		log.Warn("Warning: SavePath is not set in config.toml")
	}
	if cfg.DatabasePath == "" {
		log.Warn("Warning: DatabasePath is not set in config.toml")
	}
	ApplyDefaults(&cfg)

	log.Infof("Configuration loaded from %s", configFilePath)
	return cfg, nil
}

// ApplyDefaults fills zero-valued operational settings with their defaults.
func ApplyDefaults(cfg *models.Config) {
	if cfg.YtdlpPath == "" {
		cfg.YtdlpPath = "yt-dlp"
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1000
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 2
	}
	if cfg.PostprocessSlots <= 0 {
		cfg.PostprocessSlots = 2
	}
	if cfg.DownloadTimeoutSec <= 0 {
		cfg.DownloadTimeoutSec = 45 * 60
	}
	if cfg.CookieRefreshWaitSec <= 0 {
		cfg.CookieRefreshWaitSec = 20
	}
	if cfg.MaxFileSizeMB <= 0 {
		cfg.MaxFileSizeMB = 2048
	}
	if cfg.RateLimit == "" {
		cfg.RateLimit = "5M"
	}
	if cfg.EvictAfterHours <= 0 {
		cfg.EvictAfterHours = 24
	}
}
