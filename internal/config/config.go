package config

import (
	"os"
	"path/filepath"
	"reflect"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

const configFileName = "tdm"

// Config holds the configuration options for the application.
type Config struct {
	MaxConcurrentDownloads int            `yaml:"maxConcurrentDownloads,omitempty"`
	Torrent                *TorrentConfig `yaml:"torrent,omitempty"`
}

// TorrentConfig holds configuration options for streaming a torrent.
type TorrentConfig struct {
	DownloadDir string `yaml:"dir,omitempty"`
	DisableDHT  bool   `yaml:"disableDht,omitempty"`

	// HighPriorityCount is how many pieces ahead of playback position are
	// requested with urgent priority when streaming a torrent's file.
	HighPriorityCount int `yaml:"highPriorityCount,omitempty"`
	// LookAheadCount is how many additional pieces beyond HighPriorityCount
	// are prefetched at normal-but-elevated priority.
	LookAheadCount int `yaml:"lookAheadCount,omitempty"`
}

func (t *TorrentConfig) IsConfig() bool {
	return true
}

// GetConfig reads the configuration file and returns a Config struct.
// If the configuration file does not exist, it returns the default configuration.
func GetConfig() (*Config, error) {
	configFilePath := filepath.Join(xdg.ConfigHome, configFileName)
	defaults := DefaultConfig()

	b, err := os.ReadFile(configFilePath)
	if err != nil {
		if os.IsNotExist(err) {
			return &defaults, nil
		}

		return nil, err
	}

	if len(b) == 0 {
		return &defaults, nil
	}

	var cfg Config

	err = yaml.Unmarshal(b, &cfg)
	if err != nil {
		return nil, err
	}

	torrentCfg := zeroOr(cfg.Torrent, defaults.Torrent)

	return &Config{
		MaxConcurrentDownloads: zeroOr(cfg.MaxConcurrentDownloads, defaults.MaxConcurrentDownloads),
		Torrent: &TorrentConfig{
			DownloadDir:       zeroOr(torrentCfg.DownloadDir, defaults.Torrent.DownloadDir),
			DisableDHT:        zeroOr(torrentCfg.DisableDHT, defaults.Torrent.DisableDHT),
			HighPriorityCount: zeroOr(torrentCfg.HighPriorityCount, defaults.Torrent.HighPriorityCount),
			LookAheadCount:    zeroOr(torrentCfg.LookAheadCount, defaults.Torrent.LookAheadCount),
		},
	}, nil
}

func DefaultConfig() Config {
	return Config{
		MaxConcurrentDownloads: maxConcurrentDownloads,
		Torrent: &TorrentConfig{
			DownloadDir:       downloadDir,
			DisableDHT:        disableDHT,
			HighPriorityCount: highPriorityCount,
			LookAheadCount:    lookAheadCount,
		},
	}
}

// zeroOr returns def if v is the zero value for its type.
func zeroOr[T any](v, def T) T {
	if reflect.ValueOf(v).IsZero() {
		return def
	}

	return v
}
