package commands

import (
	"path/filepath"
	"time"

	"billfetch/internal/components/chrono"
	"billfetch/internal/portal"
	"billfetch/lib/configutil"
	"billfetch/pkg/migrations"
)

type PortalConfig struct {
	Url                   string `json:"url"`
	ElementTimeoutSeconds int    `json:"element_timeout_seconds"`
	ScrollSettleSeconds   int    `json:"scroll_settle_seconds"`
	WindowSettleSeconds   int    `json:"window_settle_seconds"`
	PollIntervalSeconds   int    `json:"poll_interval_seconds"`
	PollCeilingSeconds    int    `json:"poll_ceiling_seconds"`
	// Detector is "poll" or "watch".
	Detector  string `json:"detector"`
	SkipProbe bool   `json:"skip_probe"`
}

type BrowserConfig struct {
	ExecPath     string `json:"exec_path"`
	UserAgent    string `json:"user_agent"`
	ShowBrowser  bool   `json:"show_browser"`
	WindowWidth  int    `json:"window_width"`
	WindowHeight int    `json:"window_height"`
}

type Config struct {
	CacheDir string `json:"cache_dir"`
	// WorkDir defaults to a hidden directory inside CacheDir so commits stay on one filesystem.
	WorkDir  string              `json:"work_dir"`
	Location string              `json:"location"`
	Listen   string              `json:"listen"`
	Database migrations.Database `json:"database"`
	Portal   PortalConfig        `json:"portal"`
	Browser  BrowserConfig       `json:"browser"`
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func defaultConfig() Config {
	return Config{
		CacheDir: "bills",
		Location: chrono.DefaultLocation,
		Listen:   ":8080",
		Database: migrations.Database{File: "billfetch.db"},
		Portal: PortalConfig{
			Url:                   portal.DefaultPortalURL,
			ElementTimeoutSeconds: int(portal.DefaultElementTimeout / time.Second),
			ScrollSettleSeconds:   int(portal.DefaultScrollSettle / time.Second),
			WindowSettleSeconds:   int(portal.DefaultWindowSettle / time.Second),
			PollIntervalSeconds:   int(portal.DefaultPollInterval / time.Second),
			PollCeilingSeconds:    int(portal.DefaultPollCeiling / time.Second),
			Detector:              "poll",
		},
		Browser: BrowserConfig{
			UserAgent:    portal.DefaultUserAgent,
			WindowWidth:  portal.DefaultWindowWidth,
			WindowHeight: portal.DefaultWindowHeight,
		},
	}
}

func readConfig(path string) (Config, error) {
	cfg, err := configutil.ReadConfigWithDefaults(path, defaultConfig())
	if err != nil {
		return Config{}, err
	}
	if cfg.WorkDir == "" {
		cfg.WorkDir = filepath.Join(cfg.CacheDir, ".downloads")
	}
	return cfg, nil
}

func (c Config) engineConfig() portal.EngineConfig {
	return portal.EngineConfig{
		PortalURL:      c.Portal.Url,
		WorkDir:        c.WorkDir,
		ElementTimeout: seconds(c.Portal.ElementTimeoutSeconds),
		ScrollSettle:   seconds(c.Portal.ScrollSettleSeconds),
		WindowSettle:   seconds(c.Portal.WindowSettleSeconds),
		Session: portal.SessionConfig{
			ExecPath:     c.Browser.ExecPath,
			UserAgent:    c.Browser.UserAgent,
			ShowBrowser:  c.Browser.ShowBrowser,
			WindowWidth:  c.Browser.WindowWidth,
			WindowHeight: c.Browser.WindowHeight,
		},
	}
}
