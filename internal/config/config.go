// Package config loads the sitecache configuration file and turns it into
// router versions.
package config

import (
	"fmt"
	"maps"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/valhallatattoo/sitecache/internal/bgsync"
	"github.com/valhallatattoo/sitecache/internal/notify"
	"github.com/valhallatattoo/sitecache/internal/router"
	"github.com/valhallatattoo/sitecache/internal/routing"
)

// CacheNamePrefix is prepended to the version when no cache name is set.
const CacheNamePrefix = "valhalla-tattoo-v"

// Config represents the sitecache.yaml structure.
type Config struct {
	Version            string            `yaml:"version"`
	CacheName          string            `yaml:"cache_name"`
	Origin             string            `yaml:"origin"`
	SkipWaiting        bool              `yaml:"skip_waiting"`
	ClaimClients       bool              `yaml:"claim_clients"`
	InstallConcurrency int               `yaml:"install_concurrency,omitempty"`
	Precache           []string          `yaml:"precache"`
	Rules              RuleTables        `yaml:"rules"`
	TrustedOrigins     []string          `yaml:"trusted_origins"`
	Sync               map[string]string `yaml:"sync"`
	Notifications      Notifications     `yaml:"notifications"`
}

// RuleTables are the marker lists of the routing rules.
type RuleTables struct {
	NetworkOnly          []string `yaml:"network_only"`
	NetworkFirst         []string `yaml:"network_first"`
	StaleWhileRevalidate []string `yaml:"stale_while_revalidate"`
	StaticExtensions     []string `yaml:"static_extensions"`
}

// Notifications configures how push payloads are shown.
type Notifications struct {
	Icon       string `yaml:"icon"`
	Badge      string `yaml:"badge,omitempty"`
	DefaultTag string `yaml:"default_tag"`
	OpenURL    string `yaml:"open_url"`
}

// Load reads a config file. A .js path is treated as a legacy worker
// script and imported; anything else is parsed as YAML.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".js") {
		s, err := ImportScript(data, ImportOptions{})
		if err != nil {
			return nil, err
		}
		return FromScript(s)
	}
	return Parse(data)
}

// Parse parses and validates YAML config data. Keys missing from data
// keep their default values.
func Parse(data []byte) (*Config, error) {
	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	cfg.normalize()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromScript overlays what was found in a legacy worker script on the
// defaults.
func FromScript(s *Script) (*Config, error) {
	cfg := defaults()
	if s.Version != "" {
		cfg.Version = s.Version
	}
	cfg.CacheName = s.CacheName
	if len(s.Precache) > 0 {
		cfg.Precache = s.Precache
	}
	if len(s.NetworkOnly) > 0 {
		cfg.Rules.NetworkOnly = s.NetworkOnly
	}
	if len(s.NetworkFirst) > 0 {
		cfg.Rules.NetworkFirst = s.NetworkFirst
	}
	if len(s.StaleWhileRevalidate) > 0 {
		cfg.Rules.StaleWhileRevalidate = s.StaleWhileRevalidate
	}
	if len(s.TrustedOrigins) > 0 {
		cfg.TrustedOrigins = s.TrustedOrigins
	}
	cfg.normalize()
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c *Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) normalize() {
	c.Version = strings.TrimSpace(c.Version)
	if c.CacheName == "" && c.Version != "" {
		c.CacheName = CacheNamePrefix + c.Version
	}
	for i, ext := range c.Rules.StaticExtensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext != "" && !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		c.Rules.StaticExtensions[i] = ext
	}
	c.Origin = strings.TrimSuffix(strings.TrimSpace(c.Origin), "/")
}

// WithOrigin returns a copy of c pointing at a different site origin.
func (c *Config) WithOrigin(origin string) (*Config, error) {
	cp := c.clone()
	cp.Origin = origin
	cp.normalize()
	if err := validate(cp); err != nil {
		return nil, err
	}
	return cp, nil
}

func (c *Config) clone() *Config {
	cp := *c
	cp.Precache = slices.Clone(c.Precache)
	cp.Rules = RuleTables{
		NetworkOnly:          slices.Clone(c.Rules.NetworkOnly),
		NetworkFirst:         slices.Clone(c.Rules.NetworkFirst),
		StaleWhileRevalidate: slices.Clone(c.Rules.StaleWhileRevalidate),
		StaticExtensions:     slices.Clone(c.Rules.StaticExtensions),
	}
	cp.TrustedOrigins = slices.Clone(c.TrustedOrigins)
	cp.Sync = maps.Clone(c.Sync)
	return &cp
}

// RoutingRules returns the routing tables.
func (c *Config) RoutingRules() routing.Rules {
	return routing.Rules{
		NetworkOnly:          slices.Clone(c.Rules.NetworkOnly),
		NetworkFirst:         slices.Clone(c.Rules.NetworkFirst),
		StaleWhileRevalidate: slices.Clone(c.Rules.StaleWhileRevalidate),
		StaticExtensions:     slices.Clone(c.Rules.StaticExtensions),
		TrustedOrigins:       slices.Clone(c.TrustedOrigins),
	}
}

// OriginURL parses the site origin.
func (c *Config) OriginURL() (*url.URL, error) {
	u, err := url.Parse(c.Origin)
	if err != nil {
		return nil, fmt.Errorf("parse origin: %w", err)
	}
	return u, nil
}

// RouterConfig builds the configuration of a router version.
func (c *Config) RouterConfig() (router.Config, error) {
	origin, err := c.OriginURL()
	if err != nil {
		return router.Config{}, err
	}
	return router.Config{
		Version:            c.Version,
		CacheName:          c.CacheName,
		Origin:             origin,
		Precache:           slices.Clone(c.Precache),
		Rules:              c.RoutingRules(),
		SkipWaiting:        c.SkipWaiting,
		ClaimClients:       c.ClaimClients,
		InstallConcurrency: c.InstallConcurrency,
	}, nil
}

// SyncConfig builds the replayer configuration.
func (c *Config) SyncConfig() (bgsync.Config, error) {
	origin, err := c.OriginURL()
	if err != nil {
		return bgsync.Config{}, err
	}
	return bgsync.Config{Origin: origin, Endpoints: maps.Clone(c.Sync)}, nil
}

// NotifyOptions returns the notification display options.
func (c *Config) NotifyOptions() notify.Options {
	opts := notify.DefaultOptions()
	if c.Notifications.Icon != "" {
		opts.Icon = c.Notifications.Icon
	}
	if c.Notifications.Badge != "" {
		opts.Badge = c.Notifications.Badge
	} else if c.Notifications.Icon != "" {
		opts.Badge = c.Notifications.Icon
	}
	if c.Notifications.DefaultTag != "" {
		opts.DefaultTag = c.Notifications.DefaultTag
	}
	if c.Notifications.OpenURL != "" {
		opts.OpenURL = c.Notifications.OpenURL
	}
	return opts
}
