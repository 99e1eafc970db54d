// Package config loads the daemon's YAML configuration.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration. It is read once at startup and
// passed by value to the components that need it.
type Config struct {
	NNTP     NNTPConfig     `yaml:"nntp"`
	Articles ArticlesConfig `yaml:"articles"`
	Frontend FrontendConfig `yaml:"frontend"`
	Peers    []PeerConfig   `yaml:"peers"`
	Feed     FeedConfig     `yaml:"feed"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Log      LogConfig      `yaml:"log"`
}

// NNTPConfig configures the listener and protocol limits.
type NNTPConfig struct {
	Bind string `yaml:"bind"`

	// InstanceName is used in generated Message-IDs and the Path header.
	InstanceName string `yaml:"instance_name"`

	// AuthDB is the path to the login database. Empty disables reader auth.
	AuthDB string `yaml:"authdb"`

	MaxLineLength  int           `yaml:"max_line_length"`
	MaxArticleSize int           `yaml:"max_article_size"`
	IdleTimeout    time.Duration `yaml:"idle_timeout"`
	AllowPost      *bool         `yaml:"allow_post"`
}

// PostingAllowed reports allow_post, which defaults to true.
func (c NNTPConfig) PostingAllowed() bool {
	return c.AllowPost == nil || *c.AllowPost
}

type ArticlesConfig struct {
	StorePath string `yaml:"store_path"`
	// Index is "bbolt" or "badger".
	Index string `yaml:"index"`
	// Hash is "blake3" or "sha512". It cannot change once a store exists.
	Hash string `yaml:"hash"`
}

// FrontendConfig selects the frontend notifier.
type FrontendConfig struct {
	// Type is "exec", "staticfile" or "none".
	Type string `yaml:"type"`

	// Exec is the program run with each accepted article's path.
	Exec string `yaml:"exec"`

	TemplateDir     string `yaml:"template_dir"`
	OutDir          string `yaml:"out_dir"`
	TemplateDialect string `yaml:"template_dialect"`
	MaxPages        int    `yaml:"max_pages"`

	NewsgroupPrefix string        `yaml:"newsgroup_prefix"`
	Workers         int           `yaml:"workers"`
	QueueSize       int           `yaml:"queue_size"`
	Timeout         time.Duration `yaml:"timeout"`
}

// PeerConfig is one outbound feed.
type PeerConfig struct {
	Name     string `yaml:"name"`
	Address  string `yaml:"address"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

type FeedConfig struct {
	KnowledgeSize     int           `yaml:"knowledge_size"`
	QueueSize         int           `yaml:"queue_size"`
	OfferTimeout      time.Duration `yaml:"offer_timeout"`
	ReconnectInterval time.Duration `yaml:"reconnect_interval"`
}

type MetricsConfig struct {
	// Bind is the /metrics listen address; empty disables it.
	Bind string `yaml:"bind"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default returns a configuration with every default applied.
func Default() Config {
	var c Config
	c.applyDefaults()
	return c
}

func (c *Config) applyDefaults() {
	if c.NNTP.Bind == "" {
		c.NNTP.Bind = ":1199"
	}
	if c.NNTP.MaxLineLength == 0 {
		c.NNTP.MaxLineLength = 4096
	}
	if c.NNTP.MaxArticleSize == 0 {
		c.NNTP.MaxArticleSize = 10 << 20
	}
	if c.NNTP.IdleTimeout == 0 {
		c.NNTP.IdleTimeout = 5 * time.Minute
	}
	if c.Articles.StorePath == "" {
		c.Articles.StorePath = "./data"
	}
	if c.Articles.Index == "" {
		c.Articles.Index = "bbolt"
	}
	if c.Articles.Hash == "" {
		c.Articles.Hash = "blake3"
	}
	if c.Frontend.Type == "" {
		c.Frontend.Type = "none"
	}
	if c.Frontend.TemplateDialect == "" {
		c.Frontend.TemplateDialect = "html"
	}
	if c.Frontend.MaxPages == 0 {
		c.Frontend.MaxPages = 10
	}
	if c.Frontend.NewsgroupPrefix == "" {
		c.Frontend.NewsgroupPrefix = "overchan."
	}
	if c.Frontend.Workers == 0 {
		c.Frontend.Workers = 4
	}
	if c.Frontend.QueueSize == 0 {
		c.Frontend.QueueSize = 256
	}
	if c.Frontend.Timeout == 0 {
		c.Frontend.Timeout = 30 * time.Second
	}
	if c.Feed.KnowledgeSize == 0 {
		c.Feed.KnowledgeSize = 65536
	}
	if c.Feed.QueueSize == 0 {
		c.Feed.QueueSize = 1024
	}
	if c.Feed.OfferTimeout == 0 {
		c.Feed.OfferTimeout = time.Minute
	}
	if c.Feed.ReconnectInterval == 0 {
		c.Feed.ReconnectInterval = 30 * time.Second
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "text"
	}
}

// Parse decodes YAML, applies defaults and validates the result. Unknown
// keys are an error.
func Parse(data []byte) (Config, error) {
	var c Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&c); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	c.applyDefaults()
	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

// Load reads and parses the configuration file at path.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.NNTP.InstanceName == "" {
		return fmt.Errorf("nntp.instance_name is required")
	}
	if c.NNTP.MaxLineLength < 512 {
		return fmt.Errorf("nntp.max_line_length must be at least 512, got %d", c.NNTP.MaxLineLength)
	}
	if c.NNTP.MaxArticleSize <= 0 {
		return fmt.Errorf("nntp.max_article_size must be positive")
	}
	if c.NNTP.IdleTimeout < 0 {
		return fmt.Errorf("nntp.idle_timeout must not be negative")
	}

	switch c.Articles.Index {
	case "bbolt", "badger":
	default:
		return fmt.Errorf("articles.index: unknown index %q (supported: bbolt, badger)", c.Articles.Index)
	}
	switch c.Articles.Hash {
	case "blake3", "sha512":
	default:
		return fmt.Errorf("articles.hash: unknown hash %q (supported: blake3, sha512)", c.Articles.Hash)
	}

	switch c.Frontend.Type {
	case "none":
	case "exec":
		if c.Frontend.Exec == "" {
			return fmt.Errorf("frontend.exec is required for the exec frontend")
		}
	case "staticfile":
		if c.Frontend.OutDir == "" {
			return fmt.Errorf("frontend.out_dir is required for the staticfile frontend")
		}
		if c.Frontend.MaxPages <= 0 {
			return fmt.Errorf("frontend.max_pages must be positive, got %d", c.Frontend.MaxPages)
		}
		if c.Frontend.TemplateDialect != "html" {
			return fmt.Errorf("frontend.template_dialect: unknown dialect %q (supported: html)", c.Frontend.TemplateDialect)
		}
	default:
		return fmt.Errorf("frontend.type: unknown type %q (supported: exec, staticfile, none)", c.Frontend.Type)
	}

	seen := make(map[string]bool)
	for i, p := range c.Peers {
		if p.Name == "" {
			return fmt.Errorf("peers[%d]: name is required", i)
		}
		if p.Address == "" {
			return fmt.Errorf("peer %q: address is required", p.Name)
		}
		if seen[p.Name] {
			return fmt.Errorf("peer %q: duplicate name", p.Name)
		}
		seen[p.Name] = true
	}
	return nil
}
