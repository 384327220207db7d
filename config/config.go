package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"go.askask.com/es-relay/cluster"
)

const (
	DefaultHost   = "http://elasticsearchserver:9200"
	DefaultListen = ":8080"
)

// Config holds the relay settings. JSON tags match the optional config file.
type Config struct {
	ElasticsearchHost string `json:"elasticsearch-host"`
	Listen            string `json:"listen"`
	MultiSearchFormat string `json:"msearch-format"`
	BulkFormat        string `json:"bulk-format"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ElasticsearchHost: DefaultHost,
		Listen:            DefaultListen,
		MultiSearchFormat: string(cluster.FormatJSON),
		BulkFormat:        string(cluster.FormatJSON),
	}
}

// Load builds the configuration from defaults, the optional JSON file and
// the environment, in that order. A .env file in the working directory is
// read first and never overrides variables already set; a missing one is
// fine, an unreadable one is an error.
func Load(configfile string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()

	if configfile != "" {
		if err := cfg.loadFile(configfile); err != nil {
			return nil, fmt.Errorf("loading configuration file '%s': %w", configfile, err)
		}
	}

	cfg.ElasticsearchHost = getEnv("ELASTICSEARCH_HOST", cfg.ElasticsearchHost)
	cfg.Listen = getEnv("LISTEN_ADDR", cfg.Listen)
	cfg.MultiSearchFormat = getEnv("MSEARCH_FORMAT", cfg.MultiSearchFormat)
	cfg.BulkFormat = getEnv("BULK_FORMAT", cfg.BulkFormat)

	return cfg, nil
}

func (c *Config) loadFile(file string) error {
	b, err := os.ReadFile(file)
	if err != nil {
		return err
	}
	// unset keys keep their current value
	return json.Unmarshal(b, c)
}

// Validate normalizes the cluster address and checks the batch formats.
func (c *Config) Validate() error {
	host := strings.TrimSpace(c.ElasticsearchHost)
	if host == "" {
		return errors.New("config: elasticsearch host is required")
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return fmt.Errorf("config: elasticsearch host: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: elasticsearch host: unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: elasticsearch host %q has no host", c.ElasticsearchHost)
	}
	c.ElasticsearchHost = strings.TrimSuffix(host, "/")

	if c.Listen == "" {
		return errors.New("config: listen address is required")
	}

	if _, err := cluster.ParseFormat(c.MultiSearchFormat); err != nil {
		return fmt.Errorf("config: msearch format: %w", err)
	}
	if _, err := cluster.ParseFormat(c.BulkFormat); err != nil {
		return fmt.Errorf("config: bulk format: %w", err)
	}
	return nil
}

// ClusterOptions returns the client options implied by the configuration.
// Call Validate first.
func (c *Config) ClusterOptions() []cluster.Option {
	msearch, _ := cluster.ParseFormat(c.MultiSearchFormat)
	bulk, _ := cluster.ParseFormat(c.BulkFormat)
	return []cluster.Option{
		cluster.WithMultiSearchFormat(msearch),
		cluster.WithBulkFormat(bulk),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
