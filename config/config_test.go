package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{"ELASTICSEARCH_HOST", "LISTEN_ADDR", "MSEARCH_FORMAT", "BULK_FORMAT"} {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, DefaultHost, cfg.ElasticsearchHost)
	assert.Equal(t, ":8080", cfg.Listen)
	assert.Equal(t, "json", cfg.MultiSearchFormat)
	assert.Equal(t, "json", cfg.BulkFormat)
}

func TestLoadPrecedence(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Chdir(dir)

	file := filepath.Join(dir, "relay.json")
	require.NoError(t, os.WriteFile(file,
		[]byte(`{"elasticsearch-host": "http://from-file:9200", "listen": ":9000", "bulk-format": "ndjson"}`), 0o600))

	t.Setenv("ELASTICSEARCH_HOST", "es.internal:9201")

	cfg, err := Load(file)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "http://es.internal:9201", cfg.ElasticsearchHost)
	assert.Equal(t, ":9000", cfg.Listen)
	assert.Equal(t, "ndjson", cfg.BulkFormat)
	assert.Equal(t, "json", cfg.MultiSearchFormat)
	assert.Len(t, cfg.ClusterOptions(), 2)
}

func TestLoadDotEnv(t *testing.T) {
	clearEnv(t)
	os.Unsetenv("MSEARCH_FORMAT")
	dir := t.TempDir()
	t.Chdir(dir)

	require.NoError(t, os.WriteFile(".env", []byte("MSEARCH_FORMAT=ndjson\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("MSEARCH_FORMAT") })

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ndjson", cfg.MultiSearchFormat)
}

func TestLoadMalformedDotEnv(t *testing.T) {
	clearEnv(t)
	t.Chdir(t.TempDir())

	require.NoError(t, os.WriteFile(".env", []byte("MSEARCH-FORMAT=ndjson\n"), 0o600))

	_, err := Load("")
	assert.ErrorContains(t, err, ".env")
}

func TestLoadMissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		host    string
		wantErr bool
	}{
		{name: "default", mutate: func(*Config) {}, host: DefaultHost},
		{name: "trailing slash", mutate: func(c *Config) { c.ElasticsearchHost = "https://es:9200/" }, host: "https://es:9200"},
		{name: "bare host port", mutate: func(c *Config) { c.ElasticsearchHost = "localhost:9200" }, host: "http://localhost:9200"},
		{name: "empty host", mutate: func(c *Config) { c.ElasticsearchHost = "" }, wantErr: true},
		{name: "bad scheme", mutate: func(c *Config) { c.ElasticsearchHost = "ftp://es" }, wantErr: true},
		{name: "bad format", mutate: func(c *Config) { c.BulkFormat = "csv" }, wantErr: true},
		{name: "no listen", mutate: func(c *Config) { c.Listen = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.host, cfg.ElasticsearchHost)
		})
	}
}
