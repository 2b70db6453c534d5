package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/dmitrijs2005/refstore/internal/flagx"
	"github.com/dmitrijs2005/refstore/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Durations use
// timex.Duration so both "15m" and integer nanoseconds are accepted.
type JsonConfig struct {
	DatabaseDSN      string         `json:"database_dsn"`
	RedisAddr        string         `json:"redis_addr"`
	RedisDB          int            `json:"redis_db"`
	CacheTTL         timex.Duration `json:"cache_ttl"`
	SecretKey        string         `json:"secret_key"`
	S3RootUser       string         `json:"s3_root_user"`
	S3RootPassword   string         `json:"s3_root_password"`
	S3Bucket         string         `json:"s3_bucket"`
	S3Region         string         `json:"s3_region"`
	S3BaseEndpoint   string         `json:"s3_base_endpoint"`
	PresignTTL       timex.Duration `json:"presign_ttl"`
	MaxValueLength   int            `json:"max_value_length"`
	DataBatchSize    int            `json:"data_batch_size"`
	ItemCacheSize    int            `json:"item_cache_size"`
	MetricsNamespace string         `json:"metrics_namespace"`
	MetricsAddr      string         `json:"metrics_addr"`
	LogLevel         string         `json:"log_level"`
}

// parseJson overlays values from the file named by -c/-config. Keys missing
// from the file keep their current value. An unreadable file or invalid JSON
// panics, as configuration errors are fatal at startup.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}
	if err := overlayJson(config, jsonConfigFile); err != nil {
		panic(err)
	}
}

// LoadFile builds a Config from defaults and the JSON file at path, without
// looking at the command line. An empty path yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := &Config{}
	cfg.LoadDefaults()
	if path == "" {
		return cfg, nil
	}
	if err := overlayJson(cfg, path); err != nil {
		return nil, err
	}
	return cfg, nil
}

func overlayJson(config *Config, path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	c := &JsonConfig{}
	if err := json.Unmarshal(file, c); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.RedisAddr, c.RedisAddr)
	setInt(&config.RedisDB, c.RedisDB)
	if c.CacheTTL.Duration > 0 {
		config.CacheTTL = c.CacheTTL.Duration
	}
	setString(&config.SecretKey, c.SecretKey)
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
	if c.PresignTTL.Duration > 0 {
		config.PresignTTL = c.PresignTTL.Duration
	}
	setInt(&config.MaxValueLength, c.MaxValueLength)
	setInt(&config.DataBatchSize, c.DataBatchSize)
	setInt(&config.ItemCacheSize, c.ItemCacheSize)
	setString(&config.MetricsNamespace, c.MetricsNamespace)
	setString(&config.MetricsAddr, c.MetricsAddr)
	setString(&config.LogLevel, c.LogLevel)
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setInt(dst *int, v int) {
	if v != 0 {
		*dst = v
	}
}
