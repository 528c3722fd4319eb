package config

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v2"
)

type StoreCfg struct {
	LogLevel   string `json:"log_level" toml:"log_level" yaml:"log_level"`
	DataFolder string `json:"data_folder" toml:"data_folder" yaml:"data_folder"`

	ShardingEnabled bool   `json:"sharding_enabled" toml:"sharding_enabled" yaml:"sharding_enabled"`
	Durability      string `json:"durability" toml:"durability" yaml:"durability"` // "sync" or "relaxed"

	ReaderPoolSize   int `json:"reader_pool_size" toml:"reader_pool_size" yaml:"reader_pool_size"`
	WriterQueueDepth int `json:"writer_queue_depth" toml:"writer_queue_depth" yaml:"writer_queue_depth"`
	ReaderQueueDepth int `json:"reader_queue_depth" toml:"reader_queue_depth" yaml:"reader_queue_depth"`

	ReadQueueSoftLimit  int64 `json:"read_queue_soft_limit" toml:"read_queue_soft_limit" yaml:"read_queue_soft_limit"`
	ReadQueueHardLimit  int64 `json:"read_queue_hard_limit" toml:"read_queue_hard_limit" yaml:"read_queue_hard_limit"`
	FetchQueueSoftLimit int64 `json:"fetch_queue_soft_limit" toml:"fetch_queue_soft_limit" yaml:"fetch_queue_soft_limit"`
	FetchQueueHardLimit int64 `json:"fetch_queue_hard_limit" toml:"fetch_queue_hard_limit" yaml:"fetch_queue_hard_limit"`

	NormalReadTimeoutMs int `json:"normal_read_timeout_ms" toml:"normal_read_timeout_ms" yaml:"normal_read_timeout_ms"`
	FetchReadTimeoutMs  int `json:"fetch_read_timeout_ms" toml:"fetch_read_timeout_ms" yaml:"fetch_read_timeout_ms"`
	EagerReadTimeoutMs  int `json:"eager_read_timeout_ms" toml:"eager_read_timeout_ms" yaml:"eager_read_timeout_ms"`

	MetricsIntervalSec int `json:"metrics_interval_sec" toml:"metrics_interval_sec" yaml:"metrics_interval_sec"`
	LatencySampleRate  int `json:"latency_sample_rate" toml:"latency_sample_rate" yaml:"latency_sample_rate"`
}

var cfgStore StoreCfg

// DefaultStoreCfg is the baseline used for every knob left unset.
func DefaultStoreCfg() *StoreCfg {
	return &StoreCfg{
		LogLevel:            "info",
		Durability:          "relaxed",
		ReaderPoolSize:      8,
		WriterQueueDepth:    64,
		ReaderQueueDepth:    128,
		ReadQueueSoftLimit:  32,
		ReadQueueHardLimit:  64,
		FetchQueueSoftLimit: 8,
		FetchQueueHardLimit: 16,
		NormalReadTimeoutMs: 5000,
		FetchReadTimeoutMs:  30000,
		EagerReadTimeoutMs:  1000,
		MetricsIntervalSec:  60,
		LatencySampleRate:   16,
	}
}

func LoadStoreCfg(cfgPath string) error {
	file, err := os.Open(cfgPath)
	if err != nil {
		return err
	}
	defer file.Close()

	cfgStore = *DefaultStoreCfg()
	switch filepath.Ext(cfgPath) {
	case ".toml":
		if _, err := toml.NewDecoder(file).Decode(&cfgStore); err != nil {
			return err
		}
	default:
		if err := yaml.NewDecoder(file).Decode(&cfgStore); err != nil {
			return err
		}
	}

	configBytes, err := json.MarshalIndent(cfgStore, "", "  ")
	if err != nil {
		return err
	}
	log.Println("Running config:", string(configBytes))
	return nil
}

func StoreConfig() *StoreCfg {
	return &cfgStore
}

func (c *StoreCfg) NormalReadTimeout() time.Duration {
	return time.Duration(c.NormalReadTimeoutMs) * time.Millisecond
}

func (c *StoreCfg) FetchReadTimeout() time.Duration {
	return time.Duration(c.FetchReadTimeoutMs) * time.Millisecond
}

func (c *StoreCfg) EagerReadTimeout() time.Duration {
	return time.Duration(c.EagerReadTimeoutMs) * time.Millisecond
}

func (c *StoreCfg) MetricsInterval() time.Duration {
	return time.Duration(c.MetricsIntervalSec) * time.Second
}
