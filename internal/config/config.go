// Package config loads and validates the JSON runtime configuration
// for a rtcore process: the channel list, LVC/tape sources, the
// subscription-journal path, the optional NATS mirror bus, the admin
// HTTP address, and scheduler intervals (SPEC_FULL §6.6). Grounded on
// the teacher's config.Init/config.Validate pattern.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/marketfeed/rtcore/internal/rtlog"
)

// ChannelConfig describes one SubscriptionChannel or PublishChannel
// to bring up at startup.
type ChannelConfig struct {
	Name     string `json:"name"`
	Hosts    string `json:"hosts"` // comma-separated failover target list
	Protocol string `json:"protocol"` // "binary", "mf", or "xml"
	Mode     string `json:"mode"`     // "sub" or "pub"
	User     string `json:"user,omitempty"`
	Cache    bool   `json:"cache"`
	Snapshot bool   `json:"snapshot"`
}

// SourceConfig names a local path or an s3:// object to be fetched
// before mapping.
type SourceConfig struct {
	Path string `json:"path"`
}

// SchedulerConfig configures the periodic maintenance jobs gocron
// drives from internal/runtime.
type SchedulerConfig struct {
	CacheEvictionInterval     string `json:"cacheEvictionInterval,omitempty"`
	LVCFreshnessInterval      string `json:"lvcFreshnessInterval,omitempty"`
	JournalCompactionInterval string `json:"journalCompactionInterval,omitempty"`
}

func orDefault(s string, def time.Duration) time.Duration {
	if s == "" {
		return def
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

// CacheEvictionIntervalDuration, LVCFreshnessIntervalDuration, and
// JournalCompactionIntervalDuration parse the SchedulerConfig's string
// intervals, defaulting if absent or malformed.
func (s SchedulerConfig) CacheEvictionIntervalDuration() time.Duration {
	return orDefault(s.CacheEvictionInterval, 5*time.Minute)
}
func (s SchedulerConfig) LVCFreshnessIntervalDuration() time.Duration {
	return orDefault(s.LVCFreshnessInterval, 30*time.Second)
}
func (s SchedulerConfig) JournalCompactionIntervalDuration() time.Duration {
	return orDefault(s.JournalCompactionInterval, time.Hour)
}

// Config is the top-level runtime configuration document.
type Config struct {
	Channels      []ChannelConfig         `json:"channels"`
	LVCSources    map[string]SourceConfig `json:"lvcSources,omitempty"`
	TapeSources   map[string]SourceConfig `json:"tapeSources,omitempty"`
	JournalDB     string                  `json:"journalDB,omitempty"`
	NatsBusURL    string                  `json:"natsBusURL,omitempty"`
	AdminAddr     string                  `json:"adminAddr,omitempty"`
	Scheduler     SchedulerConfig         `json:"scheduler,omitempty"`
}

// Schema is the embedded JSON schema every config document is
// validated against before being decoded, exactly like the teacher's
// schema.Config/schema.Validate pair.
const Schema = `{
  "type": "object",
  "properties": {
    "channels": {
      "type": "array",
      "items": {
        "type": "object",
        "properties": {
          "name": {"type": "string"},
          "hosts": {"type": "string"},
          "protocol": {"type": "string", "enum": ["binary", "mf", "xml"]},
          "mode": {"type": "string", "enum": ["sub", "pub"]},
          "user": {"type": "string"},
          "cache": {"type": "boolean"},
          "snapshot": {"type": "boolean"}
        },
        "required": ["name", "hosts", "protocol", "mode"]
      }
    },
    "lvcSources": {"type": "object"},
    "tapeSources": {"type": "object"},
    "journalDB": {"type": "string"},
    "natsBusURL": {"type": "string"},
    "adminAddr": {"type": "string"},
    "scheduler": {"type": "object"}
  },
  "required": ["channels"]
}`

// Validate compiles schema and checks instance against it, exactly
// like the teacher's config.Validate.
func Validate(schema string, instance []byte) error {
	sch, err := jsonschema.CompileString("rtcore-config.json", schema)
	if err != nil {
		return fmt.Errorf("config: compiling schema: %w", err)
	}

	var v any
	if err := json.Unmarshal(instance, &v); err != nil {
		return fmt.Errorf("config: decoding instance: %w", err)
	}

	if err := sch.Validate(v); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

// Load reads, validates, and strictly decodes the config file at path.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	if err := Validate(Schema, raw); err != nil {
		return nil, err
	}

	var cfg Config
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if len(cfg.Channels) < 1 {
		return nil, fmt.Errorf("config: at least one channel is required")
	}
	for _, ch := range cfg.Channels {
		if ch.Mode != "sub" && ch.Mode != "pub" {
			return nil, fmt.Errorf("config: channel %q: mode must be sub or pub, got %q", ch.Name, ch.Mode)
		}
	}

	rtlog.Infof("config: loaded %d channel(s) from %s", len(cfg.Channels), path)
	return &cfg, nil
}
