package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Bucket is one pattern-detection group: any action name starting with one
// of the prefixes belongs to the bucket. Buckets are checked in order and
// the first match wins.
type Bucket struct {
	Name     string   `toml:"name"`
	Prefixes []string `toml:"prefixes"`
}

type FuzzConfig struct {
	Prefixes         []string `toml:"prefixes"`
	Suffixes         []string `toml:"suffixes"`
	Parallelism      int      `toml:"parallelism"`
	DelayMS          int      `toml:"delay_ms"`
	FailureThreshold int      `toml:"failure_threshold"`
	AnomalyThreshold int      `toml:"anomaly_threshold"`
}

type Config struct {
	// ActionKeys are object member names checked by the action-name
	// heuristic when no top-level string is present.
	ActionKeys  []string   `toml:"action_keys"`
	SampleLimit int        `toml:"sample_limit"`
	Buckets     []Bucket   `toml:"buckets"`
	Fuzz        FuzzConfig `toml:"fuzz"`
}

func (c FuzzConfig) Delay() time.Duration {
	return time.Duration(c.DelayMS) * time.Millisecond
}

// Default returns the configuration used when no file is supplied.
func Default() Config {
	return Config{
		ActionKeys:  []string{"cmd", "action"},
		SampleLimit: 5,
		Buckets: []Bucket{
			{Name: "location", Prefixes: []string{"city.", "map.", "field."}},
			{Name: "entity", Prefixes: []string{"hero.", "army.", "item."}},
			{Name: "movement", Prefixes: []string{"march.", "move.", "scout."}},
			{Name: "group", Prefixes: []string{"alliance.", "guild.", "chat."}},
		},
		Fuzz: FuzzConfig{
			Prefixes:         []string{"city", "hero", "march", "alliance", "server"},
			Suffixes:         []string{"info", "list", "enter", "update", "get"},
			Parallelism:      1,
			DelayMS:          250,
			FailureThreshold: 5,
			AnomalyThreshold: 10,
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	applyDefaults(&cfg)
	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	def := Default()
	if len(cfg.ActionKeys) == 0 {
		cfg.ActionKeys = def.ActionKeys
	}
	if cfg.SampleLimit <= 0 {
		cfg.SampleLimit = def.SampleLimit
	}
	if cfg.Fuzz.Parallelism <= 0 {
		cfg.Fuzz.Parallelism = def.Fuzz.Parallelism
	}
	if cfg.Fuzz.DelayMS <= 0 {
		cfg.Fuzz.DelayMS = def.Fuzz.DelayMS
	}
	if cfg.Fuzz.FailureThreshold <= 0 {
		cfg.Fuzz.FailureThreshold = def.Fuzz.FailureThreshold
	}
	if cfg.Fuzz.AnomalyThreshold <= 0 {
		cfg.Fuzz.AnomalyThreshold = def.Fuzz.AnomalyThreshold
	}
	if len(cfg.Fuzz.Prefixes) == 0 {
		cfg.Fuzz.Prefixes = def.Fuzz.Prefixes
	}
	if len(cfg.Fuzz.Suffixes) == 0 {
		cfg.Fuzz.Suffixes = def.Fuzz.Suffixes
	}
}

func Validate(cfg Config) error {
	for i, b := range cfg.Buckets {
		if strings.TrimSpace(b.Name) == "" {
			return fmt.Errorf("bucket[%d] missing name", i)
		}
		if len(b.Prefixes) == 0 {
			return fmt.Errorf("bucket %q has no prefixes", b.Name)
		}
	}
	for _, k := range cfg.ActionKeys {
		if strings.TrimSpace(k) == "" {
			return fmt.Errorf("empty action key")
		}
	}
	return nil
}

// Classifier returns the first-match-wins bucket lookup for the config.
func (c Config) Classifier() func(name string) string {
	buckets := c.Buckets
	return func(name string) string {
		for _, b := range buckets {
			for _, p := range b.Prefixes {
				if strings.HasPrefix(name, p) {
					return b.Name
				}
			}
		}
		return ""
	}
}
