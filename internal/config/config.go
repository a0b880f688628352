// Package config loads runtime configuration for the inference engine:
// which model to load, how to load it, sampler defaults, and quantizer
// defaults. Precedence is defaults, then a YAML file, then environment
// variables, each layer overlaid onto the last.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures model selection, runtime, sampler, quantizer and
// logging settings for the engine.
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Runtime  RuntimeConfig  `yaml:"runtime"`
	Sampler  SamplerConfig  `yaml:"sampler"`
	Quantize QuantizeConfig `yaml:"quantize"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ModelConfig selects the container file and the architecture to bind
// it to; the format never encodes its own architecture (§9), so the
// caller always supplies one.
type ModelConfig struct {
	Path         string `yaml:"path"`
	Architecture string `yaml:"architecture"` // llama | bloom | gpt2 | gptj | codegen | neox
	PreferMmap   *bool  `yaml:"prefer_mmap"`
	Mlock        *bool  `yaml:"mlock"`
}

// RuntimeConfig governs the size of the computation performed per call.
type RuntimeConfig struct {
	ContextTokens        int  `yaml:"context_tokens"`
	BatchSize            int  `yaml:"batch_size"`
	Threads              int  `yaml:"threads"`
	IncreasedDeterminism bool `yaml:"increased_determinism"`
}

// SamplerConfig holds the default sampling pipeline parameters (§4.5).
type SamplerConfig struct {
	Temperature        float64 `yaml:"temperature"`
	TopK               int     `yaml:"top_k"`
	TopP               float64 `yaml:"top_p"`
	RepeatPenalty      float64 `yaml:"repeat_penalty"`
	RepeatLastN        int     `yaml:"repeat_last_n"`
	Seed               int64   `yaml:"seed"`
	MaximumTokenCount   int    `yaml:"maximum_token_count"`
	PlayBackPrevious   bool    `yaml:"play_back_previous_tokens"`
}

// QuantizeConfig holds quantizer settings (§4.7). cmd/ggufquant does
// not read them (it takes its target from --target), and
// internal/quantize skips tensors by rank, not by NeverQuantizePrefix.
type QuantizeConfig struct {
	TargetType          string   `yaml:"target_type"` // q4_0 | q4_1 | q4_2 | q5_0 | q5_1 | q8_0
	NeverQuantizePrefix []string `yaml:"never_quantize_prefix"`
}

// LoggingConfig governs the stdlib-log-based diagnostics sink.
type LoggingConfig struct {
	ToFile bool `yaml:"to_file"`
}

const defaultConfigFile = "ggufrt.yaml"

// boolPtr returns a pointer to the given bool value, used for *bool
// config fields that need to distinguish "not set" from "false".
func boolPtr(b bool) *bool { return &b }

// Default returns a Config pre-populated with opinionated defaults.
func Default() Config {
	return Config{
		Model: ModelConfig{
			Architecture: "llama",
			PreferMmap:   boolPtr(true),
			Mlock:        boolPtr(false),
		},
		Runtime: RuntimeConfig{
			ContextTokens: 2048,
			BatchSize:     8,
			Threads:       4,
		},
		Sampler: SamplerConfig{
			Temperature:      0.8,
			TopK:             40,
			TopP:             0.95,
			RepeatPenalty:    1.1,
			RepeatLastN:      64,
			MaximumTokenCount: 256,
		},
		Quantize: QuantizeConfig{
			TargetType:          "q4_0",
			NeverQuantizePrefix: []string{"norm"},
		},
		Logging: LoggingConfig{
			ToFile: false,
		},
	}
}

// Resolve loads configuration from the default search path (or the
// file named by GGUFRT_CONFIG) and applies environment overrides on
// top of it.
func Resolve() (Config, error) {
	cfg := Default()

	path := strings.TrimSpace(os.Getenv("GGUFRT_CONFIG"))
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	} else if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return cfg, fmt.Errorf("provided GGUFRT_CONFIG file %q not found", path)
	}

	if path != "" {
		loaded, err := loadFile(path)
		if err != nil {
			return cfg, err
		}
		cfg = merge(cfg, loaded)
	}

	applyEnvOverrides(&cfg)

	return cfg, nil
}

func loadFile(path string) (Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %q: %w", path, err)
	}

	return cfg, nil
}

// merge overlays non-zero override values onto the base config. Plain
// bool fields can only be toggled on via YAML override; fields that
// must be toggled off (mmap, mlock) use *bool.
func merge(base, override Config) Config {
	result := base

	if override.Model.Path != "" {
		result.Model.Path = override.Model.Path
	}
	if override.Model.Architecture != "" {
		result.Model.Architecture = override.Model.Architecture
	}
	if override.Model.PreferMmap != nil {
		result.Model.PreferMmap = override.Model.PreferMmap
	}
	if override.Model.Mlock != nil {
		result.Model.Mlock = override.Model.Mlock
	}

	if override.Runtime.ContextTokens != 0 {
		result.Runtime.ContextTokens = override.Runtime.ContextTokens
	}
	if override.Runtime.BatchSize != 0 {
		result.Runtime.BatchSize = override.Runtime.BatchSize
	}
	if override.Runtime.Threads != 0 {
		result.Runtime.Threads = override.Runtime.Threads
	}
	if override.Runtime.IncreasedDeterminism {
		result.Runtime.IncreasedDeterminism = true
	}

	s := override.Sampler
	if s.Temperature != 0 {
		result.Sampler.Temperature = s.Temperature
	}
	if s.TopK != 0 {
		result.Sampler.TopK = s.TopK
	}
	if s.TopP != 0 {
		result.Sampler.TopP = s.TopP
	}
	if s.RepeatPenalty != 0 {
		result.Sampler.RepeatPenalty = s.RepeatPenalty
	}
	if s.RepeatLastN != 0 {
		result.Sampler.RepeatLastN = s.RepeatLastN
	}
	if s.Seed != 0 {
		result.Sampler.Seed = s.Seed
	}
	if s.MaximumTokenCount != 0 {
		result.Sampler.MaximumTokenCount = s.MaximumTokenCount
	}
	if s.PlayBackPrevious {
		result.Sampler.PlayBackPrevious = true
	}

	if override.Quantize.TargetType != "" {
		result.Quantize.TargetType = override.Quantize.TargetType
	}
	if len(override.Quantize.NeverQuantizePrefix) != 0 {
		result.Quantize.NeverQuantizePrefix = append([]string(nil), override.Quantize.NeverQuantizePrefix...)
	}

	if override.Logging.ToFile {
		result.Logging.ToFile = true
	}

	return result
}

func applyEnvOverrides(cfg *Config) {
	if v := strings.TrimSpace(os.Getenv("GGUFRT_MODEL_PATH")); v != "" {
		cfg.Model.Path = v
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_ARCH")); v != "" {
		cfg.Model.Architecture = v
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_PREFER_MMAP")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Model.PreferMmap = boolPtr(b)
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_MLOCK")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Model.Mlock = boolPtr(b)
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_CONTEXT_TOKENS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.ContextTokens = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_BATCH_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.BatchSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_THREADS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Runtime.Threads = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_TEMPERATURE")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Sampler.Temperature = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_TOP_K")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Sampler.TopK = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_TOP_P")); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.Sampler.TopP = f
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_SEED")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Sampler.Seed = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_QUANTIZE_TARGET")); v != "" {
		cfg.Quantize.TargetType = v
	}
	if v := strings.TrimSpace(os.Getenv("GGUFRT_LOG_TO_FILE")); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Logging.ToFile = b
		}
	}
}

// PreferMmap reports whether the loader should prefer mmap-backed
// tensor storage, defaulting to false if unset.
func (c Config) PreferMmap() bool {
	return c.Model.PreferMmap != nil && *c.Model.PreferMmap
}

// MlockEnabled reports whether loaded pages should be locked in RAM.
func (c Config) MlockEnabled() bool {
	return c.Model.Mlock != nil && *c.Model.Mlock
}
