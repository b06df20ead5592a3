// Package config loads engine configuration in layers: built-in defaults,
// then an optional YAML file, then MDSTUDY_* environment variables, then
// command-line flags. Later layers win.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/mdstudy/mdstudy/internal/fsrs"
	"github.com/mdstudy/mdstudy/internal/match"
)

// Config is the full engine configuration.
type Config struct {
	DB        string    `koanf:"db"`
	Addr      string    `koanf:"addr"`
	ReposDir  string    `koanf:"repos_dir"`
	Scheduler Scheduler `koanf:"scheduler"`
	Match     Match     `koanf:"match"`
	Session   Session   `koanf:"session"`
}

// Scheduler configures the memory model.
type Scheduler struct {
	Weights            []float64 `koanf:"weights"` // 19 values; empty keeps the defaults
	DesiredRetention   float64   `koanf:"desired_retention"`
	MaximumInterval    int       `koanf:"maximum_interval"`
	LearningStepsMin   []int     `koanf:"learning_steps_min"`   // minutes
	RelearningStepsMin []int     `koanf:"relearning_steps_min"` // minutes
	EasyBonus          float64   `koanf:"easy_bonus"`
	HardInterval       float64   `koanf:"hard_interval"`
}

// Match configures the content matcher.
type Match struct {
	// FuzzyThreshold is empirical; see the matcher package.
	FuzzyThreshold float64 `koanf:"fuzzy_threshold"`
}

// Session configures the study queue.
type Session struct {
	LearnAheadMinutes int `koanf:"learn_ahead_minutes"`
	NewLimit          int `koanf:"new_limit"`
	ReviewLimit       int `koanf:"review_limit"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		DB:       "mdstudy.db",
		Addr:     ":8632",
		ReposDir: "repos",
		Scheduler: Scheduler{
			DesiredRetention:   0.9,
			MaximumInterval:    36500,
			LearningStepsMin:   []int{1, 10},
			RelearningStepsMin: []int{10},
			EasyBonus:          1.3,
			HardInterval:       0.8,
		},
		Match: Match{
			FuzzyThreshold: match.DefaultFuzzyThreshold,
		},
		Session: Session{
			LearnAheadMinutes: 20,
			NewLimit:          20,
			ReviewLimit:       200,
		},
	}
}

// Load layers the optional YAML file at path, the environment, and the
// given flag set over the defaults. An empty path skips the file layer; a
// missing file at an explicitly given path is an error.
func Load(path string, flags *pflag.FlagSet) (Config, error) {
	cfg := Default()
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err != nil {
			return cfg, fmt.Errorf("config file %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return cfg, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	err := k.Load(env.Provider("MDSTUDY_", ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, "MDSTUDY_")), "__", ".")
	}), nil)
	if err != nil {
		return cfg, fmt.Errorf("failed to load environment: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.Provider(flags, ".", k), nil); err != nil {
			return cfg, fmt.Errorf("failed to load flags: %w", err)
		}
	}

	if err := k.Unmarshal("", &cfg); err != nil {
		return cfg, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Scheduler.DesiredRetention <= 0 || c.Scheduler.DesiredRetention >= 1 {
		return fmt.Errorf("desired retention %f out of range (0, 1)", c.Scheduler.DesiredRetention)
	}
	if c.Scheduler.MaximumInterval < 1 {
		return fmt.Errorf("maximum interval %d must be at least 1 day", c.Scheduler.MaximumInterval)
	}
	if n := len(c.Scheduler.Weights); n != 0 && n != len(fsrs.DefaultWeights) {
		return fmt.Errorf("scheduler weights must have %d values, got %d", len(fsrs.DefaultWeights), n)
	}
	if c.Match.FuzzyThreshold <= 0 || c.Match.FuzzyThreshold > 1 {
		return fmt.Errorf("fuzzy threshold %f out of range (0, 1]", c.Match.FuzzyThreshold)
	}
	return nil
}

// SchedulerParams converts the configuration into scheduler parameters.
func (c Config) SchedulerParams() *fsrs.Params {
	p := fsrs.DefaultParams()
	if len(c.Scheduler.Weights) == len(p.Weights) {
		copy(p.Weights[:], c.Scheduler.Weights)
	}
	p.DesiredRetention = c.Scheduler.DesiredRetention
	p.MaximumInterval = c.Scheduler.MaximumInterval
	p.LearningSteps = minuteSteps(c.Scheduler.LearningStepsMin)
	p.RelearningSteps = minuteSteps(c.Scheduler.RelearningStepsMin)
	p.EasyBonus = c.Scheduler.EasyBonus
	p.HardInterval = c.Scheduler.HardInterval
	return p
}

func minuteSteps(minutes []int) []time.Duration {
	steps := make([]time.Duration, len(minutes))
	for i, m := range minutes {
		steps[i] = time.Duration(m) * time.Minute
	}
	return steps
}
