package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/mdstudy/mdstudy/internal/fsrs"
)

func TestDefaultIsValid(t *testing.T) {
	if err := Default().validate(); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestLoadLayersFileOverDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
db: /tmp/custom.db
scheduler:
  desired_retention: 0.85
  learning_steps_min: [1, 5, 15]
session:
  new_limit: 40
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.DB != "/tmp/custom.db" {
		t.Errorf("db = %q", cfg.DB)
	}
	if cfg.Scheduler.DesiredRetention != 0.85 {
		t.Errorf("desired retention = %f", cfg.Scheduler.DesiredRetention)
	}
	if cfg.Session.NewLimit != 40 {
		t.Errorf("new limit = %d", cfg.Session.NewLimit)
	}
	// Untouched keys keep their defaults.
	if cfg.Addr != ":8632" || cfg.Session.ReviewLimit != 200 {
		t.Errorf("defaults lost: addr=%q review_limit=%d", cfg.Addr, cfg.Session.ReviewLimit)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected an error for a missing config file")
	}
}

func TestLoadFlagsWinOverFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("addr: :9000\n"), 0o644); err != nil {
		t.Fatal(err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("addr", ":8632", "")
	if err := flags.Parse([]string{"--addr", ":7000"}); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":7000" {
		t.Errorf("addr = %q, want flag value :7000", cfg.Addr)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"retention too high", func(c *Config) { c.Scheduler.DesiredRetention = 1 }},
		{"retention zero", func(c *Config) { c.Scheduler.DesiredRetention = 0 }},
		{"interval zero", func(c *Config) { c.Scheduler.MaximumInterval = 0 }},
		{"wrong weight count", func(c *Config) { c.Scheduler.Weights = []float64{1, 2, 3} }},
		{"threshold above one", func(c *Config) { c.Match.FuzzyThreshold = 1.5 }},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(&cfg)
			if err := cfg.validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestSchedulerParams(t *testing.T) {
	cfg := Default()
	cfg.Scheduler.LearningStepsMin = []int{1, 5, 15}
	cfg.Scheduler.DesiredRetention = 0.85

	p := cfg.SchedulerParams()
	if p.DesiredRetention != 0.85 {
		t.Errorf("desired retention = %f", p.DesiredRetention)
	}
	expected := []time.Duration{time.Minute, 5 * time.Minute, 15 * time.Minute}
	if len(p.LearningSteps) != len(expected) {
		t.Fatalf("steps = %v", p.LearningSteps)
	}
	for i, d := range expected {
		if p.LearningSteps[i] != d {
			t.Errorf("step %d = %v, want %v", i, p.LearningSteps[i], d)
		}
	}
	if p.Weights != fsrs.DefaultWeights {
		t.Errorf("empty weights should keep the defaults")
	}
}
