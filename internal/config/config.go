// Package config loads and validates HoloIndex configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"holodex/internal/paths"
)

// Config represents the complete HoloIndex configuration
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Index   IndexConfig   `json:"index" mapstructure:"index"`
	Health  HealthConfig  `json:"health" mapstructure:"health"`
	Graph   GraphConfig   `json:"graph" mapstructure:"graph"`
	Intent  IntentConfig  `json:"intent" mapstructure:"intent"`
	Routing RoutingConfig `json:"routing" mapstructure:"routing"`
	Daemon  DaemonConfig  `json:"daemon" mapstructure:"daemon"`
	Advisor AdvisorConfig `json:"advisor" mapstructure:"advisor"`
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`
}

// IndexConfig controls the similarity index and its corpus scanners
type IndexConfig struct {
	// MaxAge is how old an index may get before the daemon reindexes
	MaxAge time.Duration `json:"maxAge" mapstructure:"maxAge"`
	// CodeInclude/CodeExclude are doublestar globs relative to the repo root
	CodeInclude []string `json:"codeInclude" mapstructure:"codeInclude"`
	CodeExclude []string `json:"codeExclude" mapstructure:"codeExclude"`
	// DocRoots are directories scanned for protocol/knowledge documents
	DocRoots []string `json:"docRoots" mapstructure:"docRoots"`
	// SummaryBudget caps the characters of body text indexed per doc
	SummaryBudget int `json:"summaryBudget" mapstructure:"summaryBudget"`
}

// HealthConfig controls module health scoring
type HealthConfig struct {
	// Weights per dimension; renormalized when a signal source is missing
	Weights map[string]float64 `json:"weights" mapstructure:"weights"`
	// IdealMinLines/IdealMaxLines bound the structural sweet spot
	IdealMinLines int `json:"idealMinLines" mapstructure:"idealMinLines"`
	IdealMaxLines int `json:"idealMaxLines" mapstructure:"idealMaxLines"`
	// ChangeWindow is the lookback for change-frequency signals
	ChangeWindow time.Duration `json:"changeWindow" mapstructure:"changeWindow"`
	// TrendWindow is how many snapshots the trend looks at
	TrendWindow int `json:"trendWindow" mapstructure:"trendWindow"`
	// TrendThreshold is the +/- band outside which a trend is called
	TrendThreshold float64 `json:"trendThreshold" mapstructure:"trendThreshold"`
	// SnapshotMaxAge is how stale a module's newest snapshot may get
	// before the daemon schedules a rescore
	SnapshotMaxAge time.Duration `json:"snapshotMaxAge" mapstructure:"snapshotMaxAge"`
}

// GraphConfig controls dependency graph analysis
type GraphConfig struct {
	// CriticalityK is the fan-in at which a module is maximally critical
	CriticalityK int `json:"criticalityK" mapstructure:"criticalityK"`
	// FoundationalFraction is the top share of modules reported as foundational
	FoundationalFraction float64 `json:"foundationalFraction" mapstructure:"foundationalFraction"`
}

// IntentConfig controls query intent classification
type IntentConfig struct {
	// ConfidenceThreshold below which classification falls back to GENERAL
	ConfidenceThreshold float64 `json:"confidenceThreshold" mapstructure:"confidenceThreshold"`
}

// RoutingConfig controls the orchestrator and feedback learner
type RoutingConfig struct {
	// NarrowLineCap is the body line cap for narrow intents
	NarrowLineCap int `json:"narrowLineCap" mapstructure:"narrowLineCap"`
	// LearnAlpha is the EMA smoothing factor for usefulness
	LearnAlpha float64 `json:"learnAlpha" mapstructure:"learnAlpha"`
	// UsefulnessFloor below which a component is dropped for an intent
	UsefulnessFloor float64 `json:"usefulnessFloor" mapstructure:"usefulnessFloor"`
	// UsefulnessCeiling above which a non-default component is added
	UsefulnessCeiling float64 `json:"usefulnessCeiling" mapstructure:"usefulnessCeiling"`
	// MinSamples before the learner may mutate a rule
	MinSamples int `json:"minSamples" mapstructure:"minSamples"`
}

// DaemonConfig controls the background loop
type DaemonConfig struct {
	// TickInterval between background evaluations
	TickInterval time.Duration `json:"tickInterval" mapstructure:"tickInterval"`
}

// AdvisorConfig controls the external LLM advisor boundary
type AdvisorConfig struct {
	Enabled bool          `json:"enabled" mapstructure:"enabled"`
	Timeout time.Duration `json:"timeout" mapstructure:"timeout"`
}

// LoggingConfig controls log output
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration. Every threshold the
// system uses lives here; nothing is hardcoded at a call site.
func DefaultConfig() *Config {
	return &Config{
		Version:  1,
		RepoRoot: ".",
		Index: IndexConfig{
			MaxAge:        6 * time.Hour,
			CodeInclude:   []string{"**/*.go", "**/*.py", "**/*.ts", "**/*.js"},
			CodeExclude:   []string{"**/node_modules/**", "**/vendor/**", "**/.git/**", "**/.holo/**"},
			DocRoots:      []string{"docs", "."},
			SummaryBudget: 1200,
		},
		Health: HealthConfig{
			Weights: map[string]float64{
				"structural":  0.15,
				"maintenance": 0.20,
				"knowledge":   0.25,
				"dependency":  0.20,
				"pattern":     0.20,
			},
			IdealMinLines:  50,
			IdealMaxLines:  400,
			ChangeWindow:   90 * 24 * time.Hour,
			TrendWindow:    10,
			TrendThreshold: 0.05,
			SnapshotMaxAge: 24 * time.Hour,
		},
		Graph: GraphConfig{
			CriticalityK:         10,
			FoundationalFraction: 0.20,
		},
		Intent: IntentConfig{
			ConfidenceThreshold: 0.5,
		},
		Routing: RoutingConfig{
			NarrowLineCap:     5,
			LearnAlpha:        0.1,
			UsefulnessFloor:   0.3,
			UsefulnessCeiling: 0.7,
			MinSamples:        10,
		},
		Daemon: DaemonConfig{
			TickInterval: 5 * time.Minute,
		},
		Advisor: AdvisorConfig{
			Enabled: false,
			Timeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from <repoRoot>/.holo/config.json,
// falling back to defaults when no config file exists. Environment
// variables prefixed HOLO_ override file values.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	defaults := DefaultConfig()
	v.SetDefault("version", defaults.Version)
	v.SetDefault("repoRoot", repoRoot)
	v.SetDefault("index.maxAge", defaults.Index.MaxAge)
	v.SetDefault("index.codeInclude", defaults.Index.CodeInclude)
	v.SetDefault("index.codeExclude", defaults.Index.CodeExclude)
	v.SetDefault("index.docRoots", defaults.Index.DocRoots)
	v.SetDefault("index.summaryBudget", defaults.Index.SummaryBudget)
	v.SetDefault("health.weights", defaults.Health.Weights)
	v.SetDefault("health.idealMinLines", defaults.Health.IdealMinLines)
	v.SetDefault("health.idealMaxLines", defaults.Health.IdealMaxLines)
	v.SetDefault("health.changeWindow", defaults.Health.ChangeWindow)
	v.SetDefault("health.trendWindow", defaults.Health.TrendWindow)
	v.SetDefault("health.trendThreshold", defaults.Health.TrendThreshold)
	v.SetDefault("health.snapshotMaxAge", defaults.Health.SnapshotMaxAge)
	v.SetDefault("graph.criticalityK", defaults.Graph.CriticalityK)
	v.SetDefault("graph.foundationalFraction", defaults.Graph.FoundationalFraction)
	v.SetDefault("intent.confidenceThreshold", defaults.Intent.ConfidenceThreshold)
	v.SetDefault("routing.narrowLineCap", defaults.Routing.NarrowLineCap)
	v.SetDefault("routing.learnAlpha", defaults.Routing.LearnAlpha)
	v.SetDefault("routing.usefulnessFloor", defaults.Routing.UsefulnessFloor)
	v.SetDefault("routing.usefulnessCeiling", defaults.Routing.UsefulnessCeiling)
	v.SetDefault("routing.minSamples", defaults.Routing.MinSamples)
	v.SetDefault("daemon.tickInterval", defaults.Daemon.TickInterval)
	v.SetDefault("advisor.enabled", defaults.Advisor.Enabled)
	v.SetDefault("advisor.timeout", defaults.Advisor.Timeout)
	v.SetDefault("logging.format", defaults.Logging.Format)
	v.SetDefault("logging.level", defaults.Logging.Level)

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(paths.StateDir(repoRoot))
	v.SetEnvPrefix("HOLO")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.RepoRoot == "" {
		cfg.RepoRoot = repoRoot
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Save writes the configuration to <repoRoot>/.holo/config.json
func (c *Config) Save(repoRoot string) error {
	if _, err := paths.EnsureStateDir(repoRoot); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	path := paths.ConfigPath(repoRoot)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.Daemon.TickInterval <= 0 {
		return fmt.Errorf("daemon.tickInterval must be positive, got %s", c.Daemon.TickInterval)
	}
	if c.Graph.CriticalityK <= 0 {
		return fmt.Errorf("graph.criticalityK must be positive, got %d", c.Graph.CriticalityK)
	}
	if c.Graph.FoundationalFraction <= 0 || c.Graph.FoundationalFraction > 1 {
		return fmt.Errorf("graph.foundationalFraction must be in (0,1], got %g", c.Graph.FoundationalFraction)
	}
	if c.Intent.ConfidenceThreshold < 0 || c.Intent.ConfidenceThreshold > 1 {
		return fmt.Errorf("intent.confidenceThreshold must be in [0,1], got %g", c.Intent.ConfidenceThreshold)
	}
	if c.Routing.LearnAlpha <= 0 || c.Routing.LearnAlpha > 1 {
		return fmt.Errorf("routing.learnAlpha must be in (0,1], got %g", c.Routing.LearnAlpha)
	}
	var sum float64
	for _, w := range c.Health.Weights {
		if w < 0 {
			return fmt.Errorf("health weights must be non-negative")
		}
		sum += w
	}
	if sum == 0 {
		return fmt.Errorf("health.weights must not all be zero")
	}
	return nil
}
