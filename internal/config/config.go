// Package config loads the flat harvester configuration record: a YAML
// file on disk, overridden by a fixed set of environment variables,
// validated before use.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/CdubVentures/spec-harvester-sub001/internal/logging"
)

// Config is the full set of options the core recognizes. It is
// intentionally flat — one field per option — rather than nested, so a
// YAML file or env override can touch exactly one concern at a time.
type Config struct {
	HelperFilesRoot string `yaml:"helper_files_root"`
	LocalOutputRoot string `yaml:"local_output_root"`

	LLMEnabled                 bool    `yaml:"llm_enabled"`
	LLMExplicitlySet           bool    `yaml:"llm_explicitly_set"`
	LLMMaxCallsPerRound        int     `yaml:"llm_max_calls_per_round"`
	LLMMaxCallsPerProductTotal int     `yaml:"llm_max_calls_per_product_total"`
	LLMReasoningMode           string  `yaml:"llm_reasoning_mode"`
	LLMReasoningBudget         int     `yaml:"llm_reasoning_budget"`
	LLMTimeoutMs               int     `yaml:"llm_timeout_ms"`
	LLMCostInputPer1M          float64 `yaml:"llm_cost_input_per_1m"`
	LLMCostOutputPer1M         float64 `yaml:"llm_cost_output_per_1m"`
	LLMMonthlyBudgetUsd        float64 `yaml:"llm_monthly_budget_usd"`

	SearchProvider    string `yaml:"search_provider"`
	BingSearchKey     string `yaml:"bing_search_key"`
	BingSearchEndpoint string `yaml:"bing_search_endpoint"`
	SearxngBaseURL    string `yaml:"searxng_base_url"`
	DuckDuckGoEnabled bool   `yaml:"duckduckgo_enabled"`

	DiscoveryEnabled        bool `yaml:"discovery_enabled"`
	DiscoveryInternalFirst  bool `yaml:"discovery_internal_first"`
	DiscoveryMaxQueries     int  `yaml:"discovery_max_queries"`
	DiscoveryMaxDiscovered  int  `yaml:"discovery_max_discovered"`

	FetchCandidateSources         []string `yaml:"fetch_candidate_sources"`
	MaxURLsPerProduct              int     `yaml:"max_urls_per_product"`
	MaxCandidateURLs                int     `yaml:"max_candidate_urls"`
	MaxPagesPerDomain                int     `yaml:"max_pages_per_domain"`
	MaxManufacturerURLsPerProduct    int     `yaml:"max_manufacturer_urls_per_product"`

	ConvergenceMaxRounds              int     `yaml:"convergence_max_rounds"`
	ConvergenceNoProgressLimit        int     `yaml:"convergence_no_progress_limit"`
	ConvergenceLowQualityConfidence   float64 `yaml:"convergence_low_quality_confidence"`
	ConvergenceMaxLowQualityRounds    int     `yaml:"convergence_max_low_quality_rounds"`
	ConvergenceIdentityFailFastRounds int     `yaml:"convergence_identity_fail_fast_rounds"`
	ConvergenceMaxDispatchQueries     int     `yaml:"convergence_max_dispatch_queries"`

	IdentityGatePublishThreshold float64 `yaml:"identity_gate_publish_threshold"`

	FrontierEnableSqlite            bool `yaml:"frontier_enable_sqlite"`
	FrontierQueryCooldownSeconds     int  `yaml:"frontier_query_cooldown_seconds"`
	FrontierCooldown404Seconds       int  `yaml:"frontier_cooldown_404_seconds"`
	FrontierCooldown404RepeatSeconds int  `yaml:"frontier_cooldown_404_repeat_seconds"`
	FrontierCooldown410Seconds       int  `yaml:"frontier_cooldown_410_seconds"`
	FrontierCooldown429BaseSeconds   int  `yaml:"frontier_cooldown_429_base_seconds"`
	FrontierStripTrackingParams      bool `yaml:"frontier_strip_tracking_params"`

	PerHostMinDelayMs           int `yaml:"per_host_min_delay_ms"`
	PageGotoTimeoutMs           int `yaml:"page_goto_timeout_ms"`
	PageNetworkIdleTimeoutMs    int `yaml:"page_network_idle_timeout_ms"`
	AggressiveThoroughFromRound int `yaml:"aggressive_thorough_from_round"`

	RunProfile string `yaml:"run_profile"`

	// [ADD] ambient stack, not named by spec.md §6 but needed to drive
	// internal/logging and give the published artifacts a home on disk.
	DebugMode  bool   `yaml:"debug_mode"`
	LogLevel   string `yaml:"log_level"`
	LogJSON    bool   `yaml:"log_json"`
	Workspace  string `yaml:"workspace"`
}

// DefaultConfig returns the configuration used when no YAML file is found
// and no environment overrides apply.
func DefaultConfig() *Config {
	return &Config{
		HelperFilesRoot: "helper_files",
		LocalOutputRoot: "output",

		LLMEnabled:                 true,
		LLMMaxCallsPerRound:        4,
		LLMMaxCallsPerProductTotal: 40,
		LLMReasoningMode:           "standard",
		LLMReasoningBudget:         4096,
		LLMTimeoutMs:               30000,
		LLMCostInputPer1M:          0,
		LLMCostOutputPer1M:         0,
		LLMMonthlyBudgetUsd:        0,

		SearchProvider:    "duckduckgo",
		DuckDuckGoEnabled: true,

		DiscoveryEnabled:       true,
		DiscoveryInternalFirst: true,
		DiscoveryMaxQueries:    12,
		DiscoveryMaxDiscovered: 60,

		FetchCandidateSources:         []string{"manufacturer", "review", "retail"},
		MaxURLsPerProduct:             40,
		MaxCandidateURLs:              200,
		MaxPagesPerDomain:             8,
		MaxManufacturerURLsPerProduct: 10,

		ConvergenceMaxRounds:              8,
		ConvergenceNoProgressLimit:        2,
		ConvergenceLowQualityConfidence:   0.35,
		ConvergenceMaxLowQualityRounds:    3,
		ConvergenceIdentityFailFastRounds: 2,
		ConvergenceMaxDispatchQueries:     6,

		IdentityGatePublishThreshold: 0.6,

		FrontierEnableSqlite:             true,
		FrontierQueryCooldownSeconds:     3600,
		FrontierCooldown404Seconds:       3600,
		FrontierCooldown404RepeatSeconds: 604800,
		FrontierCooldown410Seconds:       7776000,
		FrontierCooldown429BaseSeconds:   60,
		FrontierStripTrackingParams:      true,

		PerHostMinDelayMs:           500,
		PageGotoTimeoutMs:           20000,
		PageNetworkIdleTimeoutMs:    5000,
		AggressiveThoroughFromRound: 4,

		RunProfile: "standard",

		DebugMode: false,
		LogLevel:  "info",
		LogJSON:   true,
		Workspace: ".",
	}
}

// Load reads a YAML file at path, falling back to defaults if it does not
// exist, then applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	logging.BootDebug("loading config from: %s", path)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Boot("config file not found, using defaults: %s", path)
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		logging.BootError("failed to read config file %s: %v", path, err)
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		logging.BootError("failed to parse config file %s: %v", path, err)
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	logging.Boot("config loaded: run_profile=%s search_provider=%s", cfg.RunProfile, cfg.SearchProvider)
	return cfg, nil
}

// Save writes the configuration to path as YAML, creating parent
// directories as needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

// applyEnvOverrides copies each non-empty HARVESTER_* environment
// variable onto its config field; boolean and integer values that fail
// to parse are ignored.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("HARVESTER_BING_SEARCH_KEY"); v != "" {
		c.BingSearchKey = v
	}
	if v := os.Getenv("HARVESTER_BING_SEARCH_ENDPOINT"); v != "" {
		c.BingSearchEndpoint = v
	}
	if v := os.Getenv("HARVESTER_SEARXNG_BASE_URL"); v != "" {
		c.SearxngBaseURL = v
	}
	if v := os.Getenv("HARVESTER_SEARCH_PROVIDER"); v != "" {
		c.SearchProvider = v
	}
	if v := os.Getenv("HARVESTER_LOCAL_OUTPUT_ROOT"); v != "" {
		c.LocalOutputRoot = v
	}
	if v := os.Getenv("HARVESTER_HELPER_FILES_ROOT"); v != "" {
		c.HelperFilesRoot = v
	}
	if v := os.Getenv("HARVESTER_WORKSPACE"); v != "" {
		c.Workspace = v
	}
	if v := os.Getenv("HARVESTER_RUN_PROFILE"); v != "" {
		c.RunProfile = v
	}
	if v := os.Getenv("HARVESTER_DEBUG"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DebugMode = b
		}
	}
	if v := os.Getenv("HARVESTER_LLM_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LLMEnabled = b
			c.LLMExplicitlySet = true
		}
	}
	if v := os.Getenv("HARVESTER_LLM_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.LLMTimeoutMs = n
		}
	}
}

// Validate rejects configurations that would make the core behave
// incoherently rather than letting a bad value surface deep in a run.
func (c *Config) Validate() error {
	if c.ConvergenceMaxRounds <= 0 {
		return fmt.Errorf("convergence_max_rounds must be positive, got %d", c.ConvergenceMaxRounds)
	}
	if c.IdentityGatePublishThreshold < 0 || c.IdentityGatePublishThreshold > 1 {
		return fmt.Errorf("identity_gate_publish_threshold must be in [0,1], got %f", c.IdentityGatePublishThreshold)
	}
	if c.LLMEnabled && c.LLMMaxCallsPerRound <= 0 {
		return fmt.Errorf("llm_max_calls_per_round must be positive when llm_enabled, got %d", c.LLMMaxCallsPerRound)
	}
	validProfiles := map[string]bool{"standard": true, "aggressive": true, "thorough": true}
	if !validProfiles[c.RunProfile] {
		return fmt.Errorf("invalid run_profile: %s", c.RunProfile)
	}
	return nil
}

// LLMTimeout returns the configured LLM call timeout as a duration.
func (c *Config) LLMTimeout() time.Duration {
	return time.Duration(c.LLMTimeoutMs) * time.Millisecond
}

// PageGotoTimeout returns the configured page navigation timeout.
func (c *Config) PageGotoTimeout() time.Duration {
	return time.Duration(c.PageGotoTimeoutMs) * time.Millisecond
}

// PageNetworkIdleTimeout returns the configured network-idle wait timeout.
func (c *Config) PageNetworkIdleTimeout() time.Duration {
	return time.Duration(c.PageNetworkIdleTimeoutMs) * time.Millisecond
}

// FrontierQueryCooldown returns the base per-query cooldown duration.
func (c *Config) FrontierQueryCooldown() time.Duration {
	return time.Duration(c.FrontierQueryCooldownSeconds) * time.Second
}

// PerHostMinDelay returns the minimum delay enforced between requests to
// the same host.
func (c *Config) PerHostMinDelay() time.Duration {
	return time.Duration(c.PerHostMinDelayMs) * time.Millisecond
}
