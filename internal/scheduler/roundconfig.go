package scheduler

// RoundConfig is the per-round shaping buildRoundConfig produces —
// the subset of config.Config a round actually needs, resolved from
// the base config plus the round's state.
type RoundConfig struct {
	LLMEnabled            bool
	LLMMaxCallsPerRound   int
	DiscoveryEnabled      bool
	FetchCandidateEnabled bool
	SearchProvider        string
	MaxURLsPerProduct     int
	MaxCandidateURLs      int
	DeepSearchBudget      int
	AllowExpectedPass     bool
}

// BaseConfig is the subset of config.Config buildRoundConfig reads.
type BaseConfig struct {
	LLMEnabled                 bool
	LLMExplicitlySet           bool
	LLMMaxCallsPerRound        int
	DiscoveryEnabled           bool
	DiscoveryInternalFirst     bool
	MaxURLsPerProduct          int
	MaxCandidateURLs           int
	AggressiveThoroughFromRound int
	BingConfigured             bool
	SearxngConfigured          bool
	DuckDuckGoEnabled          bool
}

// RoundState is the round-specific shaping input buildRoundConfig
// takes alongside BaseConfig.
type RoundState struct {
	Round                   int
	Mode                    Mode
	MissingRequiredCount    int
	MissingExpectedCount    int
	MissingCriticalCount    int
	PreviousValidated       bool
	RequiredSearchIteration int
	ContractEffort          float64
}

const fastProfileLLMCap = 1

// BuildRoundConfig implements buildRoundConfig: it shapes a base
// config into the per-round config a round actually runs with.
func BuildRoundConfig(base BaseConfig, state RoundState) RoundConfig {
	rc := RoundConfig{
		LLMEnabled:            base.LLMEnabled,
		LLMMaxCallsPerRound:   base.LLMMaxCallsPerRound,
		DiscoveryEnabled:      base.DiscoveryEnabled,
		FetchCandidateEnabled: true,
		SearchProvider:        selectRoundSearchProvider(base),
		MaxURLsPerProduct:     base.MaxURLsPerProduct,
		MaxCandidateURLs:      base.MaxCandidateURLs,
	}

	if base.LLMExplicitlySet {
		rc.LLMEnabled = base.LLMEnabled
	}

	if state.Round == 0 {
		rc.LLMMaxCallsPerRound = minInt(rc.LLMMaxCallsPerRound, fastProfileLLMCap)
		if base.LLMExplicitlySet {
			rc.LLMEnabled = base.LLMEnabled
		}
	}

	switch {
	case state.MissingRequiredCount == 0:
		rc.DiscoveryEnabled = false
		rc.FetchCandidateEnabled = false
		rc.SearchProvider = "none"
		rc.MaxURLsPerProduct /= 2
		rc.MaxCandidateURLs /= 2
		rc.AllowExpectedPass = state.MissingExpectedCount > 0
	case state.MissingRequiredCount > 0:
		rc.DiscoveryEnabled = base.DiscoveryEnabled
		rc.SearchProvider = selectRoundSearchProvider(base)
		if base.DiscoveryInternalFirst && state.RequiredSearchIteration < 2 {
			rc.DiscoveryEnabled = false
		}
	}

	if base.AggressiveThoroughFromRound > 0 && state.Round >= base.AggressiveThoroughFromRound {
		rc.MaxURLsPerProduct *= 2
		rc.MaxCandidateURLs *= 2
		rc.LLMMaxCallsPerRound *= 2
	}

	if state.ContractEffort >= 6 {
		rc.DeepSearchBudget = int(state.ContractEffort)
	}

	return rc
}

// selectRoundSearchProvider implements selectRoundSearchProvider:
// prefers dual (Bing + SearXNG) if both are configured, else SearXNG,
// else DuckDuckGo.
func selectRoundSearchProvider(base BaseConfig) string {
	switch {
	case base.BingConfigured && base.SearxngConfigured:
		return "dual"
	case base.SearxngConfigured:
		return "searxng"
	case base.DuckDuckGoEnabled:
		return "duckduckgo"
	default:
		return "none"
	}
}

func minInt(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// ShouldForceExpectedFieldRetry implements shouldForceExpectedFieldRetry:
// one extra loop is allowed when every still-missing required field is
// classified "expected" and its reason is not_found_after_search —
// never when budget_exhausted or identity_blocked is present, since
// another pass would not change either outcome.
func ShouldForceExpectedFieldRetry(missing []MissingField) bool {
	if len(missing) == 0 {
		return false
	}
	for _, m := range missing {
		if m.RequiredLevel != "expected" {
			return false
		}
		if m.Reason != ReasonNotFoundAfterSearch {
			return false
		}
	}
	return true
}
