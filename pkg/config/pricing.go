package config

// PricingConfig overrides the platform-set per-call rates. Zero values keep
// the built-in pricing table; search, LLM, and per-result rates are fixed.
type PricingConfig struct {
	// SearchRepoUSD is the flat per-call rate for search_repo.
	SearchRepoUSD float64 `yaml:"search_repo_usd"`

	// GetRepoFileUSD is the flat per-call rate for get_repo_file.
	GetRepoFileUSD float64 `yaml:"get_repo_file_usd"`

	// SearchItemsUSD is the flat per-call rate for search_items.
	SearchItemsUSD float64 `yaml:"search_items_usd"`
}

// DefaultPricingConfig returns an empty override set.
func DefaultPricingConfig() *PricingConfig {
	return &PricingConfig{}
}
