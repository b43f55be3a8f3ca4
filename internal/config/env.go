package config

// Environment variable names for configuration.
const (
	// ConfigFileEnv points at a TOML config file.
	ConfigFileEnv = "GRIDFETCH_CONFIG"

	// CacheDirEnv overrides cache.dir.
	CacheDirEnv = "GRIDFETCH_CACHE_DIR"

	// MaxConcurrentEnv overrides scheduler.max_concurrent.
	MaxConcurrentEnv = "GRIDFETCH_MAX_CONCURRENT"

	// MaxScoreEnv overrides scheduler.max_score.
	MaxScoreEnv = "GRIDFETCH_MAX_SCORE"

	// RateLimitEnv overrides cache.rate_limit.
	RateLimitEnv = "GRIDFETCH_RATE_LIMIT"

	// ProxyEnv overrides cache.proxy.
	ProxyEnv = "GRIDFETCH_PROXY"

	// ListenEnv overrides server.listen.
	ListenEnv = "GRIDFETCH_LISTEN"

	// SecretEnv overrides server.secret.
	SecretEnv = "GRIDFETCH_RPC_SECRET"
)
