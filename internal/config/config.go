package config

import (
	"context"

	"github.com/sethvargo/go-envconfig"
)

type Config struct {
	Auth    AuthConfig
	Redis   RedisConfig
	Server  ServerConfig
	Observe ObserveConfig
}

type ServerConfig struct {
	Port                   int    `env:"PORT, default=8080"`
	UpstreamURL            string `env:"UPSTREAM_URL, required"`
	ShutdownTimeoutSeconds int    `env:"SERVER_SHUTDOWN_TIMEOUT_SECS, default=25"`

	OutgoingHttpMaxIdleConns    int `env:"SERVER_OUTGOING_MAX_IDLE_CONNS, default=100"`
	OutgoingHttpMaxConnsPerHost int `env:"SERVER_OUTGOING_MAX_CONNS_PER_HOST, default=20"`
}

type AuthConfig struct {
	// header carrying the bearer token, and the prefix stripped from it
	TokenHeader string `env:"AUTH_TOKEN_HEADER, default=Authorization"`
	TokenPrefix string `env:"AUTH_TOKEN_PREFIX, default=Bearer "`

	// header added to forwarded requests carrying the verified claim payload
	PayloadHeader string `env:"AUTH_PAYLOAD_HEADER, default=X-Jwt-Payload"`

	PublicKeyPath  string `env:"AUTH_PUBLIC_KEY_PATH, required"`
	PrivateKeyPath string `env:"AUTH_PRIVATE_KEY_PATH"`

	// YAML file listing path patterns that bypass authentication entirely
	WhitelistPath string `env:"AUTH_WHITELIST_PATH"`

	BlacklistKeyPrefix string `env:"AUTH_BLACKLIST_KEY_PREFIX, default=auth:token:blacklist:"`
	PermissionHashKey  string `env:"AUTH_PERMISSION_HASH_KEY, default=auth:permission:roles"`

	// request key allowed without credentials, so the login endpoint is
	// reachable before any token exists
	BootstrapRule string `env:"AUTH_BOOTSTRAP_RULE, default=POST_/iam/oauth/token"`

	AuthorityPrefix    string `env:"AUTH_AUTHORITY_PREFIX, default=ROLE_"`
	AuthoritiesClaim   string `env:"AUTH_AUTHORITIES_CLAIM, default=authorities"`
	VerifyCacheTTLSecs int    `env:"AUTH_VERIFY_CACHE_TTL_SECS, default=60"`
	ClockSkewSecs      int    `env:"AUTH_CLOCK_SKEW_SECS, default=5"`
}

type RedisConfig struct {
	Address          string `env:"REDIS_ADDR, default=localhost:6379"`
	Password         string `env:"REDIS_PASSWORD"`
	DB               int    `env:"REDIS_DB, default=0"`
	DialTimeoutSecs  int    `env:"REDIS_DIAL_TIMEOUT_SECS, default=5"`
	ReadTimeoutSecs  int    `env:"REDIS_READ_TIMEOUT_SECS, default=1"`
	WriteTimeoutSecs int    `env:"REDIS_WRITE_TIMEOUT_SECS, default=1"`
}

type ObserveConfig struct {
	Enabled                    bool   `env:"OBSERVE_ENABLED, default=false"`
	MetricsEnabled             bool   `env:"OBSERVE_METRICS_ENABLED, default=true"`
	Type                       string `env:"OBSERVE_TYPE, default=grpc"`
	ServiceName                string `env:"OBSERVE_SERVICE_NAME, default=authgate"`
	TraceBatchTimeoutSeconds   int    `env:"OBSERVE_TRACE_BATCH_TIMEOUT_SECS, default=5"`
	MetricReadIntervalSeconds  int    `env:"OBSERVE_METRIC_READ_INTERVAL_SECS, default=60"`
	HttpTransportEnabled       bool   `env:"OBSERVE_HTTP_TRANSPORT_ENABLED, default=true"`
	HttpConnectionTraceEnabled bool   `env:"OBSERVE_CONNECTION_TRACE_ENABLED, default=true"`
}

func Load(ctx context.Context) (cfg Config, err error) {
	err = envconfig.Process(ctx, &cfg)
	return
}
