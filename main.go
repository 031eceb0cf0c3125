package main

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/authgate-io/authgate/internal/audit"
	"github.com/authgate-io/authgate/internal/authz"
	"github.com/authgate-io/authgate/internal/cache"
	"github.com/authgate-io/authgate/internal/config"
	"github.com/authgate-io/authgate/internal/keys"
	"github.com/authgate-io/authgate/internal/observe"
	"github.com/authgate-io/authgate/internal/pipeline"
	"github.com/authgate-io/authgate/internal/revocation"
	"github.com/authgate-io/authgate/internal/token"
)

func configureServerRoutes(ctx context.Context, cfg config.Config) (http.Handler, error) {
	// wrap a mux such that HTTP telemetry is configured by default
	muxWithoutTelemetry := http.NewServeMux()
	mux := observe.NewMux(muxWithoutTelemetry)

	decide, err := configureDecisionPipeline(cfg)
	if err != nil {
		return nil, err
	}

	// configure middleware
	auditor := audit.Middleware()

	// The request body size is fairly limited as the gateway itself never
	// needs the body; the upstream services set their own limits.
	requestLimitBytes := int64(1 << 20) // 1 MB
	requestLimiter := maxRequestSize(requestLimitBytes)

	guardedRouteMiddleware := alice.New(requestLimiter, auditor, decide)

	upstream, err := url.Parse(cfg.Server.UpstreamURL)
	if err != nil {
		return nil, fmt.Errorf("invalid upstream URL: %w", err)
	}

	// every route but the healthcheck passes through the decision pipeline
	mux.Handle("/", guardedRouteMiddleware.Then(handleForward(upstream)))

	// healthchecks are not included in telemetry
	muxWithoutTelemetry.Handle("GET /healthcheck", handleHealthCheck())

	return mux, nil
}

// configureDecisionPipeline wires the decision stages: key material, token
// verification (with its short-lived cache), the revocation checker and
// the path authorization engine, both backed by the shared Redis instance.
func configureDecisionPipeline(cfg config.Config) (func(http.Handler) http.Handler, error) {
	material, err := keys.Load(cfg.Auth)
	if err != nil {
		return nil, fmt.Errorf("key material load failed: %w", err)
	}

	verifyCache, err := token.Cached(time.Duration(cfg.Auth.VerifyCacheTTLSecs) * time.Second)
	if err != nil {
		return nil, fmt.Errorf("verification cache configuration failed: %w", err)
	}
	verifier := verifyCache(token.New(material, cfg.Auth))

	whitelist, err := config.LoadWhitelist(cfg.Auth.WhitelistPath)
	if err != nil {
		return nil, fmt.Errorf("whitelist load failed: %w", err)
	}

	redisClient := cache.NewClient(cfg.Redis)
	checker := revocation.NewRedisChecker(redisClient, cfg.Auth.BlacklistKeyPrefix)
	permissions := authz.NewRedisSource(redisClient, cfg.Auth.PermissionHashKey)
	engine := authz.NewEngine(permissions, cfg.Auth)

	p := pipeline.New(cfg.Auth, whitelist, verifier, checker, engine)

	return pipeline.Middleware(p, cfg.Auth), nil
}

func main() {
	configureLogging()

	logBuildInfo()

	err := launchServer()
	if err != nil {
		log.Fatal().Err(err).Msg("server failed to start")
	}
}

func launchServer() error {
	ctx := context.Background()

	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("configuration load failed: %w", err)
	}

	// configure telemetry, including wrapping default HTTP client
	shutdownTelemetry, err := observe.Configure(ctx, cfg.Observe)
	if err != nil {
		return fmt.Errorf("telemetry bootstrap failed: %w", err)
	}

	http.DefaultTransport = observe.HttpTransport(
		configureHttpTransport(cfg.Server),
		cfg.Observe,
	)
	http.DefaultClient = &http.Client{
		Transport: http.DefaultTransport,
	}

	// setup routing and dependencies
	handler, err := configureServerRoutes(ctx, cfg)
	if err != nil {
		return fmt.Errorf("server routing configuration failed: %w", err)
	}

	// start the server
	server := &http.Server{
		Addr:           fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:        handler,
		MaxHeaderBytes: 20 << 10, // 20 KB
	}

	server.RegisterOnShutdown(func() {
		log.Info().Msg("telemetry: shutting down")
		shutdownTelemetry(ctx)
		log.Info().Msg("telemetry: shutdown complete")
	})

	err = serveHTTP(cfg.Server, server)
	if err != nil {
		return fmt.Errorf("server failed: %w", err)
	}

	return nil
}

func configureLogging() {
	// Set global level to the minimum: allows the Open Telemetry logging to be
	// configured separately. However, it means that any logger that sets its
	// level will log as this effectively disables the global level.
	zerolog.SetGlobalLevel(zerolog.Level(-128))

	// default level is Info
	log.Logger = log.Level(zerolog.InfoLevel)

	if os.Getenv("ENV") == "development" {
		log.Logger = log.
			Output(zerolog.ConsoleWriter{Out: os.Stdout}).
			Level(zerolog.DebugLevel)
	}

	zerolog.DefaultContextLogger = &log.Logger
}

func logBuildInfo() {
	buildInfo, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	ev := log.Info()
	for _, v := range buildInfo.Settings {
		if strings.HasPrefix(v.Key, "vcs.") ||
			strings.HasPrefix(v.Key, "GO") ||
			v.Key == "CGO_ENABLED" {
			ev = ev.Str(v.Key, v.Value)
		}
	}

	ev.Msg("build information")
}

func configureHttpTransport(cfg config.ServerConfig) *http.Transport {
	transport := http.DefaultTransport.(*http.Transport).Clone()

	transport.MaxIdleConns = cfg.OutgoingHttpMaxIdleConns
	transport.MaxConnsPerHost = cfg.OutgoingHttpMaxConnsPerHost

	return transport
}
