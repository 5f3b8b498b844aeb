package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/flowcanvas/authcore/internal/auth/service"
	"github.com/flowcanvas/authcore/internal/auth/store/drivers/redis"
	"github.com/flowcanvas/authcore/pkg/cryptox"
	"github.com/flowcanvas/authcore/pkg/jwtx"
	"github.com/flowcanvas/authcore/pkg/slogx"
)

const (
	// BuildVersion should be set at build time via ldflags.
	BuildVersion = "v0.1.0"
)

// Application wires the token core together: signing keys, the redis
// store, and the services on top of it. Transports (HTTP, gRPC) live in
// other modules and reach the services through the accessors.
type Application struct {
	cfg    Config
	logger *slog.Logger

	kv    *redis.KV
	codec *jwtx.Codec

	issuer      *service.TokenIssuer
	validator   *service.TokenValidator
	rotator     *service.RefreshRotator
	revocations *service.RevocationRegistry
	states      *service.OAuthStateStore
	exchange    *service.OAuthExchangeCoordinator
	provider    service.ProviderConfig
}

// New creates a new Application instance with all dependencies initialized.
func New(ctx context.Context, cfg Config) (*Application, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	app := &Application{
		cfg: cfg,
		logger: slogx.New(slogx.Config{
			Service: "authcore",
			Version: BuildVersion,
			Env:     cfg.Env,
			Level:   cfg.LogLevel,
			Format:  cfg.LogFormat,
		}),
	}

	signer, err := InitSigningKey(cfg, app.logger)
	if err != nil {
		return nil, err
	}

	codec, err := jwtx.NewCodec(signer, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("app: build token codec: %w", err)
	}
	app.codec = codec

	if err := app.initStore(ctx); err != nil {
		return nil, err
	}

	if err := app.initServices(); err != nil {
		_ = app.kv.Close()
		return nil, err
	}

	return app, nil
}

// Run blocks until a shutdown signal arrives.
func (app *Application) Run() error {
	app.logger.Info("authcore starting",
		"version", BuildVersion,
		"issuer", app.cfg.Issuer,
		"algorithm", app.codec.Alg(),
		"provider_configured", app.cfg.ProviderConfigured(),
	)

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	sig := <-shutdown
	app.logger.Info("shutdown signal received", "signal", sig)

	return app.Shutdown()
}

// Shutdown releases the application's resources.
func (app *Application) Shutdown() error {
	app.logger.Info("shutting down authcore...")

	if err := app.kv.Close(); err != nil {
		app.logger.Error("error closing store", "error", err)
		return err
	}

	app.logger.Info("authcore stopped")
	return nil
}

// Ready reports whether the backing store answers, for readiness probes.
func (app *Application) Ready(ctx context.Context) error {
	return app.kv.Ping(ctx)
}

func (app *Application) Logger() *slog.Logger                        { return app.logger }
func (app *Application) Issuer() *service.TokenIssuer                { return app.issuer }
func (app *Application) Validator() *service.TokenValidator          { return app.validator }
func (app *Application) Rotator() *service.RefreshRotator            { return app.rotator }
func (app *Application) Revocations() *service.RevocationRegistry    { return app.revocations }
func (app *Application) States() *service.OAuthStateStore            { return app.states }
func (app *Application) Exchange() *service.OAuthExchangeCoordinator { return app.exchange }
func (app *Application) Provider() service.ProviderConfig            { return app.provider }

// initStore dials redis and verifies the connection.
func (app *Application) initStore(ctx context.Context) error {
	kv, err := redis.New(ctx, redis.Config{
		Addr:      app.cfg.RedisAddr,
		Username:  app.cfg.RedisUsername,
		Password:  app.cfg.RedisPassword,
		DB:        app.cfg.RedisDB,
		KeyPrefix: app.cfg.RedisKeyPrefix,
	})
	if err != nil {
		return fmt.Errorf("app: initialize store: %w", err)
	}
	app.kv = kv

	app.logger.Info("store connected", "addr", app.cfg.RedisAddr, "key_prefix", app.cfg.RedisKeyPrefix)
	return nil
}

// initServices initializes all business logic services.
func (app *Application) initServices() error {
	fingerprints, err := cryptox.NewDeviceFingerprinter([]byte(app.cfg.FingerprintSecret))
	if err != nil {
		return fmt.Errorf("app: initialize fingerprinter: %w", err)
	}

	audit := service.NewSlogAuditor()

	app.revocations = service.NewRevocationRegistry(app.kv, audit)

	app.issuer = &service.TokenIssuer{
		Codec:        app.codec,
		Fingerprints: fingerprints,
		Roles:        service.NewRoleExpander(service.DefaultRoleHierarchy()),
		Issuer:       app.cfg.Issuer,
		AccessTTL:    app.cfg.AccessTTL,
		RefreshTTL:   app.cfg.RefreshTTL,
		Audit:        audit,
	}

	app.validator = &service.TokenValidator{
		Codec:        app.codec,
		Fingerprints: fingerprints,
		Replay:       service.NewReplayGuard(app.kv),
		Revocations:  app.revocations,
		GracePeriod:  app.cfg.GracePeriod,
		Audit:        audit,
	}

	app.rotator = &service.RefreshRotator{
		Issuer:      app.issuer,
		Validator:   app.validator,
		Revocations: app.revocations,
		Audit:       audit,
	}

	app.states = service.NewOAuthStateStore(app.kv)
	app.states.TTL = app.cfg.StateTTL

	app.exchange = &service.OAuthExchangeCoordinator{
		States:  app.states,
		Client:  &http.Client{},
		Limiter: rate.NewLimiter(rate.Limit(app.cfg.ExchangeRatePerSec), app.cfg.ExchangeBurst),
		Audit:   audit,
	}

	if app.cfg.ProviderConfigured() {
		app.provider = service.ProviderConfig{
			Name:         app.cfg.ProviderName,
			ClientID:     app.cfg.ProviderClientID,
			ClientSecret: app.cfg.ProviderClientSecret,
			RedirectURL:  app.cfg.ProviderRedirectURL,
			Scopes:       app.cfg.ProviderScopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  app.cfg.ProviderAuthURL,
				TokenURL: app.cfg.ProviderTokenURL,
			},
			RevokeURL: app.cfg.ProviderRevokeURL,
		}
		if err := app.provider.Validate(); err != nil {
			return err
		}
		app.logger.Info("oauth provider configured", "provider", app.provider.Name)
	}

	return nil
}
