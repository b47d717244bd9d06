// Package app wires the broker's dependencies into one composition root.
package app

import (
	"github.com/go-redis/redis"
	"github.com/xpanvictor/relay/internal/config"
	"github.com/xpanvictor/relay/internal/domains/auth"
	"github.com/xpanvictor/relay/internal/domains/compat"
	"github.com/xpanvictor/relay/internal/domains/stream"
	compatRepo "github.com/xpanvictor/relay/internal/repository/compat"
	msgRepo "github.com/xpanvictor/relay/internal/repository/message"
	"github.com/xpanvictor/relay/internal/server"
	"github.com/xpanvictor/relay/pkg/Logger"
	"github.com/xpanvictor/relay/pkg/provider"
	"gorm.io/gorm"
)

// App represents the application with all its dependencies
type App struct {
	Config *config.Settings
	Logger *Logger.Logger
	DB     *gorm.DB
	RC     *redis.Client

	Admission     *stream.Admission
	CompatService compat.CompatService
	StreamService stream.StreamService
	TokenService  auth.TokenService
	Connections   map[string]provider.Connection

	ServerDeps server.Dependencies
}

// NewApp creates a new application instance with all dependencies properly wired
func NewApp(cfg *config.Settings, logger *Logger.Logger, db *gorm.DB, rc *redis.Client) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
		DB:     db,
		RC:     rc,
	}

	if err := app.setupDependencies(); err != nil {
		return nil, err
	}

	return app, nil
}

// setupDependencies initializes all application dependencies
func (a *App) setupDependencies() error {
	streamCfg := a.Config.Stream

	// repositories
	messageStore := msgRepo.New(a.DB)
	profileStore := compatRepo.New(a.RC)

	// protocol compatibility engine with debounced redis persistence
	a.CompatService = compat.New(
		profileStore,
		streamCfg.ProfileCap(),
		streamCfg.ProfileDebounce(),
		a.Logger.Component("compat"),
	)

	a.Admission = stream.NewAdmission(streamCfg.MaxPerActor())

	a.StreamService = stream.New(
		streamCfg,
		a.Admission,
		a.CompatService,
		messageStore,
		provider.NewCaller(streamCfg.RequestTimeout()),
		stream.HeuristicTokenizer{},
		a.Logger.Component("stream"),
	)

	// JWT settings from config
	jwtSecret := a.Config.Auth.JWTSecret
	if jwtSecret == "" {
		jwtSecret = "default-secret-key-change-in-production"
		a.Logger.Warn("JWT secret not configured, using default (not secure for production)")
	}
	a.TokenService = auth.New(jwtSecret, a.Config.Auth.TokenTTL())

	a.Connections = buildConnections(a.Config.Providers)
	if len(a.Connections) == 0 {
		a.Logger.Warn("no provider connections configured")
	}

	a.ServerDeps = server.NewServerDependencies(
		a.StreamService,
		a.TokenService,
		a.Connections,
		a.Logger,
		a.Config,
	)

	return nil
}

func buildConnections(cfgs []config.ProviderConfig) map[string]provider.Connection {
	out := make(map[string]provider.Connection, len(cfgs))
	for _, pc := range cfgs {
		out[pc.Name] = provider.Connection{
			Name:    pc.Name,
			BaseURL: pc.BaseURL,
			APIKey:  pc.APIKey,
			Traits: compat.ProviderTraits{
				ResponsesOnly: pc.ResponsesOnly,
				Pinned:        pc.Pinned,
			},
		}
	}
	return out
}

// GetServerDependencies returns the server dependencies
func (a *App) GetServerDependencies() server.Dependencies {
	return a.ServerDeps
}

// Close flushes learned profiles and stops background workers.
func (a *App) Close() {
	if a.CompatService != nil {
		a.CompatService.Close()
	}
}
