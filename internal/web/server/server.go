package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/foxzi/flint/internal/ai"
	"github.com/foxzi/flint/internal/blob"
	"github.com/foxzi/flint/internal/events"
	"github.com/foxzi/flint/internal/flow"
	"github.com/foxzi/flint/internal/kv"
	"github.com/foxzi/flint/internal/metrics"
	"github.com/foxzi/flint/internal/notify"
	"github.com/foxzi/flint/internal/web/auth"
	"github.com/foxzi/flint/internal/web/billing"
	"github.com/foxzi/flint/internal/web/config"
	"github.com/foxzi/flint/internal/web/db"
	"github.com/foxzi/flint/internal/web/handlers"
	"github.com/foxzi/flint/internal/web/middleware"
	"github.com/foxzi/flint/internal/web/playback"
	"github.com/foxzi/flint/internal/web/repository"
	"github.com/foxzi/flint/internal/web/worker"
)

const cacheKeyPrefix = "flint:"

type Server struct {
	cfg       *config.Config
	logger    *slog.Logger
	db        *db.DB
	store     kv.Store
	publisher events.Publisher
	playback  *playback.Service
	http      *http.Server
	challenge *http.Server
	metrics   *metrics.Server
	collector *metrics.Collector
	worker    *worker.Worker
}

func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	// Initialize database
	database, err := db.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Run migrations
	if err := database.Migrate(); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s := &Server{cfg: cfg, logger: logger, db: database}
	if err := s.init(ctx); err != nil {
		s.close()
		return nil, err
	}
	return s, nil
}

func (s *Server) init(ctx context.Context) error {
	cfg, logger := s.cfg, s.logger

	users := repository.NewUserRepository(s.db.DB)
	campaigns := repository.NewCampaignRepository(s.db.DB)
	sections := repository.NewSectionRepository(s.db.DB)
	options := repository.NewOptionRepository(s.db.DB)
	leads := repository.NewLeadRepository(s.db.DB)
	profiles := repository.NewProfileRepository(s.db.DB)
	credits := repository.NewCreditRepository(s.db.DB)
	shared := repository.NewSharedResultRepository(s.db.DB)
	audit := repository.NewAuditRepository(s.db.DB)

	store, err := OpenStore(ctx, cfg.Cache)
	if err != nil {
		return err
	}
	s.store = store
	logger.Info("session store ready", "backend", cfg.Cache.Backend)

	files, err := blob.New(cfg.Storage.Path, cfg.Storage.MaxUploadBytes)
	if err != nil {
		return fmt.Errorf("failed to initialize file storage: %w", err)
	}
	files.AllowRemote(cfg.Storage.RemoteHosts...)

	completer, err := NewCompleter(ctx, cfg.AI, logger)
	if err != nil {
		return err
	}

	notifier, err := newNotifier(cfg.Notify, logger)
	if err != nil {
		return err
	}

	driver := "log"
	if cfg.Events.Enabled {
		driver = "kafka"
	}
	s.publisher, err = events.New(events.Config{Driver: driver, Brokers: cfg.Events.Brokers, Topics: cfg.Events.Topics}, logger.With("component", "events"))
	if err != nil {
		return fmt.Errorf("failed to initialize events: %w", err)
	}
	emitter := events.NewEmitter(s.publisher, logger.With("component", "events"))

	var oidc *auth.OIDCProvider
	if cfg.Auth.OIDC.Enabled {
		oidc, err = auth.NewOIDCProvider(ctx, &cfg.Auth.OIDC)
		if err != nil {
			return fmt.Errorf("failed to initialize OIDC provider: %w", err)
		}
		logger.Info("OIDC provider initialized", "issuer", cfg.Auth.OIDC.IssuerURL)
	}

	plan := auth.Plan{
		Credits:       cfg.Billing.DefaultCredits,
		CampaignLimit: cfg.Billing.CampaignLimit,
		LeadLimit:     cfg.Billing.LeadLimit,
	}
	tokens := auth.NewTokens(cfg.Auth.SessionSecret, cfg.Auth.TokenTTL)
	authenticator := auth.NewAuthenticator(users, profiles, tokens, cfg.Auth.SessionTTL, plan, logger.With("component", "auth"))
	billingSvc := billing.NewService(profiles, campaigns, credits, logger.With("component", "billing"))
	transfers := flow.NewKVTransferIssuer(store, 10*time.Minute)

	s.playback = playback.New(playback.Deps{
		Campaigns: campaigns,
		Sections:  sections,
		Options:   options,
		Leads:     leads,
		Usage:     profiles,
		Shared:    shared,
		Users:     users,
		Sessions:  store,
		Cache:     flow.NewKVResultsCache(store, cfg.Cache.SessionTTL),
		Transfers: transfers,
		Completer: completer,
		Files:     files,
		Uploads:   files,
		Events:    emitter,
		Notifier:  notifier,
		Logger:    logger,
	}, playback.Config{
		SessionTTL:    cfg.Cache.SessionTTL,
		ShareTTL:      cfg.SharedResults.TTL,
		FailOpenDelay: cfg.AI.FailOpenDelay,
		BaseURL:       cfg.Server.PublicURL,
	})

	limiter := middleware.NewRateLimiter()
	h := handlers.New(handlers.Deps{
		Config:    cfg,
		Users:     users,
		Campaigns: campaigns,
		Sections:  sections,
		Options:   options,
		Leads:     leads,
		Profiles:  profiles,
		Credits:   credits,
		Audit:     audit,
		Auth:      authenticator,
		OIDC:      oidc,
		Billing:   billingSvc,
		Playback:  s.playback,
		Transfers: transfers,
		Completer: completer,
		Files:     files,
		Events:    emitter,
		Limiter:   limiter,
		Logger:    logger,
	})

	tc, challenge, err := tlsConfig(cfg.Server.TLS)
	if err != nil {
		return err
	}
	s.http = &http.Server{
		Addr:         cfg.Server.ListenAddr,
		Handler:      h.Routes(),
		TLSConfig:    tc,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.AI.Timeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if challenge != nil {
		s.challenge = &http.Server{
			Addr:              cfg.Server.TLS.ACME.HTTPAddr,
			Handler:           challenge,
			ReadHeaderTimeout: 10 * time.Second,
		}
	}

	m := metrics.New()
	metrics.SetGlobal(m)
	if cfg.Metrics.Enabled {
		s.metrics = metrics.NewServer(m, metrics.ServerConfig{
			Addr:       cfg.Metrics.ListenAddr,
			Path:       cfg.Metrics.Path,
			AllowedIPs: cfg.Metrics.AllowedIPs,
		}, logger.With("component", "metrics"))
		s.collector = metrics.NewCollector(m, 0)
	}

	workerDeps := worker.Deps{
		Shared:   shared,
		Sessions: users,
		Usage:    profiles,
		Billing:  billingSvc,
		Limiter:  limiter,
	}
	if purger, ok := store.(kv.Purger); ok {
		workerDeps.Cache = purger
	}
	s.worker = worker.New(workerDeps, worker.Config{
		Interval:          time.Minute,
		UsageResetEnabled: cfg.Billing.UsageResetEnabled,
		BillingPeriodDays: cfg.Billing.BillingPeriodDays,
	}, logger)

	return nil
}

// OpenStore opens the session and cache store named by cfg.Backend.
func OpenStore(ctx context.Context, cfg config.CacheConfig) (kv.Store, error) {
	switch cfg.Backend {
	case "memory":
		return kv.NewMemoryStore(), nil
	case "redis":
		store, err := kv.ConnectRedis(ctx, cfg.RedisURL, cacheKeyPrefix)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		store, err := kv.OpenBolt(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open session store: %w", err)
		}
		return store, nil
	}
}

// NewCompleter builds the client logic sections use. A configured endpoint
// wins over the built-in provider engine.
func NewCompleter(ctx context.Context, cfg config.AIConfig, logger *slog.Logger) (ai.Completer, error) {
	retry := ai.DefaultRetryConfig()
	retry.MaxAttempts = cfg.MaxAttempts
	logger = logger.With("component", "ai")

	if cfg.Endpoint != "" {
		return ai.NewClient(cfg.Endpoint,
			ai.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}),
			ai.WithRetryConfig(retry),
			ai.WithLogger(logger),
		), nil
	}

	var provider ai.Provider
	switch cfg.Provider {
	case "gemini":
		p, err := ai.NewGeminiProvider(ctx, cfg.APIKey, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize AI provider: %w", err)
		}
		provider = p
	default:
		provider = ai.NewOpenAIProvider(cfg.BaseURL, cfg.APIKey, cfg.Model, &http.Client{Timeout: cfg.Timeout})
	}
	return ai.NewEngine(provider, retry, logger), nil
}

func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) (notify.Notifier, error) {
	if !cfg.Enabled {
		return notify.Nop{}, nil
	}

	host, portStr, err := net.SplitHostPort(cfg.SMTPAddr)
	if err != nil {
		return nil, fmt.Errorf("invalid notify.smtp_addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid notify.smtp_addr port: %w", err)
	}

	var signer *notify.Signer
	if cfg.DKIM.Enabled {
		signer, err = notify.NewSignerFromFile(cfg.DKIM.KeyFile, cfg.DKIM.Domain, cfg.DKIM.Selector)
		if err != nil {
			return nil, fmt.Errorf("failed to load DKIM key: %w", err)
		}
	}

	hostname, _ := os.Hostname()
	return notify.NewSMTPNotifier(notify.SMTPConfig{
		Host:     host,
		Port:     port,
		Username: cfg.Username,
		Password: cfg.Password,
		From:     cfg.From,
		Hostname: hostname,
		StartTLS: cfg.StartTLS,
		Timeout:  cfg.Timeout,
	}, signer, logger.With("component", "notify")), nil
}

func (s *Server) Run(ctx context.Context) error {
	// Start background worker
	s.worker.Start()
	if s.collector != nil {
		s.collector.Start(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("starting web server", "addr", s.cfg.Server.ListenAddr)
		var err error
		if s.http.TLSConfig != nil {
			err = s.http.ListenAndServeTLS("", "")
		} else {
			err = s.http.ListenAndServe()
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	if s.challenge != nil {
		g.Go(func() error {
			s.logger.Info("starting ACME challenge listener", "addr", s.challenge.Addr)
			if err := s.challenge.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("ACME challenge listener: %w", err)
			}
			return nil
		})
	}

	if s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("shutdown error", "error", err)
		}
		if s.challenge != nil {
			s.challenge.Shutdown(shutdownCtx)
		}
		if s.metrics != nil {
			if err := s.metrics.Shutdown(shutdownCtx); err != nil {
				s.logger.Error("metrics shutdown error", "error", err)
			}
		}
		return nil
	})

	err := g.Wait()

	s.worker.Stop()
	if s.collector != nil {
		s.collector.Stop()
	}
	// pending logic runs and notifications still write to the stores
	s.playback.Wait()
	s.close()
	return err
}

func (s *Server) close() {
	if s.publisher != nil {
		if err := s.publisher.Close(); err != nil {
			s.logger.Warn("failed to close event publisher", "error", err)
		}
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			s.logger.Warn("failed to close session store", "error", err)
		}
	}
	s.db.Close()
}
