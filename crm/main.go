package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leadline-labs/leadline/internal/access"
	"github.com/leadline-labs/leadline/internal/auditexport"
	"github.com/leadline-labs/leadline/internal/funnel"
	"github.com/leadline-labs/leadline/internal/platform/auditlog"
	"github.com/leadline-labs/leadline/internal/platform/auth"
	"github.com/leadline-labs/leadline/internal/platform/httpserver"
	"github.com/leadline-labs/leadline/internal/platform/objectstore"
	"github.com/leadline-labs/leadline/internal/platform/postgres"
	"github.com/leadline-labs/leadline/internal/repo"
	repopg "github.com/leadline-labs/leadline/internal/repo/postgres"
	"github.com/leadline-labs/leadline/internal/service"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	ctx := context.Background()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := configFromEnv()
	if err != nil {
		logger.Error("invalid env", "error", err)
		os.Exit(2)
	}
	authCfg, err := auth.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid auth config", "error", err)
		os.Exit(2)
	}

	dbCfg, err := postgres.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid database config", "error", err)
		os.Exit(2)
	}
	db, err := postgres.Open(ctx, dbCfg)
	if err != nil {
		logger.Error("database unavailable", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	logger.Info("database connected", "url", dbCfg.Redacted())
	if dbCfg.AutoMigrate {
		if err := postgres.ApplySchema(ctx, db); err != nil {
			logger.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
	}

	storeCfg, err := objectstore.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid object store config", "error", err)
		os.Exit(2)
	}
	storeClient, err := objectstore.NewMinIOClient(storeCfg)
	if err != nil {
		logger.Error("object store client init failed", "error", err)
		os.Exit(2)
	}
	startupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if err := objectstore.EnsureBucket(startupCtx, storeClient, storeCfg); err != nil {
		cancel()
		logger.Error("object store unavailable", "error", err)
		os.Exit(1)
	}
	cancel()

	exportCfg, err := auditexport.ConfigFromEnv()
	if err != nil {
		logger.Error("invalid audit export config", "error", err)
		os.Exit(2)
	}

	gate, err := funnel.LoadDefinition(cfg.GateConfigPath)
	if err != nil {
		logger.Error("invalid gate definition", "error", err, "path", cfg.GateConfigPath)
		os.Exit(2)
	}
	signer, err := auth.NewSigner(cfg.SessionSecret)
	if err != nil {
		logger.Error("invalid session secret", "error", err)
		os.Exit(2)
	}

	stores := repopg.NewStores(db)
	tx := repopg.NewTransactor(db)

	exportStore, err := objectstore.NewMinioStore(storeClient)
	if err != nil {
		logger.Error("export store init failed", "error", err)
		os.Exit(2)
	}
	exporter, err := auditexport.NewService(auditexport.DBSource{Q: db}, exportStore, storeCfg.BucketExports, exportCfg, stores.Audit)
	if err != nil {
		logger.Error("audit export init failed", "error", err)
		os.Exit(2)
	}

	resolver := access.NewResolver(stores.Users, stores.Settings, cfg.OverrideCacheTTL)
	api, err := newCRMAPI(crmDeps{
		Logger:   logger,
		Stores:   stores,
		Tx:       tx,
		Resolver: resolver,
		Signer:   signer,
		AuthCfg:  authCfg,
		Config:   cfg,
		Gate:     gate,
		Audit:    dbAuditReader{q: db},
		Exporter: exporter,
	})
	if err != nil {
		logger.Error("api init failed", "error", err)
		os.Exit(2)
	}

	if err := bootstrap(ctx, logger, api, stores, cfg); err != nil {
		logger.Error("bootstrap failed", "error", err)
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", httpserver.Healthz(serviceName))
	mux.HandleFunc(
		"/readyz",
		httpserver.ReadyzWithChecks(
			serviceName,
			httpserver.ReadinessCheck{
				Name:  "postgres",
				Check: httpserver.TimeoutCheck(750*time.Millisecond, db.PingContext),
			},
			httpserver.ReadinessCheck{
				Name: "minio",
				Check: httpserver.TimeoutCheck(750*time.Millisecond, func(ctx context.Context) error {
					return objectstore.CheckBucket(ctx, storeClient, storeCfg)
				}),
			},
		),
	)

	var identity auth.Authenticator
	switch authCfg.Mode {
	case auth.ModeDev:
		logger.Warn("dev auth enabled", "subject", authCfg.DevSubject)
		identity = auth.NewDevAuthenticator(authCfg)
	case auth.ModeGateway:
		headersAuth, err := auth.NewGatewayHeadersAuthenticator(authCfg.GatewaySecret)
		if err != nil {
			logger.Error("invalid internal auth config", "error", err)
			os.Exit(2)
		}
		identity = headersAuth
	default:
		oidcSvc, err := auth.NewOIDCService(ctx, authCfg)
		if err != nil {
			logger.Error("oidc init failed", "error", err)
			os.Exit(1)
		}
		oidcSvc.WithSessionIssuer(api.sessionIssuer)
		if login, err := oidcSvc.LoginHandler(); err == nil {
			mux.HandleFunc("GET /auth/login", login)
		} else {
			logger.Warn("oidc login disabled", "error", err)
		}
		if callback, err := oidcSvc.CallbackHandler(); err == nil {
			mux.HandleFunc("GET /auth/callback", callback)
		}
		identity = oidcSvc
	}
	mux.HandleFunc("POST /auth/logout", auth.LogoutHandler(authCfg))

	limiter := funnel.NewLimiter(cfg.PublicRateLimit, cfg.PublicRateBurst)
	handler := api.handler(mux, identity, limiter.Middleware, func(ctx context.Context, event auth.DenyEvent) error {
		auditCtx, cancel := context.WithTimeout(ctx, 750*time.Millisecond)
		defer cancel()
		return auditlog.InsertAuthDeny(auditCtx, db, serviceName, event)
	})

	serverCfg := httpserver.Config{
		Service:         serviceName,
		Addr:            cfg.Addr,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}

	if err := httpserver.Run(ctx, logger, serverCfg, httpserver.Wrap(logger, handler)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// bootstrap ensures the configured admin exists and warns when the funnel
// has no intake owner to assign captured leads to.
func bootstrap(ctx context.Context, logger *slog.Logger, api *crmAPI, stores repo.Stores, cfg config) error {
	info := service.AuditInfo{Actor: auditlog.SystemActorPrefix + "bootstrap"}
	if cfg.BootstrapAdminEmail != "" {
		user, created, err := api.users.Bootstrap(ctx, info, cfg.BootstrapAdminEmail, "Administrator")
		if err != nil {
			return err
		}
		if created {
			logger.Info("bootstrap admin created", "user_id", user.ID, "email", user.Email)
		}
	}
	if cfg.IntakeOwnerEmail == "" {
		logger.Warn("public lead capture disabled", "reason", "CRM_INTAKE_OWNER_EMAIL is not set")
		return nil
	}
	owner, err := stores.Users.GetUserByEmail(ctx, cfg.IntakeOwnerEmail)
	switch {
	case errors.Is(err, repo.ErrNotFound):
		logger.Warn("public lead capture disabled", "reason", "intake owner not found", "email", cfg.IntakeOwnerEmail)
	case err != nil:
		return err
	case !owner.Active:
		logger.Warn("public lead capture disabled", "reason", "intake owner inactive", "email", cfg.IntakeOwnerEmail)
	}
	return nil
}
