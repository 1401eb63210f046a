package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/httpserver"
	"storefront/internal/kvstore"
	"storefront/internal/logging"
	"storefront/internal/ratelimit"
	accountrepo "storefront/internal/repository/account"
	cartrepo "storefront/internal/repository/cart"
	productrepo "storefront/internal/repository/product"
	profilerepo "storefront/internal/repository/profile"
	tokenrepo "storefront/internal/repository/token"
	"storefront/internal/seed"
	accountsvc "storefront/internal/service/account"
	cartsvc "storefront/internal/service/cart"
	checkoutsvc "storefront/internal/service/checkout"
	"storefront/internal/service/identity"
	productsvc "storefront/internal/service/product"
	"storefront/internal/session"
)

type backend struct {
	store    kvstore.Store
	accounts accountrepo.Repository
	tokens   tokenrepo.Repository
	pool     *pgxpool.Pool
	kv       *kvstore.Postgres
}

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)
	log := logger.WithField("app", "api")

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	be, err := openBackend(ctx, cfg, logger)
	if err != nil {
		log.WithError(err).Fatal("open backend")
	}
	if be.pool != nil {
		defer be.pool.Close()
		go listenLoop(ctx, be.kv, log)
	}

	profiles := profilerepo.NewKV(be.store)
	products := productrepo.NewKV(be.store, logger)
	carts := cartrepo.NewKV(be.store, logger)

	if cfg.StoreBackend == "memory" {
		if err := seed.Apply(ctx, products); err != nil {
			log.WithError(err).Fatal("seed demo catalog")
		}
	}
	if cfg.AdminEmail != "" {
		id, err := seed.EnsureAdmin(ctx, be.accounts, profiles, cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.WithError(err).Fatal("ensure admin")
		}
		log.WithField("user_id", id).Info("admin account ready")
	}

	var mailer identity.Mailer = identity.LogMailer{Log: logger}
	if cfg.SMTPAddr != "" {
		mailer = identity.SMTPMailer{Addr: cfg.SMTPAddr, From: cfg.SMTPFrom}
	}
	idp := identity.New(be.accounts, be.tokens, identity.Options{
		SigningKey:    []byte(cfg.AuthSigningKey),
		SessionTTL:    cfg.SessionTTL,
		PublicBaseURL: cfg.PublicBaseURL,
		Mailer:        mailer,
		Logger:        logger,
	})

	checkouts := checkoutsvc.New(carts, cfg.CheckoutRedirectDelay, cfg.CheckoutFlowTTL, logger)
	go checkouts.Run(ctx, time.Minute)

	limiter := ratelimit.PerMinute(cfg.AuthRatePerMin, cfg.AuthRateBurst, 10*time.Minute)
	go limiter.Run(time.Minute, ctx.Done())

	deps := httpserver.Deps{
		Accounts:    accountsvc.New(idp, profiles, logger),
		Guard:       session.NewGuard(idp, profiles, logger),
		Products:    productsvc.New(products, logger),
		Cart:        cartsvc.New(carts, products, logger),
		Checkout:    checkouts,
		AuthLimiter: limiter,
		CORSOrigins: cfg.CORSOrigins,
	}
	if be.pool != nil {
		deps.DB = be.pool
	}

	srv, err := httpserver.New(cfg.HTTPAddr, logger, deps)
	if err != nil {
		log.WithError(err).Fatal("init server")
	}

	serverErr := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	stopCh := make(chan os.Signal, 1)
	signal.Notify(stopCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stopCh:
		log.WithField("signal", sig.String()).Info("shutting down")
	case err := <-serverErr:
		log.WithError(err).Error("server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("graceful shutdown failed")
	} else {
		log.Info("server stopped")
	}
	cancel()
	checkouts.Close()
}

func openBackend(ctx context.Context, cfg config.Config, logger *logrus.Logger) (*backend, error) {
	if cfg.StoreBackend == "memory" {
		logger.Warn("using in-memory store; data is lost on exit")
		return &backend{
			store:    kvstore.NewMemory(logger),
			accounts: accountrepo.NewMemory(),
			tokens:   tokenrepo.NewMemory(),
		}, nil
	}

	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		return nil, err
	}
	kv := kvstore.NewPostgres(pool, logger)
	return &backend{
		store:    kv,
		accounts: accountrepo.NewPostgres(pool, logger),
		tokens:   tokenrepo.NewPostgres(pool),
		pool:     pool,
		kv:       kv,
	}, nil
}

// listenLoop keeps the change listener running until ctx ends.
func listenLoop(ctx context.Context, kv *kvstore.Postgres, log logrus.FieldLogger) {
	for {
		err := kv.Listen(ctx)
		if ctx.Err() != nil {
			return
		}
		log.WithError(err).Warn("kvstore listener stopped, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Second):
		}
	}
}
