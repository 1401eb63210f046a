package main

import (
	"context"

	"github.com/joho/godotenv"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/kvstore"
	"storefront/internal/logging"
	accountrepo "storefront/internal/repository/account"
	productrepo "storefront/internal/repository/product"
	profilerepo "storefront/internal/repository/profile"
	"storefront/internal/seed"
)

func main() {
	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)
	log := logger.WithField("app", "seed")
	if err := cfg.Validate(); err != nil {
		log.WithError(err).Fatal("invalid configuration")
	}

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	store := kvstore.NewPostgres(pool, logger)
	if err := seed.Apply(ctx, productrepo.NewKV(store, logger)); err != nil {
		log.WithError(err).Fatal("seed apply")
	}

	if cfg.AdminEmail != "" {
		id, err := seed.EnsureAdmin(ctx, accountrepo.NewPostgres(pool, logger), profilerepo.NewKV(store), cfg.AdminEmail, cfg.AdminPassword)
		if err != nil {
			log.WithError(err).Fatal("ensure admin")
		}
		log.WithField("user_id", id).Info("admin account ready")
	}

	log.Info("seed applied")
}
