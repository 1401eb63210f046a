package main

import (
	"context"
	"flag"

	"github.com/joho/godotenv"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/logging"
	"storefront/internal/migrate"
)

func main() {
	var (
		down    int
		version bool
	)
	flag.IntVar(&down, "down", 0, "Roll back this many migrations instead of applying")
	flag.BoolVar(&version, "version", false, "Print the applied schema version and exit")
	flag.Parse()

	_ = godotenv.Load()
	cfg := config.FromEnv()
	log := logging.New(cfg.LogLevel).WithField("app", "migrate")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	switch {
	case version:
		v, dirty, err := migrate.Version(ctx, pool)
		if err != nil {
			log.WithError(err).Fatal("read schema version")
		}
		log.WithField("version", v).WithField("dirty", dirty).Info("schema version")
	case down > 0:
		if err := migrate.Rollback(ctx, pool, down); err != nil {
			log.WithError(err).Fatal("roll back migrations")
		}
		log.WithField("steps", down).Info("migrations rolled back")
	default:
		if err := migrate.Apply(ctx, pool); err != nil {
			log.WithError(err).Fatal("apply migrations")
		}
		log.Info("migrations applied")
	}
}
