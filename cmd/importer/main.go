package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/joho/godotenv"

	"storefront/internal/config"
	"storefront/internal/db"
	"storefront/internal/importer"
	"storefront/internal/kvstore"
	"storefront/internal/logging"
	"storefront/internal/repository/product"
)

func main() {
	var filePath string
	flag.StringVar(&filePath, "file", "", "Path to catalog CSV (id,productName,category,price,quantity,imageUrl,description)")
	flag.Parse()

	if filePath == "" {
		flag.Usage()
		os.Exit(2)
	}

	_ = godotenv.Load()
	cfg := config.FromEnv()
	logger := logging.New(cfg.LogLevel)
	log := logger.WithField("app", "importer")

	ctx := context.Background()
	pool, err := db.Connect(ctx, cfg.DBConnString)
	if err != nil {
		log.WithError(err).Fatal("connect db")
	}
	defer pool.Close()

	f, err := os.Open(filePath)
	if err != nil {
		log.WithError(err).Fatal("open file")
	}
	defer f.Close()

	repo := product.NewKV(kvstore.NewPostgres(pool, logger), logger)
	imp := importer.NewCSVImporter(f, repo, logger)

	start := time.Now()
	count, err := imp.Run(ctx)
	if err != nil {
		log.WithError(err).WithField("imported", count).Fatal("import failed")
	}

	log.WithField("count", count).WithField("took", time.Since(start).Truncate(time.Millisecond).String()).Info("import finished")
}
