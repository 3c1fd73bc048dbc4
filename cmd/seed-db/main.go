package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/oolio-kart-pricing/internal/catalogfile"
	"github.com/xenking/oolio-kart-pricing/internal/domain/auth"
	"github.com/xenking/oolio-kart-pricing/internal/handler"
	"github.com/xenking/oolio-kart-pricing/internal/repository"
)

func main() {
	var (
		databaseURL   string
		catalogFile   string
		apiKey        string
		apiKeyPepper  string
		customerGroup string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&catalogFile, "catalog-file", "db/seed/catalog.json", "path to catalog JSON file")
	flag.StringVar(&apiKey, "api-key", "", "API key to seed (or PRICING_SEED_API_KEY env)")
	flag.StringVar(&apiKeyPepper, "api-key-pepper", "", "HMAC pepper for API key hashing (or PRICING_API_KEY_PEPPER env)")
	flag.StringVar(&customerGroup, "customer-group", "", "customer group priced for the seeded key")
	flag.Parse()

	lg, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = lg.Sync() }()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		lg.Fatal("Database URL is required: set --database-url or DATABASE_URL")
	}
	if apiKey == "" {
		apiKey = os.Getenv("PRICING_SEED_API_KEY")
	}
	if apiKey == "" {
		lg.Fatal("API key is required: set --api-key or PRICING_SEED_API_KEY")
	}
	if apiKeyPepper == "" {
		apiKeyPepper = os.Getenv("PRICING_API_KEY_PEPPER")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, lg, databaseURL, catalogFile, apiKey, apiKeyPepper, customerGroup); err != nil {
		lg.Fatal("Seed failed", zap.Error(err))
	}
	lg.Info("Seed completed")
}

func run(ctx context.Context, lg *zap.Logger, databaseURL, catalogFile, apiKey, pepper, group string) error {
	lg.Info("Connecting to database")
	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	f, err := os.Open(catalogFile)
	if err != nil {
		return errors.Wrap(err, "open catalog file")
	}
	defer func() { _ = f.Close() }()

	products, err := catalogfile.ReadAll(f)
	if err != nil {
		return errors.Wrap(err, "read catalog")
	}

	repo := repository.NewProductRepository(pool)
	for i := range products {
		p := &products[i]
		if err := repo.Upsert(ctx, p); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
		lg.Info("Upserted product", zap.String("id", p.ID), zap.String("mode", string(p.Mode)))
	}

	key := &auth.APIKeyInfo{
		ID:            "default",
		KeyHash:       handler.HashKey([]byte(pepper), apiKey),
		Name:          "Default key",
		CustomerGroup: group,
	}
	if group != "" {
		key.ID = "default-" + group
	}
	if err := repository.NewAPIKeyRepository(pool).Upsert(ctx, key); err != nil {
		return errors.Wrap(err, "upsert api key")
	}
	lg.Info("Upserted API key", zap.String("id", key.ID), zap.String("customer_group", group))
	return nil
}
