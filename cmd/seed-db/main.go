// Command seed-db runs migrations and loads products and customers from a
// JSON seed file into the checkout database.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/merchkit/checkout/internal/repository"
)

type seedFile struct {
	Products  []productJSON  `json:"products"`
	Customers []customerJSON `json:"customers"`
}

type productJSON struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Image    string          `json:"image"`
	Category string          `json:"category"`
}

type customerJSON struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func main() {
	var (
		databaseURL string
		seedPath    string
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&seedPath, "seed-file", "db/seed/seed.json", "path to seed JSON file")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, seedPath); err != nil {
		slog.Error("seed failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("seed completed successfully")
}

func run(ctx context.Context, databaseURL, seedPath string) error {
	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	slog.Info("running migrations")

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	slog.Info("reading seed file", slog.String("path", seedPath))

	data, err := os.ReadFile(seedPath)
	if err != nil {
		return errors.Wrap(err, "read seed file")
	}

	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return errors.Wrap(err, "parse seed JSON")
	}

	slog.Info("upserting products", slog.Int("count", len(seed.Products)))

	const upsertProductSQL = `INSERT INTO products (id, name, price, stock, image, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			image = EXCLUDED.image, category = EXCLUDED.category`

	for _, p := range seed.Products {
		if _, err := pool.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Price, p.Stock, p.Image, p.Category,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}

		slog.Info("upserted product", slog.String("id", p.ID), slog.String("name", p.Name))
	}

	slog.Info("upserting customers", slog.Int("count", len(seed.Customers)))

	const upsertCustomerSQL = `INSERT INTO customers (id, name, email)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, email = EXCLUDED.email`

	for _, c := range seed.Customers {
		if _, err := pool.Exec(ctx, upsertCustomerSQL, c.ID, c.Name, c.Email); err != nil {
			return errors.Wrapf(err, "upsert customer %s", c.ID)
		}

		slog.Info("upserted customer", slog.String("id", c.ID), slog.String("email", c.Email))
	}

	return nil
}
