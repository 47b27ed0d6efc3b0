// Command catalog-ingest bulk-loads gzipped catalog dumps into the products
// table. Each input file is JSON Lines, one product per line. Dumps exported
// from regional systems overlap, so product ids are deduplicated across
// files before writing; the first occurrence wins.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sync"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	pgzip "github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/merchkit/checkout/internal/repository"
)

const (
	bloomCapacity = 10_000_000
	bloomFPR      = 0.001
	progressEvery = 100_000
)

type productLine struct {
	ID       string          `json:"id"`
	Name     string          `json:"name"`
	Price    decimal.Decimal `json:"price"`
	Stock    int             `json:"stock"`
	Image    string          `json:"image"`
	Category string          `json:"category"`
}

func main() {
	var (
		dataGlob    string
		databaseURL string
	)

	flag.StringVar(&dataGlob, "data-glob", "data/catalog-*.jsonl.gz", "glob of gzipped catalog dump files")
	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
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

	if err := run(ctx, dataGlob, databaseURL); err != nil {
		slog.Error("catalog ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	slog.Info("catalog ingest completed successfully")
}

func run(ctx context.Context, dataGlob, databaseURL string) error {
	files, err := filepath.Glob(dataGlob)
	if err != nil {
		return errors.Wrap(err, "expand data glob")
	}
	if len(files) == 0 {
		return errors.Errorf("no files match %q", dataGlob)
	}

	slog.Info("scanning catalog dumps", slog.Int("files", len(files)))

	products, err := collectProducts(ctx, files)
	if err != nil {
		return errors.Wrap(err, "collect products")
	}

	slog.Info("distinct products found", slog.Int("count", len(products)))

	slog.Info("connecting to database")

	pool, err := repository.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	if err := repository.RunMigrations(ctx, pool); err != nil {
		return errors.Wrap(err, "run migrations")
	}

	const upsertSQL = `INSERT INTO products (id, name, price, stock, image, category)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, price = EXCLUDED.price, stock = EXCLUDED.stock,
			image = EXCLUDED.image, category = EXCLUDED.category`

	for _, p := range products {
		if _, err := pool.Exec(ctx, upsertSQL,
			p.ID, p.Name, p.Price, p.Stock, p.Image, p.Category,
		); err != nil {
			return errors.Wrapf(err, "upsert product %s", p.ID)
		}
	}

	slog.Info("products written", slog.Int("count", len(products)))
	return nil
}

// collectProducts streams every dump concurrently and keeps the first
// occurrence of each product id. The bloom filter screens out the bulk of
// repeats cheaply; the map behind it resolves the filter's false positives.
func collectProducts(ctx context.Context, files []string) ([]productLine, error) {
	var (
		mu       sync.Mutex
		seen     = bloom.NewWithEstimates(bloomCapacity, bloomFPR)
		byID     = make(map[string]struct{})
		products []productLine
	)

	g, ctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			var count uint64
			err := streamGzFile(ctx, path, func(line []byte) error {
				var p productLine
				if err := json.Unmarshal(line, &p); err != nil {
					return errors.Wrapf(err, "parse line %q", truncateLine(line))
				}
				if p.ID == "" {
					return errors.Errorf("product without id: %q", truncateLine(line))
				}

				count++
				if count%progressEvery == 0 {
					slog.Info("scan progress",
						slog.Int("file", i+1),
						slog.Uint64("lines", count),
					)
				}

				mu.Lock()
				defer mu.Unlock()
				if seen.TestString(p.ID) {
					if _, dup := byID[p.ID]; dup {
						return nil
					}
				}
				seen.AddString(p.ID)
				byID[p.ID] = struct{}{}
				products = append(products, p)
				return nil
			})
			if err != nil {
				return errors.Wrapf(err, "scan file %s", path)
			}

			slog.Info("scan complete", slog.Int("file", i+1), slog.Uint64("lines", count))
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return products, nil
}

// streamGzFile reads a gzipped file line by line, invoking fn per non-empty
// line. It checks ctx between lines so a signal aborts promptly.
func streamGzFile(ctx context.Context, path string, fn func(line []byte) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "open")
	}
	defer f.Close()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return errors.Wrap(err, "gzip reader")
	}
	defer gz.Close()

	scanner := bufio.NewScanner(gz)
	scanner.Buffer(make([]byte, 0, 1<<16), 1<<20)
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := fn(line); err != nil {
			return err
		}
	}
	return errors.Wrap(scanner.Err(), "scan")
}

func truncateLine(b []byte) string {
	const max = 80
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}
