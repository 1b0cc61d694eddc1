// Command coupon-ingest imports partner coupon campaigns. Each partner ships a
// gzipped file with one code per line; a code becomes a coupon when it shows
// up in at least -min-files of them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/storage/postgres"
)

func main() {
	var (
		databaseURL string
		pattern     string
		opts        scanOptions
		tmpl        campaign
		discount    string
		maxDiscount string
		minOrder    string
		validDays   int
	)

	flag.StringVar(&databaseURL, "database-url", "", "PostgreSQL connection URL (or DATABASE_URL env)")
	flag.StringVar(&pattern, "files", "data/*.gz", "glob of gzipped partner code files")
	flag.IntVar(&opts.MinFiles, "min-files", 2, "files a code must appear in")
	flag.UintVar(&opts.Expected, "expected", 10_000_000, "expected codes per file, sizes the bloom filters")
	flag.Float64Var(&opts.FalsePositive, "fpr", 0.001, "bloom filter false positive rate")
	flag.StringVar(&tmpl.DiscountType, "type", string(coupon.DiscountPercentage), "discount type: percentage or flat")
	flag.StringVar(&discount, "value", "10", "discount value")
	flag.StringVar(&maxDiscount, "max-discount", "0", "discount cap, 0 for none")
	flag.StringVar(&minOrder, "min-order", "0", "minimum order amount")
	flag.IntVar(&tmpl.UsageLimit, "usage-limit", 1, "total claims per code")
	flag.IntVar(&tmpl.PerCustomer, "per-customer", 1, "claims per customer, 0 for unlimited")
	flag.IntVar(&validDays, "valid-days", 30, "validity window from now")
	flag.StringVar(&tmpl.RestaurantID, "restaurant", "", "restrict codes to a restaurant")
	flag.StringVar(&tmpl.Description, "description", "Partner promo", "coupon description")
	flag.Parse()

	if databaseURL == "" {
		databaseURL = os.Getenv("DATABASE_URL")
	}
	if databaseURL == "" {
		slog.Error("database URL is required: set --database-url or DATABASE_URL")
		os.Exit(1)
	}

	var err error
	if tmpl.Value, err = decimal.NewFromString(discount); err != nil {
		slog.Error("invalid --value", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if tmpl.MaxDiscount, err = decimal.NewFromString(maxDiscount); err != nil {
		slog.Error("invalid --max-discount", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if tmpl.MinOrder, err = decimal.NewFromString(minOrder); err != nil {
		slog.Error("invalid --min-order", slog.String("error", err.Error()))
		os.Exit(1)
	}
	tmpl.ValidFrom = time.Now().UTC()
	tmpl.ValidUntil = tmpl.ValidFrom.AddDate(0, 0, validDays)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := run(ctx, databaseURL, pattern, opts, tmpl); err != nil {
		slog.Error("coupon ingest failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	slog.Info("coupon ingest completed successfully")
}

func run(ctx context.Context, databaseURL, pattern string, opts scanOptions, tmpl campaign) error {
	if err := tmpl.validate(); err != nil {
		return err
	}
	files, err := filepath.Glob(pattern)
	if err != nil {
		return errors.Wrapf(err, "glob %s", pattern)
	}
	if len(files) < opts.MinFiles {
		return errors.Errorf("found %d files matching %s, need at least %d", len(files), pattern, opts.MinFiles)
	}

	codes, err := sharedCodes(ctx, files, opts)
	if err != nil {
		return errors.Wrap(err, "find shared codes")
	}
	slog.Info("shared codes found", slog.Int("count", len(codes)))
	if len(codes) == 0 {
		return nil
	}

	slog.Info("connecting to database")
	pool, err := postgres.NewPool(ctx, databaseURL)
	if err != nil {
		return errors.Wrap(err, "connect to database")
	}
	defer pool.Close()

	return writeCoupons(ctx, postgres.NewCouponStore(pool), codes, tmpl)
}
