package main

import (
	"bufio"
	"context"
	"log/slog"
	"math/bits"
	"os"
	"slices"
	"time"

	"github.com/bits-and-blooms/bloom/v3"
	"github.com/go-faster/errors"
	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/fulfillment/internal/domain/coupon"
)

const (
	minCodeLen    = 4
	maxCodeLen    = 32
	progressEvery = 1_000_000
	writeWorkers  = 8
)

type scanOptions struct {
	MinFiles      int
	Expected      uint
	FalsePositive float64
}

// campaign is the coupon template applied to every imported code.
type campaign struct {
	DiscountType string
	Value        decimal.Decimal
	MaxDiscount  decimal.Decimal
	MinOrder     decimal.Decimal
	UsageLimit   int
	PerCustomer  int
	ValidFrom    time.Time
	ValidUntil   time.Time
	RestaurantID string
	Description  string
}

func (c campaign) validate() error {
	switch {
	case !coupon.DiscountType(c.DiscountType).Valid():
		return errors.Errorf("unknown discount type %q", c.DiscountType)
	case c.Value.IsNegative():
		return errors.New("discount value must not be negative")
	case c.UsageLimit < 1:
		return errors.New("usage limit must be positive")
	case !c.ValidUntil.After(c.ValidFrom):
		return errors.New("validity window is empty")
	}
	return nil
}

func (c campaign) coupon(code string) *coupon.Coupon {
	return &coupon.Coupon{
		Code:                code,
		Description:         c.Description,
		DiscountType:        coupon.DiscountType(c.DiscountType),
		DiscountValue:       c.Value,
		MinOrderAmount:      c.MinOrder,
		MaxDiscount:         c.MaxDiscount,
		ValidFrom:           c.ValidFrom,
		ValidUntil:          c.ValidUntil,
		UsageLimit:          c.UsageLimit,
		IsActive:            true,
		RestaurantID:        c.RestaurantID,
		MaxUsagePerCustomer: c.PerCustomer,
	}
}

// sharedCodes returns the sorted codes present in at least opts.MinFiles
// files. A bloom filter per file keeps the exact second pass limited to
// codes that probably repeat elsewhere.
func sharedCodes(ctx context.Context, files []string, opts scanOptions) ([]string, error) {
	if len(files) > bits.UintSize {
		return nil, errors.Errorf("at most %d files are supported", bits.UintSize)
	}
	if opts.MinFiles < 1 {
		opts.MinFiles = 1
	}

	filters := make([]*bloom.BloomFilter, len(files))
	g, gctx := errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			f := bloom.NewWithEstimates(opts.Expected, opts.FalsePositive)
			n, err := scanCodes(gctx, path, func(code string) { f.AddString(code) })
			if err != nil {
				return errors.Wrapf(err, "index %s", path)
			}
			slog.Info("indexed file", slog.String("file", path), slog.Uint64("codes", n))
			filters[i] = f
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	// Each file reports the codes its peers probably contain, tagged with its
	// own bit; merging the masks counts the files exactly.
	found := make([]map[string]uint, len(files))
	g, gctx = errgroup.WithContext(ctx)
	for i, path := range files {
		g.Go(func() error {
			own := uint(1) << uint(i)
			candidates := make(map[string]uint)
			_, err := scanCodes(gctx, path, func(code string) {
				hits := 1
				for j, f := range filters {
					if j != i && f.TestString(code) {
						hits++
					}
				}
				if hits >= opts.MinFiles {
					candidates[code] |= own
				}
			})
			if err != nil {
				return errors.Wrapf(err, "match %s", path)
			}
			found[i] = candidates
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	merged := make(map[string]uint)
	for _, candidates := range found {
		for code, mask := range candidates {
			merged[code] |= mask
		}
	}
	var out []string
	for code, mask := range merged {
		if bits.OnesCount(mask) >= opts.MinFiles {
			out = append(out, code)
		}
	}
	slices.Sort(out)
	return out, nil
}

// scanCodes streams a gzipped file and calls fn with every normalized code of
// acceptable length. It returns the number of codes passed to fn.
func scanCodes(ctx context.Context, path string, fn func(code string)) (uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, errors.Wrap(err, "open")
	}
	defer func() { _ = f.Close() }()

	gz, err := pgzip.NewReader(f)
	if err != nil {
		return 0, errors.Wrap(err, "gzip reader")
	}
	defer func() { _ = gz.Close() }()

	var n uint64
	scanner := bufio.NewScanner(gz)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return n, err
		}
		code := coupon.NormalizeCode(scanner.Text())
		if len(code) < minCodeLen || len(code) > maxCodeLen {
			continue
		}
		fn(code)
		n++
		if n%progressEvery == 0 {
			slog.Info("scan progress", slog.String("file", path), slog.Uint64("codes", n))
		}
	}
	if err := scanner.Err(); err != nil {
		return n, errors.Wrap(err, "scan")
	}
	return n, nil
}

type couponUpserter interface {
	Upsert(ctx context.Context, c *coupon.Coupon) error
}

// writeCoupons upserts one coupon per code. Existing codes keep their id and
// usage counter.
func writeCoupons(ctx context.Context, store couponUpserter, codes []string, tmpl campaign) error {
	slog.Info("writing coupons", slog.Int("count", len(codes)))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(writeWorkers)
	for _, code := range codes {
		g.Go(func() error {
			if err := store.Upsert(ctx, tmpl.coupon(code)); err != nil {
				return errors.Wrapf(err, "upsert coupon %s", code)
			}
			return nil
		})
	}
	return g.Wait()
}
