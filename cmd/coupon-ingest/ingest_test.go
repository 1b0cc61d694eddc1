package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/fulfillment/internal/domain/coupon"
	"github.com/xenking/fulfillment/internal/storage/memory"
)

func writeGz(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func testOptions(minFiles int) scanOptions {
	return scanOptions{MinFiles: minFiles, Expected: 1000, FalsePositive: 0.0001}
}

func TestSharedCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeGz(t, dir, "a.gz", "FEAST2026", "solo-a", "monsoon50", "X1"),
		writeGz(t, dir, "b.gz", "feast2026", "ONLYINB", "MONSOON50", "MONSOON50"),
		writeGz(t, dir, "c.gz", "FEAST2026", "ONLYINC"),
	}

	tests := []struct {
		name     string
		minFiles int
		want     []string
	}{
		{name: "two of three", minFiles: 2, want: []string{"FEAST2026", "MONSOON50"}},
		{name: "all three", minFiles: 3, want: []string{"FEAST2026"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := sharedCodes(context.Background(), files, testOptions(tt.minFiles))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSharedCodesMissingFile(t *testing.T) {
	_, err := sharedCodes(context.Background(), []string{filepath.Join(t.TempDir(), "nope.gz")}, testOptions(1))
	require.Error(t, err)
}

func TestScanCodesSkipsOutOfRange(t *testing.T) {
	path := writeGz(t, t.TempDir(), "codes.gz", "ab", "  spaced1 ", strings.Repeat("Z", 40), "OKCODE")

	var got []string
	n, err := scanCodes(context.Background(), path, func(code string) { got = append(got, code) })
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)
	assert.Equal(t, []string{"SPACED1", "OKCODE"}, got)
}

func TestWriteCouponsKeepsUsage(t *testing.T) {
	ctx := context.Background()
	store := memory.NewCoupons()
	now := time.Now()
	tmpl := campaign{
		DiscountType: string(coupon.DiscountFlat),
		Value:        decimal.NewFromInt(75),
		MinOrder:     decimal.NewFromInt(299),
		UsageLimit:   5,
		PerCustomer:  1,
		ValidFrom:    now.Add(-time.Minute),
		ValidUntil:   now.Add(24 * time.Hour),
		Description:  "Partner promo",
	}
	require.NoError(t, tmpl.validate())

	require.NoError(t, writeCoupons(ctx, store, []string{"FEAST2026", "MONSOON50"}, tmpl))
	_, ok, err := store.Acquire(ctx, "FEAST2026", now)
	require.NoError(t, err)
	require.True(t, ok)

	tmpl.UsageLimit = 10
	require.NoError(t, writeCoupons(ctx, store, []string{"FEAST2026"}, tmpl))

	c, err := store.Get(ctx, "FEAST2026")
	require.NoError(t, err)
	assert.Equal(t, 1, c.UsedCount)
	assert.Equal(t, 10, c.UsageLimit)
	assert.True(t, decimal.NewFromInt(75).Equal(c.DiscountValue))
}

func TestCampaignValidate(t *testing.T) {
	now := time.Now()
	base := campaign{
		DiscountType: string(coupon.DiscountPercentage),
		Value:        decimal.NewFromInt(10),
		UsageLimit:   1,
		ValidFrom:    now,
		ValidUntil:   now.Add(time.Hour),
	}
	require.NoError(t, base.validate())

	bad := base
	bad.DiscountType = "bogo"
	assert.Error(t, bad.validate())

	bad = base
	bad.UsageLimit = 0
	assert.Error(t, bad.validate())

	bad = base
	bad.ValidUntil = now
	assert.Error(t, bad.validate())
}
