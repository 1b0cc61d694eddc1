package app

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/fulfillment",
		Storage:     StorageConfig{Driver: StoragePostgres},
		Pricing:     PricingConfig{TaxRate: "0.05"},
		Matching:    MatchingConfig{RadiusKM: 10, ListLimit: 20},
		Earnings:    EarningsConfig{Timezone: "UTC"},
		Notifier:    NotifierConfig{Driver: NotifierLog},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{
			name:    "postgres without url",
			mutate:  func(c *Config) { c.DatabaseURL = "" },
			wantErr: "database URL is required",
		},
		{
			name: "memory without url",
			mutate: func(c *Config) {
				c.DatabaseURL = ""
				c.Storage.Driver = StorageMemory
			},
		},
		{
			name:    "unknown storage",
			mutate:  func(c *Config) { c.Storage.Driver = "sqlite" },
			wantErr: "unknown storage driver",
		},
		{
			name:    "unknown notifier",
			mutate:  func(c *Config) { c.Notifier.Driver = "sms" },
			wantErr: "unknown notifier driver",
		},
		{
			name:    "malformed tax rate",
			mutate:  func(c *Config) { c.Pricing.TaxRate = "five percent" },
			wantErr: "parse tax rate",
		},
		{
			name:    "tax rate out of range",
			mutate:  func(c *Config) { c.Pricing.TaxRate = "1.5" },
			wantErr: "out of range",
		},
		{
			name:    "zero radius",
			mutate:  func(c *Config) { c.Matching.RadiusKM = 0 },
			wantErr: "radius",
		},
		{
			name:    "unknown timezone",
			mutate:  func(c *Config) { c.Earnings.Timezone = "Mars/Olympus" },
			wantErr: "earnings timezone",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	cfg = Config{Addr: "127.0.0.1:7000", DatabaseURL: "postgres://explicit/db"}
	cfg.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", cfg.DatabaseURL)
	assert.Equal(t, "127.0.0.1:7000", cfg.Addr)
}
