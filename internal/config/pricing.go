package config

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/orderbilling/pkg/money"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// PackageConfig describes one purchasable package tier.
type PackageConfig struct {
	Type        string   `mapstructure:"type"`
	Name        string   `mapstructure:"name"`
	Description string   `mapstructure:"description"`
	Price       string   `mapstructure:"price"`
	Currency    string   `mapstructure:"currency"`
	Features    []string `mapstructure:"features"`
}

// PriceDecimal returns the parsed package price.
func (p PackageConfig) PriceDecimal() decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(p.Price))
	if err != nil {
		return decimal.Zero
	}
	return d
}

type PricingConfig struct {
	Packages []PackageConfig `mapstructure:"packages"`
}

func DefaultPricingConfig() PricingConfig {
	return PricingConfig{
		Packages: []PackageConfig{
			{
				Type:        "basic",
				Name:        "Basic Package",
				Description: "Perfect for small businesses",
				Price:       "9.99",
				Currency:    "USD",
				Features:    []string{"1,000 impressions", "Basic analytics", "Email support"},
			},
			{
				Type:        "standard",
				Name:        "Standard Package",
				Description: "Great for growing companies",
				Price:       "29.99",
				Currency:    "USD",
				Features:    []string{"10,000 impressions", "Advanced analytics", "Priority email support", "A/B testing"},
			},
			{
				Type:        "premium",
				Name:        "Premium Package",
				Description: "For established brands",
				Price:       "99.99",
				Currency:    "USD",
				Features:    []string{"100,000 impressions", "Full analytics suite", "24/7 phone support", "A/B testing", "Custom targeting"},
			},
		},
	}
}

// PricingHolder serves the current package table and swaps it when pricing.yml changes.
type PricingHolder struct {
	current atomic.Value // holds PricingConfig
}

// NewStaticPricingHolder wraps a fixed table. Used by tests and tools.
func NewStaticPricingHolder(cfg PricingConfig) *PricingHolder {
	holder := &PricingHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewPricingHolder(log *zap.Logger) (*PricingHolder, error) {
	log = log.Named("pricing.config")
	v := viper.New()

	v.SetConfigName("pricing")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/orderbilling")
	v.AddConfigPath(".")

	// Price overrides keep the variable names of the legacy deployment.
	for _, pkg := range []string{"basic", "standard", "premium"} {
		_ = v.BindEnv("overrides."+pkg, "PACKAGE_"+strings.ToUpper(pkg)+"_PRICE")
	}

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	cfg, err := readPricing(v, fileFound)
	if err != nil {
		return nil, err
	}

	holder := NewStaticPricingHolder(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			updated, err := readPricing(v, true)
			if err != nil {
				log.Warn("pricing reload ignored", zap.String("file", e.Name), zap.Error(err))
				return
			}
			holder.current.Store(updated)
			log.Info("pricing reloaded", zap.String("file", e.Name))
		})
	}

	return holder, nil
}

func (h *PricingHolder) Get() PricingConfig {
	return h.current.Load().(PricingConfig)
}

// Lookup returns the package configured for the given type.
func (h *PricingHolder) Lookup(packageType string) (PackageConfig, bool) {
	packageType = strings.ToLower(strings.TrimSpace(packageType))
	for _, pkg := range h.Get().Packages {
		if pkg.Type == packageType {
			return pkg, true
		}
	}
	return PackageConfig{}, false
}

func readPricing(v *viper.Viper, fromFile bool) (PricingConfig, error) {
	cfg := DefaultPricingConfig()
	if fromFile {
		var loaded PricingConfig
		if err := v.UnmarshalKey("pricing", &loaded); err != nil {
			return PricingConfig{}, err
		}
		if len(loaded.Packages) > 0 {
			cfg = loaded
		}
	}

	for i := range cfg.Packages {
		pkg := &cfg.Packages[i]
		pkg.Type = strings.ToLower(strings.TrimSpace(pkg.Type))
		if override := strings.TrimSpace(v.GetString("overrides." + pkg.Type)); override != "" {
			pkg.Price = override
		}
		if strings.TrimSpace(pkg.Currency) == "" {
			pkg.Currency = "USD"
		}
		pkg.Currency = strings.ToUpper(strings.TrimSpace(pkg.Currency))
	}

	if err := validatePricing(cfg); err != nil {
		return PricingConfig{}, err
	}
	return cfg, nil
}

func validatePricing(cfg PricingConfig) error {
	if len(cfg.Packages) == 0 {
		return errors.New("pricing.packages cannot be empty")
	}
	seen := map[string]struct{}{}
	for _, pkg := range cfg.Packages {
		if pkg.Type == "" {
			return errors.New("pricing package type is required")
		}
		if _, dup := seen[pkg.Type]; dup {
			return fmt.Errorf("duplicate pricing package %q", pkg.Type)
		}
		seen[pkg.Type] = struct{}{}
		price, err := decimal.NewFromString(strings.TrimSpace(pkg.Price))
		if err != nil {
			return fmt.Errorf("invalid price for package %q: %w", pkg.Type, err)
		}
		if !price.IsPositive() {
			return fmt.Errorf("price for package %q must be positive", pkg.Type)
		}
		if _, err := money.ToMinorUnits(price, pkg.Currency); err != nil {
			return fmt.Errorf("price for package %q: %w", pkg.Type, err)
		}
	}
	return nil
}
