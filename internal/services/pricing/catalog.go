package pricing

import (
	"errors"
	"fmt"
	"os"

	_ "embed"

	"github.com/BurntSushi/toml"
)

var (
	ErrUnknownPackage = errors.New("unknown package")
	ErrUnknownModel   = errors.New("unknown model")
)

//go:embed catalog.toml
var defaultCatalogTOML []byte

// Package is one purchasable credit bundle. Price is independent of
// credits granted; Bonus rides on top of the base amount.
type Package struct {
	Credits    int64  `toml:"credits"`
	Bonus      int64  `toml:"bonus"`
	PriceMinor int64  `toml:"price_minor"`
	Currency   string `toml:"currency"`
}

// Granted is the total credits a successful purchase yields.
func (p Package) Granted() int64 { return p.Credits + p.Bonus }

// ModelRate is the provider's per-token price for one AI model.
type ModelRate struct {
	PerTokenUSD float64 `toml:"per_token_usd"`
}

// TierLimit caps request frequency per rate window for an account tier.
type TierLimit struct {
	RequestsPerWindow int64 `toml:"requests_per_window"`
}

type signupConfig struct {
	BonusCredits int64 `toml:"bonus_credits"`
}

// Catalog is the static pricing configuration: purchasable packages,
// model rates and tier limits. Loaded once at startup; lookups are
// read-only afterwards.
type Catalog struct {
	Signup   signupConfig         `toml:"signup"`
	Packages map[string]Package   `toml:"packages"`
	Models   map[string]ModelRate `toml:"models"`
	Tiers    map[string]TierLimit `toml:"tiers"`
}

// DefaultCatalog parses the embedded catalog.
func DefaultCatalog() (*Catalog, error) {
	return parseCatalog(defaultCatalogTOML)
}

// LoadCatalog reads a catalog from path, or the embedded default when
// path is empty.
func LoadCatalog(path string) (*Catalog, error) {
	if path == "" {
		return DefaultCatalog()
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}

	return parseCatalog(raw)
}

func parseCatalog(raw []byte) (*Catalog, error) {
	c := new(Catalog)

	err := toml.Unmarshal(raw, c)
	if err != nil {
		return nil, fmt.Errorf("parse catalog: %w", err)
	}

	if len(c.Packages) == 0 {
		return nil, errors.New("catalog has no packages")
	}

	return c, nil
}

// LookupPackage returns the named package.
func (c *Catalog) LookupPackage(name string) (Package, error) {
	p, ok := c.Packages[name]
	if !ok {
		return Package{}, fmt.Errorf("%w: %q", ErrUnknownPackage, name)
	}

	return p, nil
}

// LookupModel returns the rate for a model name.
func (c *Catalog) LookupModel(name string) (ModelRate, error) {
	m, ok := c.Models[name]
	if !ok {
		return ModelRate{}, fmt.Errorf("%w: %q", ErrUnknownModel, name)
	}

	return m, nil
}

// SignupBonus is the opening balance granted at account creation.
func (c *Catalog) SignupBonus() int64 { return c.Signup.BonusCredits }

// TierRequestLimit returns the per-window request cap for a tier.
// Unknown tiers fall back to basic.
func (c *Catalog) TierRequestLimit(tier string) int64 {
	t, ok := c.Tiers[tier]
	if !ok {
		t = c.Tiers["basic"]
	}

	return t.RequestsPerWindow
}
