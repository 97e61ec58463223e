package market

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// Instrument is one tradeable symbol and its opening price.
type Instrument struct {
	Symbol string  `yaml:"symbol"`
	Price  float64 `yaml:"price"`
}

// Catalog is an ordered list of instruments. Order drives display order only.
type Catalog []Instrument

// DefaultCatalog returns the built-in instrument set.
func DefaultCatalog() Catalog {
	return Catalog{
		{Symbol: "NFLX", Price: 280.48},
		{Symbol: "TSLA", Price: 244.74},
		{Symbol: "AMZN", Price: 1720.26},
		{Symbol: "GOOG", Price: 1208.67},
		{Symbol: "NVDA", Price: 183.03},
	}
}

// Symbols returns the symbols in catalog order.
func (c Catalog) Symbols() []string {
	out := make([]string, len(c))
	for i, inst := range c {
		out[i] = inst.Symbol
	}
	return out
}

// Lookup returns the instrument for a symbol.
func (c Catalog) Lookup(symbol string) (Instrument, bool) {
	for _, inst := range c {
		if inst.Symbol == symbol {
			return inst, true
		}
	}
	return Instrument{}, false
}

// Pick returns a symbol chosen uniformly at random.
func (c Catalog) Pick(r *rand.Rand) string {
	return c[r.IntN(len(c))].Symbol
}

// Validate checks that the catalog is non-empty, symbols are unique and
// prices are positive.
func (c Catalog) Validate() error {
	if len(c) == 0 {
		return errors.New("catalog is empty")
	}
	seen := make(map[string]struct{}, len(c))
	for i, inst := range c {
		if inst.Symbol == "" {
			return fmt.Errorf("channels[%d].symbol is required", i)
		}
		if inst.Price <= 0 {
			return fmt.Errorf("channels[%d].price must be > 0, got %v", i, inst.Price)
		}
		if _, dup := seen[inst.Symbol]; dup {
			return fmt.Errorf("channels[%d].symbol %q is duplicated", i, inst.Symbol)
		}
		seen[inst.Symbol] = struct{}{}
	}
	return nil
}
