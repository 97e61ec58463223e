package market

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := DefaultCatalog()
	require.NoError(t, c.Validate())
	assert.Equal(t, []string{"NFLX", "TSLA", "AMZN", "GOOG", "NVDA"}, c.Symbols())

	nflx, ok := c.Lookup("NFLX")
	require.True(t, ok)
	assert.Equal(t, 280.48, nflx.Price)

	_, ok = c.Lookup("MSFT")
	assert.False(t, ok)
}

func TestCatalog_Validate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr string
	}{
		{"empty", Catalog{}, "catalog is empty"},
		{"missing symbol", Catalog{{Symbol: "", Price: 1}}, "channels[0].symbol is required"},
		{"zero price", Catalog{{Symbol: "A", Price: 0}}, "channels[0].price must be > 0"},
		{"negative price", Catalog{{Symbol: "A", Price: 1}, {Symbol: "B", Price: -2}}, "channels[1].price must be > 0"},
		{"duplicate", Catalog{{Symbol: "A", Price: 1}, {Symbol: "A", Price: 2}}, `channels[1].symbol "A" is duplicated`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCatalog_PickCoversAllSymbols(t *testing.T) {
	c := DefaultCatalog()
	r := rand.New(rand.NewPCG(1, 2))

	seen := make(map[string]int)
	for i := 0; i < 1000; i++ {
		seen[c.Pick(r)]++
	}

	for _, sym := range c.Symbols() {
		assert.Greater(t, seen[sym], 0, "symbol %s never picked", sym)
	}
	assert.Len(t, seen, len(c))
}
