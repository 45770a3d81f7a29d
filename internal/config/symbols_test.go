package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeContract(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"MNQ", "MNQ"},
		{"MNQH5", "MNQ"},
		{"MNQH25", "MNQ"},
		{"MNQZ4", "MNQ"},
		{"MESZ4", "MES"},
		{"MESM25", "MES"},
		{"ESH5", "ES"},
		{"NQU5", "NQ"},
		{"CLF26", "CL"},
		{"GCM5", "GC"},
		{"ES", "ES"},
		{"mnqh5", "MNQ"},
		{" mnq ", "MNQ"},
		{"M5", "M5"},
		{"123", "123"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeContract(tt.input))
		})
	}
}

func TestSymbolMap_Terms(t *testing.T) {
	m := DefaultSymbolMap()

	t.Run("twitter terms for MNQ", func(t *testing.T) {
		terms := m.Terms("MNQ", "twitter")
		assert.Equal(t, []string{"$MNQ", "$NQ", "nasdaq futures", "NQ futures", "tech futures"}, terms)
	})

	t.Run("reddit terms for MES", func(t *testing.T) {
		terms := m.Terms("MES", "reddit")
		assert.Equal(t, []string{"MES", "ES", "S&P 500", "SPY", "SPX"}, terms)
	})

	t.Run("news terms for ES", func(t *testing.T) {
		terms := m.Terms("ES", "news")
		assert.Equal(t, []string{"S&P 500", "stock market", "equities"}, terms)
	})

	t.Run("dated contract resolves to root terms", func(t *testing.T) {
		assert.Equal(t, m.Terms("MNQ", "twitter"), m.Terms("MNQH5", "twitter"))
		assert.Equal(t, m.Terms("CL", "news"), m.Terms("CLF26", "news"))
	})

	t.Run("unmapped symbol falls back to itself", func(t *testing.T) {
		assert.Equal(t, []string{"ZB"}, m.Terms("ZB", "twitter"))
	})

	t.Run("unknown source falls back to symbol", func(t *testing.T) {
		assert.Equal(t, []string{"MNQ"}, m.Terms("MNQ", "telegram"))
	})
}

func TestSymbolMap_Name(t *testing.T) {
	m := DefaultSymbolMap()

	assert.Equal(t, "Micro E-mini Nasdaq-100", m.Name("MNQ"))
	assert.Equal(t, "Micro E-mini Nasdaq-100", m.Name("MNQH25"))
	assert.Equal(t, "Micro E-mini S&P 500", m.Name("MES"))
	assert.Equal(t, "Crude Oil", m.Name("CLF26"))
	assert.Equal(t, "ZB", m.Name("ZB"))
}

func TestSymbolMap_Symbols(t *testing.T) {
	m := DefaultSymbolMap()
	symbols := m.Symbols()

	assert.Len(t, symbols, 6)
	for _, root := range []string{"MNQ", "MES", "ES", "NQ", "CL", "GC"} {
		assert.Contains(t, symbols, root)
	}
}

func TestLoadSymbolMap(t *testing.T) {
	t.Run("empty path returns defaults", func(t *testing.T) {
		m, err := LoadSymbolMap("")
		require.NoError(t, err)
		assert.Len(t, m.Symbols(), 6)
	})

	t.Run("override file replaces and extends mappings", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "symbols.yaml")
		content := strings.Join([]string{
			"symbols:",
			"  mnq:",
			"    name: Nasdaq Micro",
			"    twitter_terms: [\"$MNQ\"]",
			"  ZB:",
			"    name: 30-Year T-Bond",
			"    news_terms: [\"treasury bonds\", \"bond market\"]",
		}, "\n")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

		m, err := LoadSymbolMap(path)
		require.NoError(t, err)

		// Lowercase keys are uppercased, whole mapping replaced
		assert.Equal(t, "Nasdaq Micro", m.Name("MNQ"))
		assert.Equal(t, []string{"$MNQ"}, m.Terms("MNQ", "twitter"))
		// Replaced mapping has no reddit terms, so falls back to symbol
		assert.Equal(t, []string{"MNQ"}, m.Terms("MNQ", "reddit"))

		// New symbol added alongside defaults
		assert.Equal(t, "30-Year T-Bond", m.Name("ZB"))
		assert.Equal(t, []string{"treasury bonds", "bond market"}, m.Terms("ZB", "news"))
		assert.Equal(t, "Micro E-mini S&P 500", m.Name("MES"))
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadSymbolMap("/nonexistent/symbols.yaml")
		assert.Error(t, err)
	})

	t.Run("malformed yaml", func(t *testing.T) {
		dir := t.TempDir()
		path := filepath.Join(dir, "symbols.yaml")
		require.NoError(t, os.WriteFile(path, []byte("symbols: [broken"), 0o600))

		_, err := LoadSymbolMap(path)
		assert.Error(t, err)
	})
}
