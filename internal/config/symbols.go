package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// SymbolMapping holds the search terms used to collect sentiment data for
// one futures contract root.
type SymbolMapping struct {
	Name         string   `yaml:"name"`
	TwitterTerms []string `yaml:"twitter_terms"`
	RedditTerms  []string `yaml:"reddit_terms"`
	NewsTerms    []string `yaml:"news_terms"`
}

// SymbolMap resolves trading symbols to per-source search terms
type SymbolMap struct {
	mappings map[string]SymbolMapping
}

// DefaultSymbolMap returns the built-in mappings for the supported
// futures contracts.
func DefaultSymbolMap() *SymbolMap {
	return &SymbolMap{
		mappings: map[string]SymbolMapping{
			"MNQ": {
				Name:         "Micro E-mini Nasdaq-100",
				TwitterTerms: []string{"$MNQ", "$NQ", "nasdaq futures", "NQ futures", "tech futures"},
				RedditTerms:  []string{"MNQ", "NQ", "nasdaq", "tech stocks", "QQQ"},
				NewsTerms:    []string{"Nasdaq", "technology stocks", "tech sector"},
			},
			"MES": {
				Name:         "Micro E-mini S&P 500",
				TwitterTerms: []string{"$MES", "$ES", "SP500 futures", "ES futures", "SPY"},
				RedditTerms:  []string{"MES", "ES", "S&P 500", "SPY", "SPX"},
				NewsTerms:    []string{"S&P 500", "stock market", "Wall Street"},
			},
			"ES": {
				Name:         "E-mini S&P 500",
				TwitterTerms: []string{"$ES", "ES futures", "SP500", "SPX futures"},
				RedditTerms:  []string{"ES", "S&P 500", "SPY", "SPX"},
				NewsTerms:    []string{"S&P 500", "stock market", "equities"},
			},
			"NQ": {
				Name:         "E-mini Nasdaq-100",
				TwitterTerms: []string{"$NQ", "NQ futures", "nasdaq futures", "QQQ"},
				RedditTerms:  []string{"NQ", "nasdaq", "QQQ", "tech"},
				NewsTerms:    []string{"Nasdaq", "technology", "big tech"},
			},
			"CL": {
				Name:         "Crude Oil",
				TwitterTerms: []string{"$CL", "crude oil", "oil futures", "WTI"},
				RedditTerms:  []string{"crude oil", "oil", "WTI", "energy"},
				NewsTerms:    []string{"crude oil", "oil prices", "OPEC", "energy"},
			},
			"GC": {
				Name:         "Gold",
				TwitterTerms: []string{"$GC", "gold futures", "gold price", "XAU"},
				RedditTerms:  []string{"gold", "GLD", "precious metals"},
				NewsTerms:    []string{"gold", "precious metals", "safe haven"},
			},
		},
	}
}

// symbolMapFile is the YAML layout for symbol mapping overrides
type symbolMapFile struct {
	Symbols map[string]SymbolMapping `yaml:"symbols"`
}

// LoadSymbolMap returns the default mappings merged with overrides from a
// YAML file. Overrides replace the whole mapping for a symbol.
func LoadSymbolMap(path string) (*SymbolMap, error) {
	m := DefaultSymbolMap()
	if path == "" {
		return m, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read symbol map file: %w", err)
	}

	var file symbolMapFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse symbol map file: %w", err)
	}

	for symbol, mapping := range file.Symbols {
		m.mappings[strings.ToUpper(symbol)] = mapping
	}

	return m, nil
}

// Terms returns the search terms for a symbol and data source.
// Dated contract codes resolve to their root mapping (MNQH5 uses MNQ terms);
// unmapped symbols fall back to the symbol itself.
func (m *SymbolMap) Terms(symbol, source string) []string {
	mapping, ok := m.mappings[NormalizeContract(symbol)]
	if !ok {
		return []string{symbol}
	}

	var terms []string
	switch source {
	case "twitter":
		terms = mapping.TwitterTerms
	case "reddit":
		terms = mapping.RedditTerms
	case "news":
		terms = mapping.NewsTerms
	}

	if len(terms) == 0 {
		return []string{symbol}
	}
	return terms
}

// Name returns the display name for a symbol, or the symbol itself when
// unmapped.
func (m *SymbolMap) Name(symbol string) string {
	if mapping, ok := m.mappings[NormalizeContract(symbol)]; ok && mapping.Name != "" {
		return mapping.Name
	}
	return symbol
}

// Symbols returns all mapped contract roots
func (m *SymbolMap) Symbols() []string {
	out := make([]string, 0, len(m.mappings))
	for symbol := range m.mappings {
		out = append(out, symbol)
	}
	return out
}

// Futures month codes (F=Jan ... Z=Dec)
var monthCodes = map[byte]bool{
	'F': true, 'G': true, 'H': true, 'J': true,
	'K': true, 'M': true, 'N': true, 'Q': true,
	'U': true, 'V': true, 'X': true, 'Z': true,
}

// NormalizeContract reduces a dated contract code to its root symbol:
// MNQH5 and MNQH25 become MNQ. Symbols without a month/year suffix are
// returned unchanged.
func NormalizeContract(symbol string) string {
	s := strings.ToUpper(strings.TrimSpace(symbol))

	// Strip trailing year digits
	i := len(s)
	for i > 0 && s[i-1] >= '0' && s[i-1] <= '9' {
		i--
	}
	if i == len(s) || i < 2 {
		// No year suffix, not a dated contract
		return s
	}

	root := s[:i]
	if monthCodes[root[len(root)-1]] && len(root) >= 2 {
		return root[:len(root)-1]
	}
	return s
}
