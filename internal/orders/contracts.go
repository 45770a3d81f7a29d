package orders

import "github.com/ajitpratap0/futuresfunk/internal/config"

// pointValues is the dollar value of one full point of price movement for
// the contract roots this bot trades (CME E-mini and micro specs).
var pointValues = map[string]float64{
	"ES":  50,
	"MES": 5,
	"NQ":  20,
	"MNQ": 2,
	"GC":  100,
	"MGC": 10,
	"CL":  1000,
	"MCL": 100,
}

// PointValue returns the dollar value of one point for a contract,
// resolving dated codes to their root. Unmapped roots fall back to 1 so
// realized P&L degrades to points instead of misreporting.
func PointValue(symbol string) float64 {
	if v, ok := pointValues[config.NormalizeContract(symbol)]; ok {
		return v
	}
	return 1
}
