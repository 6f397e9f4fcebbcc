package risk

import (
	"math"

	"github.com/shopspring/decimal"
)

var decOne = decimal.NewFromInt(1)

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalLTE(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) <= 0 }
func decimalGTE(a, b float64) bool { return decFromFloat(a).Cmp(decFromFloat(b)) >= 0 }
