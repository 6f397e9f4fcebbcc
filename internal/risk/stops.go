package risk

// StopPrice 返回入场价按止损比例偏移后的价格；stoplossPct 为负数。
func StopPrice(entry, stoplossPct float64, short bool) float64 {
	if entry <= 0 {
		return 0
	}
	pct := decFromFloat(stoplossPct)
	factor := decOne.Add(pct)
	if short {
		factor = decOne.Sub(pct)
	}
	return decToFloat(decFromFloat(entry).Mul(factor))
}

// StopHit 判断一根 K 线的高低点是否触及止损价。
func StopHit(short bool, low, high, stop float64) bool {
	if stop <= 0 {
		return false
	}
	if short {
		return high > 0 && decimalGTE(high, stop)
	}
	return low > 0 && decimalLTE(low, stop)
}
