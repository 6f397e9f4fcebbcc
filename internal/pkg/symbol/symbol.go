// Package symbol 统一标的写法：内部一律使用交易所无关的 "BTCUSDT" 形式。
package symbol

import "strings"

// DefaultSettle 是 freqtrade 合约对默认的结算币。
const DefaultSettle = "USDT"

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB"}

type Symbol struct {
	Base  string
	Quote string
}

// String 返回内部形式；无法拆分时为空串。
func (s Symbol) String() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Pair 返回 freqtrade 合约对写法，例如 "BTC/USDT:USDT"。
func (s Symbol) Pair(settle string) string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	settle = strings.ToUpper(strings.TrimSpace(settle))
	if settle == "" {
		return s.Base + "/" + s.Quote
	}
	return s.Base + "/" + s.Quote + ":" + settle
}

// Parse 拆分 "BTCUSDT"、"btc/usdt"、"BTC_USDT"、"BTC-USDT"、"BTC/USDT:USDT" 等写法。
func Parse(raw string) Symbol {
	s := strings.ToUpper(strings.TrimSpace(raw))
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	if s == "" {
		return Symbol{}
	}
	for _, sep := range []string{"/", "_", "-"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			base, quote := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
			if base == "" || quote == "" {
				return Symbol{}
			}
			return Symbol{Base: base, Quote: quote}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

// Normalize 返回内部形式；无法识别计价币时退化为去空白的大写原文。
func Normalize(raw string) string {
	if norm := Parse(raw).String(); norm != "" {
		return norm
	}
	return strings.ToUpper(strings.TrimSpace(raw))
}

// NormalizeList 规范化并去重，保持首次出现的顺序。
func NormalizeList(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := Normalize(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out
}

// Pair 把内部标的转换为 freqtrade 写法；无法拆分时原样返回。
func Pair(instrument, settle string) string {
	if p := Parse(instrument).Pair(settle); p != "" {
		return p
	}
	return Normalize(instrument)
}
