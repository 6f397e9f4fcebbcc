package feature

import "strconv"

// 下游（regime/score/gate/risk）引用的特征名。
const (
	Volume             = "volume"
	LogVolumeChange    = "log_volume_change"
	EMA2050Diff        = "ema_20_50_diff"
	RSI                = "rsi"
	RSIPrev            = "rsi_prev"
	RSINorm            = "rsi_norm"
	RSISlope           = "rsi_slope"
	MFINorm            = "mfi_norm"
	StochRSINorm       = "stoch_rsi_norm"
	ATR                = "atr"
	ATRPct             = "atr_pct"
	BBWidth            = "bb_width"
	BBPosition         = "bb_position"
	TrueRangePct       = "true_range_pct"
	VolumeRatio        = "volume_ratio"
	VolumeTrend        = "volume_trend"
	OBVSlope           = "obv_slope"
	CMF                = "cmf"
	ADX                = "adx"
	DIDiff             = "di_diff"
	KER10              = "ker_10"
	StructureDirection = "structure_direction"
	BOSBull            = "bos_bull"
	BOSBear            = "bos_bear"
	PositionInRange    = "position_in_range"
	VSARelVolume       = "vsa_rel_volume"
	VSARelSpread       = "vsa_rel_spread"
	VSAClosePosition   = "vsa_close_position"
	VSADivergence      = "vsa_divergence"
	FibPosition        = "fib_position"
	FibNear618         = "fib_near_618"
	FibNear786         = "fib_near_786"
	FVGBull            = "fvg_bull"
	FVGBear            = "fvg_bear"
	FVGSize            = "fvg_size"
	OrderBlockBull     = "order_block_bull"
	OrderBlockBear     = "order_block_bear"
)

// LogReturn 返回 log_return_k。
func LogReturn(k int) string { return "log_return_" + strconv.Itoa(k) }

// DistToEMA 返回 dist_to_ema_p。
func DistToEMA(p int) string { return "dist_to_ema_" + strconv.Itoa(p) }

// EMASlope 返回 ema_slope_p。
func EMASlope(p int) string { return "ema_slope_" + strconv.Itoa(p) }

// FibNear 返回 fib_near_xxx（level 以千分比表示，如 618）。
func FibNear(level int) string { return "fib_near_" + strconv.Itoa(level) }
