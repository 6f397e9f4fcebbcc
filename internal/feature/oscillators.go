package feature

import (
	"fmt"

	talib "github.com/markcheno/go-talib"

	"confluence/internal/pkg/maputil"
)

// oscillators 输出 RSI/MFI/StochRSI 及其归一化版本。
type oscillators struct {
	rsiPeriod   int
	mfiPeriod   int
	stochPeriod int
	stochSmooth int
}

func newOscillators(params map[string]any) (Producer, error) {
	p := &oscillators{
		rsiPeriod:   maputil.Int(params, "rsi_period", 14),
		mfiPeriod:   maputil.Int(params, "mfi_period", 14),
		stochPeriod: maputil.Int(params, "stoch_period", 14),
		stochSmooth: maputil.Int(params, "stoch_smooth", 3),
	}
	if p.rsiPeriod < 2 {
		return nil, fmt.Errorf("rsi_period must be >= 2, got %d", p.rsiPeriod)
	}
	if err := requirePositive("mfi_period/stoch_period/stoch_smooth", p.mfiPeriod, p.stochPeriod, p.stochSmooth); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *oscillators) Name() string { return "oscillators" }

func (p *oscillators) Features() []string {
	return []string{RSI, RSIPrev, RSINorm, RSISlope, MFINorm, StochRSINorm}
}

// RSI 从下标 period 开始有效；rsi_slope 需要再往前 3 根。
func (p *oscillators) Lookback() int {
	stoch := p.rsiPeriod + (p.stochPeriod - 1) + (p.stochSmooth - 1)
	return maxInt(p.rsiPeriod+4, stoch+1, p.mfiPeriod+1)
}

func (p *oscillators) Produce(w Window, b *Builder) {
	s := w.Series
	rsi := talib.Rsi(s.Close, p.rsiPeriod)
	now := back(rsi, 0)
	b.Set(RSI, now)
	b.Set(RSIPrev, back(rsi, 1))
	b.Set(RSINorm, (now-50)/50)
	b.Set(RSISlope, (now-back(rsi, 3))/100)

	mfi := talib.Mfi(s.High, s.Low, s.Close, s.Volume, p.mfiPeriod)
	b.Set(MFINorm, (back(mfi, 0)-50)/50)

	// 平滑后的 %K 即 RSI 的随机指标，衡量动量的动量
	_, smoothed := talib.StochRsi(s.Close, p.rsiPeriod, p.stochPeriod, p.stochSmooth, talib.SMA)
	b.Set(StochRSINorm, clip((back(smoothed, 0)-50)/50, -1, 1))
}
