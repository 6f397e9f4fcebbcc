package score

import (
	"confluence/internal/config"
	"confluence/internal/feature"
)

// VSAClass 是量价关系的封闭分类。
type VSAClass int

const (
	VSANeutral VSAClass = iota
	// VSAValid 放量且大幅波动，努力与结果一致
	VSAValid
	// VSAChurning 放量但波动很小，常见于换手/反转前
	VSAChurning
	// VSAFakeout 缩量却大幅波动，容易是假突破
	VSAFakeout
)

// Score 返回分类对应的数值。
func (c VSAClass) Score() float64 {
	switch c {
	case VSAValid:
		return 1
	case VSAChurning:
		return -1
	case VSAFakeout:
		return -0.5
	default:
		return 0
	}
}

func (c VSAClass) String() string {
	switch c {
	case VSAValid:
		return "VALID"
	case VSAChurning:
		return "CHURNING"
	case VSAFakeout:
		return "FAKEOUT"
	default:
		return "NEUTRAL"
	}
}

func (c VSAClass) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// VSAClassifier 按相对成交量与相对振幅分类。
type VSAClassifier struct {
	HighVolume   float64
	LowVolume    float64
	WideSpread   float64
	NarrowSpread float64
}

func NewVSAClassifier(cfg config.VSAConfig) VSAClassifier {
	return VSAClassifier{
		HighVolume:   cfg.HighVolume,
		LowVolume:    cfg.LowVolume,
		WideSpread:   cfg.WideSpread,
		NarrowSpread: cfg.NarrowSpread,
	}
}

// Classify 的分支互斥：high/low 成交量与 wide/narrow 振幅阈值不重叠。
func (c VSAClassifier) Classify(relVolume, relSpread float64) VSAClass {
	switch {
	case relVolume > c.HighVolume && relSpread > c.WideSpread:
		return VSAValid
	case relVolume > c.HighVolume && relSpread < c.NarrowSpread:
		return VSAChurning
	case relVolume < c.LowVolume && relSpread > c.WideSpread:
		return VSAFakeout
	default:
		return VSANeutral
	}
}

// FromVector 读取 vsa_rel_volume 与 vsa_rel_spread。
func (c VSAClassifier) FromVector(v feature.Vector) (VSAClass, bool) {
	relVol, ok := v.Get(feature.VSARelVolume)
	if !ok {
		return VSANeutral, false
	}
	relSpread, ok := v.Get(feature.VSARelSpread)
	if !ok {
		return VSANeutral, false
	}
	return c.Classify(relVol, relSpread), true
}
