package fsrs

import "math"

// Model is the set of memory formulas the Scheduler applies. The Scheduler
// clamps and orders whatever a Model returns, so a Model only has to be a
// reasonable fit, not a well-behaved one.
type Model interface {
	// InitStability is S0(G), the stability after a first exposure.
	InitStability(r Rating) float64
	// InitDifficulty is D0(G), the difficulty after a first exposure.
	InitDifficulty(r Rating) float64
	NextDifficulty(d float64, r Rating) float64
	// RecallStability is the stability after a successful review at retrievability ret.
	RecallStability(d, s, ret float64, r Rating) float64
	// ForgetStability is the stability after a lapse at retrievability ret.
	ForgetStability(d, s, ret float64) float64
	// Retrievability is the probability of recall after elapsedDays at stability s.
	Retrievability(elapsedDays, s float64) float64
	// Interval is the continuous number of days until retrievability falls to
	// the desired retention.
	Interval(s float64) float64
}

const (
	decay  = -0.5
	factor = 19.0 / 81.0 // 0.9^(1/decay) - 1
)

// weightModel is the FSRS-5 formula family parameterised by 19 weights.
type weightModel struct {
	w         [19]float64
	retention float64
}

// NewModel returns the standard FSRS formulas for a parameter set.
func NewModel(p Params) Model {
	return weightModel{w: p.W, retention: p.DesiredRetention}
}

func (m weightModel) InitStability(r Rating) float64 {
	return m.w[r-1]
}

// D0(G) = w4 - e^(w5*(G-1)) + 1
func (m weightModel) InitDifficulty(r Rating) float64 {
	return m.w[4] - math.Exp(m.w[5]*float64(r-1)) + 1
}

// ΔD = -w6*(G-3), damped linearly toward 10, then reverted toward D0(Easy) by w7.
func (m weightModel) NextDifficulty(d float64, r Rating) float64 {
	delta := -m.w[6] * (float64(r) - 3)
	damped := d + delta*(10-d)/9
	return m.w[7]*m.InitDifficulty(Easy) + (1-m.w[7])*damped
}

// S'r = S * (1 + e^w8 * (11-D) * S^-w9 * (e^((1-R)*w10) - 1) * hardPenalty * easyBonus)
func (m weightModel) RecallStability(d, s, ret float64, r Rating) float64 {
	hardPenalty := 1.0
	if r == Hard {
		hardPenalty = m.w[15]
	}
	easyBonus := 1.0
	if r == Easy {
		easyBonus = m.w[16]
	}
	return s * (1 + math.Exp(m.w[8])*
		(11-d)*
		math.Pow(s, -m.w[9])*
		(math.Exp((1-ret)*m.w[10])-1)*
		hardPenalty*easyBonus)
}

// S'f = min(w11 * D^-w12 * ((S+1)^w13 - 1) * e^((1-R)*w14), S / e^(w17*w18))
func (m weightModel) ForgetStability(d, s, ret float64) float64 {
	long := m.w[11] *
		math.Pow(d, -m.w[12]) *
		(math.Pow(s+1, m.w[13]) - 1) *
		math.Exp((1-ret)*m.w[14])
	short := s / math.Exp(m.w[17]*m.w[18])
	return math.Min(long, short)
}

// R(t, S) = (1 + FACTOR*t/S)^DECAY
func (m weightModel) Retrievability(elapsedDays, s float64) float64 {
	return math.Pow(1+factor*elapsedDays/s, decay)
}

// I(S) = S/FACTOR * (r^(1/DECAY) - 1)
func (m weightModel) Interval(s float64) float64 {
	return s / factor * (math.Pow(m.retention, 1/decay) - 1)
}
