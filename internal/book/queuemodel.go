package book

import "math"

// QueueModel is the closed set of self-fill probability curves. Each is a
// pure function of normalized queue position x in [0,1] (0=head, 1=tail).
type QueueModel int

const (
	RiskAverse QueueModel = iota
	Probability
	PowerLaw
	Logarithmic
)

// FillProbability returns the probability in [0,1] that an order at
// normalized position x would have been filled.
func (m QueueModel) FillProbability(x float64) float64 {
	switch m {
	case RiskAverse:
		if x < 0.01 {
			return 1
		}
		return 0
	case Probability:
		return 1 - x
	case PowerLaw:
		return 1 - x*x
	case Logarithmic:
		return 1 - math.Log(1+x)/math.Log(2)
	default:
		return 0
	}
}
