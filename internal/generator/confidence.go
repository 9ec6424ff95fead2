package generator

import (
	"math"

	"github.com/felipepmaragno/sqlassist/internal/domain"
)

// MinTokenProbability is the fixed floor every token must exceed.
const MinTokenProbability = 0.2

// Averages are rounded differently per call site: 3 decimals for SQL
// generation, 2 for team building.
const (
	SQLAverageDecimals  = 3
	TeamAverageDecimals = 2
)

// Score converts a log-probability stream into per-token probabilities and
// decides whether the completion is trustworthy. A missing stream never counts
// as confident.
func Score(logprobs []domain.TokenLogProb, threshold float64, avgDecimals int) domain.Confidence {
	conf := domain.Confidence{
		Tokens:    []domain.TokenProbability{},
		Threshold: threshold,
	}
	if len(logprobs) == 0 {
		return conf
	}

	minProb := math.Inf(1)
	var sum float64
	for _, lp := range logprobs {
		p := round(math.Exp(lp.LogProb), 3)
		conf.Tokens = append(conf.Tokens, domain.TokenProbability{Token: lp.Token, Probability: p})
		sum += p
		minProb = min(minProb, p)
	}
	avg := round(sum/float64(len(logprobs)), avgDecimals)

	conf.Min = &minProb
	conf.Avg = &avg
	conf.MeetsThreshold = minProb > MinTokenProbability && avg > threshold
	return conf
}

func round(x float64, decimals int) float64 {
	scale := math.Pow(10, float64(decimals))
	return math.Round(x*scale) / scale
}
