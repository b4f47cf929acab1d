package tensor

import (
	"math"
	"math/rand"
	"sort"
)

// SampleConfig controls how the next token is drawn from the model's output
// distribution.
type SampleConfig struct {
	// Temperature rescales logits before softmax. Zero means greedy decoding.
	Temperature float64
	// TopK keeps only the k most likely tokens. Zero disables the filter.
	TopK int
	// TopP keeps the smallest set of tokens whose cumulative probability
	// reaches p (nucleus sampling). Zero or >= 1 disables the filter.
	TopP float64
}

// SampleToken draws a token index from logits according to cfg.
func SampleToken(logits []float32, cfg SampleConfig, rng *rand.Rand) int {
	if cfg.Temperature <= 0 {
		return Argmax(logits)
	}

	probs := make([]float64, len(logits))
	maxLogit := float64(logits[0])
	for _, v := range logits[1:] {
		if float64(v) > maxLogit {
			maxLogit = float64(v)
		}
	}

	sum := 0.0
	for i, v := range logits {
		p := math.Exp((float64(v) - maxLogit) / cfg.Temperature)
		probs[i] = p
		sum += p
	}
	for i := range probs {
		probs[i] /= sum
	}

	if cfg.TopK > 0 && cfg.TopK < len(probs) {
		applyTopK(probs, cfg.TopK)
	}
	if cfg.TopP > 0 && cfg.TopP < 1 {
		applyTopP(probs, cfg.TopP)
	}

	return sampleFromDistribution(probs, rng)
}

// applyTopK zeroes all but the k largest probabilities and renormalizes.
func applyTopK(probs []float64, k int) {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	keep := make(map[int]bool, k)
	for _, i := range idx[:k] {
		keep[i] = true
	}

	sum := 0.0
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		} else {
			sum += probs[i]
		}
	}
	for i := range probs {
		probs[i] /= sum
	}
}

// applyTopP keeps the most likely tokens whose cumulative probability reaches
// p and renormalizes. The token crossing the threshold is included.
func applyTopP(probs []float64, p float64) {
	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool {
		return probs[idx[a]] > probs[idx[b]]
	})

	keep := make(map[int]bool, len(probs))
	cum := 0.0
	for _, i := range idx {
		keep[i] = true
		cum += probs[i]
		if cum >= p {
			break
		}
	}

	sum := 0.0
	for i := range probs {
		if !keep[i] {
			probs[i] = 0
		} else {
			sum += probs[i]
		}
	}
	for i := range probs {
		probs[i] /= sum
	}
}

// sampleFromDistribution draws an index proportionally to probs.
func sampleFromDistribution(probs []float64, rng *rand.Rand) int {
	r := rng.Float64()
	cum := 0.0
	for i, p := range probs {
		cum += p
		if r < cum {
			return i
		}
	}
	return len(probs) - 1
}
