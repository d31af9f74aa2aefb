package model

import (
	"math/rand/v2"

	"gonum.org/v1/gonum/stat"
)

// Split deterministically partitions row indices 0..n-1 into training and
// holdout sets. The same n, ratio and seed always yield the same partition.
// At least one row lands in each set when n >= 2.
func Split(n int, ratio float64, seed uint64) (train, test []int) {
	if n <= 0 {
		return nil, nil
	}
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	rng.Shuffle(n, func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })

	if n == 1 {
		return idx, nil
	}
	cut := int(float64(n) * ratio)
	if cut < 1 {
		cut = 1
	}
	if cut >= n {
		cut = n - 1
	}
	return idx[:cut], idx[cut:]
}

// Accuracy is the share of probabilities that land on the labelled side of 0.5.
func Accuracy(probs, labels []float64) float64 {
	if len(probs) == 0 {
		return 0
	}
	var hit int
	for i, p := range probs {
		if (p >= 0.5) == (labels[i] > 0.5) {
			hit++
		}
	}
	return float64(hit) / float64(len(probs))
}

// R2 is the coefficient of determination. A constant holdout yields 0.
func R2(pred, actual []float64) float64 {
	if len(actual) == 0 {
		return 0
	}
	mean := stat.Mean(actual, nil)
	var ssRes, ssTot float64
	for i, a := range actual {
		d := a - pred[i]
		ssRes += d * d
		m := a - mean
		ssTot += m * m
	}
	if ssTot == 0 {
		return 0
	}
	return 1 - ssRes/ssTot
}

// DistinctCount returns the number of distinct values, stopping early at limit.
func DistinctCount(values []float64, limit int) int {
	seen := make(map[float64]struct{}, limit)
	for _, v := range values {
		seen[v] = struct{}{}
		if len(seen) >= limit {
			break
		}
	}
	return len(seen)
}
