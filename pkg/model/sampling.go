package model

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
)

// SampleOptions controls Generate. Zero TopK or TopP disables that filter;
// with both disabled sampling matches Generate(temperature).
type SampleOptions struct {
	Temperature float64
	TopK        int
	TopP        float64
}

// SoftmaxFloat is the max-shifted softmax over plain floats.
func SoftmaxFloat(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	maxLogit := floats.Max(logits)
	out := make([]float64, len(logits))
	for i, l := range logits {
		out[i] = math.Exp(l - maxLogit)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// NextTokenWeights turns raw logits into sampling weights: recent tokens are
// penalized, logits are divided by temperature, then top-k and top-p
// filters apply.
func NextTokenWeights(logits []float64, temperature float64, topK int, topP float64, recent map[int]bool, repetitionPenalty float64) []float64 {
	l := make([]float64, len(logits))
	for i, v := range logits {
		l[i] = v
		if recent[i] && repetitionPenalty > 0 {
			if l[i] >= 0 {
				l[i] /= repetitionPenalty
			} else {
				l[i] *= repetitionPenalty
			}
		}
		l[i] /= temperature
	}
	w := SoftmaxFloat(l)
	if topK > 0 {
		w = ApplyTopK(w, topK)
	}
	if topP > 0 && topP < 1.0 {
		w = ApplyTopP(w, topP)
	}
	return w
}

// Normalize returns a copy of w scaled to sum to one. Weights with no
// positive finite mass are copied unchanged.
func Normalize(w []float64) []float64 {
	out := append([]float64(nil), w...)
	if sum := floats.Sum(out); sum > 0 && !math.IsInf(sum, 0) {
		floats.Scale(1/sum, out)
	}
	return out
}

type rankedWeight struct {
	i int
	w float64
}

func rank(weights []float64) []rankedWeight {
	arr := make([]rankedWeight, len(weights))
	for i, w := range weights {
		arr[i] = rankedWeight{i, w}
	}
	sort.SliceStable(arr, func(i, j int) bool { return arr[i].w > arr[j].w })
	return arr
}

// ApplyTopK zeroes every weight outside the k largest.
func ApplyTopK(weights []float64, k int) []float64 {
	if k >= len(weights) {
		return weights
	}
	out := make([]float64, len(weights))
	for _, kv := range rank(weights)[:k] {
		out[kv.i] = kv.w
	}
	return out
}

// ApplyTopP keeps the smallest prefix of the ranked weights whose mass
// reaches p.
func ApplyTopP(weights []float64, p float64) []float64 {
	out := make([]float64, len(weights))
	sum := 0.0
	for _, kv := range rank(weights) {
		sum += kv.w
		out[kv.i] = kv.w
		if sum >= p {
			break
		}
	}
	return out
}
