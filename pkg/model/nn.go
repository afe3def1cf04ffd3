package model

import "math"

const rmsEps = 1e-5

// Linear is the matrix-vector product w @ x.
func Linear(t *Tape, x []Value, w Matrix) []Value {
	out := make([]Value, len(w))
	terms := make([]Value, len(x))
	for o, row := range w {
		for i := range x {
			terms[i] = t.Mul(row[i], x[i])
		}
		out[o] = t.Sum(terms)
	}
	return out
}

// Softmax shifts by the raw maximum before exponentiating. The shift is a
// constant, so no gradient flows through it.
func Softmax(t *Tape, logits []Value) []Value {
	maxVal := math.Inf(-1)
	for _, l := range logits {
		if d := t.Data(l); d > maxVal {
			maxVal = d
		}
	}
	exps := make([]Value, len(logits))
	for i, l := range logits {
		exps[i] = t.Exp(t.Sub(l, t.Const(maxVal)))
	}
	total := t.Sum(exps)
	probs := make([]Value, len(logits))
	for i, e := range exps {
		probs[i] = t.Div(e, total)
	}
	return probs
}

// RMSNorm scales x by 1/sqrt(mean(x^2)+eps). There is no learned gain.
func RMSNorm(t *Tape, x []Value) []Value {
	sq := make([]Value, len(x))
	for i, xi := range x {
		sq[i] = t.Mul(xi, xi)
	}
	ms := t.DivScalar(t.Sum(sq), float64(len(x)))
	scale := t.Pow(t.Add(ms, t.Const(rmsEps)), -0.5)
	out := make([]Value, len(x))
	for i, xi := range x {
		out[i] = t.Mul(xi, scale)
	}
	return out
}
