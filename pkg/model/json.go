package model

import (
	"encoding/json"
	"math"
)

// JSON has no NaN or Inf. The MarshalJSON methods below write non-finite
// numbers as null so a diverged run can still be reported.

// FiniteOrNil returns nil for NaN and ±Inf.
func FiniteOrNil(x float64) *float64 {
	if math.IsNaN(x) || math.IsInf(x, 0) {
		return nil
	}
	return &x
}

// FiniteOrNils maps FiniteOrNil over xs. A nil slice stays nil.
func FiniteOrNils(xs []float64) []*float64 {
	if xs == nil {
		return nil
	}
	out := make([]*float64, len(xs))
	for i, x := range xs {
		out[i] = FiniteOrNil(x)
	}
	return out
}

func finiteRows(rows [][]float64) [][]*float64 {
	if rows == nil {
		return nil
	}
	out := make([][]*float64, len(rows))
	for i, r := range rows {
		out[i] = FiniteOrNils(r)
	}
	return out
}

// FiniteAttention maps FiniteOrNil over [layer][head][t] weights.
func FiniteAttention(att [][][]float64) [][][]*float64 {
	if att == nil {
		return nil
	}
	out := make([][][]*float64, len(att))
	for i, heads := range att {
		out[i] = finiteRows(heads)
	}
	return out
}

func (p ParamStats) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Mean *float64 `json:"mean"`
		Std  *float64 `json:"std"`
	}{FiniteOrNil(p.Mean), FiniteOrNil(p.Std)})
}

type activationsJSON struct {
	Embedding []*float64     `json:"embedding"`
	Attention [][][]*float64 `json:"attention_weights"`
	MLP       [][]*float64   `json:"mlp_activations"`
}

func (a Activations) toJSON() activationsJSON {
	return activationsJSON{FiniteOrNils(a.Embedding), FiniteAttention(a.Attention), finiteRows(a.MLP)}
}

func (a Activations) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.toJSON())
}

// SampleViz needs its own method; the promoted Activations one would drop
// Probs.
func (s SampleViz) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		activationsJSON
		Probs []*float64 `json:"probs"`
	}{s.Activations.toJSON(), FiniteOrNils(s.Probs)})
}

func (e Embedding) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TokenID int        `json:"token_id"`
		Char    string     `json:"char"`
		Vector  []*float64 `json:"embedding"`
	}{e.TokenID, e.Char, FiniteOrNils(e.Vector)})
}
