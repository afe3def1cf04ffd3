package model

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func TestNonFiniteEncodesAsNull(t *testing.T) {
	nan := math.NaN()
	cases := []struct {
		name string
		v    any
		want []string
	}{
		{"stats", ParamStats{Mean: nan, Std: 0.5}, []string{`"mean":null`, `"std":0.5`}},
		{"embedding", Embedding{TokenID: 1, Char: "a", Vector: []float64{math.Inf(-1), 2}}, []string{`"char":"a"`, `"embedding":[null,2]`}},
		{"viz", SampleViz{
			Activations: Activations{Embedding: []float64{nan}, Attention: [][][]float64{{{1, nan}}}, MLP: [][]float64{{3}}},
			Probs:       []float64{0.25, 0.75},
		}, []string{`"embedding":[null]`, `"attention_weights":[[[1,null]]]`, `"mlp_activations":[[3]]`, `"probs":[0.25,0.75]`}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b, err := json.Marshal(tc.v)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			for _, w := range tc.want {
				if !strings.Contains(string(b), w) {
					t.Fatalf("%s missing %s", b, w)
				}
			}
		})
	}
}
