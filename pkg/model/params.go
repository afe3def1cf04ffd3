package model

import "fmt"

const initStd = 0.08

// Matrix is a weight matrix of parameter nodes, rows = output dimension.
type Matrix [][]Value

func newMatrix(t *Tape, rng *Random, nout, nin int) Matrix {
	m := make(Matrix, nout)
	for o := range m {
		row := make([]Value, nin)
		for i := range row {
			row[i] = t.Leaf(rng.Gauss(0, initStd))
		}
		m[o] = row
	}
	return m
}

// Layer holds the weights of one transformer block.
type Layer struct {
	AttnWQ Matrix
	AttnWK Matrix
	AttnWV Matrix
	AttnWO Matrix
	MLPFC1 Matrix
	MLPFC2 Matrix
}

func (l *Layer) matrices() []Matrix {
	return []Matrix{l.AttnWQ, l.AttnWK, l.AttnWV, l.AttnWO, l.MLPFC1, l.MLPFC2}
}

var layerMatrixNames = []string{"attn_wq", "attn_wk", "attn_wv", "attn_wo", "mlp_fc1", "mlp_fc2"}

// Params is the full parameter set of the model.
type Params struct {
	WTE    Matrix
	WPE    Matrix
	LMHead Matrix
	Layers []Layer
}

// NewParams allocates every matrix on t with N(0, 0.08) entries. The
// allocation order fixes both the draw order and the Flatten order.
func NewParams(t *Tape, rng *Random, cfg Config, vocabSize int) *Params {
	p := &Params{
		WTE:    newMatrix(t, rng, vocabSize, cfg.NEmbd),
		WPE:    newMatrix(t, rng, cfg.BlockSize, cfg.NEmbd),
		LMHead: newMatrix(t, rng, vocabSize, cfg.NEmbd),
		Layers: make([]Layer, cfg.NLayer),
	}
	for i := range p.Layers {
		p.Layers[i] = Layer{
			AttnWQ: newMatrix(t, rng, cfg.NEmbd, cfg.NEmbd),
			AttnWK: newMatrix(t, rng, cfg.NEmbd, cfg.NEmbd),
			AttnWV: newMatrix(t, rng, cfg.NEmbd, cfg.NEmbd),
			AttnWO: newMatrix(t, rng, cfg.NEmbd, cfg.NEmbd),
			MLPFC1: newMatrix(t, rng, 4*cfg.NEmbd, cfg.NEmbd),
			MLPFC2: newMatrix(t, rng, cfg.NEmbd, 4*cfg.NEmbd),
		}
	}
	return p
}

func (p *Params) matrices() []Matrix {
	out := []Matrix{p.WTE, p.WPE, p.LMHead}
	for i := range p.Layers {
		out = append(out, p.Layers[i].matrices()...)
	}
	return out
}

// Names lists the matrices in Flatten order, e.g. "layer0.attn_wq".
func (p *Params) Names() []string {
	names := []string{"wte", "wpe", "lm_head"}
	for i := range p.Layers {
		for _, n := range layerMatrixNames {
			names = append(names, fmt.Sprintf("layer%d.%s", i, n))
		}
	}
	return names
}

// Flatten lists every parameter node.
func (p *Params) Flatten() []Value {
	var out []Value
	for _, m := range p.matrices() {
		for _, row := range m {
			out = append(out, row...)
		}
	}
	return out
}

// Shapes reports rows x cols per matrix, in Names order.
func (p *Params) Shapes() [][2]int {
	ms := p.matrices()
	out := make([][2]int, len(ms))
	for i, m := range ms {
		cols := 0
		if len(m) > 0 {
			cols = len(m[0])
		}
		out[i] = [2]int{len(m), cols}
	}
	return out
}
