package model

import "math"

// Config is the architecture of the transformer.
type Config struct {
	NEmbd     int `json:"n_embd"`
	NHead     int `json:"n_head"`
	NLayer    int `json:"n_layer"`
	BlockSize int `json:"block_size"`
}

func (c Config) HeadDim() int { return c.NEmbd / c.NHead }

// KVCache holds the keys and values of every processed position, per
// layer. Use one cache per sequence and drop it afterwards.
type KVCache struct {
	Keys   [][][]Value
	Values [][][]Value
}

func NewKVCache(nLayer int) *KVCache {
	return &KVCache{
		Keys:   make([][][]Value, nLayer),
		Values: make([][][]Value, nLayer),
	}
}

// Activations are plain-float snapshots taken during one forward pass.
type Activations struct {
	Embedding []float64     `json:"embedding"`
	Attention [][][]float64 `json:"attention_weights"` // [layer][head][t]
	MLP       [][]float64   `json:"mlp_activations"`   // [layer] pre-ReLU hidden
}

// Forward runs one position through the transformer and returns the
// logits over the vocabulary. It appends this position's key and value
// to cache.
func Forward(t *Tape, p *Params, cfg Config, tokenID, posID int, cache *KVCache) ([]Value, Activations) {
	headDim := cfg.HeadDim()
	scale := math.Sqrt(float64(headDim))

	tokEmb := p.WTE[tokenID]
	posEmb := p.WPE[posID]
	x := make([]Value, len(tokEmb))
	for i := range tokEmb {
		x[i] = t.Add(tokEmb[i], posEmb[i])
	}
	x = RMSNorm(t, x)

	act := Activations{
		Embedding: t.Datas(x),
		Attention: make([][][]float64, 0, cfg.NLayer),
		MLP:       make([][]float64, 0, cfg.NLayer),
	}

	for li := range p.Layers {
		layer := &p.Layers[li]

		xResidual := x
		x = RMSNorm(t, x)
		q := Linear(t, x, layer.AttnWQ)
		k := Linear(t, x, layer.AttnWK)
		v := Linear(t, x, layer.AttnWV)
		cache.Keys[li] = append(cache.Keys[li], k)
		cache.Values[li] = append(cache.Values[li], v)
		keys, values := cache.Keys[li], cache.Values[li]

		xAttn := make([]Value, 0, cfg.NEmbd)
		headWeights := make([][]float64, cfg.NHead)
		dot := make([]Value, headDim)
		for h := 0; h < cfg.NHead; h++ {
			hs := h * headDim
			qH := q[hs : hs+headDim]

			attnLogits := make([]Value, len(keys))
			for ti, kt := range keys {
				kH := kt[hs : hs+headDim]
				for j := range qH {
					dot[j] = t.Mul(qH[j], kH[j])
				}
				attnLogits[ti] = t.DivScalar(t.Sum(dot), scale)
			}
			attnWeights := Softmax(t, attnLogits)
			headWeights[h] = t.Datas(attnWeights)

			mix := make([]Value, len(values))
			for j := 0; j < headDim; j++ {
				for ti, vt := range values {
					mix[ti] = t.Mul(attnWeights[ti], vt[hs+j])
				}
				xAttn = append(xAttn, t.Sum(mix))
			}
		}
		act.Attention = append(act.Attention, headWeights)

		x = Linear(t, xAttn, layer.AttnWO)
		for i := range x {
			x[i] = t.Add(x[i], xResidual[i])
		}

		xResidual = x
		x = RMSNorm(t, x)
		x = Linear(t, x, layer.MLPFC1)
		act.MLP = append(act.MLP, t.Datas(x))
		for i := range x {
			x[i] = t.ReLU(x[i])
		}
		x = Linear(t, x, layer.MLPFC2)
		for i := range x {
			x[i] = t.Add(x[i], xResidual[i])
		}
	}

	return Linear(t, x, p.LMHead), act
}
