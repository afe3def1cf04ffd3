package model

import "math"

// Random is a seeded mulberry32 generator. Every draw the model makes
// (initialization, shuffling, sampling) goes through one instance.
type Random struct {
	state uint32
}

func NewRandom(seed int64) *Random {
	return &Random{state: uint32(seed)}
}

func (r *Random) next() float64 {
	r.state += 0x6d2b79f5
	s := r.state
	t := (s ^ (s >> 15)) * (1 | s)
	t = (t + (t^(t>>7))*(61|t)) ^ t
	return float64(t^(t>>14)) / 4294967296
}

// Float64 returns a uniform value in [0,1).
func (r *Random) Float64() float64 {
	return r.next()
}

// Gauss draws from N(mu, sigma^2) with the Box-Muller transform.
// It always consumes two uniform draws.
func (r *Random) Gauss(mu, sigma float64) float64 {
	u1 := r.next()
	u2 := r.next()
	z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)
	return mu + sigma*z
}

// Shuffle is Fisher-Yates from the last index down to 1.
func (r *Random) Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(math.Floor(r.next() * float64(i+1)))
		swap(i, j)
	}
}

func (r *Random) ShuffleStrings(s []string) {
	r.Shuffle(len(s), func(i, j int) { s[i], s[j] = s[j], s[i] })
}

// WeightedChoice returns an index drawn in proportion to weights. If
// rounding leaves the remainder positive after the full scan, the last
// index is returned.
func (r *Random) WeightedChoice(weights []float64) int {
	total := 0.0
	for _, w := range weights {
		total += w
	}
	rem := r.next() * total
	for i, w := range weights {
		rem -= w
		if rem <= 0 {
			return i
		}
	}
	return len(weights) - 1
}
