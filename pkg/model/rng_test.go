package model

import (
	"math"
	"sort"
	"testing"
)

func TestRandomIsDeterministic(t *testing.T) {
	a, b := NewRandom(42), NewRandom(42)
	for i := 0; i < 1000; i++ {
		x, y := a.Float64(), b.Float64()
		if x != y {
			t.Fatalf("draw %d differs: %v vs %v", i, x, y)
		}
		if x < 0 || x >= 1 {
			t.Fatalf("draw %d out of range: %v", i, x)
		}
	}
	if NewRandom(1).Float64() == NewRandom(2).Float64() {
		t.Fatal("different seeds produced the same first draw")
	}
}

// First draws of mulberry32 seeded with 42.
func TestRandomKnownStream(t *testing.T) {
	r := NewRandom(42)
	for i, want := range []float64{0.60110375192016363, 0.44829055899754167, 0.85246579349040985} {
		if got := r.Float64(); got != want {
			t.Fatalf("draw %d = %.17g, want %.17g", i, got, want)
		}
	}
}

func TestGaussConsumesTwoDraws(t *testing.T) {
	a, b := NewRandom(9), NewRandom(9)
	a.Gauss(0, 1)
	b.Float64()
	b.Float64()
	if a.Float64() != b.Float64() {
		t.Fatal("Gauss did not advance the state by exactly two draws")
	}
}

func TestGaussMoments(t *testing.T) {
	r := NewRandom(123)
	const n = 20000
	sum, sumSq := 0.0, 0.0
	for i := 0; i < n; i++ {
		x := r.Gauss(1, 0.5)
		sum += x
		sumSq += x * x
	}
	mean := sum / n
	std := math.Sqrt(sumSq/n - mean*mean)
	if math.Abs(mean-1) > 0.02 || math.Abs(std-0.5) > 0.02 {
		t.Fatalf("mean=%v std=%v, want ~1 and ~0.5", mean, std)
	}
}

func TestShuffleIsPermutation(t *testing.T) {
	r := NewRandom(42)
	s := []string{"a", "b", "c", "d", "e", "f", "g"}
	r.ShuffleStrings(s)
	got := append([]string(nil), s...)
	sort.Strings(got)
	want := []string{"a", "b", "c", "d", "e", "f", "g"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("shuffle lost elements: %v", s)
		}
	}

	draws := 0
	r2 := NewRandom(42)
	r2.Shuffle(7, func(i, j int) { draws++ })
	if draws != 6 {
		t.Fatalf("swaps = %d, want 6", draws)
	}
}

func TestWeightedChoice(t *testing.T) {
	r := NewRandom(1)
	if got := r.WeightedChoice([]float64{0, 0, 1, 0}); got != 2 {
		t.Fatalf("one-hot choice = %d, want 2", got)
	}

	counts := make([]int, 3)
	for i := 0; i < 30000; i++ {
		counts[r.WeightedChoice([]float64{1, 2, 7})]++
	}
	for i, want := range []float64{0.1, 0.2, 0.7} {
		if got := float64(counts[i]) / 30000; math.Abs(got-want) > 0.02 {
			t.Fatalf("item %d frequency %v, want ~%v", i, got, want)
		}
	}
}

func TestWeightedChoiceFallsBackToLast(t *testing.T) {
	r := NewRandom(1)
	// NaN weights never drive the remainder to <= 0.
	if got := r.WeightedChoice([]float64{math.NaN(), math.NaN()}); got != 1 {
		t.Fatalf("fallback = %d, want 1", got)
	}
}
