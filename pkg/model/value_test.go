package model

import (
	"math"
	"testing"
)

const fdStep = 1e-6

func centralDiff(f func(float64) float64, x float64) float64 {
	return (f(x+fdStep) - f(x-fdStep)) / (2 * fdStep)
}

func closeTo(a, b, tol float64) bool {
	return math.Abs(a-b) <= tol*math.Max(1, math.Abs(b))
}

func TestUnaryGradientsMatchFiniteDifferences(t *testing.T) {
	rng := NewRandom(7)
	cases := []struct {
		name string
		op   func(tp *Tape, a Value) Value
		f    func(x float64) float64
		draw func() float64
	}{
		{"pow3", func(tp *Tape, a Value) Value { return tp.Pow(a, 3) }, func(x float64) float64 { return x * x * x }, func() float64 { return rng.Float64()*4 - 2 }},
		{"pow-0.5", func(tp *Tape, a Value) Value { return tp.Pow(a, -0.5) }, func(x float64) float64 { return math.Pow(x, -0.5) }, func() float64 { return 0.5 + rng.Float64()*3 }},
		{"log", func(tp *Tape, a Value) Value { return tp.Log(a) }, math.Log, func() float64 { return 0.2 + rng.Float64()*5 }},
		{"exp", func(tp *Tape, a Value) Value { return tp.Exp(a) }, math.Exp, func() float64 { return rng.Float64()*4 - 2 }},
		{"relu", func(tp *Tape, a Value) Value { return tp.ReLU(a) }, func(x float64) float64 { return math.Max(0, x) }, func() float64 {
			x := rng.Float64()*4 - 2
			if math.Abs(x) < 0.01 {
				x += 0.1
			}
			return x
		}},
		{"neg", func(tp *Tape, a Value) Value { return tp.Neg(a) }, func(x float64) float64 { return -x }, func() float64 { return rng.Float64()*4 - 2 }},
		{"mulscalar", func(tp *Tape, a Value) Value { return tp.MulScalar(a, 2.5) }, func(x float64) float64 { return 2.5 * x }, func() float64 { return rng.Float64()*4 - 2 }},
		{"divscalar", func(tp *Tape, a Value) Value { return tp.DivScalar(a, 3) }, func(x float64) float64 { return x / 3 }, func() float64 { return rng.Float64()*4 - 2 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				x := tc.draw()
				tp := NewTape()
				a := tp.Leaf(x)
				out := tc.op(tp, a)
				if got, want := tp.Data(out), tc.f(x); !closeTo(got, want, 1e-12) {
					t.Fatalf("forward(%v) = %v, want %v", x, got, want)
				}
				tp.Backward(out)
				if got, want := tp.Grad(a), centralDiff(tc.f, x); !closeTo(got, want, 1e-4) {
					t.Fatalf("grad at %v = %v, finite difference %v", x, got, want)
				}
			}
		})
	}
}

func TestBinaryGradientsMatchFiniteDifferences(t *testing.T) {
	rng := NewRandom(11)
	cases := []struct {
		name string
		op   func(tp *Tape, a, b Value) Value
		f    func(x, y float64) float64
	}{
		{"add", func(tp *Tape, a, b Value) Value { return tp.Add(a, b) }, func(x, y float64) float64 { return x + y }},
		{"sub", func(tp *Tape, a, b Value) Value { return tp.Sub(a, b) }, func(x, y float64) float64 { return x - y }},
		{"mul", func(tp *Tape, a, b Value) Value { return tp.Mul(a, b) }, func(x, y float64) float64 { return x * y }},
		{"div", func(tp *Tape, a, b Value) Value { return tp.Div(a, b) }, func(x, y float64) float64 { return x / y }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			for i := 0; i < 20; i++ {
				x := rng.Float64()*4 - 2
				y := 0.5 + rng.Float64()*2
				if rng.Float64() < 0.5 {
					y = -y
				}
				tp := NewTape()
				a, b := tp.Leaf(x), tp.Leaf(y)
				out := tc.op(tp, a, b)
				tp.Backward(out)
				da := centralDiff(func(v float64) float64 { return tc.f(v, y) }, x)
				db := centralDiff(func(v float64) float64 { return tc.f(x, v) }, y)
				if !closeTo(tp.Grad(a), da, 1e-4) {
					t.Fatalf("d/da at (%v,%v) = %v, want %v", x, y, tp.Grad(a), da)
				}
				if !closeTo(tp.Grad(b), db, 1e-4) {
					t.Fatalf("d/db at (%v,%v) = %v, want %v", x, y, tp.Grad(b), db)
				}
			}
		})
	}
}

func TestReLUSubgradientAtZero(t *testing.T) {
	tp := NewTape()
	a := tp.Leaf(0)
	out := tp.ReLU(a)
	tp.Backward(out)
	if tp.Data(out) != 0 || tp.Grad(a) != 0 {
		t.Fatalf("relu(0): data=%v grad=%v, want 0 and 0", tp.Data(out), tp.Grad(a))
	}
}

func TestBackwardAccumulatesSharedSubexpression(t *testing.T) {
	tp := NewTape()
	a := tp.Leaf(3)
	b := tp.Leaf(-2)
	c := tp.Add(tp.Mul(a, b), tp.Mul(a, a))
	tp.Backward(c)
	if want := tp.Data(b) + 2*tp.Data(a); tp.Grad(a) != want {
		t.Fatalf("a.grad = %v, want %v", tp.Grad(a), want)
	}
	if tp.Grad(b) != 3 {
		t.Fatalf("b.grad = %v, want 3", tp.Grad(b))
	}
}

func TestBackwardDiamondVisitsNodeOnce(t *testing.T) {
	// d = a*a is shared by two parents; its grad must be the sum.
	tp := NewTape()
	a := tp.Leaf(1.5)
	d := tp.Mul(a, a)
	out := tp.Add(tp.Exp(d), tp.MulScalar(d, 4))
	tp.Backward(out)
	dd := math.Exp(1.5*1.5) + 4
	if got := tp.Grad(d); !closeTo(got, dd, 1e-12) {
		t.Fatalf("d.grad = %v, want %v", got, dd)
	}
	if got, want := tp.Grad(a), dd*2*1.5; !closeTo(got, want, 1e-12) {
		t.Fatalf("a.grad = %v, want %v", got, want)
	}
}

func TestBackwardLongChainDoesNotRecurse(t *testing.T) {
	tp := NewTape()
	a := tp.Leaf(1)
	x := a
	for i := 0; i < 200000; i++ {
		x = tp.Add(x, tp.Const(0))
	}
	tp.Backward(x)
	if tp.Grad(a) != 1 {
		t.Fatalf("a.grad = %v, want 1", tp.Grad(a))
	}
}

func TestTruncateKeepsLeadingNodes(t *testing.T) {
	tp := NewTape()
	a := tp.Leaf(2)
	n := tp.Len()
	_ = tp.Mul(a, tp.Const(3))
	if tp.Len() != n+2 {
		t.Fatalf("len = %d, want %d", tp.Len(), n+2)
	}
	tp.Truncate(n)
	if tp.Len() != n || tp.Data(a) != 2 {
		t.Fatalf("after truncate len=%d data=%v", tp.Len(), tp.Data(a))
	}
}

func TestSumEmptyIsZero(t *testing.T) {
	tp := NewTape()
	if got := tp.Data(tp.Sum(nil)); got != 0 {
		t.Fatalf("sum(nil) = %v", got)
	}
}
