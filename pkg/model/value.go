package model

import "math"

// Value is a handle to a scalar node on a Tape.
type Value int32

type node struct {
	data  float64
	grad  float64
	n     uint8
	child [2]Value
	local [2]float64
}

// Tape is an arena of scalar autograd nodes. Nodes are addressed by index
// and always appear after their children, so a node handle stays valid
// until the tape is truncated below it.
type Tape struct {
	nodes   []node
	visited []uint64
	stack   []frame
	order   []Value
}

type frame struct {
	v    Value
	next uint8
}

func NewTape() *Tape {
	return &Tape{nodes: make([]node, 0, 1<<12)}
}

func (t *Tape) Len() int { return len(t.nodes) }

// Truncate drops every node created after the first n.
func (t *Tape) Truncate(n int) {
	if n < len(t.nodes) {
		t.nodes = t.nodes[:n]
	}
}

func (t *Tape) push(nd node) Value {
	t.nodes = append(t.nodes, nd)
	return Value(len(t.nodes) - 1)
}

func (t *Tape) Leaf(x float64) Value { return t.push(node{data: x}) }

func (t *Tape) Const(x float64) Value { return t.push(node{data: x}) }

func (t *Tape) unary(x, local float64, a Value) Value {
	return t.push(node{data: x, n: 1, child: [2]Value{a}, local: [2]float64{local}})
}

func (t *Tape) binary(x float64, a, b Value, la, lb float64) Value {
	return t.push(node{data: x, n: 2, child: [2]Value{a, b}, local: [2]float64{la, lb}})
}

func (t *Tape) Data(v Value) float64 { return t.nodes[v].data }

func (t *Tape) Grad(v Value) float64 { return t.nodes[v].grad }

func (t *Tape) SetData(v Value, x float64) { t.nodes[v].data = x }

func (t *Tape) ZeroGrad(v Value) { t.nodes[v].grad = 0 }

// Datas copies the scalar data of vs.
func (t *Tape) Datas(vs []Value) []float64 {
	out := make([]float64, len(vs))
	for i, v := range vs {
		out[i] = t.nodes[v].data
	}
	return out
}

func (t *Tape) Add(a, b Value) Value {
	return t.binary(t.nodes[a].data+t.nodes[b].data, a, b, 1, 1)
}

func (t *Tape) Mul(a, b Value) Value {
	ad, bd := t.nodes[a].data, t.nodes[b].data
	return t.binary(ad*bd, a, b, bd, ad)
}

func (t *Tape) Pow(a Value, k float64) Value {
	ad := t.nodes[a].data
	return t.unary(math.Pow(ad, k), k*math.Pow(ad, k-1), a)
}

func (t *Tape) Log(a Value) Value {
	ad := t.nodes[a].data
	return t.unary(math.Log(ad), 1/ad, a)
}

func (t *Tape) Exp(a Value) Value {
	e := math.Exp(t.nodes[a].data)
	return t.unary(e, e, a)
}

func (t *Tape) ReLU(a Value) Value {
	if ad := t.nodes[a].data; ad > 0 {
		return t.unary(ad, 1, a)
	}
	return t.unary(0, 0, a)
}

func (t *Tape) Neg(a Value) Value { return t.Mul(a, t.Const(-1)) }

func (t *Tape) Sub(a, b Value) Value { return t.Add(a, t.Neg(b)) }

func (t *Tape) Div(a, b Value) Value { return t.Mul(a, t.Pow(b, -1)) }

func (t *Tape) MulScalar(a Value, k float64) Value { return t.Mul(a, t.Const(k)) }

func (t *Tape) DivScalar(a Value, k float64) Value { return t.Div(a, t.Const(k)) }

// Sum folds vs left to right starting from the first element.
// The sum of an empty slice is a zero constant.
func (t *Tape) Sum(vs []Value) Value {
	if len(vs) == 0 {
		return t.Const(0)
	}
	s := vs[0]
	for _, v := range vs[1:] {
		s = t.Add(s, v)
	}
	return s
}

// Backward accumulates d(root)/d(node) into the grad of every node
// reachable from root. Contributions are summed, so a node shared by
// several parents receives all of them.
func (t *Tape) Backward(root Value) {
	order := t.topo(root)
	t.nodes[root].grad = 1
	for i := len(order) - 1; i >= 0; i-- {
		nd := &t.nodes[order[i]]
		for j := uint8(0); j < nd.n; j++ {
			t.nodes[nd.child[j]].grad += nd.local[j] * nd.grad
		}
	}
}

// topo is a post-order DFS with an explicit stack, so long sequences do
// not grow the goroutine stack.
func (t *Tape) topo(root Value) []Value {
	words := (int(root) >> 6) + 1
	if cap(t.visited) < words {
		t.visited = make([]uint64, words)
	} else {
		t.visited = t.visited[:words]
		clear(t.visited)
	}
	order := t.order[:0]
	stack := append(t.stack[:0], frame{v: root})
	t.mark(root)
	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		nd := &t.nodes[top.v]
		if top.next < nd.n {
			c := nd.child[top.next]
			top.next++
			if !t.seen(c) {
				t.mark(c)
				stack = append(stack, frame{v: c})
			}
			continue
		}
		order = append(order, top.v)
		stack = stack[:len(stack)-1]
	}
	t.stack, t.order = stack, order
	return order
}

func (t *Tape) seen(v Value) bool { return t.visited[v>>6]&(1<<(uint(v)&63)) != 0 }

func (t *Tape) mark(v Value) { t.visited[v>>6] |= 1 << (uint(v) & 63) }
