package tensor

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
)

// Tensor is a dense channel-major 3-D array with axes (channel, height, width).
type Tensor struct {
	C, H, W int
	Data    []float64
}

// New allocates a zero-filled tensor.
func New(c, h, w int) *Tensor {
	return &Tensor{C: c, H: h, W: w, Data: make([]float64, c*h*w)}
}

// From wraps data without copying. It panics if the length does not match the shape.
func From(c, h, w int, data []float64) *Tensor {
	if len(data) != c*h*w {
		panic(fmt.Sprintf("tensor: %d values for shape (%d, %d, %d)", len(data), c, h, w))
	}
	return &Tensor{C: c, H: h, W: w, Data: data}
}

// Like allocates a zero-filled tensor with the shape of t.
func Like(t *Tensor) *Tensor {
	return New(t.C, t.H, t.W)
}

// Len returns the number of elements.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Plane returns the number of elements in one channel.
func (t *Tensor) Plane() int {
	return t.H * t.W
}

// Index is the offset of (c, y, x) in Data. Coordinates are not checked.
func (t *Tensor) Index(c, y, x int) int {
	return (c*t.H+y)*t.W + x
}

// At reads one element.
func (t *Tensor) At(c, y, x int) float64 {
	return t.Data[t.Index(c, y, x)]
}

// Set writes one element.
func (t *Tensor) Set(c, y, x int, v float64) {
	t.Data[t.Index(c, y, x)] = v
}

// Channel returns the backing slice of channel c.
func (t *Tensor) Channel(c int) []float64 {
	p := t.Plane()
	return t.Data[c*p : (c+1)*p]
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := Like(t)
	copy(out.Data, t.Data)
	return out
}

// Fill sets every element to v.
func (t *Tensor) Fill(v float64) {
	for i := range t.Data {
		t.Data[i] = v
	}
}

// SameShape reports whether t and o have equal C, H and W.
func (t *Tensor) SameShape(o *Tensor) bool {
	return t.C == o.C && t.H == o.H && t.W == o.W
}

// String formats the shape as (C, H, W).
func (t *Tensor) String() string {
	return fmt.Sprintf("(%d, %d, %d)", t.C, t.H, t.W)
}

// AddInPlace accumulates o into t.
func (t *Tensor) AddInPlace(o *Tensor) {
	mustMatch("add", t, o)
	floats.Add(t.Data, o.Data)
}

// Add returns a + b.
func Add(a, b *Tensor) *Tensor {
	mustMatch("add", a, b)
	out := Like(a)
	floats.AddTo(out.Data, a.Data, b.Data)
	return out
}

// Mul returns the elementwise product of a and b.
func Mul(a, b *Tensor) *Tensor {
	mustMatch("mul", a, b)
	out := Like(a)
	floats.MulTo(out.Data, a.Data, b.Data)
	return out
}

func mustMatch(op string, a, b *Tensor) {
	if !a.SameShape(b) {
		panic(fmt.Sprintf("tensor: %s shape mismatch %s vs %s", op, a, b))
	}
}
