package tensor

import (
	"fmt"
	"math"
)

// ReLU returns max(x, 0) elementwise.
func ReLU(x *Tensor) *Tensor {
	out := Like(x)
	for i, v := range x.Data {
		if v > 0 {
			out.Data[i] = v
		}
	}
	return out
}

// ReLUBackward masks dy by the positive entries of the forward output y.
func ReLUBackward(y, dy *Tensor) *Tensor {
	mustMatch("relu backward", y, dy)
	dx := Like(dy)
	for i, v := range y.Data {
		if v > 0 {
			dx.Data[i] = dy.Data[i]
		}
	}
	return dx
}

// belowOne is the largest float64 under 1; sigmoid saturates there.
var belowOne = math.Nextafter(1, 0)

func sigmoid(v float64) float64 {
	return math.Min(1.0/(1+math.Exp(-v)), belowOne)
}

// Sigmoid returns 1/(1+exp(-x)) elementwise, kept strictly below 1.
func Sigmoid(x *Tensor) *Tensor {
	out := Like(x)
	for i, v := range x.Data {
		out.Data[i] = sigmoid(v)
	}
	return out
}

// SigmoidBackward uses the forward output y: dx = dy * y * (1 - y).
func SigmoidBackward(y, dy *Tensor) *Tensor {
	mustMatch("sigmoid backward", y, dy)
	dx := Like(dy)
	for i, v := range y.Data {
		dx.Data[i] = dy.Data[i] * v * (1 - v)
	}
	return dx
}

// MaxPool2 applies 2x2 max pooling with stride 2. Odd trailing rows and
// columns are dropped. The returned indices locate each maximum in x.Data.
func MaxPool2(x *Tensor) (*Tensor, []int) {
	oh, ow := x.H/2, x.W/2
	out := New(x.C, oh, ow)
	argmax := make([]int, out.Len())
	for c := 0; c < x.C; c++ {
		for y := 0; y < oh; y++ {
			for xx := 0; xx < ow; xx++ {
				best := x.Index(c, 2*y, 2*xx)
				for _, idx := range [3]int{
					x.Index(c, 2*y, 2*xx+1),
					x.Index(c, 2*y+1, 2*xx),
					x.Index(c, 2*y+1, 2*xx+1),
				} {
					if x.Data[idx] > x.Data[best] {
						best = idx
					}
				}
				o := out.Index(c, y, xx)
				out.Data[o] = x.Data[best]
				argmax[o] = best
			}
		}
	}
	return out, argmax
}

// MaxPool2Backward routes dy to the positions recorded by MaxPool2.
func MaxPool2Backward(dy *Tensor, argmax []int, c, h, w int) *Tensor {
	dx := New(c, h, w)
	for i, g := range dy.Data {
		dx.Data[argmax[i]] += g
	}
	return dx
}

type lerp struct {
	i0, i1 int
	w0, w1 float64
}

// lerpAxis computes source taps for a 2x upsample with half-pixel centres,
// clamping at the borders.
func lerpAxis(in int) []lerp {
	out := make([]lerp, 2*in)
	for o := range out {
		src := (float64(o)+0.5)/2 - 0.5
		if src < 0 {
			src = 0
		}
		i0 := int(src)
		i1 := i0
		if i0 < in-1 {
			i1 = i0 + 1
		}
		w1 := src - float64(i0)
		out[o] = lerp{i0: i0, i1: i1, w0: 1 - w1, w1: w1}
	}
	return out
}

// Upsample2 doubles the spatial size with bilinear interpolation.
func Upsample2(x *Tensor) *Tensor {
	ys, xs := lerpAxis(x.H), lerpAxis(x.W)
	out := New(x.C, 2*x.H, 2*x.W)
	for c := 0; c < x.C; c++ {
		src := x.Channel(c)
		dst := out.Channel(c)
		for oy, ly := range ys {
			r0 := src[ly.i0*x.W : (ly.i0+1)*x.W]
			r1 := src[ly.i1*x.W : (ly.i1+1)*x.W]
			row := dst[oy*out.W : (oy+1)*out.W]
			for ox, lx := range xs {
				top := lx.w0*r0[lx.i0] + lx.w1*r0[lx.i1]
				bot := lx.w0*r1[lx.i0] + lx.w1*r1[lx.i1]
				row[ox] = ly.w0*top + ly.w1*bot
			}
		}
	}
	return out
}

// Upsample2Backward scatters dy back onto the (h, w) source grid.
func Upsample2Backward(dy *Tensor, h, w int) *Tensor {
	ys, xs := lerpAxis(h), lerpAxis(w)
	dx := New(dy.C, h, w)
	for c := 0; c < dy.C; c++ {
		g := dy.Channel(c)
		dst := dx.Channel(c)
		for oy, ly := range ys {
			row := g[oy*dy.W : (oy+1)*dy.W]
			for ox, lx := range xs {
				v := row[ox]
				dst[ly.i0*w+lx.i0] += ly.w0 * lx.w0 * v
				dst[ly.i0*w+lx.i1] += ly.w0 * lx.w1 * v
				dst[ly.i1*w+lx.i0] += ly.w1 * lx.w0 * v
				dst[ly.i1*w+lx.i1] += ly.w1 * lx.w1 * v
			}
		}
	}
	return dx
}

// Concat stacks a and b along the channel axis.
func Concat(a, b *Tensor) (*Tensor, error) {
	if a.H != b.H || a.W != b.W {
		return nil, &ShapeError{
			Op:   "concat",
			Got:  b.String(),
			Want: fmt.Sprintf("(%d, %d, %d)", b.C, a.H, a.W),
		}
	}
	out := New(a.C+b.C, a.H, a.W)
	copy(out.Data, a.Data)
	copy(out.Data[a.Len():], b.Data)
	return out, nil
}

// Split is the inverse of Concat: the first c channels go to the first result.
func Split(t *Tensor, c int) (*Tensor, *Tensor) {
	n := c * t.Plane()
	a := From(c, t.H, t.W, append([]float64(nil), t.Data[:n]...))
	b := From(t.C-c, t.H, t.W, append([]float64(nil), t.Data[n:]...))
	return a, b
}
