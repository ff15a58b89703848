package model

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas64"
	"gonum.org/v1/gonum/floats"

	"lumen-forge/internal/tensor"
)

// maxColumnValues bounds the im2col scratch buffer; larger inputs are
// processed in column chunks.
var maxColumnValues = 1 << 21

// Conv2D is a stride-1 convolution with a square odd kernel and same padding.
// Weights are laid out [out, in, k, k].
type Conv2D struct {
	In, Out, K, Pad int
	Weight, Bias    *Param
}

// NewConv2D builds a convolution initialised uniformly in ±1/sqrt(in*k*k).
func NewConv2D(name string, in, out, k int, rng *rand.Rand) *Conv2D {
	c := &Conv2D{
		In:     in,
		Out:    out,
		K:      k,
		Pad:    k / 2,
		Weight: NewParam(name+".weight", out, in, k, k),
		Bias:   NewParam(name+".bias", out),
	}
	bound := fanInBound(in * k * k)
	c.Weight.uniform(rng, bound)
	c.Bias.uniform(rng, bound)
	return c
}

func (c *Conv2D) params() []*Param {
	return []*Param{c.Weight, c.Bias}
}

func (c *Conv2D) taps() int {
	return c.In * c.K * c.K
}

func (c *Conv2D) pointwise() bool {
	return c.K == 1 && c.Pad == 0
}

func (c *Conv2D) chunk(hw int) int {
	n := maxColumnValues / c.taps()
	if n < 1 {
		n = 1
	}
	if n > hw {
		n = hw
	}
	return n
}

func (c *Conv2D) check(x *tensor.Tensor) {
	if x.C != c.In {
		panic(&tensor.ShapeError{
			Op:   "conv2d",
			Got:  x.String(),
			Want: fmt.Sprintf("(%d, H, W)", c.In),
		})
	}
}

// im2col writes the receptive fields of pixels [p0, p0+n) as a taps×n matrix.
func (c *Conv2D) im2col(x *tensor.Tensor, p0, n int, dst []float64) {
	for ic := 0; ic < c.In; ic++ {
		plane := x.Channel(ic)
		for ky := 0; ky < c.K; ky++ {
			for kx := 0; kx < c.K; kx++ {
				row := dst[((ic*c.K+ky)*c.K+kx)*n : ((ic*c.K+ky)*c.K+kx+1)*n]
				for j := range row {
					p := p0 + j
					iy := p/x.W + ky - c.Pad
					ix := p%x.W + kx - c.Pad
					if iy < 0 || iy >= x.H || ix < 0 || ix >= x.W {
						row[j] = 0
						continue
					}
					row[j] = plane[iy*x.W+ix]
				}
			}
		}
	}
}

// col2im accumulates a taps×n gradient matrix back onto dx.
func (c *Conv2D) col2im(src []float64, p0, n int, dx *tensor.Tensor) {
	for ic := 0; ic < c.In; ic++ {
		plane := dx.Channel(ic)
		for ky := 0; ky < c.K; ky++ {
			for kx := 0; kx < c.K; kx++ {
				row := src[((ic*c.K+ky)*c.K+kx)*n : ((ic*c.K+ky)*c.K+kx+1)*n]
				for j, g := range row {
					p := p0 + j
					iy := p/dx.W + ky - c.Pad
					ix := p%dx.W + kx - c.Pad
					if iy < 0 || iy >= dx.H || ix < 0 || ix >= dx.W {
						continue
					}
					plane[iy*dx.W+ix] += g
				}
			}
		}
	}
}

func (c *Conv2D) weights(data []float64) blas64.General {
	return blas64.General{Rows: c.Out, Cols: c.taps(), Stride: c.taps(), Data: data}
}

// Forward returns the convolution of x. x must have In channels.
func (c *Conv2D) Forward(x *tensor.Tensor) *tensor.Tensor {
	c.check(x)
	hw := x.Plane()
	y := tensor.New(c.Out, x.H, x.W)
	w := c.weights(c.Weight.Val)
	n := c.chunk(hw)
	var scratch []float64
	if !c.pointwise() {
		scratch = make([]float64, c.taps()*n)
	}
	for p0 := 0; p0 < hw; p0 += n {
		m := min(n, hw-p0)
		var col blas64.General
		if c.pointwise() {
			col = blas64.General{Rows: c.In, Cols: m, Stride: hw, Data: x.Data[p0:]}
		} else {
			c.im2col(x, p0, m, scratch)
			col = blas64.General{Rows: c.taps(), Cols: m, Stride: m, Data: scratch[:c.taps()*m]}
		}
		out := blas64.General{Rows: c.Out, Cols: m, Stride: hw, Data: y.Data[p0:]}
		blas64.Gemm(blas.NoTrans, blas.NoTrans, 1, w, col, 0, out)
	}
	for o := 0; o < c.Out; o++ {
		floats.AddConst(c.Bias.Val[o], y.Channel(o))
	}
	return y
}

// Backward accumulates parameter gradients for the pass that consumed x and
// returns the gradient with respect to x.
func (c *Conv2D) Backward(x, dy *tensor.Tensor) *tensor.Tensor {
	c.check(x)
	hw := x.Plane()
	dx := tensor.Like(x)
	w := c.weights(c.Weight.Val)
	dw := c.weights(c.Weight.Grad)
	n := c.chunk(hw)
	var scratch, dscratch []float64
	if !c.pointwise() {
		scratch = make([]float64, c.taps()*n)
		dscratch = make([]float64, c.taps()*n)
	}
	for p0 := 0; p0 < hw; p0 += n {
		m := min(n, hw-p0)
		g := blas64.General{Rows: c.Out, Cols: m, Stride: hw, Data: dy.Data[p0:]}
		if c.pointwise() {
			col := blas64.General{Rows: c.In, Cols: m, Stride: hw, Data: x.Data[p0:]}
			dcol := blas64.General{Rows: c.In, Cols: m, Stride: hw, Data: dx.Data[p0:]}
			blas64.Gemm(blas.NoTrans, blas.Trans, 1, g, col, 1, dw)
			blas64.Gemm(blas.Trans, blas.NoTrans, 1, w, g, 0, dcol)
			continue
		}
		c.im2col(x, p0, m, scratch)
		col := blas64.General{Rows: c.taps(), Cols: m, Stride: m, Data: scratch[:c.taps()*m]}
		dcol := blas64.General{Rows: c.taps(), Cols: m, Stride: m, Data: dscratch[:c.taps()*m]}
		blas64.Gemm(blas.NoTrans, blas.Trans, 1, g, col, 1, dw)
		blas64.Gemm(blas.Trans, blas.NoTrans, 1, w, g, 0, dcol)
		c.col2im(dcol.Data, p0, m, dx)
	}
	for o := 0; o < c.Out; o++ {
		c.Bias.Grad[o] += floats.Sum(dy.Channel(o))
	}
	return dx
}
