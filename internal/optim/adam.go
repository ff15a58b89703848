// Package optim updates model parameters from their accumulated gradients.
//
// Neither type here is safe for concurrent use: the trainer is the single
// writer of parameters and optimizer state.
package optim

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/blas/blas64"

	"lumen-forge/internal/model"
)

// AdamOptions holds the moment decay rates and the denominator epsilon.
type AdamOptions struct {
	Beta1 float64
	Beta2 float64
	Eps   float64
}

// DefaultAdamOptions matches the usual Adam defaults.
func DefaultAdamOptions() AdamOptions {
	return AdamOptions{Beta1: 0.9, Beta2: 0.999, Eps: 1e-8}
}

// Adam keeps first and second moment estimates for every parameter value.
type Adam struct {
	opts   AdamOptions
	params []*model.Param
	m, v   [][]float64
	t      int

	powBeta1 float64
	powBeta2 float64
}

// NewAdam validates opts and allocates zeroed moment state for params.
func NewAdam(params []*model.Param, opts AdamOptions) (*Adam, error) {
	if opts.Beta1 < 0 || opts.Beta1 >= 1 {
		return nil, fmt.Errorf("adam: beta1 must be in [0, 1) (got %g)", opts.Beta1)
	}
	if opts.Beta2 < 0 || opts.Beta2 >= 1 {
		return nil, fmt.Errorf("adam: beta2 must be in [0, 1) (got %g)", opts.Beta2)
	}
	if opts.Eps <= 0 {
		return nil, fmt.Errorf("adam: eps must be > 0 (got %g)", opts.Eps)
	}
	if len(params) == 0 {
		return nil, errors.New("adam: no parameters")
	}
	a := &Adam{
		opts:     opts,
		params:   params,
		m:        make([][]float64, len(params)),
		v:        make([][]float64, len(params)),
		powBeta1: 1,
		powBeta2: 1,
	}
	for i, p := range params {
		a.m[i] = make([]float64, len(p.Val))
		a.v[i] = make([]float64, len(p.Val))
	}
	return a, nil
}

func vec(data []float64) blas64.Vector {
	return blas64.Vector{N: len(data), Data: data, Inc: 1}
}

// Step applies one update at learning rate lr using the current gradients.
// Gradients are left untouched; callers clear them before the next batch.
func (a *Adam) Step(lr float64) error {
	if lr <= 0 || math.IsNaN(lr) || math.IsInf(lr, 0) {
		return fmt.Errorf("adam: learning rate must be finite and > 0 (got %g)", lr)
	}
	for _, p := range a.params {
		for _, g := range p.Grad {
			if math.IsNaN(g) || math.IsInf(g, 0) {
				return fmt.Errorf("adam: non-finite gradient in %s", p.Name)
			}
		}
	}

	a.t++
	a.powBeta1 *= a.opts.Beta1
	a.powBeta2 *= a.opts.Beta2
	bc1 := 1 - a.powBeta1
	bc2 := 1 - a.powBeta2
	b1, b2, eps := a.opts.Beta1, a.opts.Beta2, a.opts.Eps

	for i, p := range a.params {
		m, v := a.m[i], a.v[i]
		blas64.Scal(b1, vec(m))
		blas64.Axpy(1-b1, vec(p.Grad), vec(m))
		for j, g := range p.Grad {
			v[j] = b2*v[j] + (1-b2)*g*g
			mhat := m[j] / bc1
			vhat := v[j] / bc2
			p.Val[j] -= lr * mhat / (math.Sqrt(vhat) + eps)
		}
	}
	return nil
}

// Steps returns the number of updates applied so far.
func (a *Adam) Steps() int {
	return a.t
}
