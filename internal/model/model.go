package model

import (
	"fmt"
	"math"
	"math/rand"
	"strings"
)

// Param is a learnable tensor together with its accumulated gradient.
type Param struct {
	Name  string
	Shape []int
	Val   []float64
	Grad  []float64
}

// NewParam allocates a zero-valued parameter of the given shape.
func NewParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{
		Name:  name,
		Shape: append([]int(nil), shape...),
		Val:   make([]float64, n),
		Grad:  make([]float64, n),
	}
}

// ZeroGrad clears the accumulated gradient.
func (p *Param) ZeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

func (p *Param) uniform(rng *rand.Rand, bound float64) {
	for i := range p.Val {
		p.Val[i] = (rng.Float64()*2 - 1) * bound
	}
}

// NumValues counts the scalar values across params.
func NumValues(params []*Param) int {
	n := 0
	for _, p := range params {
		n += len(p.Val)
	}
	return n
}

// ZeroGrads clears the gradients of every param.
func ZeroGrads(params []*Param) {
	for _, p := range params {
		p.ZeroGrad()
	}
}

// Device selects where tensors live during a pass.
type Device string

// CPU is the only device this build computes on.
const CPU Device = "cpu"

// ParseDevice validates a configured device name. The empty string selects CPU.
func ParseDevice(name string) (Device, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", string(CPU):
		return CPU, nil
	default:
		return "", fmt.Errorf("model: unsupported device %q", name)
	}
}

// fanInBound is the default uniform init bound for a layer with fanIn inputs.
func fanInBound(fanIn int) float64 {
	return 1 / math.Sqrt(float64(fanIn))
}
