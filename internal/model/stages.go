package model

import (
	"fmt"
	"math/rand"

	"lumen-forge/internal/tensor"
)

// EncodingStage is conv3x3 -> ReLU -> 2x2 max-pool. The pre-pool activation
// is kept as the skip tensor for the matching decoder.
type EncodingStage struct {
	Conv *Conv2D
}

// NewEncodingStage builds an in->out encoder with weights drawn from rng.
func NewEncodingStage(name string, in, out int, rng *rand.Rand) *EncodingStage {
	return &EncodingStage{Conv: NewConv2D(name+".conv", in, out, 3, rng)}
}

// Params returns the conv weight and bias.
func (s *EncodingStage) Params() []*Param {
	return s.Conv.params()
}

// EncodingPass records one forward call of an EncodingStage.
type EncodingPass struct {
	stage  *EncodingStage
	x      *tensor.Tensor
	skip   *tensor.Tensor
	pooled *tensor.Tensor
	argmax []int
}

// Forward convolves, activates and pools x. It panics with a
// *tensor.ShapeError if x does not have the conv input depth.
func (s *EncodingStage) Forward(x *tensor.Tensor) *EncodingPass {
	skip := tensor.ReLU(s.Conv.Forward(x))
	pooled, argmax := tensor.MaxPool2(skip)
	return &EncodingPass{stage: s, x: x, skip: skip, pooled: pooled, argmax: argmax}
}

// Pooled is the half-resolution output passed to the next stage; Skip is
// the full-resolution activation kept for the decoder.
func (p *EncodingPass) Pooled() *tensor.Tensor { return p.pooled }
func (p *EncodingPass) Skip() *tensor.Tensor   { return p.skip }

// Backward takes gradients for both outputs; dSkip may be nil.
func (p *EncodingPass) Backward(dPooled, dSkip *tensor.Tensor) *tensor.Tensor {
	g := tensor.MaxPool2Backward(dPooled, p.argmax, p.skip.C, p.skip.H, p.skip.W)
	if dSkip != nil {
		g.AddInPlace(dSkip)
	}
	return p.stage.Conv.Backward(p.x, tensor.ReLUBackward(p.skip, g))
}

// DecodingStage upsamples its input 2x, concatenates the gated skip tensor
// on the channel axis and applies conv3x3 -> ReLU.
type DecodingStage struct {
	Conv *Conv2D
}

// NewDecodingStage builds a decoder whose conv takes in channels (upsampled
// input plus skip) and produces out.
func NewDecodingStage(name string, in, out int, rng *rand.Rand) *DecodingStage {
	return &DecodingStage{Conv: NewConv2D(name+".conv", in, out, 3, rng)}
}

// Params returns the conv weight and bias.
func (s *DecodingStage) Params() []*Param {
	return s.Conv.params()
}

// DecodingPass records one forward call of a DecodingStage.
type DecodingPass struct {
	stage  *DecodingStage
	inH    int
	inW    int
	upC    int
	concat *tensor.Tensor
	out    *tensor.Tensor
}

// Forward fails with a *tensor.ShapeError when the upsampled input and the
// skip tensor disagree spatially, or their channels do not sum to the
// stage's input depth.
func (s *DecodingStage) Forward(x, skip *tensor.Tensor) (*DecodingPass, error) {
	if 2*x.H != skip.H || 2*x.W != skip.W {
		return nil, &tensor.ShapeError{
			Op:   "decoder skip",
			Got:  skip.String(),
			Want: fmt.Sprintf("(%d, %d, %d)", skip.C, 2*x.H, 2*x.W),
		}
	}
	if x.C+skip.C != s.Conv.In {
		return nil, &tensor.ShapeError{
			Op:   "decoder channels",
			Got:  fmt.Sprintf("%d+%d", x.C, skip.C),
			Want: fmt.Sprintf("%d", s.Conv.In),
		}
	}
	up := tensor.Upsample2(x)
	concat, err := tensor.Concat(up, skip)
	if err != nil {
		return nil, err
	}
	out := tensor.ReLU(s.Conv.Forward(concat))
	return &DecodingPass{stage: s, inH: x.H, inW: x.W, upC: up.C, concat: concat, out: out}, nil
}

// Output is the decoded tensor at the skip resolution.
func (p *DecodingPass) Output() *tensor.Tensor { return p.out }

// Backward returns gradients for the decoder input and for the skip tensor.
func (p *DecodingPass) Backward(dy *tensor.Tensor) (dx, dSkip *tensor.Tensor) {
	dcat := p.stage.Conv.Backward(p.concat, tensor.ReLUBackward(p.out, dy))
	dup, dSkip := tensor.Split(dcat, p.upC)
	return tensor.Upsample2Backward(dup, p.inH, p.inW), dSkip
}

// ResidualUnit refines features with conv3x3 -> ReLU -> conv3x3 and adds the
// input back unchanged.
type ResidualUnit struct {
	Conv1, Conv2 *Conv2D
}

// NewResidualUnit builds a channels->channels refinement unit.
func NewResidualUnit(name string, channels int, rng *rand.Rand) *ResidualUnit {
	return &ResidualUnit{
		Conv1: NewConv2D(name+".conv1", channels, channels, 3, rng),
		Conv2: NewConv2D(name+".conv2", channels, channels, 3, rng),
	}
}

// Params returns both convs' weights and biases.
func (r *ResidualUnit) Params() []*Param {
	return append(r.Conv1.params(), r.Conv2.params()...)
}

// ResidualPass records one forward call of a ResidualUnit.
type ResidualPass struct {
	unit   *ResidualUnit
	x      *tensor.Tensor
	hidden *tensor.Tensor
	out    *tensor.Tensor
}

// Forward returns x + conv2(relu(conv1(x))) as a pass record.
func (r *ResidualUnit) Forward(x *tensor.Tensor) *ResidualPass {
	hidden := tensor.ReLU(r.Conv1.Forward(x))
	out := tensor.Add(r.Conv2.Forward(hidden), x)
	return &ResidualPass{unit: r, x: x, hidden: hidden, out: out}
}

// Output has the shape of the input.
func (p *ResidualPass) Output() *tensor.Tensor { return p.out }

// Backward accumulates both convs' gradients and returns dL/dx, including
// the identity path.
func (p *ResidualPass) Backward(dy *tensor.Tensor) *tensor.Tensor {
	dh := p.unit.Conv2.Backward(p.hidden, dy)
	dx := p.unit.Conv1.Backward(p.x, tensor.ReLUBackward(p.hidden, dh))
	dx.AddInPlace(dy)
	return dx
}

// AttentionGate scales each element of its input by sigmoid(conv1x1(x)).
type AttentionGate struct {
	Conv *Conv2D
}

// NewAttentionGate builds a gate with a channels->channels 1x1 conv.
func NewAttentionGate(name string, channels int, rng *rand.Rand) *AttentionGate {
	return &AttentionGate{Conv: NewConv2D(name+".conv", channels, channels, 1, rng)}
}

// Params returns the 1x1 conv weight and bias.
func (a *AttentionGate) Params() []*Param {
	return a.Conv.params()
}

// GatePass records one forward call of an AttentionGate.
type GatePass struct {
	gate *AttentionGate
	x    *tensor.Tensor
	mask *tensor.Tensor
	out  *tensor.Tensor
}

// Forward computes the mask and the gated tensor x * mask.
func (a *AttentionGate) Forward(x *tensor.Tensor) *GatePass {
	mask := tensor.Sigmoid(a.Conv.Forward(x))
	return &GatePass{gate: a, x: x, mask: mask, out: tensor.Mul(x, mask)}
}

// Output is the gated input.
func (p *GatePass) Output() *tensor.Tensor { return p.out }

// Mask returns the (0, 1) gate applied to the input.
func (p *GatePass) Mask() *tensor.Tensor { return p.mask }

// Backward returns dL/dx through both the mask and the direct product.
func (p *GatePass) Backward(dy *tensor.Tensor) *tensor.Tensor {
	dmask := tensor.Mul(dy, p.x)
	dx := p.gate.Conv.Backward(p.x, tensor.SigmoidBackward(p.mask, dmask))
	dx.AddInPlace(tensor.Mul(dy, p.mask))
	return dx
}
