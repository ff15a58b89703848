package model

import (
	"fmt"
	"math/rand"

	"lumen-forge/internal/tensor"
)

// Factor is the spatial divisor input images must satisfy: three 2x poolings.
const Factor = 8

// Enhancer maps a degraded RGB tensor to an enhanced one:
//
//	enc1 3->64, enc2 64->128, enc3 128->256
//	residual bottleneck 256
//	dec3 (256+256)->128, dec2 (128+128)->64, dec1 (64+64)->3
//	sigmoid
//
// Every skip tensor passes through its own attention gate before decoding.
type Enhancer struct {
	device Device

	enc1, enc2, enc3 *EncodingStage
	bottleneck       *ResidualUnit
	dec3, dec2, dec1 *DecodingStage
	att1, att2, att3 *AttentionGate
}

// NewEnhancer builds the network with parameters drawn from seed.
func NewEnhancer(device Device, seed int64) (*Enhancer, error) {
	if device != CPU {
		return nil, fmt.Errorf("model: unsupported device %q", device)
	}
	rng := rand.New(rand.NewSource(seed))
	return &Enhancer{
		device:     device,
		enc1:       NewEncodingStage("enc1", 3, 64, rng),
		enc2:       NewEncodingStage("enc2", 64, 128, rng),
		enc3:       NewEncodingStage("enc3", 128, 256, rng),
		bottleneck: NewResidualUnit("bottleneck", 256, rng),
		dec3:       NewDecodingStage("dec3", 256+256, 128, rng),
		dec2:       NewDecodingStage("dec2", 128+128, 64, rng),
		dec1:       NewDecodingStage("dec1", 64+64, 3, rng),
		att1:       NewAttentionGate("att1", 64, rng),
		att2:       NewAttentionGate("att2", 128, rng),
		att3:       NewAttentionGate("att3", 256, rng),
	}, nil
}

// Device is the device the enhancer was built for.
func (e *Enhancer) Device() Device {
	return e.device
}

// Params lists every learnable tensor in a fixed order.
func (e *Enhancer) Params() []*Param {
	var ps []*Param
	ps = append(ps, e.enc1.Params()...)
	ps = append(ps, e.enc2.Params()...)
	ps = append(ps, e.enc3.Params()...)
	ps = append(ps, e.bottleneck.Params()...)
	ps = append(ps, e.dec3.Params()...)
	ps = append(ps, e.dec2.Params()...)
	ps = append(ps, e.dec1.Params()...)
	ps = append(ps, e.att1.Params()...)
	ps = append(ps, e.att2.Params()...)
	ps = append(ps, e.att3.Params()...)
	return ps
}

// CheckInput reports whether x can be fed to the network.
func CheckInput(x *tensor.Tensor) error {
	if x.C != 3 || x.H == 0 || x.W == 0 || x.H%Factor != 0 || x.W%Factor != 0 {
		return &tensor.ShapeError{
			Op:   "enhancer input",
			Got:  x.String(),
			Want: fmt.Sprintf("(3, H, W) with H, W positive multiples of %d", Factor),
		}
	}
	return nil
}

// EnhancerPass holds every intermediate of one forward call so that the
// gradient can be propagated back through the whole graph.
type EnhancerPass struct {
	e1, e2, e3 *EncodingPass
	res        *ResidualPass
	g1, g2, g3 *GatePass
	d3, d2, d1 *DecodingPass
	out        *tensor.Tensor
}

// Forward runs the network on x. The input is validated before any work.
func (e *Enhancer) Forward(x *tensor.Tensor) (*EnhancerPass, error) {
	if err := CheckInput(x); err != nil {
		return nil, err
	}
	p := &EnhancerPass{}
	p.e1 = e.enc1.Forward(x)
	p.e2 = e.enc2.Forward(p.e1.Pooled())
	p.e3 = e.enc3.Forward(p.e2.Pooled())
	p.res = e.bottleneck.Forward(p.e3.Pooled())

	var err error
	p.g3 = e.att3.Forward(p.e3.Skip())
	if p.d3, err = e.dec3.Forward(p.res.Output(), p.g3.Output()); err != nil {
		return nil, err
	}
	p.g2 = e.att2.Forward(p.e2.Skip())
	if p.d2, err = e.dec2.Forward(p.d3.Output(), p.g2.Output()); err != nil {
		return nil, err
	}
	p.g1 = e.att1.Forward(p.e1.Skip())
	if p.d1, err = e.dec1.Forward(p.d2.Output(), p.g1.Output()); err != nil {
		return nil, err
	}
	p.out = tensor.Sigmoid(p.d1.Output())
	return p, nil
}

// Output is the enhanced image in (0, 1).
func (p *EnhancerPass) Output() *tensor.Tensor {
	return p.out
}

// Backward accumulates gradients into every parameter given dL/dOutput and
// returns dL/dInput.
func (p *EnhancerPass) Backward(dy *tensor.Tensor) *tensor.Tensor {
	g := tensor.SigmoidBackward(p.out, dy)

	g, dGated1 := p.d1.Backward(g)
	dSkip1 := p.g1.Backward(dGated1)
	g, dGated2 := p.d2.Backward(g)
	dSkip2 := p.g2.Backward(dGated2)
	g, dGated3 := p.d3.Backward(g)
	dSkip3 := p.g3.Backward(dGated3)

	g = p.res.Backward(g)
	g = p.e3.Backward(g, dSkip3)
	g = p.e2.Backward(g, dSkip2)
	return p.e1.Backward(g, dSkip1)
}

// Enhance runs inference only.
func (e *Enhancer) Enhance(x *tensor.Tensor) (*tensor.Tensor, error) {
	p, err := e.Forward(x)
	if err != nil {
		return nil, err
	}
	return p.Output(), nil
}
