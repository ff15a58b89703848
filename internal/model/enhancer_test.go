package model

import (
	"bytes"
	"errors"
	"math"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"

	"gonum.org/v1/gonum/floats"

	"lumen-forge/internal/tensor"
)

func newTestEnhancer(t *testing.T, seed int64) *Enhancer {
	t.Helper()
	e, err := NewEnhancer(CPU, seed)
	if err != nil {
		t.Fatalf("NewEnhancer: %v", err)
	}
	return e
}

func randomImage(rng *rand.Rand, h, w int) *tensor.Tensor {
	x := tensor.New(3, h, w)
	for i := range x.Data {
		x.Data[i] = rng.Float64()
	}
	return x
}

func TestEnhancerPreservesShapeAndRange(t *testing.T) {
	e := newTestEnhancer(t, 1)
	rng := rand.New(rand.NewSource(2))
	for _, size := range [][2]int{{8, 8}, {16, 8}, {16, 24}} {
		x := randomImage(rng, size[0], size[1])
		y, err := e.Enhance(x)
		if err != nil {
			t.Fatalf("Enhance %s: %v", x, err)
		}
		if !y.SameShape(x) {
			t.Fatalf("output shape %s, want %s", y, x)
		}
		for i, v := range y.Data {
			if v < 0 || v >= 1 || math.IsNaN(v) {
				t.Fatalf("output[%d]=%f outside [0, 1)", i, v)
			}
		}
	}
}

func TestEnhancerDeterministic(t *testing.T) {
	e := newTestEnhancer(t, 3)
	x := randomImage(rand.New(rand.NewSource(4)), 8, 16)
	a, err := e.Enhance(x)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	b, err := e.Enhance(x)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if !floats.Equal(a.Data, b.Data) {
		t.Fatal("repeated forward passes differ")
	}

	other := newTestEnhancer(t, 3)
	c, err := other.Enhance(x)
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if !floats.Equal(a.Data, c.Data) {
		t.Fatal("same seed produced different networks")
	}
}

func TestEnhancerRejectsBadInput(t *testing.T) {
	e := newTestEnhancer(t, 1)
	for _, x := range []*tensor.Tensor{
		tensor.New(3, 12, 16),
		tensor.New(3, 16, 10),
		tensor.New(1, 16, 16),
		tensor.New(3, 0, 8),
	} {
		_, err := e.Forward(x)
		var shapeErr *tensor.ShapeError
		if !errors.As(err, &shapeErr) {
			t.Fatalf("input %s: expected ShapeError, got %v", x, err)
		}
	}
}

func TestNewEnhancerRejectsUnknownDevice(t *testing.T) {
	if _, err := NewEnhancer(Device("cuda"), 1); err == nil {
		t.Fatal("expected error for unsupported device")
	}
	if _, err := ParseDevice("tpu"); err == nil {
		t.Fatal("expected ParseDevice error")
	}
	d, err := ParseDevice("")
	if err != nil || d != CPU {
		t.Fatalf("ParseDevice(\"\")=%q, %v", d, err)
	}
}

func TestEnhancerParamsNamedAndCounted(t *testing.T) {
	e := newTestEnhancer(t, 1)
	params := e.Params()
	if len(params) != 22 {
		t.Fatalf("expected 22 param tensors, got %d", len(params))
	}
	seen := map[string]bool{}
	for _, p := range params {
		if seen[p.Name] {
			t.Fatalf("duplicate param name %s", p.Name)
		}
		seen[p.Name] = true
	}
	// conv weights + biases for every stage.
	want := (3*64*9 + 64) + (64*128*9 + 128) + (128*256*9 + 256) +
		2*(256*256*9+256) +
		(512*128*9 + 128) + (256*64*9 + 64) + (128*3*9 + 3) +
		(64*64 + 64) + (128*128 + 128) + (256*256 + 256)
	if got := NumValues(params); got != want {
		t.Fatalf("NumValues=%d want %d", got, want)
	}
}

// TestEnhancerGradientSpotCheck compares a sample of analytic gradients
// against central differences through the whole network.
func TestEnhancerGradientSpotCheck(t *testing.T) {
	e := newTestEnhancer(t, 5)
	rng := rand.New(rand.NewSource(6))
	x := randomImage(rng, 8, 8)
	w := randomTensor(rng, 3, 8, 8)

	loss := func() float64 {
		y, err := e.Enhance(x)
		if err != nil {
			t.Fatalf("Enhance: %v", err)
		}
		return probe(y, w)
	}

	pass, err := e.Forward(x)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	dx := pass.Backward(w)

	const h = 1e-5
	byName := map[string]*Param{}
	for _, p := range e.Params() {
		byName[p.Name] = p
	}
	for _, name := range []string{
		"enc1.conv.weight", "enc3.conv.bias", "bottleneck.conv2.weight",
		"dec1.conv.weight", "dec3.conv.bias", "att1.conv.weight", "att3.conv.bias",
	} {
		p := byName[name]
		if p == nil {
			t.Fatalf("param %s not found", name)
		}
		for _, i := range []int{0, len(p.Val) / 2, len(p.Val) - 1} {
			orig := p.Val[i]
			p.Val[i] = orig + h
			up := loss()
			p.Val[i] = orig - h
			down := loss()
			p.Val[i] = orig
			numeric := (up - down) / (2 * h)
			if math.Abs(numeric-p.Grad[i]) > 1e-6+1e-4*math.Abs(numeric) {
				t.Fatalf("%s[%d]: analytic=%g numeric=%g", name, i, p.Grad[i], numeric)
			}
		}
	}

	for _, i := range []int{0, 77, x.Len() - 1} {
		orig := x.Data[i]
		x.Data[i] = orig + h
		up := loss()
		x.Data[i] = orig - h
		down := loss()
		x.Data[i] = orig
		numeric := (up - down) / (2 * h)
		if math.Abs(numeric-dx.Data[i]) > 1e-6+1e-4*math.Abs(numeric) {
			t.Fatalf("input[%d]: analytic=%g numeric=%g", i, dx.Data[i], numeric)
		}
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	src := newTestEnhancer(t, 7)
	dst := newTestEnhancer(t, 8)
	path := filepath.Join(t.TempDir(), "enhancer.safetensors")

	meta := SnapshotMeta{Epochs: 12, LearningRate: 2.5e-5}
	if err := src.SaveSnapshot(path, meta); err != nil {
		t.Fatalf("SaveSnapshot: %v", err)
	}
	got, err := dst.LoadSnapshot(path)
	if err != nil {
		t.Fatalf("LoadSnapshot: %v", err)
	}
	if got.Format != SnapshotFormat || got.Epochs != 12 || got.LearningRate != 2.5e-5 {
		t.Fatalf("unexpected meta %+v", got)
	}

	srcParams, dstParams := src.Params(), dst.Params()
	for i := range srcParams {
		for j, v := range srcParams[i].Val {
			if float32(v) != float32(dstParams[i].Val[j]) {
				t.Fatalf("%s[%d]=%v want %v", dstParams[i].Name, j, dstParams[i].Val[j], v)
			}
		}
	}
}

func TestReadSnapshotRejectsMismatch(t *testing.T) {
	a := NewParam("a", 2, 2)
	b := NewParam("b", 3)
	copy(a.Val, []float64{1, 2, 3, 4})
	copy(b.Val, []float64{5, 6, 7})
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, []*Param{a, b}, SnapshotMeta{}); err != nil {
		t.Fatalf("WriteSnapshot: %v", err)
	}
	raw := buf.Bytes()

	filled := func(name string, shape ...int) *Param {
		p := NewParam(name, shape...)
		for i := range p.Val {
			p.Val[i] = 9
		}
		return p
	}
	cases := []struct {
		name   string
		data   []byte
		params []*Param
	}{
		{"shape", raw, []*Param{filled("a", 4), filled("b", 3)}},
		{"late shape", raw, []*Param{filled("a", 2, 2), filled("b", 4)}},
		{"missing", raw, []*Param{filled("a", 2, 2), filled("c", 3)}},
		{"count", raw, []*Param{filled("a", 2, 2)}},
		{"truncated", raw[:len(raw)-3], []*Param{filled("a", 2, 2), filled("b", 3)}},
	}
	for _, tc := range cases {
		if _, err := ReadSnapshot(bytes.NewReader(tc.data), tc.params); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
		for _, p := range tc.params {
			for i, v := range p.Val {
				if v != 9 {
					t.Fatalf("%s: %s[%d]=%f was overwritten by a failed load", tc.name, p.Name, i, v)
				}
			}
		}
	}

	if _, err := ReadSnapshot(strings.NewReader("garbage!"), []*Param{a}); err == nil {
		t.Fatal("expected error for garbage input")
	}
}
