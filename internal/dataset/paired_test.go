package dataset

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/image/bmp"
	"golang.org/x/image/tiff"

	"lumen-forge/internal/tensor"
)

func solidImage(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func mustWritePNG(t *testing.T, path string, img image.Image) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("encode %s: %v", path, err)
	}
}

func mustWrite(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

// writeDataset writes n low/high PNG pairs of size w x h. Pair i is filled
// with red=i in the low image and red=100+i in the high image.
func writeDataset(t *testing.T, lowN, highN, w, h int) (string, string) {
	t.Helper()
	root := t.TempDir()
	low, high := filepath.Join(root, "low"), filepath.Join(root, "high")
	for i := 0; i < lowN; i++ {
		mustWritePNG(t, filepath.Join(low, fmt.Sprintf("%03d.png", i)), solidImage(w, h, color.NRGBA{R: uint8(i), A: 255}))
	}
	for i := 0; i < highN; i++ {
		mustWritePNG(t, filepath.Join(high, fmt.Sprintf("%03d.png", i)), solidImage(w, h, color.NRGBA{R: uint8(100 + i), A: 255}))
	}
	if lowN == 0 {
		os.MkdirAll(low, 0o755)
	}
	if highN == 0 {
		os.MkdirAll(high, 0o755)
	}
	return low, high
}

func TestListImagesFiltersAndSorts(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.PNG", "a.jpg", "c.tiff", "d.bmp", "e.jpeg", "notes.txt", "f.tif", "g.gif"} {
		mustWrite(t, filepath.Join(dir, name), nil)
	}
	mustWrite(t, filepath.Join(dir, "nested", "h.png"), nil)

	names, err := ListImages(dir)
	if err != nil {
		t.Fatalf("ListImages: %v", err)
	}
	want := []string{"a.jpg", "b.PNG", "c.tiff", "d.bmp", "e.jpeg", "f.tif"}
	if diff := cmp.Diff(want, names); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}

	if _, err := ListImages(filepath.Join(dir, "missing")); err == nil {
		t.Fatal("expected error for missing directory")
	}
}

func TestPairedSourceYieldsAlignedPairs(t *testing.T) {
	low, high := writeDataset(t, 3, 3, 64, 64)
	src, err := NewPairedSource(low, high, Options{})
	if err != nil {
		t.Fatalf("NewPairedSource: %v", err)
	}
	if src.Len() != 3 {
		t.Fatalf("expected 3 pairs, got %d", src.Len())
	}
	for i := 0; i < src.Len(); i++ {
		p, err := src.Pair(i)
		if err != nil {
			t.Fatalf("Pair(%d): %v", i, err)
		}
		for _, tt := range []*tensor.Tensor{p.Low, p.High} {
			if tt.C != 3 || tt.H != 64 || tt.W != 64 {
				t.Fatalf("pair %d shape %s", i, tt)
			}
		}
		wantLow := float64(i) / 255
		wantHigh := float64(100+i) / 255
		if math.Abs(p.Low.At(0, 10, 10)-wantLow) > 1e-9 || math.Abs(p.High.At(0, 10, 10)-wantHigh) > 1e-9 {
			t.Fatalf("pair %d decoded from wrong files: low=%f high=%f", i, p.Low.At(0, 10, 10), p.High.At(0, 10, 10))
		}
		if p.Low.At(1, 0, 0) != 0 || p.Low.At(2, 63, 63) != 0 {
			t.Fatalf("pair %d: unexpected green/blue", i)
		}
	}
	if _, err := src.Pair(3); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestPairedSourceRejectsCountMismatch(t *testing.T) {
	low, high := writeDataset(t, 5, 3, 8, 8)
	_, err := NewPairedSource(low, high, Options{})
	var perr *PairingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PairingError, got %v", err)
	}
	if perr.LowCount != 5 || perr.HighCount != 3 {
		t.Fatalf("unexpected counts %+v", perr)
	}
}

func TestPairedSourceRejectsEmpty(t *testing.T) {
	low, high := writeDataset(t, 0, 0, 8, 8)
	_, err := NewPairedSource(low, high, Options{})
	var perr *PairingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PairingError, got %v", err)
	}
}

func TestPairedSourceMatchNames(t *testing.T) {
	root := t.TempDir()
	low, high := filepath.Join(root, "low"), filepath.Join(root, "high")
	img := solidImage(8, 8, color.NRGBA{A: 255})
	mustWritePNG(t, filepath.Join(low, "a.png"), img)
	mustWritePNG(t, filepath.Join(low, "b.png"), img)
	mustWritePNG(t, filepath.Join(high, "a.png"), img)
	mustWritePNG(t, filepath.Join(high, "c.png"), img)

	if _, err := NewPairedSource(low, high, Options{}); err != nil {
		t.Fatalf("positional pairing should accept mismatched names: %v", err)
	}
	_, err := NewPairedSource(low, high, Options{MatchNames: true})
	var perr *PairingError
	if !errors.As(err, &perr) {
		t.Fatalf("expected PairingError, got %v", err)
	}
	if perr.Index != 1 || perr.LowName != "b.png" || perr.HighName != "c.png" {
		t.Fatalf("unexpected mismatch %+v", perr)
	}
}

func TestPairSurfacesDecodeErrors(t *testing.T) {
	low, high := writeDataset(t, 2, 2, 8, 8)
	mustWrite(t, filepath.Join(low, "001.png"), []byte("not a png"))
	src, err := NewPairedSource(low, high, Options{})
	if err != nil {
		t.Fatalf("NewPairedSource: %v", err)
	}

	var derr *DecodeError
	if _, err := src.Pair(1); !errors.As(err, &derr) {
		t.Fatalf("expected DecodeError for corrupt file, got %v", err)
	}

	if err := os.Remove(filepath.Join(high, "000.png")); err != nil {
		t.Fatalf("remove: %v", err)
	}
	_, err = src.Pair(0)
	if !errors.As(err, &derr) || !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("expected DecodeError wrapping ErrNotExist, got %v", err)
	}
}

func TestPairRejectsShapeMismatch(t *testing.T) {
	root := t.TempDir()
	low, high := filepath.Join(root, "low"), filepath.Join(root, "high")
	mustWritePNG(t, filepath.Join(low, "a.png"), solidImage(8, 8, color.NRGBA{A: 255}))
	mustWritePNG(t, filepath.Join(high, "a.png"), solidImage(16, 8, color.NRGBA{A: 255}))

	src, err := NewPairedSource(low, high, Options{})
	if err != nil {
		t.Fatalf("NewPairedSource: %v", err)
	}
	var shapeErr *tensor.ShapeError
	if _, err := src.Pair(0); !errors.As(err, &shapeErr) {
		t.Fatalf("expected ShapeError, got %v", err)
	}
}

func TestDecodeFileSizePolicies(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "odd.png")
	mustWritePNG(t, path, solidImage(20, 12, color.NRGBA{G: 255, A: 255}))

	var shapeErr *tensor.ShapeError
	if _, err := DecodeFile(path, SizeOptions{Policy: Reject}); !errors.As(err, &shapeErr) {
		t.Fatalf("reject: expected ShapeError, got %v", err)
	}

	cropped, err := DecodeFile(path, SizeOptions{Policy: Crop})
	if err != nil {
		t.Fatalf("crop: %v", err)
	}
	if cropped.H != 8 || cropped.W != 16 {
		t.Fatalf("crop shape %s", cropped)
	}
	if cropped.At(1, 7, 15) != 1 {
		t.Fatalf("crop lost pixel values: %f", cropped.At(1, 7, 15))
	}

	resized, err := DecodeFile(path, SizeOptions{Policy: Resize, Width: 24, Height: 16})
	if err != nil {
		t.Fatalf("resize: %v", err)
	}
	if resized.H != 16 || resized.W != 24 {
		t.Fatalf("resize shape %s", resized)
	}
	for i, v := range resized.Channel(1) {
		if math.Abs(v-1) > 1e-3 {
			t.Fatalf("resized green[%d]=%f want 1", i, v)
		}
	}

	tiny := filepath.Join(dir, "tiny.png")
	mustWritePNG(t, tiny, solidImage(4, 4, color.NRGBA{A: 255}))
	if _, err := DecodeFile(tiny, SizeOptions{Policy: Crop}); !errors.As(err, &shapeErr) {
		t.Fatalf("crop of tiny image: expected ShapeError, got %v", err)
	}
}

func TestDecodeFileFormats(t *testing.T) {
	dir := t.TempDir()
	img := solidImage(8, 8, color.NRGBA{R: 255, G: 51, B: 0, A: 255})

	bmpPath := filepath.Join(dir, "a.bmp")
	f, err := os.Create(bmpPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := bmp.Encode(f, img); err != nil {
		t.Fatalf("bmp encode: %v", err)
	}
	f.Close()

	tiffPath := filepath.Join(dir, "a.tiff")
	f, err = os.Create(tiffPath)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("tiff encode: %v", err)
	}
	f.Close()

	for _, path := range []string{bmpPath, tiffPath} {
		x, err := DecodeFile(path, SizeOptions{})
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		if x.At(0, 3, 3) != 1 || math.Abs(x.At(1, 3, 3)-0.2) > 1e-9 || x.At(2, 3, 3) != 0 {
			t.Fatalf("%s decoded to (%f, %f, %f)", path, x.At(0, 3, 3), x.At(1, 3, 3), x.At(2, 3, 3))
		}
	}
}

func TestSizeOptionsValidate(t *testing.T) {
	if err := (SizeOptions{Policy: Resize, Width: 12, Height: 16}).Validate(); err == nil {
		t.Fatal("expected error for width not divisible by 8")
	}
	if err := (SizeOptions{Policy: "stretch"}).Validate(); err == nil {
		t.Fatal("expected error for unknown policy")
	}
	if p, err := ParseSizePolicy("CROP"); err != nil || p != Crop {
		t.Fatalf("ParseSizePolicy=%q, %v", p, err)
	}
	if _, err := ParseSizePolicy("stretch"); err == nil {
		t.Fatal("expected parse error")
	}
}
