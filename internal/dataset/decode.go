package dataset

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"strings"

	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"

	"lumen-forge/internal/tensor"
)

// SizeFactor is the divisor image dimensions must satisfy to pass through
// three 2x poolings and back.
const SizeFactor = 8

// SizePolicy decides what happens to images whose dimensions are not
// multiples of SizeFactor.
type SizePolicy string

const (
	// Reject fails with a *tensor.ShapeError.
	Reject SizePolicy = "reject"
	// Crop keeps the top-left region rounded down to multiples of SizeFactor.
	Crop SizePolicy = "crop"
	// Resize scales every image to a fixed size with bilinear filtering.
	Resize SizePolicy = "resize"
)

// ParseSizePolicy accepts the policy names; the empty string means Reject.
func ParseSizePolicy(s string) (SizePolicy, error) {
	switch SizePolicy(strings.ToLower(strings.TrimSpace(s))) {
	case "", Reject:
		return Reject, nil
	case Crop:
		return Crop, nil
	case Resize:
		return Resize, nil
	default:
		return "", fmt.Errorf("unknown size policy %q", s)
	}
}

// SizeOptions configures how decoded images are shaped.
type SizeOptions struct {
	Policy SizePolicy
	// Width and Height are the target size for Resize.
	Width  int
	Height int
}

// Validate checks that the options describe a usable policy.
func (o SizeOptions) Validate() error {
	switch o.Policy {
	case "", Reject, Crop:
		return nil
	case Resize:
		if o.Width <= 0 || o.Height <= 0 || o.Width%SizeFactor != 0 || o.Height%SizeFactor != 0 {
			return fmt.Errorf("resize target %dx%d must be positive multiples of %d", o.Width, o.Height, SizeFactor)
		}
		return nil
	default:
		return fmt.Errorf("unknown size policy %q", o.Policy)
	}
}

// DecodeFile reads the image at path and converts it to a (3, H, W) tensor
// with values in [0, 1], shaped according to opts.
func DecodeFile(path string, opts SizeOptions) (*tensor.Tensor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &DecodeError{Path: path, Err: err}
	}
	img, err = shape(img, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return ImageToTensor(img), nil
}

func shape(img image.Image, opts SizeOptions) (image.Image, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch opts.Policy {
	case Resize:
		if w == opts.Width && h == opts.Height {
			return img, nil
		}
		dst := image.NewNRGBA64(image.Rect(0, 0, opts.Width, opts.Height))
		draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
		return dst, nil
	case Crop:
		cw, ch := w-w%SizeFactor, h-h%SizeFactor
		if cw == 0 || ch == 0 {
			return nil, sizeError(w, h)
		}
		if cw == w && ch == h {
			return img, nil
		}
		dst := image.NewNRGBA64(image.Rect(0, 0, cw, ch))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst, nil
	default:
		if w == 0 || h == 0 || w%SizeFactor != 0 || h%SizeFactor != 0 {
			return nil, sizeError(w, h)
		}
		return img, nil
	}
}

func sizeError(w, h int) error {
	return &tensor.ShapeError{
		Op:   "image size",
		Got:  fmt.Sprintf("(3, %d, %d)", h, w),
		Want: fmt.Sprintf("(3, H, W) with H, W positive multiples of %d", SizeFactor),
	}
}

// ImageToTensor converts img to channel-major RGB in [0, 1]. Alpha is
// dropped without compositing.
func ImageToTensor(img image.Image) *tensor.Tensor {
	b := img.Bounds()
	t := tensor.New(3, b.Dy(), b.Dx())
	r, g, bl := t.Channel(0), t.Channel(1), t.Channel(2)
	for y := 0; y < t.H; y++ {
		for x := 0; x < t.W; x++ {
			c := color.NRGBA64Model.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA64)
			i := y*t.W + x
			r[i] = float64(c.R) / 0xffff
			g[i] = float64(c.G) / 0xffff
			bl[i] = float64(c.B) / 0xffff
		}
	}
	return t
}
