package dataset

import (
	"fmt"
	"path/filepath"
	"strings"

	"lumen-forge/internal/tensor"
)

// Options configures a PairedSource.
type Options struct {
	Size SizeOptions
	// MatchNames additionally requires the Nth names of both listings to
	// share a base name (extension ignored).
	MatchNames bool
}

// Pair is a degraded image and its reference, decoded from the same index
// of the two sorted listings.
type Pair struct {
	Index    int
	LowName  string
	HighName string
	Low      *tensor.Tensor
	High     *tensor.Tensor
}

// Source is an indexable collection of training pairs.
type Source interface {
	Len() int
	Pair(i int) (Pair, error)
}

// PairedSource aligns two directories of images by sorted file name.
// Listings of different length are rejected when the source is built.
type PairedSource struct {
	lowDir, highDir string
	low, high       []string
	opts            Options
}

// NewPairedSource lists both directories and validates their pairing.
func NewPairedSource(lowDir, highDir string, opts Options) (*PairedSource, error) {
	if err := opts.Size.Validate(); err != nil {
		return nil, fmt.Errorf("paired source: %w", err)
	}
	low, err := ListImages(lowDir)
	if err != nil {
		return nil, err
	}
	high, err := ListImages(highDir)
	if err != nil {
		return nil, err
	}
	perr := &PairingError{LowDir: lowDir, HighDir: highDir, LowCount: len(low), HighCount: len(high)}
	if len(low) != len(high) || len(low) == 0 {
		return nil, perr
	}
	if opts.MatchNames {
		for i := range low {
			if stem(low[i]) != stem(high[i]) {
				perr.Index, perr.LowName, perr.HighName = i, low[i], high[i]
				return nil, perr
			}
		}
	}
	return &PairedSource{lowDir: lowDir, highDir: highDir, low: low, high: high, opts: opts}, nil
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

// Len is the number of pairs.
func (s *PairedSource) Len() int {
	return len(s.low)
}

// Names returns the file names at index i. It panics if i is out of range.
func (s *PairedSource) Names(i int) (low, high string) {
	return s.low[i], s.high[i]
}

// Pair decodes both images at index i. Nothing is cached between calls.
func (s *PairedSource) Pair(i int) (Pair, error) {
	if i < 0 || i >= len(s.low) {
		return Pair{}, fmt.Errorf("paired source: index %d out of range [0, %d)", i, len(s.low))
	}
	p := Pair{Index: i, LowName: s.low[i], HighName: s.high[i]}
	var err error
	if p.Low, err = DecodeFile(filepath.Join(s.lowDir, p.LowName), s.opts.Size); err != nil {
		return Pair{}, err
	}
	if p.High, err = DecodeFile(filepath.Join(s.highDir, p.HighName), s.opts.Size); err != nil {
		return Pair{}, err
	}
	if !p.Low.SameShape(p.High) {
		return Pair{}, &tensor.ShapeError{
			Op:   fmt.Sprintf("pair %d (%s, %s)", i, p.LowName, p.HighName),
			Got:  p.High.String(),
			Want: p.Low.String(),
		}
	}
	return p, nil
}
