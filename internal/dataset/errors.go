package dataset

import "fmt"

// DecodeError reports an image file that is missing, unreadable or not in a
// supported raster format.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// PairingError reports degraded and reference listings that cannot be
// aligned index by index.
type PairingError struct {
	LowDir    string
	HighDir   string
	LowCount  int
	HighCount int
	// Index, LowName and HighName are set for name mismatches.
	Index    int
	LowName  string
	HighName string
}

func (e *PairingError) Error() string {
	if e.LowName != "" || e.HighName != "" {
		return fmt.Sprintf("pairing: index %d pairs %q with %q", e.Index, e.LowName, e.HighName)
	}
	if e.LowCount == 0 && e.HighCount == 0 {
		return fmt.Sprintf("pairing: no images in %s or %s", e.LowDir, e.HighDir)
	}
	return fmt.Sprintf("pairing: %d images in %s but %d in %s", e.LowCount, e.LowDir, e.HighCount, e.HighDir)
}
