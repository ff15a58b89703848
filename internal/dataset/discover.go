package dataset

import (
	"fmt"
	"os"
	"regexp"
	"sort"
)

var imageRegexp = regexp.MustCompile(`(?i)\.(jpe?g|png|bmp|tiff?)$`)

// IsImageName reports whether name carries a recognized raster extension.
func IsImageName(name string) bool {
	return imageRegexp.MatchString(name)
}

// ListImages returns the sorted names of image files directly inside dir.
// Subdirectories are not descended into.
func ListImages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		if IsImageName(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}
