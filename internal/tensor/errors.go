package tensor

import "fmt"

// ShapeError reports a tensor whose dimensions violate a precondition.
type ShapeError struct {
	Op   string
	Got  string
	Want string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("%s: got shape %s, want %s", e.Op, e.Got, e.Want)
}
