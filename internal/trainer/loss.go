package trainer

import (
	"math"

	"lumen-forge/internal/tensor"
)

// L1Loss returns scale * sum|pred - ref| and its gradient with respect to
// pred. With scale = 1/N over all N elements of a batch, the per-pair values
// sum to the batch mean absolute error.
func L1Loss(pred, ref *tensor.Tensor, scale float64) (float64, *tensor.Tensor, error) {
	if !pred.SameShape(ref) {
		return 0, nil, &tensor.ShapeError{Op: "l1 loss", Got: pred.String(), Want: ref.String()}
	}
	grad := tensor.Like(pred)
	var sum float64
	for i, p := range pred.Data {
		d := p - ref.Data[i]
		sum += math.Abs(d)
		switch {
		case d > 0:
			grad.Data[i] = scale
		case d < 0:
			grad.Data[i] = -scale
		}
	}
	return sum * scale, grad, nil
}
