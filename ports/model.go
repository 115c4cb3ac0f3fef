package ports

import (
	"context"
	"errors"
)

// ErrNonNumeric is returned by model adapters when a cell holds a value that
// cannot be read as a number.
var ErrNonNumeric = errors.New("cell value is not numeric")

// ModelPort is the read/write capability on the external computational model.
// Cells are addressed by name. Both calls block and may fail; callers decide
// how much of a failure is recoverable.
type ModelPort interface {
	Get(ctx context.Context, name string) (float64, error)
	Set(ctx context.Context, name string, value float64) error
}

// ModelReader is the read half of ModelPort
type ModelReader interface {
	Get(ctx context.Context, name string) (float64, error)
}
