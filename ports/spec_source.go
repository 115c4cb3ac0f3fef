package ports

import "context"

// SpecSource provides named tabular ranges holding the run specification.
// Cells are returned as trimmed strings; empty cells are "".
type SpecSource interface {
	ReadRange(ctx context.Context, name string) ([][]string, error)
}
