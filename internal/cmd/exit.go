package cmd

import (
	"context"
	"errors"

	"github.com/MeKo-Tech/elevationmap/internal/builder"
	"github.com/MeKo-Tech/elevationmap/internal/index"
)

// exitCodeFor maps errors to the builder/validator exit-code contract:
// 1 structural problems, 2 critical failures (unreadable index, schema
// mismatch, excessive extraction failures), 3 interrupt.
func exitCodeFor(err error) int {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return 3
	case errors.Is(err, index.ErrSchemaMismatch),
		errors.Is(err, index.ErrUnreadable),
		errors.Is(err, builder.ErrTooManyFailures):
		return 2
	case errors.Is(err, index.ErrStructural):
		return 1
	default:
		return 1
	}
}
