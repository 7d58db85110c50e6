// Copyright 2026 © The Meshwork Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/meshwork/pkg/errors"
)

// WithTimeout runs fn with a context bounded by d. fn must honor the
// context it receives. When the bound (not the parent) expires, the result
// is a recoverable timeout error. A zero d runs fn with ctx unchanged.
func WithTimeout(ctx context.Context, d time.Duration, fn func(ctx context.Context) error) error {
	if d <= 0 {
		return fn(ctx)
	}

	tctx, cancel := context.WithTimeout(ctx, d)
	defer cancel()

	err := fn(tctx)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && stderrors.Is(tctx.Err(), context.DeadlineExceeded) {
		if errors.HasCode(err, errors.CodeTimeout) {
			return err
		}
		return errors.New(errors.CodeTimeout, "operation exceeded timeout", err).
			WithContext("timeout", d.String()).
			WithRecoverable(true)
	}
	return err
}
