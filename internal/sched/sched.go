// internal/sched/sched.go

// Package sched provides the cooperative checkpoint inserted between units of
// sync work so a long-running sync does not starve other work.
package sched

import (
	"context"
	"runtime"
)

// Checkpoint yields the processor and reports whether the surrounding run has
// been cancelled. It is called between pages, upserts, and sub-entity loop
// iterations; never in the middle of a bulk write.
func Checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	runtime.Gosched()
	return nil
}
