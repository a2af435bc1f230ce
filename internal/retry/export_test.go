// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package retry

import (
	"context"
	"time"
)

// PatchSleep replaces the delay timer so tests can record the served delays
// instead of waiting them out. It returns a function restoring the original.
func PatchSleep(f func(context.Context, time.Duration) error) func() {
	original := sleep
	sleep = f
	return func() {
		sleep = original
	}
}
