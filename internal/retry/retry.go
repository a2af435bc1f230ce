// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package retry wraps an outbound remote call in a condition-specific
// backoff loop. Failures are classified by the caller; each class maps to a
// fixed delay schedule. The schedule is selected by the class of the first
// failure and held for the remainder of the call, so a later failure of a
// different class neither resets nor reselects it.
package retry

import (
	"context"
	"time"
)

// Class partitions remote failures by the backoff they need.
type Class int

const (
	// None marks an error that must not be retried.
	None Class = iota
	// ColdStart marks the resuming condition of scaled-to-zero compute,
	// which can take minutes and needs the long escalating schedule.
	ColdStart
	// Transient marks ordinary connection blips, retried on a short
	// schedule that ignores the configured retry cap.
	Transient
	// Custom marks caller-declared retryable error codes. They reuse the
	// cold-start schedule under the configured cap.
	Custom
)

// Policy configures the retry loop. The zero value disables retries
// entirely: the call is then invoked exactly once with no wrapping.
type Policy struct {
	Enabled bool
	// MaxRetries caps the attempts drawn from the cold-start schedule. Zero
	// means the full schedule. It never affects the transient schedule.
	MaxRetries int
}

var (
	coldStartDelays = []time.Duration{
		0,
		2 * time.Second,
		5 * time.Second,
		10 * time.Second,
		15 * time.Second,
		20 * time.Second,
		25 * time.Second,
		30 * time.Second,
		35 * time.Second,
		40 * time.Second,
	}
	transientDelays = []time.Duration{
		0,
		2 * time.Second,
		4 * time.Second,
	}
)

// sleep waits out one scheduled delay, giving up early if the context ends.
// It is a variable so tests can observe the delays without serving them.
var sleep = func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Do invokes fn, retrying failures that classify supports retrying. The
// entry at index n of the selected schedule is the delay served before
// attempt n+1; exhaustion of the schedule, or a failure classified None,
// returns the last error unchanged.
func Do(ctx context.Context, policy Policy, classify func(error) Class, fn func(context.Context) error) error {
	if !policy.Enabled {
		return fn(ctx)
	}
	var schedule []time.Duration
	attempt := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		class := None
		if classify != nil {
			class = classify(err)
		}
		if class == None {
			return err
		}
		if schedule == nil {
			schedule = scheduleFor(class, policy.MaxRetries)
		}
		attempt++
		if attempt >= len(schedule) {
			return err
		}
		if werr := sleep(ctx, schedule[attempt]); werr != nil {
			return werr
		}
	}
}

func scheduleFor(class Class, maxRetries int) []time.Duration {
	if class == Transient {
		return transientDelays
	}
	if maxRetries > 0 && maxRetries < len(coldStartDelays) {
		return coldStartDelays[:maxRetries]
	}
	return coldStartDelays
}
