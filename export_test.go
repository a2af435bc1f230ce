// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package rdsair

import "github.com/canonical/rdsair/internal/retry"

// Classify exposes the retry classification for tests.
func (c *Client) Classify(err error) retry.Class {
	return c.classify(err)
}

const (
	ClassNone      = retry.None
	ClassColdStart = retry.ColdStart
	ClassTransient = retry.Transient
	ClassCustom    = retry.Custom
)
