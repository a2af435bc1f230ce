// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package rdsair

import (
	"errors"
	"net"
	"regexp"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	smithy "github.com/aws/smithy-go"

	"github.com/canonical/rdsair/internal/retry"
)

// resumingPattern matches the BadRequestException messages the service
// returns while scaled-to-zero compute resumes. Execution during resume can
// take minutes, hence the dedicated cold-start schedule.
var resumingPattern = regexp.MustCompile(`(?i)communications link failure|connection is not available|is resuming`)

// transientCodes are remote error codes retried on the short schedule.
var transientCodes = map[string]bool{
	"ServiceUnavailableError":   true,
	"StatementTimeoutException": true,
	"ThrottlingException":       true,
}

// classify maps a remote execution error onto its retry class. Validation
// and encoding errors never reach here; they are raised before the call.
func (c *Client) classify(err error) retry.Class {
	var badRequest *types.BadRequestException
	if errors.As(err, &badRequest) && resumingPattern.MatchString(aws.ToString(badRequest.Message)) {
		return retry.ColdStart
	}
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		code := apiErr.ErrorCode()
		for _, retryable := range c.conf.RetryableErrors {
			if code == retryable {
				return retry.Custom
			}
		}
		if transientCodes[code] {
			return retry.Transient
		}
		return retry.None
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return retry.Transient
	}
	return retry.None
}
