// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typed

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	"github.com/google/uuid"

	"github.com/canonical/rdsair/internal/dialect"
)

var (
	datePattern    = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
	timePattern    = regexp.MustCompile(`^\d{2}:\d{2}:\d{2}(\.\d{1,3})?$`)
	decimalPattern = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// stringHint infers the optional type hint for a string value, matched in
// priority order: UUID, date, time, JSON document, decimal. Hints inferred
// from strings only carry meaning for the postgres engine; for mysql no
// hint is emitted.
func stringHint(s string, e dialect.Engine) types.TypeHint {
	if !e.SupportsStringHints() {
		return ""
	}
	if isUUID(s) {
		return types.TypeHintUuid
	}
	if datePattern.MatchString(s) {
		return types.TypeHintDate
	}
	if timePattern.MatchString(s) {
		return types.TypeHintTime
	}
	if isJSONText(s) {
		return types.TypeHintJson
	}
	if decimalPattern.MatchString(s) {
		return types.TypeHintDecimal
	}
	return ""
}

// isUUID reports whether s is a canonical textual UUID. Only the 36
// character hyphenated form counts; uuid.Parse alone would also accept
// braced and urn-prefixed variants.
func isUUID(s string) bool {
	if len(s) != 36 {
		return false
	}
	_, err := uuid.Parse(s)
	return err == nil
}

// isJSONText reports whether s is a well-formed JSON object or array.
func isJSONText(s string) bool {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
		return false
	}
	return json.Valid([]byte(trimmed))
}
