// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package dialect holds the per-engine SQL syntax rules used when rewriting
// statements for the Data API: identifier quoting, explicit type-cast
// injection and type-hint applicability.
package dialect

import (
	"fmt"
	"strings"
)

// Engine identifies the database engine behind the Data API endpoint. It is
// fixed at client construction and selects quoting and cast syntax
// throughout encoding.
type Engine string

const (
	MySQL    Engine = "mysql"
	Postgres Engine = "pg"
)

// Validate checks that the engine is one of the supported values.
func (e Engine) Validate() error {
	switch e {
	case MySQL, Postgres:
		return nil
	}
	return fmt.Errorf("unsupported database engine %q", string(e))
}

// QuoteIdentifier returns the engine-quoted form of a schema identifier.
// Dotted names are quoted per segment so schema-qualified identifiers stay
// valid. Embedded quote characters are doubled.
func (e Engine) QuoteIdentifier(name string) string {
	var quote, escaped string
	switch e {
	case MySQL:
		quote, escaped = "`", "``"
	default:
		quote, escaped = `"`, `""`
	}
	parts := strings.Split(name, ".")
	for i, part := range parts {
		parts[i] = quote + strings.ReplaceAll(part, quote, escaped) + quote
	}
	return strings.Join(parts, ".")
}

// CastPlaceholder returns the placeholder token for name annotated with an
// explicit type cast in the engine's syntax.
func (e Engine) CastPlaceholder(name, cast string) string {
	if e == Postgres {
		return ":" + name + "::" + cast
	}
	return "CAST(:" + name + " AS " + cast + ")"
}

// SupportsStringHints reports whether type hints inferred from string values
// carry meaning for the engine. Hints such as UUID and JSON are native to
// postgres only.
func (e Engine) SupportsStringHints() bool {
	return e == Postgres
}
