// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

/*
Package rdsair is a marshaling layer between ordinary SQL call sites and the
RDS Data API's explicitly typed value protocol.

The Data API executes statements over a connectionless HTTP protocol in which
every parameter and every result field is tagged with one of a fixed set of
kinds (string, boolean, long, double, null, blob, array). This package hides
that protocol behind familiar calling conventions: named placeholders in the
SQL text, parameters supplied as maps or records, results returned as plain
Go values.

# Templates

Statements use two token forms. A named placeholder is substituted with an
encoded value:

	res, err := client.Query(ctx, "SELECT * FROM people WHERE id = :id",
		map[string]any{"id": 42})

A named identifier (double colon) is substituted with an engine-quoted schema
identifier, because identifiers are structure, not data:

	res, err := client.Query(ctx, "SELECT ::col FROM people",
		map[string]any{"col": "name"})

A double colon directly following a placeholder is the engine's type-cast
suffix and is left alone, so ":id::integer" contains one placeholder and no
identifier.

# Parameters

Parameters may be maps with string keys (one parameter per key), Param
records (which can carry an explicit Cast), or slices of either. A slice of
slices is a batch: one inner list per row, submitted as a single multi-row
execution. Batch detection is structural; it is never declared by the
caller.

# Results

Row results hydrate into records keyed by column label, or into positional
rows when hydration is off. Date and time columns decode into time.Time and
JSON columns into native structures, following the same UTC/local convention
used when encoding.

# Retries

Transient failures are retried on condition-specific schedules. The resuming
("cold start") condition of scaled-to-zero compute uses a long escalating
schedule; ordinary connection errors use a short fixed one. The schedule is
chosen on the first failure of a call and held until the call resolves.

# Transactions

A TX queues statements and runs them strictly sequentially inside one remote
transaction during Commit, rolling back and reporting to the registered
callback if any queued statement fails.
*/
package rdsair
