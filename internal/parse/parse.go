// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package parse extracts the named tokens of an SQL template and rewrites
// the template text for a target engine.
//
// Two token forms are recognised: :name is a named placeholder substituted
// with an encoded value at execution time, and ::name is a named identifier
// substituted with a quoted schema identifier. A double-colon run that
// immediately follows a placeholder token, as in ":id::integer", is the
// engine's type-cast suffix and is not a token.
//
// The scan is a plain left-to-right match over the raw text. Colon runs
// inside string literals or comments are still recognised as tokens. This is
// a known limitation kept for compatibility: callers rely on the current
// treatment of "::type" cast detection, and resolving it properly needs a
// full SQL tokenizer.
package parse

import (
	"fmt"
	"regexp"

	"github.com/canonical/rdsair/internal/dialect"
)

// TokenKind classifies a scanned template token.
type TokenKind int

const (
	// Placeholder is a :name token, replaced by an encoded value.
	Placeholder TokenKind = iota
	// Identifier is a ::name token, replaced by a quoted identifier.
	Identifier
)

func (k TokenKind) String() string {
	if k == Identifier {
		return "identifier"
	}
	return "placeholder"
}

// Token is one distinct named token of a template.
type Token struct {
	Name string
	Kind TokenKind
}

// Template is a scanned SQL statement along with its token table. Templates
// are built fresh for every call and never shared or cached.
type Template struct {
	sql    string
	tokens []Token
	kinds  map[string]TokenKind
}

var tokenPattern = regexp.MustCompile(`:{1,2}\w+`)

// Scan extracts the ordered set of distinct named tokens from sql. Duplicate
// names collapse to a single entry and the first classification wins.
func Scan(sql string) *Template {
	t := &Template{sql: sql, kinds: map[string]TokenKind{}}
	for _, loc := range tokenPattern.FindAllStringIndex(sql, -1) {
		match := sql[loc[0]:loc[1]]
		if match[1] == ':' {
			if isCastSuffix(sql, loc[0]) {
				// Type-cast suffix of the preceding placeholder, not a token.
				continue
			}
			t.add(match[2:], Identifier)
		} else {
			t.add(match[1:], Placeholder)
		}
	}
	return t
}

// isCastSuffix reports whether the double-colon run starting at pos directly
// follows a single-colon placeholder token ending exactly at pos.
func isCastSuffix(sql string, pos int) bool {
	i := pos
	for i > 0 && isNameChar(sql[i-1]) {
		i--
	}
	if i == pos || i == 0 || sql[i-1] != ':' {
		return false
	}
	// A preceding ::name token is itself an identifier, not a placeholder.
	return i == 1 || sql[i-2] != ':'
}

func isNameChar(c byte) bool {
	return c == '_' || ('0' <= c && c <= '9') || ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func (t *Template) add(name string, kind TokenKind) {
	if _, ok := t.kinds[name]; ok {
		return
	}
	t.kinds[name] = kind
	t.tokens = append(t.tokens, Token{Name: name, Kind: kind})
}

// SQL returns the current template text, reflecting any rewrites applied.
func (t *Template) SQL() string {
	return t.sql
}

// Tokens returns the distinct tokens in order of first appearance.
func (t *Template) Tokens() []Token {
	return t.tokens
}

// Token looks up the classification of a named token.
func (t *Template) Token(name string) (TokenKind, bool) {
	kind, ok := t.kinds[name]
	return kind, ok
}

// EscapeIdentifier replaces every occurrence of the ::name token with the
// engine-quoted form of value. Identifiers are structural, so this happens
// exactly once per distinct token regardless of how many batch rows are
// processed.
func (t *Template) EscapeIdentifier(e dialect.Engine, name, value string) error {
	kind, ok := t.kinds[name]
	if !ok || kind != Identifier {
		return fmt.Errorf("%q is not an identifier token", name)
	}
	pattern := regexp.MustCompile(`::` + name + `\b`)
	t.sql = pattern.ReplaceAllLiteralString(t.sql, e.QuoteIdentifier(value))
	return nil
}

// InjectCast rewrites every occurrence of the :name placeholder with the
// engine's explicit type-cast annotation.
func (t *Template) InjectCast(e dialect.Engine, name, cast string) {
	// The leading capture keeps a ::name identifier occurrence intact.
	pattern := regexp.MustCompile(`(^|[^:]):` + name + `\b`)
	t.sql = pattern.ReplaceAllString(t.sql, "${1}"+e.CastPlaceholder(name, cast))
}
