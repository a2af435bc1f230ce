// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package params normalizes the heterogeneous parameter shapes accepted at
// the call site into a uniform list of named parameters, or a list of lists
// for batch submissions.
package params

import (
	"fmt"
	"reflect"
	"sort"
)

// Param is a named statement parameter. Value may be any of the encodable
// kinds: string, bool, integer or float, nil, time.Time, []byte, or an
// already-encoded protocol value. Cast, when set, rewrites the matching
// placeholder with an explicit type-cast annotation at encode time.
type Param struct {
	Name  string
	Value any
	Cast  string
}

// Normalize converts the caller's raw parameter arguments into named
// parameters. Each argument may be a Param record, a map with string keys
// (exploded into one parameter per key, in sorted key order), or a slice of
// either representing one batch row. The set is a batch if and only if the
// first argument is a slice; the check is structural, never declared by the
// caller.
//
// On success exactly one of single and batch is non-nil, unless no arguments
// were given at all.
func Normalize(args []any) (single []Param, batch [][]Param, err error) {
	defer func() {
		if err != nil {
			err = fmt.Errorf("invalid parameter: %s", err)
		}
	}()

	if len(args) == 0 {
		return nil, nil, nil
	}
	if isRow(args[0]) {
		batch = make([][]Param, 0, len(args))
		for i, arg := range args {
			if !isRow(arg) {
				return nil, nil, fmt.Errorf("batch row %d: need a slice of parameters, got %T", i, arg)
			}
			row, err := normalizeRow(arg)
			if err != nil {
				return nil, nil, fmt.Errorf("batch row %d: %s", i, err)
			}
			batch = append(batch, row)
		}
		return nil, batch, nil
	}
	single, err = normalizeRow(args)
	if err != nil {
		return nil, nil, err
	}
	return single, nil, nil
}

// isRow reports whether arg is a slice of parameters, i.e. one batch row.
// []byte is a scalar blob value, not a row.
func isRow(arg any) bool {
	if _, ok := arg.([]byte); ok {
		return false
	}
	v := reflect.ValueOf(arg)
	return v.Kind() == reflect.Slice || v.Kind() == reflect.Array
}

// normalizeRow flattens one row of parameters. args may be the raw argument
// list or a slice value supplied as a batch row.
func normalizeRow(args any) ([]Param, error) {
	v := reflect.ValueOf(args)
	if v.Kind() != reflect.Slice && v.Kind() != reflect.Array {
		return nil, fmt.Errorf("need a slice of parameters, got %T", args)
	}
	var row []Param
	for i := 0; i < v.Len(); i++ {
		elem := v.Index(i).Interface()
		switch elem := elem.(type) {
		case Param:
			row = append(row, elem)
		case *Param:
			if elem == nil {
				return nil, fmt.Errorf("parameter %d is nil", i)
			}
			row = append(row, *elem)
		default:
			split, err := splitParams(elem)
			if err != nil {
				return nil, fmt.Errorf("parameter %d: %s", i, err)
			}
			row = append(row, split...)
		}
	}
	return row, nil
}

// splitParams explodes a map with string keys into one named parameter per
// key. Go maps carry no insertion order, so keys are sorted to keep the
// emitted parameter order deterministic.
func splitParams(arg any) ([]Param, error) {
	v := reflect.ValueOf(arg)
	if v.Kind() != reflect.Map || v.Type().Key().Kind() != reflect.String {
		return nil, fmt.Errorf("need a map with string keys or a Param record, got %T", arg)
	}
	keys := make([]string, 0, v.Len())
	for _, key := range v.MapKeys() {
		keys = append(keys, key.String())
	}
	sort.Strings(keys)
	split := make([]Param, 0, len(keys))
	keyType := v.Type().Key()
	for _, key := range keys {
		split = append(split, Param{
			Name:  key,
			Value: v.MapIndex(reflect.ValueOf(key).Convert(keyType)).Interface(),
		})
	}
	return split, nil
}
