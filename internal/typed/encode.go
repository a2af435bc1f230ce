// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

// Package typed converts between Go values and the Data API's explicitly
// typed value protocol. Every outbound parameter is encoded as exactly one
// of the protocol's fixed kinds (string, boolean, long, double, null, blob,
// array) with an optional type hint, and every inbound field is decoded back
// into a plain Go value with optional date and JSON coercion.
package typed

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"

	"github.com/canonical/rdsair/internal/dialect"
	"github.com/canonical/rdsair/internal/params"
)

// Options carries the encode/decode conventions threaded down from the
// client configuration. It is immutable for the lifetime of a call.
type Options struct {
	Engine dialect.Engine
	// TreatAsLocalDate renders and parses timestamps in local wall-clock
	// time instead of UTC.
	TreatAsLocalDate bool
	// DeserializeDate parses date/time-typed result columns into time.Time.
	DeserializeDate bool
}

// EncodeParams encodes one row of named parameters into protocol values.
func EncodeParams(ps []params.Param, opts Options) ([]types.SqlParameter, error) {
	encoded := make([]types.SqlParameter, 0, len(ps))
	for _, p := range ps {
		field, hint, err := encodeValue(p.Value, opts)
		if err != nil {
			return nil, fmt.Errorf("invalid type for parameter %q: %s", p.Name, err)
		}
		sp := types.SqlParameter{Name: aws.String(p.Name), Value: field}
		if hint != "" {
			sp.TypeHint = hint
		}
		encoded = append(encoded, sp)
	}
	return encoded, nil
}

// encodeValue maps a Go value onto the one protocol kind it belongs to,
// along with an optional type hint. The dispatch follows a fixed priority:
// string, boolean, integer, float, null, date, binary, passthrough. Any
// other shape is unencodable.
func encodeValue(v any, opts Options) (types.Field, types.TypeHint, error) {
	switch v := v.(type) {
	case string:
		return &types.FieldMemberStringValue{Value: v}, stringHint(v, opts.Engine), nil
	case bool:
		return &types.FieldMemberBooleanValue{Value: v}, "", nil
	case int:
		return &types.FieldMemberLongValue{Value: int64(v)}, "", nil
	case int64:
		return &types.FieldMemberLongValue{Value: v}, "", nil
	case float64:
		return encodeFloat(v)
	case json.Number:
		// A numeric literal keeps the long kind whenever it round-trips
		// through integer parsing.
		if n, err := v.Int64(); err == nil {
			return &types.FieldMemberLongValue{Value: n}, "", nil
		}
		if f, err := v.Float64(); err == nil {
			return &types.FieldMemberDoubleValue{Value: f}, "", nil
		}
		return nil, "", fmt.Errorf("malformed numeric literal %q", string(v))
	case nil:
		return &types.FieldMemberIsNull{Value: true}, "", nil
	case time.Time:
		formatted := FormatTimestamp(v, opts.TreatAsLocalDate)
		return &types.FieldMemberStringValue{Value: formatted}, types.TypeHintTimestamp, nil
	case []byte:
		return &types.FieldMemberBlobValue{Value: v}, "", nil
	case types.Field:
		// Already-encoded protocol value, passed through verbatim.
		return v, "", nil
	case map[string]any:
		field, err := passthroughField(v)
		return field, "", err
	}
	return encodeReflected(v)
}

// encodeReflected covers the remaining numeric kinds (sized ints, uints,
// float32 and named numeric types) that the type switch does not list.
func encodeReflected(v any) (types.Field, types.TypeHint, error) {
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return &types.FieldMemberLongValue{Value: rv.Int()}, "", nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return nil, "", fmt.Errorf("unsigned value %d overflows the long kind", u)
		}
		return &types.FieldMemberLongValue{Value: int64(u)}, "", nil
	case reflect.Float32, reflect.Float64:
		return encodeFloat(rv.Float())
	}
	return nil, "", fmt.Errorf("unsupported value of type %T", v)
}

// encodeFloat picks the long kind for integral floats and the double kind
// otherwise, mirroring the integer-first parse order of the protocol.
func encodeFloat(f float64) (types.Field, types.TypeHint, error) {
	if !math.IsInf(f, 0) && !math.IsNaN(f) && math.Trunc(f) == f && math.Abs(f) <= math.MaxInt64 {
		return &types.FieldMemberLongValue{Value: int64(f)}, "", nil
	}
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return nil, "", fmt.Errorf("%v cannot be encoded as a double", f)
	}
	return &types.FieldMemberDoubleValue{Value: f}, "", nil
}

// passthroughField accepts the map form of an already-encoded value: exactly
// one key drawn from the supported kind set, copied verbatim.
func passthroughField(m map[string]any) (types.Field, error) {
	if len(m) != 1 {
		return nil, fmt.Errorf("pre-encoded value must have exactly one kind key, got %d", len(m))
	}
	for tag, v := range m {
		switch tag {
		case "stringValue":
			if s, ok := v.(string); ok {
				return &types.FieldMemberStringValue{Value: s}, nil
			}
		case "booleanValue":
			if b, ok := v.(bool); ok {
				return &types.FieldMemberBooleanValue{Value: b}, nil
			}
		case "longValue":
			switch n := v.(type) {
			case int:
				return &types.FieldMemberLongValue{Value: int64(n)}, nil
			case int64:
				return &types.FieldMemberLongValue{Value: n}, nil
			case float64:
				return &types.FieldMemberLongValue{Value: int64(n)}, nil
			}
		case "doubleValue":
			if f, ok := v.(float64); ok {
				return &types.FieldMemberDoubleValue{Value: f}, nil
			}
		case "isNull":
			if b, ok := v.(bool); ok {
				return &types.FieldMemberIsNull{Value: b}, nil
			}
		case "blobValue":
			if b, ok := v.([]byte); ok {
				return &types.FieldMemberBlobValue{Value: b}, nil
			}
		default:
			return nil, fmt.Errorf("unknown kind key %q in pre-encoded value", tag)
		}
		return nil, fmt.Errorf("kind key %q has incompatible value of type %T", tag, v)
	}
	// Unreachable: the map has exactly one entry.
	return nil, fmt.Errorf("internal error: empty pre-encoded value")
}
