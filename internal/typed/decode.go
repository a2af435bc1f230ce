// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package typed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
)

// Column is the slice of response column metadata the decoder needs: the
// label results hydrate under and the type name driving coercion.
type Column struct {
	Label    string
	TypeName string
}

// Columns extracts decoder columns from the response metadata, falling back
// to the column name when no label is set.
func Columns(metadata []types.ColumnMetadata) []Column {
	cols := make([]Column, 0, len(metadata))
	for _, md := range metadata {
		label := aws.ToString(md.Label)
		if label == "" {
			label = aws.ToString(md.Name)
		}
		cols = append(cols, Column{Label: label, TypeName: aws.ToString(md.TypeName)})
	}
	return cols
}

// coercion is the post-decoding conversion applied to a column's values,
// resolved once per column from its metadata rather than per row.
type coercion int

const (
	coerceNone coercion = iota
	coerceDate
	coerceDateTZ
	coerceJSON
)

// columnCoercions resolves the coercion of every column. The date family
// follows the deserializeDate option; JSON columns always parse.
func columnCoercions(cols []Column, opts Options) []coercion {
	coercions := make([]coercion, len(cols))
	for i, col := range cols {
		switch strings.ToUpper(col.TypeName) {
		case "DATE", "DATETIME", "TIMESTAMP":
			if opts.DeserializeDate {
				coercions[i] = coerceDate
			}
		case "TIMESTAMP WITH TIME ZONE", "TIMESTAMPTZ":
			if opts.DeserializeDate {
				coercions[i] = coerceDateTZ
			}
		case "JSON", "JSONB":
			coercions[i] = coerceJSON
		}
	}
	return coercions
}

// DecodeRows converts typed response rows into positional value rows.
func DecodeRows(records [][]types.Field, cols []Column, opts Options) ([][]any, error) {
	coercions := columnCoercions(cols, opts)
	rows := make([][]any, 0, len(records))
	for _, record := range records {
		row, err := decodeRecord(record, coercions, opts)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// HydrateRecords converts typed response rows into records keyed by column
// label, in column order.
func HydrateRecords(records [][]types.Field, cols []Column, opts Options) ([]map[string]any, error) {
	coercions := columnCoercions(cols, opts)
	hydrated := make([]map[string]any, 0, len(records))
	for _, record := range records {
		if len(record) > len(cols) {
			return nil, fmt.Errorf("row has %d fields but metadata describes %d columns", len(record), len(cols))
		}
		row, err := decodeRecord(record, coercions, opts)
		if err != nil {
			return nil, err
		}
		m := make(map[string]any, len(row))
		for i, v := range row {
			m[cols[i].Label] = v
		}
		hydrated = append(hydrated, m)
	}
	return hydrated, nil
}

func decodeRecord(record []types.Field, coercions []coercion, opts Options) ([]any, error) {
	row := make([]any, 0, len(record))
	for i, field := range record {
		v, err := DecodeField(field)
		if err != nil {
			return nil, fmt.Errorf("column %d: %s", i, err)
		}
		if i < len(coercions) && v != nil {
			v, err = coerce(v, coercions[i], opts)
			if err != nil {
				return nil, fmt.Errorf("column %d: %s", i, err)
			}
		}
		row = append(row, v)
	}
	return row, nil
}

// DecodeField extracts the native value of one typed field. A field with
// the null flag decodes to nil regardless of the declared column type.
func DecodeField(field types.Field) (any, error) {
	switch field := field.(type) {
	case *types.FieldMemberIsNull:
		return nil, nil
	case *types.FieldMemberStringValue:
		return field.Value, nil
	case *types.FieldMemberBooleanValue:
		return field.Value, nil
	case *types.FieldMemberLongValue:
		return field.Value, nil
	case *types.FieldMemberDoubleValue:
		return field.Value, nil
	case *types.FieldMemberBlobValue:
		return field.Value, nil
	case *types.FieldMemberArrayValue:
		return decodeArray(field.Value)
	}
	return nil, fmt.Errorf("unsupported field kind %T", field)
}

// decodeArray unpacks an array-valued field, recursing into nested arrays.
func decodeArray(value types.ArrayValue) (any, error) {
	switch value := value.(type) {
	case *types.ArrayValueMemberStringValues:
		return value.Value, nil
	case *types.ArrayValueMemberLongValues:
		return value.Value, nil
	case *types.ArrayValueMemberDoubleValues:
		return value.Value, nil
	case *types.ArrayValueMemberBooleanValues:
		return value.Value, nil
	case *types.ArrayValueMemberArrayValues:
		nested := make([]any, 0, len(value.Value))
		for _, inner := range value.Value {
			v, err := decodeArray(inner)
			if err != nil {
				return nil, err
			}
			nested = append(nested, v)
		}
		return nested, nil
	}
	return nil, fmt.Errorf("unsupported array kind %T", value)
}

// coerce applies the column's post-decoding conversion to a non-null value.
func coerce(v any, c coercion, opts Options) (any, error) {
	if c == coerceNone {
		return v, nil
	}
	s, ok := v.(string)
	if !ok {
		return v, nil
	}
	switch c {
	case coerceDate:
		return ParseTimestamp(s, opts.TreatAsLocalDate)
	case coerceDateTZ:
		// The value carries its own offset, so local interpretation is
		// always correct here.
		return ParseTimestamp(s, true)
	case coerceJSON:
		var doc any
		if err := json.Unmarshal([]byte(s), &doc); err != nil {
			return nil, fmt.Errorf("cannot parse JSON column value: %s", err)
		}
		return doc, nil
	}
	return v, nil
}
