// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package rdsair

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"

	"github.com/canonical/rdsair/internal/dialect"
	"github.com/canonical/rdsair/internal/params"
	"github.com/canonical/rdsair/internal/parse"
	"github.com/canonical/rdsair/internal/retry"
	"github.com/canonical/rdsair/internal/typed"
)

// Param is a named statement parameter. It can be passed anywhere a map
// parameter can, and additionally carries an optional Cast that rewrites the
// matching placeholder with an explicit type-cast annotation.
type Param = params.Param

// Engine selects the identifier quoting, cast injection and type-hint rules
// used throughout encoding. It is fixed at client construction.
type Engine = dialect.Engine

const (
	EngineMySQL    = dialect.MySQL
	EnginePostgres = dialect.Postgres
)

// RetryPolicy configures the retry controller wrapped around statement
// execution. The zero value disables retries.
type RetryPolicy = retry.Policy

// DataAPI is the subset of the rdsdata client used by this package. It is
// satisfied by *rdsdata.Client; tests substitute their own implementation.
type DataAPI interface {
	ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.ExecuteStatementOutput, error)
	BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BatchExecuteStatementOutput, error)
	BeginTransaction(ctx context.Context, in *rdsdata.BeginTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.BeginTransactionOutput, error)
	CommitTransaction(ctx context.Context, in *rdsdata.CommitTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.CommitTransactionOutput, error)
	RollbackTransaction(ctx context.Context, in *rdsdata.RollbackTransactionInput, optFns ...func(*rdsdata.Options)) (*rdsdata.RollbackTransactionOutput, error)
}

// Config holds the immutable client configuration. Construction and
// configuration of the underlying rdsdata client is the caller's concern.
type Config struct {
	// ResourceARN and SecretARN identify the cluster and its credentials.
	// Both are required.
	ResourceARN string
	SecretARN   string
	// Database is the default database for every call. Requests may
	// override it.
	Database string
	// Engine defaults to EngineMySQL.
	Engine Engine
	// Hydrate keys result records by column label instead of returning
	// positional rows. nil means true.
	Hydrate *bool
	// DeserializeDate parses date/time columns into time.Time. nil means
	// true.
	DeserializeDate *bool
	// TreatAsLocalDate encodes and decodes timestamps in local wall-clock
	// time instead of UTC.
	TreatAsLocalDate bool
	// Retry configures the retry controller. Zero value: disabled.
	Retry RetryPolicy
	// RetryableErrors lists additional remote error codes to retry on the
	// cold-start schedule.
	RetryableErrors []string
}

// Client marshals queries into Data API calls. All state is per-call; a
// Client is safe for concurrent use.
type Client struct {
	api     DataAPI
	conf    Config
	hydrate bool
	opts    typed.Options
}

// New builds a Client over an rdsdata API implementation.
func New(api DataAPI, conf Config) (*Client, error) {
	if api == nil {
		return nil, fmt.Errorf("cannot create client: nil Data API")
	}
	if conf.ResourceARN == "" {
		return nil, fmt.Errorf("cannot create client: resource ARN required")
	}
	if conf.SecretARN == "" {
		return nil, fmt.Errorf("cannot create client: secret ARN required")
	}
	if conf.Engine == "" {
		conf.Engine = EngineMySQL
	}
	if err := conf.Engine.Validate(); err != nil {
		return nil, fmt.Errorf("cannot create client: %s", err)
	}
	return &Client{
		api:     api,
		conf:    conf,
		hydrate: boolOrTrue(conf.Hydrate),
		opts: typed.Options{
			Engine:           conf.Engine,
			TreatAsLocalDate: conf.TreatAsLocalDate,
			DeserializeDate:  boolOrTrue(conf.DeserializeDate),
		},
	}, nil
}

func boolOrTrue(b *bool) bool {
	return b == nil || *b
}

// Request is the fully specified form of a query, mirroring the
// query({sql, parameters}) calling convention.
type Request struct {
	SQL        string
	Parameters []any
	// Database overrides the configured default database.
	Database string
	// TransactionID threads the statement into an open remote transaction.
	TransactionID string
	// ContinueAfterTimeout lets DDL finish after the call times out.
	ContinueAfterTimeout bool
	// IncludeResultMetadata returns the column metadata with the result.
	// Metadata is requested from the service whenever hydration needs it,
	// but only surfaced when this is set.
	IncludeResultMetadata bool
	// Hydrate overrides the configured hydration default for this call.
	Hydrate *bool
}

// UpdateResult is the per-row outcome of a batch write. InsertID is set only
// if that row generated one.
type UpdateResult struct {
	InsertID *int64
}

// Result is the uniform decoded response of a statement execution. Exactly
// the portions matching the statement kind are populated.
type Result struct {
	// Records holds hydrated rows keyed by column label.
	Records []map[string]any
	// Rows holds positional rows when hydration is off.
	Rows [][]any
	// ColumnMetadata is set when the request asked for result metadata.
	ColumnMetadata []types.ColumnMetadata
	// NumberOfRecordsUpdated is set for write statements.
	NumberOfRecordsUpdated *int64
	// InsertID is the first generated field of a write, if any.
	InsertID *int64
	// UpdateResults holds the row-wise outcomes of a batch write.
	UpdateResults []UpdateResult
}

// Query runs an SQL statement with the given parameters. Parameters follow
// the shapes accepted by the normalizer: maps, Param records, or slices of
// either for batch rows.
func (c *Client) Query(ctx context.Context, sql string, parameters ...any) (*Result, error) {
	return c.Do(ctx, Request{SQL: sql, Parameters: parameters})
}

// Do runs a fully specified request.
func (c *Client) Do(ctx context.Context, req Request) (*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if req.SQL == "" {
		return nil, fmt.Errorf("cannot run query: no SQL statement provided")
	}
	single, batch, err := params.Normalize(req.Parameters)
	if err != nil {
		return nil, fmt.Errorf("cannot run query: %s", err)
	}

	// The template is rebuilt for every call; token tables are never shared
	// between statements.
	template := parse.Scan(req.SQL)

	if batch != nil {
		return c.runBatch(ctx, req, template, batch)
	}
	return c.runSingle(ctx, req, template, single)
}

// runSingle plans and issues a one-row execution.
func (c *Client) runSingle(ctx context.Context, req Request, template *parse.Template, row []Param) (*Result, error) {
	encoded, err := c.prepareRow(template, row, 0)
	if err != nil {
		return nil, err
	}
	hydrate := c.hydrate
	if req.Hydrate != nil {
		hydrate = *req.Hydrate
	}
	in := &rdsdata.ExecuteStatementInput{
		ResourceArn:           aws.String(c.conf.ResourceARN),
		SecretArn:             aws.String(c.conf.SecretARN),
		Sql:                   aws.String(template.SQL()),
		Parameters:            encoded,
		IncludeResultMetadata: hydrate || req.IncludeResultMetadata,
		ContinueAfterTimeout:  req.ContinueAfterTimeout,
	}
	if database := c.database(req); database != "" {
		in.Database = aws.String(database)
	}
	if req.TransactionID != "" {
		in.TransactionId = aws.String(req.TransactionID)
	}

	var out *rdsdata.ExecuteStatementOutput
	err = retry.Do(ctx, c.conf.Retry, c.classify, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.api.ExecuteStatement(ctx, in)
		return callErr
	})
	if err != nil {
		return nil, err
	}
	return c.decodeExecute(out, hydrate, req.IncludeResultMetadata)
}

// runBatch plans and issues a multi-row execution. Result metadata is never
// requested for batches: the response reports per-row update results, not
// typed records.
func (c *Client) runBatch(ctx context.Context, req Request, template *parse.Template, rows [][]Param) (*Result, error) {
	sets := make([][]types.SqlParameter, 0, len(rows))
	for i, row := range rows {
		encoded, err := c.prepareRow(template, row, i)
		if err != nil {
			return nil, err
		}
		sets = append(sets, encoded)
	}
	in := &rdsdata.BatchExecuteStatementInput{
		ResourceArn:   aws.String(c.conf.ResourceARN),
		SecretArn:     aws.String(c.conf.SecretARN),
		Sql:           aws.String(template.SQL()),
		ParameterSets: sets,
	}
	if database := c.database(req); database != "" {
		in.Database = aws.String(database)
	}
	if req.TransactionID != "" {
		in.TransactionId = aws.String(req.TransactionID)
	}

	var out *rdsdata.BatchExecuteStatementOutput
	err := retry.Do(ctx, c.conf.Retry, c.classify, func(ctx context.Context) error {
		var callErr error
		out, callErr = c.api.BatchExecuteStatement(ctx, in)
		return callErr
	})
	if err != nil {
		return nil, err
	}

	res := &Result{UpdateResults: make([]UpdateResult, 0, len(out.UpdateResults))}
	for _, ur := range out.UpdateResults {
		res.UpdateResults = append(res.UpdateResults, UpdateResult{
			InsertID: generatedID(ur.GeneratedFields),
		})
	}
	return res, nil
}

// prepareRow resolves one parameter row against the template: identifiers
// are escaped into the SQL on the row-0 pass only, casts are injected, and
// the remaining placeholder parameters are encoded. Parameters whose names
// do not appear in the template are dropped.
func (c *Client) prepareRow(template *parse.Template, row []Param, rowIndex int) ([]types.SqlParameter, error) {
	var placeholders []Param
	for _, p := range row {
		kind, ok := template.Token(p.Name)
		if !ok {
			continue
		}
		switch kind {
		case parse.Identifier:
			if rowIndex > 0 {
				continue
			}
			value, ok := p.Value.(string)
			if !ok {
				return nil, fmt.Errorf("cannot run query: identifier %q must be a string, got %T", p.Name, p.Value)
			}
			if err := template.EscapeIdentifier(c.conf.Engine, p.Name, value); err != nil {
				return nil, fmt.Errorf("cannot run query: %s", err)
			}
		case parse.Placeholder:
			if p.Cast != "" && rowIndex == 0 {
				template.InjectCast(c.conf.Engine, p.Name, p.Cast)
			}
			placeholders = append(placeholders, p)
		}
	}
	encoded, err := typed.EncodeParams(placeholders, c.opts)
	if err != nil {
		return nil, fmt.Errorf("cannot run query: %s", err)
	}
	return encoded, nil
}

// decodeExecute renders a single-statement response into the uniform result
// shape.
func (c *Client) decodeExecute(out *rdsdata.ExecuteStatementOutput, hydrate, includeMetadata bool) (*Result, error) {
	res := &Result{}
	if includeMetadata {
		res.ColumnMetadata = out.ColumnMetadata
	}
	switch {
	case out.Records != nil:
		cols := typed.Columns(out.ColumnMetadata)
		var err error
		if hydrate {
			res.Records, err = typed.HydrateRecords(out.Records, cols, c.opts)
		} else {
			res.Rows, err = typed.DecodeRows(out.Records, cols, c.opts)
		}
		if err != nil {
			return nil, fmt.Errorf("cannot decode result: %s", err)
		}
	default:
		res.NumberOfRecordsUpdated = aws.Int64(out.NumberOfRecordsUpdated)
		res.InsertID = generatedID(out.GeneratedFields)
	}
	return res, nil
}

// generatedID extracts the generated key of a write, taken from the first
// generated field's long value.
func generatedID(fields []types.Field) *int64 {
	if len(fields) == 0 {
		return nil
	}
	if long, ok := fields[0].(*types.FieldMemberLongValue); ok {
		return aws.Int64(long.Value)
	}
	return nil
}

func (c *Client) database(req Request) string {
	if req.Database != "" {
		return req.Database
	}
	return c.conf.Database
}

// ExecuteStatement is a raw pass-through to the remote operation, with the
// configured ARNs and database filled in when absent.
func (c *Client) ExecuteStatement(ctx context.Context, in *rdsdata.ExecuteStatementInput) (*rdsdata.ExecuteStatementOutput, error) {
	if in == nil {
		in = &rdsdata.ExecuteStatementInput{}
	}
	c.fillARNs(&in.ResourceArn, &in.SecretArn)
	c.fillDatabase(&in.Database)
	return c.api.ExecuteStatement(ctx, in)
}

// BatchExecuteStatement is a raw pass-through to the remote operation.
func (c *Client) BatchExecuteStatement(ctx context.Context, in *rdsdata.BatchExecuteStatementInput) (*rdsdata.BatchExecuteStatementOutput, error) {
	if in == nil {
		in = &rdsdata.BatchExecuteStatementInput{}
	}
	c.fillARNs(&in.ResourceArn, &in.SecretArn)
	c.fillDatabase(&in.Database)
	return c.api.BatchExecuteStatement(ctx, in)
}

// BeginTransaction is a raw pass-through to the remote operation.
func (c *Client) BeginTransaction(ctx context.Context, in *rdsdata.BeginTransactionInput) (*rdsdata.BeginTransactionOutput, error) {
	if in == nil {
		in = &rdsdata.BeginTransactionInput{}
	}
	c.fillARNs(&in.ResourceArn, &in.SecretArn)
	c.fillDatabase(&in.Database)
	return c.api.BeginTransaction(ctx, in)
}

// CommitTransaction is a raw pass-through to the remote operation.
func (c *Client) CommitTransaction(ctx context.Context, in *rdsdata.CommitTransactionInput) (*rdsdata.CommitTransactionOutput, error) {
	if in == nil {
		in = &rdsdata.CommitTransactionInput{}
	}
	c.fillARNs(&in.ResourceArn, &in.SecretArn)
	return c.api.CommitTransaction(ctx, in)
}

// RollbackTransaction is a raw pass-through to the remote operation.
func (c *Client) RollbackTransaction(ctx context.Context, in *rdsdata.RollbackTransactionInput) (*rdsdata.RollbackTransactionOutput, error) {
	if in == nil {
		in = &rdsdata.RollbackTransactionInput{}
	}
	c.fillARNs(&in.ResourceArn, &in.SecretArn)
	return c.api.RollbackTransaction(ctx, in)
}

func (c *Client) fillARNs(resourceARN, secretARN **string) {
	if *resourceARN == nil {
		*resourceARN = aws.String(c.conf.ResourceARN)
	}
	if *secretARN == nil {
		*secretARN = aws.String(c.conf.SecretARN)
	}
}

func (c *Client) fillDatabase(database **string) {
	if *database == nil && c.conf.Database != "" {
		*database = aws.String(c.conf.Database)
	}
}
