// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package rdsair_test

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata/types"
	smithy "github.com/aws/smithy-go"
	. "gopkg.in/check.v1"

	"github.com/canonical/rdsair"
)

type clientSuite struct {
	api    *fakeDataAPI
	client *rdsair.Client
}

var _ = Suite(&clientSuite{})

const (
	testResourceARN = "arn:aws:rds:eu-west-1:0:cluster:test"
	testSecretARN   = "arn:aws:secretsmanager:eu-west-1:0:secret:test"
)

func (s *clientSuite) SetUpTest(c *C) {
	s.api = &fakeDataAPI{}
	client, err := rdsair.New(s.api, rdsair.Config{
		ResourceARN: testResourceARN,
		SecretARN:   testSecretARN,
		Database:    "mydb",
	})
	c.Assert(err, IsNil)
	s.client = client
}

func (s *clientSuite) newClient(c *C, conf rdsair.Config) *rdsair.Client {
	if conf.ResourceARN == "" {
		conf.ResourceARN = testResourceARN
	}
	if conf.SecretARN == "" {
		conf.SecretARN = testSecretARN
	}
	client, err := rdsair.New(s.api, conf)
	c.Assert(err, IsNil)
	return client
}

func (s *clientSuite) TestNewValidation(c *C) {
	_, err := rdsair.New(nil, rdsair.Config{ResourceARN: "r", SecretARN: "s"})
	c.Assert(err, ErrorMatches, "cannot create client: nil Data API")
	_, err = rdsair.New(s.api, rdsair.Config{SecretARN: "s"})
	c.Assert(err, ErrorMatches, "cannot create client: resource ARN required")
	_, err = rdsair.New(s.api, rdsair.Config{ResourceARN: "r"})
	c.Assert(err, ErrorMatches, "cannot create client: secret ARN required")
	_, err = rdsair.New(s.api, rdsair.Config{ResourceARN: "r", SecretARN: "s", Engine: "oracle"})
	c.Assert(err, ErrorMatches, `cannot create client: unsupported database engine "oracle"`)
}

func (s *clientSuite) TestQueryNoSQL(c *C) {
	_, err := s.client.Query(context.Background(), "")
	c.Assert(err, ErrorMatches, "cannot run query: no SQL statement provided")
	c.Assert(s.api.execInputs, HasLen, 0)
}

func (s *clientSuite) TestQueryBadParameters(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT 1", 42)
	c.Assert(err, ErrorMatches, "cannot run query: invalid parameter: .*")
	c.Assert(s.api.execInputs, HasLen, 0)
}

func (s *clientSuite) TestQueryEncodesLongParameter(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT * FROM t WHERE id = :id",
		map[string]any{"id": 3})
	c.Assert(err, IsNil)
	c.Assert(s.api.execInputs, HasLen, 1)
	in := s.api.execInputs[0]
	c.Assert(aws.ToString(in.Sql), Equals, "SELECT * FROM t WHERE id = :id")
	c.Assert(aws.ToString(in.ResourceArn), Equals, testResourceARN)
	c.Assert(aws.ToString(in.SecretArn), Equals, testSecretARN)
	c.Assert(aws.ToString(in.Database), Equals, "mydb")
	c.Assert(in.Parameters, DeepEquals, []types.SqlParameter{{
		Name:  aws.String("id"),
		Value: &types.FieldMemberLongValue{Value: 3},
	}})
}

func (s *clientSuite) TestQueryEscapesIdentifierMySQL(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT ::col FROM t",
		map[string]any{"col": "name"})
	c.Assert(err, IsNil)
	in := s.api.execInputs[0]
	c.Assert(aws.ToString(in.Sql), Equals, "SELECT `name` FROM t")
	// Identifiers produce no placeholder parameters.
	c.Assert(in.Parameters, HasLen, 0)
}

func (s *clientSuite) TestQueryEscapesIdentifierPostgres(c *C) {
	client := s.newClient(c, rdsair.Config{Engine: rdsair.EnginePostgres})
	_, err := client.Query(context.Background(), "SELECT ::col FROM t",
		map[string]any{"col": "name"})
	c.Assert(err, IsNil)
	c.Assert(aws.ToString(s.api.execInputs[0].Sql), Equals, `SELECT "name" FROM t`)
}

func (s *clientSuite) TestQueryNonStringIdentifier(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT ::col FROM t",
		map[string]any{"col": 5})
	c.Assert(err, ErrorMatches, `cannot run query: identifier "col" must be a string, got int`)
	c.Assert(s.api.execInputs, HasLen, 0)
}

func (s *clientSuite) TestQueryInjectsCast(c *C) {
	client := s.newClient(c, rdsair.Config{Engine: rdsair.EnginePostgres})
	_, err := client.Query(context.Background(), "UPDATE t SET v = :v",
		rdsair.Param{Name: "v", Value: "[1]", Cast: "jsonb"})
	c.Assert(err, IsNil)
	in := s.api.execInputs[0]
	c.Assert(aws.ToString(in.Sql), Equals, "UPDATE t SET v = :v::jsonb")
	c.Assert(in.Parameters, HasLen, 1)
}

func (s *clientSuite) TestQueryDropsUnreferencedParameters(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT * FROM t WHERE id = :id",
		map[string]any{"id": 1, "unused": "x"})
	c.Assert(err, IsNil)
	c.Assert(s.api.execInputs[0].Parameters, HasLen, 1)
}

func (s *clientSuite) TestQueryHydrationRequestsMetadata(c *C) {
	_, err := s.client.Query(context.Background(), "SELECT * FROM t")
	c.Assert(err, IsNil)
	c.Assert(s.api.execInputs[0].IncludeResultMetadata, Equals, true)
}

func (s *clientSuite) TestQueryWithoutHydration(c *C) {
	hydrate := false
	client := s.newClient(c, rdsair.Config{Hydrate: &hydrate})
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{{
		Records: [][]types.Field{{
			&types.FieldMemberLongValue{Value: 1},
			&types.FieldMemberStringValue{Value: "Fred"},
		}},
	}}
	res, err := client.Query(context.Background(), "SELECT id, name FROM t")
	c.Assert(err, IsNil)
	c.Assert(s.api.execInputs[0].IncludeResultMetadata, Equals, false)
	c.Assert(res.Records, IsNil)
	c.Assert(res.Rows, DeepEquals, [][]any{{int64(1), "Fred"}})
}

func (s *clientSuite) TestQueryHydratesRecords(c *C) {
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{{
		ColumnMetadata: []types.ColumnMetadata{
			{Label: aws.String("id"), TypeName: aws.String("INT")},
			{Label: aws.String("name"), TypeName: aws.String("VARCHAR")},
		},
		Records: [][]types.Field{
			{&types.FieldMemberLongValue{Value: 1}, &types.FieldMemberStringValue{Value: "Fred"}},
			{&types.FieldMemberLongValue{Value: 2}, &types.FieldMemberIsNull{Value: true}},
		},
	}}
	res, err := s.client.Query(context.Background(), "SELECT id, name FROM t")
	c.Assert(err, IsNil)
	c.Assert(res.Records, DeepEquals, []map[string]any{
		{"id": int64(1), "name": "Fred"},
		{"id": int64(2), "name": nil},
	})
	// Metadata was needed for hydration but was not asked for by the
	// caller, so it is not surfaced.
	c.Assert(res.ColumnMetadata, IsNil)
}

func (s *clientSuite) TestQuerySurfacesMetadataWhenRequested(c *C) {
	metadata := []types.ColumnMetadata{{Label: aws.String("id"), TypeName: aws.String("INT")}}
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{{
		ColumnMetadata: metadata,
		Records:        [][]types.Field{},
	}}
	res, err := s.client.Do(context.Background(), rdsair.Request{
		SQL:                   "SELECT id FROM t",
		IncludeResultMetadata: true,
	})
	c.Assert(err, IsNil)
	c.Assert(res.ColumnMetadata, DeepEquals, metadata)
}

func (s *clientSuite) TestQueryDateRoundTrip(c *C) {
	when := time.Date(2023, 5, 1, 12, 30, 45, 123*int(time.Millisecond), time.UTC)
	_, err := s.client.Query(context.Background(), "INSERT INTO t (at) VALUES (:at)",
		map[string]any{"at": when})
	c.Assert(err, IsNil)
	in := s.api.execInputs[0]
	c.Assert(in.Parameters[0].Value, DeepEquals, types.Field(
		&types.FieldMemberStringValue{Value: "2023-05-01 12:30:45.123"}))
	c.Assert(in.Parameters[0].TypeHint, Equals, types.TypeHintTimestamp)

	// Decoding a timestamp column with the same convention reproduces the
	// original to millisecond precision.
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{nil, {
		ColumnMetadata: []types.ColumnMetadata{{Label: aws.String("at"), TypeName: aws.String("TIMESTAMP")}},
		Records:        [][]types.Field{{&types.FieldMemberStringValue{Value: "2023-05-01 12:30:45.123"}}},
	}}
	res, err := s.client.Query(context.Background(), "SELECT at FROM t")
	c.Assert(err, IsNil)
	got, ok := res.Records[0]["at"].(time.Time)
	c.Assert(ok, Equals, true)
	c.Assert(got.Equal(when), Equals, true)
}

func (s *clientSuite) TestQueryJSONColumn(c *C) {
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{{
		ColumnMetadata: []types.ColumnMetadata{{Label: aws.String("doc"), TypeName: aws.String("JSON")}},
		Records:        [][]types.Field{{&types.FieldMemberStringValue{Value: `{"a": 1}`}}},
	}}
	res, err := s.client.Query(context.Background(), "SELECT doc FROM t")
	c.Assert(err, IsNil)
	c.Assert(res.Records[0]["doc"], DeepEquals, map[string]any{"a": float64(1)})
}

func (s *clientSuite) TestWriteDecodesUpdateCountAndInsertID(c *C) {
	s.api.execOutputs = []*rdsdata.ExecuteStatementOutput{{
		NumberOfRecordsUpdated: 1,
		GeneratedFields:        []types.Field{&types.FieldMemberLongValue{Value: 99}},
	}}
	res, err := s.client.Query(context.Background(), "INSERT INTO t (a) VALUES (:a)",
		map[string]any{"a": 1})
	c.Assert(err, IsNil)
	c.Assert(res.NumberOfRecordsUpdated, NotNil)
	c.Assert(*res.NumberOfRecordsUpdated, Equals, int64(1))
	c.Assert(res.InsertID, NotNil)
	c.Assert(*res.InsertID, Equals, int64(99))
}

func (s *clientSuite) TestBatchShapesParameterSets(c *C) {
	_, err := s.client.Query(context.Background(), "INSERT INTO t (a) VALUES (:a)",
		[]any{map[string]any{"a": 1}},
		[]any{map[string]any{"a": 2}},
		[]any{map[string]any{"a": 3}},
	)
	c.Assert(err, IsNil)
	c.Assert(s.api.execInputs, HasLen, 0)
	c.Assert(s.api.batchInputs, HasLen, 1)
	in := s.api.batchInputs[0]
	c.Assert(aws.ToString(in.Sql), Equals, "INSERT INTO t (a) VALUES (:a)")
	c.Assert(in.ParameterSets, HasLen, 3)
	c.Assert(in.ParameterSets[1], DeepEquals, []types.SqlParameter{{
		Name:  aws.String("a"),
		Value: &types.FieldMemberLongValue{Value: 2},
	}})
}

func (s *clientSuite) TestBatchEscapesIdentifierOnce(c *C) {
	_, err := s.client.Query(context.Background(), "INSERT INTO ::tbl (a) VALUES (:a)",
		[]any{map[string]any{"tbl": "people", "a": 1}},
		[]any{map[string]any{"tbl": "people", "a": 2}},
	)
	c.Assert(err, IsNil)
	in := s.api.batchInputs[0]
	c.Assert(aws.ToString(in.Sql), Equals, "INSERT INTO `people` (a) VALUES (:a)")
	// The identifier is structural: each row still only carries the
	// placeholder parameter.
	c.Assert(in.ParameterSets[0], HasLen, 1)
	c.Assert(in.ParameterSets[1], HasLen, 1)
}

func (s *clientSuite) TestBatchDecodesUpdateResults(c *C) {
	s.api.batchOutputs = []*rdsdata.BatchExecuteStatementOutput{{
		UpdateResults: []types.UpdateResult{
			{GeneratedFields: []types.Field{&types.FieldMemberLongValue{Value: 10}}},
			{},
			{GeneratedFields: []types.Field{&types.FieldMemberLongValue{Value: 12}}},
		},
	}}
	res, err := s.client.Query(context.Background(), "INSERT INTO t (a) VALUES (:a)",
		[]any{map[string]any{"a": 1}},
		[]any{map[string]any{"a": 2}},
		[]any{map[string]any{"a": 3}},
	)
	c.Assert(err, IsNil)
	c.Assert(res.UpdateResults, HasLen, 3)
	c.Assert(*res.UpdateResults[0].InsertID, Equals, int64(10))
	c.Assert(res.UpdateResults[1].InsertID, IsNil)
	c.Assert(*res.UpdateResults[2].InsertID, Equals, int64(12))
}

func (s *clientSuite) TestRetriesDisabledByDefault(c *C) {
	remoteErr := &types.BadRequestException{Message: aws.String("Communications link failure")}
	s.api.execErrs = []error{remoteErr}
	_, err := s.client.Query(context.Background(), "SELECT 1")
	c.Assert(errors.Is(err, remoteErr), Equals, true)
	c.Assert(s.api.execInputs, HasLen, 1)
}

func (s *clientSuite) TestRequestOverrides(c *C) {
	_, err := s.client.Do(context.Background(), rdsair.Request{
		SQL:                  "SELECT 1",
		Database:             "otherdb",
		TransactionID:        "txn-1",
		ContinueAfterTimeout: true,
	})
	c.Assert(err, IsNil)
	in := s.api.execInputs[0]
	c.Assert(aws.ToString(in.Database), Equals, "otherdb")
	c.Assert(aws.ToString(in.TransactionId), Equals, "txn-1")
	c.Assert(in.ContinueAfterTimeout, Equals, true)
}

func (s *clientSuite) TestPassThroughsFillDefaults(c *C) {
	_, err := s.client.ExecuteStatement(context.Background(), &rdsdata.ExecuteStatementInput{
		Sql: aws.String("SELECT 1"),
	})
	c.Assert(err, IsNil)
	in := s.api.execInputs[0]
	c.Assert(aws.ToString(in.ResourceArn), Equals, testResourceARN)
	c.Assert(aws.ToString(in.SecretArn), Equals, testSecretARN)
	c.Assert(aws.ToString(in.Database), Equals, "mydb")

	_, err = s.client.BeginTransaction(context.Background(), nil)
	c.Assert(err, IsNil)
	c.Assert(aws.ToString(s.api.beginInputs[0].ResourceArn), Equals, testResourceARN)

	_, err = s.client.CommitTransaction(context.Background(), &rdsdata.CommitTransactionInput{
		TransactionId: aws.String("txn-1"),
	})
	c.Assert(err, IsNil)
	c.Assert(aws.ToString(s.api.commitInputs[0].SecretArn), Equals, testSecretARN)

	_, err = s.client.RollbackTransaction(context.Background(), &rdsdata.RollbackTransactionInput{
		TransactionId: aws.String("txn-1"),
	})
	c.Assert(err, IsNil)
	c.Assert(aws.ToString(s.api.rollbackInputs[0].ResourceArn), Equals, testResourceARN)
}

func (s *clientSuite) TestClassify(c *C) {
	resuming := &types.BadRequestException{Message: aws.String("Communications link failure: the database is resuming")}
	c.Assert(s.client.Classify(resuming), Equals, rdsair.ClassColdStart)

	plainBad := &types.BadRequestException{Message: aws.String("syntax error at or near FROM")}
	c.Assert(s.client.Classify(plainBad), Equals, rdsair.ClassNone)

	unavailable := &smithy.GenericAPIError{Code: "ServiceUnavailableError"}
	c.Assert(s.client.Classify(unavailable), Equals, rdsair.ClassTransient)

	timeout := &types.StatementTimeoutException{}
	c.Assert(s.client.Classify(timeout), Equals, rdsair.ClassTransient)

	netErr := &net.DNSError{Err: "lookup timed out", IsTimeout: true}
	c.Assert(s.client.Classify(netErr), Equals, rdsair.ClassTransient)

	c.Assert(s.client.Classify(errors.New("boom")), Equals, rdsair.ClassNone)
}

func (s *clientSuite) TestClassifyCustomCodes(c *C) {
	client := s.newClient(c, rdsair.Config{RetryableErrors: []string{"ForbiddenException"}})
	custom := &smithy.GenericAPIError{Code: "ForbiddenException"}
	c.Assert(client.Classify(custom), Equals, rdsair.ClassCustom)
	c.Assert(s.client.Classify(custom), Equals, rdsair.ClassNone)
}
