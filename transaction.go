// Copyright 2024 Canonical Ltd.
// Licensed under Apache 2.0, see LICENCE file for details.

package rdsair

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/rdsdata"
)

// ErrTXDone is returned when a committed transaction is used again.
var ErrTXDone = sql.ErrTxDone

// TX queues statements to run strictly sequentially inside one remote
// transaction. Queries are only issued during Commit, each threading the
// transaction identifier returned by the begin call, so unrelated queries
// can never interleave on the same transaction.
type TX struct {
	client     *Client
	database   string
	queries    []txQuery
	onRollback func(cause error, rollback *rdsdata.RollbackTransactionOutput)
	done       int32
}

type txQuery struct {
	sql    string
	params []any
	fn     func(prev *Result) (string, []any)
}

// TXOptions holds the transaction options to be used in [Client.Transaction].
type TXOptions struct {
	// Database overrides the configured default database for the whole
	// transaction.
	Database string
}

// Transaction starts building a transaction. Statements queued with
// [TX.Query] or [TX.QueryFn] run when [TX.Commit] is called.
func (c *Client) Transaction(opts *TXOptions) *TX {
	tx := &TX{client: c}
	if opts != nil {
		tx.database = opts.Database
	}
	return tx
}

// Query queues a statement on the transaction and returns the TX for
// chaining.
func (tx *TX) Query(sql string, parameters ...any) *TX {
	tx.queries = append(tx.queries, txQuery{sql: sql, params: parameters})
	return tx
}

// QueryFn queues a statement whose SQL and parameters are derived from the
// previous queued query's result. prev is nil for the first query.
func (tx *TX) QueryFn(fn func(prev *Result) (string, []any)) *TX {
	tx.queries = append(tx.queries, txQuery{fn: fn})
	return tx
}

// OnRollback registers a callback invoked if the transaction rolls back. It
// receives the error that caused the rollback and the rollback call's
// result, which is nil if the rollback call itself failed.
func (tx *TX) OnRollback(fn func(cause error, rollback *rdsdata.RollbackTransactionOutput)) *TX {
	tx.onRollback = fn
	return tx
}

func (tx *TX) setDone() error {
	if !atomic.CompareAndSwapInt32(&tx.done, 0, 1) {
		return ErrTXDone
	}
	return nil
}

// Commit begins the remote transaction, executes the queued queries one at
// a time in call order, and commits. If any query fails the remaining ones
// are not executed: the transaction is rolled back, the rollback callback
// (if registered) is invoked, and the causing error is returned. The
// returned results are in call order, one per executed query.
func (tx *TX) Commit(ctx context.Context) ([]*Result, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := tx.setDone(); err != nil {
		return nil, err
	}

	begin := &rdsdata.BeginTransactionInput{
		ResourceArn: aws.String(tx.client.conf.ResourceARN),
		SecretArn:   aws.String(tx.client.conf.SecretARN),
	}
	if database := tx.databaseName(); database != "" {
		begin.Database = aws.String(database)
	}
	beginOut, err := tx.client.api.BeginTransaction(ctx, begin)
	if err != nil {
		return nil, fmt.Errorf("cannot begin transaction: %w", err)
	}
	transactionID := aws.ToString(beginOut.TransactionId)

	results := make([]*Result, 0, len(tx.queries))
	var prev *Result
	for _, q := range tx.queries {
		sqlText, parameters := q.sql, q.params
		if q.fn != nil {
			sqlText, parameters = q.fn(prev)
		}
		res, err := tx.client.Do(ctx, Request{
			SQL:           sqlText,
			Parameters:    parameters,
			Database:      tx.database,
			TransactionID: transactionID,
		})
		if err != nil {
			return results, tx.rollback(ctx, transactionID, err)
		}
		results = append(results, res)
		prev = res
	}

	commit := &rdsdata.CommitTransactionInput{
		ResourceArn:   aws.String(tx.client.conf.ResourceARN),
		SecretArn:     aws.String(tx.client.conf.SecretARN),
		TransactionId: aws.String(transactionID),
	}
	if _, err := tx.client.api.CommitTransaction(ctx, commit); err != nil {
		return results, tx.rollback(ctx, transactionID, err)
	}
	return results, nil
}

// rollback issues the remote rollback, reports to the registered callback
// and propagates the causing error.
func (tx *TX) rollback(ctx context.Context, transactionID string, cause error) error {
	out, err := tx.client.api.RollbackTransaction(ctx, &rdsdata.RollbackTransactionInput{
		ResourceArn:   aws.String(tx.client.conf.ResourceARN),
		SecretArn:     aws.String(tx.client.conf.SecretARN),
		TransactionId: aws.String(transactionID),
	})
	if err != nil {
		out = nil
	}
	if tx.onRollback != nil {
		tx.onRollback(cause, out)
	}
	return cause
}

func (tx *TX) databaseName() string {
	if tx.database != "" {
		return tx.database
	}
	return tx.client.conf.Database
}
