package graph

import (
	"context"
	"errors"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/WessleyAI/specgraph/pkg/resilience"
)

// CypherResult is the part of a Neo4j result the store reads. Next reports
// false both at the end of the stream and on failure; Err tells them apart.
type CypherResult interface {
	Next(ctx context.Context) bool
	Record() *neo4j.Record
	Err() error
}

// CypherRunner runs a single Cypher statement.
type CypherRunner interface {
	Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error)
}

// CypherSession is a short-lived Neo4j session.
type CypherSession interface {
	CypherRunner
	Close(ctx context.Context) error
	ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error)
}

// SessionOpener opens sessions. Tests substitute it to run the store
// without a server.
type SessionOpener interface {
	OpenSession(ctx context.Context) CypherSession
}

// driverOpener opens sessions on a real driver.
type driverOpener struct {
	driver   neo4j.DriverWithContext
	database string
}

func (o *driverOpener) OpenSession(ctx context.Context) CypherSession {
	return &driverSession{sess: o.driver.NewSession(ctx, neo4j.SessionConfig{DatabaseName: o.database})}
}

// driverSession adapts neo4j.SessionWithContext to CypherSession.
type driverSession struct {
	sess neo4j.SessionWithContext
}

func (s *driverSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := s.sess.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *driverSession) Close(ctx context.Context) error {
	return s.sess.Close(ctx)
}

func (s *driverSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (any, error) {
	return s.sess.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return work(&txRunner{tx: tx})
	})
}

// txRunner adapts neo4j.ManagedTransaction to CypherRunner.
type txRunner struct {
	tx neo4j.ManagedTransaction
}

func (r *txRunner) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	res, err := r.tx.Run(ctx, cypher, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// guard wraps next so every statement passes through one circuit breaker.
// Missing nodes and cancellations are answers, not outages, and never trip
// it.
func guard(next SessionOpener, opts resilience.BreakerOpts) SessionOpener {
	if opts.IsFailure == nil {
		opts.IsFailure = func(err error) bool {
			return !errors.Is(err, ErrNotFound) && !errors.Is(err, context.Canceled)
		}
	}
	return &guardedOpener{next: next, breaker: resilience.NewBreaker(opts)}
}

type guardedOpener struct {
	next    SessionOpener
	breaker *resilience.Breaker
}

func (o *guardedOpener) OpenSession(ctx context.Context) CypherSession {
	return &guardedSession{CypherSession: o.next.OpenSession(ctx), breaker: o.breaker}
}

type guardedSession struct {
	CypherSession
	breaker *resilience.Breaker
}

// Run drains the result inside the breaker so failures that surface while
// streaming records count against it.
func (s *guardedSession) Run(ctx context.Context, cypher string, params map[string]any) (CypherResult, error) {
	var buf *bufferedResult
	err := s.breaker.Call(ctx, func(ctx context.Context) error {
		res, err := s.CypherSession.Run(ctx, cypher, params)
		if err != nil {
			return err
		}
		buf = &bufferedResult{}
		for res.Next(ctx) {
			buf.records = append(buf.records, res.Record())
		}
		return res.Err()
	})
	if err != nil {
		return nil, err
	}
	return buf, nil
}

func (s *guardedSession) ExecuteWrite(ctx context.Context, work func(tx CypherRunner) (any, error)) (out any, err error) {
	err = s.breaker.Call(ctx, func(ctx context.Context) error {
		out, err = s.CypherSession.ExecuteWrite(ctx, work)
		return err
	})
	return out, err
}

// bufferedResult replays records that were read in full.
type bufferedResult struct {
	records []*neo4j.Record
	idx     int
}

func (r *bufferedResult) Next(context.Context) bool {
	if r.idx < len(r.records) {
		r.idx++
		return true
	}
	return false
}

func (r *bufferedResult) Record() *neo4j.Record { return r.records[r.idx-1] }

func (r *bufferedResult) Err() error { return nil }
