package main

import (
	"context"

	"github.com/nats-io/nats.go"

	"github.com/WessleyAI/specgraph/engine/graph"
	"github.com/WessleyAI/specgraph/engine/indexer"
	"github.com/WessleyAI/specgraph/pkg/natsutil"
)

// Query subjects served over NATS request/reply, relative to the prefix.
const (
	subjectStats        = "query.stats"
	subjectRelated      = "query.related"
	subjectDependencies = "query.dependencies"
)

// RelatedQuery asks for the schemas a schema references.
type RelatedQuery struct {
	Schema   string `json:"schema"`
	SpecFile string `json:"specFile,omitempty"`
	Depth    int    `json:"depth"`
}

// DependencyQuery asks for an endpoint's dependencies.
type DependencyQuery struct {
	Path     string `json:"path"`
	Method   string `json:"method"`
	SpecFile string `json:"specFile,omitempty"`
}

// DependencyReply wraps a possibly missing dependency record.
type DependencyReply struct {
	Found        bool                          `json:"found"`
	Dependencies *indexer.EndpointDependencies `json:"dependencies,omitempty"`
}

func registerResponders(nc *nats.Conn, prefix string, ix *indexer.Indexer) ([]*nats.Subscription, error) {
	var subs []*nats.Subscription
	add := func(sub *nats.Subscription, err error) error {
		if err != nil {
			return err
		}
		subs = append(subs, sub)
		return nil
	}

	err := add(natsutil.Respond(nc, natsutil.Subject(prefix, subjectStats),
		func(ctx context.Context, _ struct{}) (graph.Statistics, error) {
			return ix.Statistics(ctx)
		}))
	if err == nil {
		err = add(natsutil.Respond(nc, natsutil.Subject(prefix, subjectRelated),
			func(ctx context.Context, q RelatedQuery) ([]indexer.RelatedSchema, error) {
				return ix.FindRelatedSchemas(ctx, q.Schema, q.SpecFile, q.Depth)
			}))
	}
	if err == nil {
		err = add(natsutil.Respond(nc, natsutil.Subject(prefix, subjectDependencies),
			func(ctx context.Context, q DependencyQuery) (DependencyReply, error) {
				deps, err := ix.EndpointDependencies(ctx, q.Path, q.Method, q.SpecFile)
				if err != nil {
					return DependencyReply{}, err
				}
				return DependencyReply{Found: deps != nil, Dependencies: deps}, nil
			}))
	}
	if err != nil {
		for _, s := range subs {
			_ = s.Unsubscribe()
		}
		return nil, err
	}
	return subs, nil
}
