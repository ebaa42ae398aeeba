// Package qdrant defines the small Client surface Library Core needs
// against a Qdrant collection. It holds only the interface and its types;
// it has no implementation of Client.
package qdrant

import "context"

// Point is a single vector upserted into a Qdrant collection.
type Point struct {
	ID     string
	Vector []float32
}

// ScoredPoint is a single Qdrant search hit.
type ScoredPoint struct {
	ID     string
	Score  float32
	Vector []float32
}

// Condition is a single field match clause in a Filter.
type Condition struct {
	Key   string
	Match string
	Range *RangeCondition
}

// RangeCondition bounds a numeric field in a Filter.
type RangeCondition struct {
	Gte *float64
	Lte *float64
}

// Filter restricts a Search call to points matching every Condition.
type Filter struct {
	Must []Condition
}

// Client is the subset of Qdrant's gRPC API QdrantMirrorBackend needs.
// Callers of NewQdrantMirrorBackend supply the implementation.
type Client interface {
	CollectionExists(ctx context.Context, collection string) (bool, error)
	CreateCollection(ctx context.Context, collection string, vectorSize uint64) error
	Upsert(ctx context.Context, collection string, points []*Point) error
	Search(ctx context.Context, collection string, query []float32, topK int, filter *Filter) ([]ScoredPoint, error)
	Delete(ctx context.Context, collection string, ids []string) error
}
