// Package vectorindex implements the vector search contract (C4): querying a
// namespaced vector index for the top-K nearest neighbors to a caller-supplied
// embedding. The index never embeds text itself (spec.md §4.4).
package vectorindex

import "context"

// Match is one nearest-neighbor hit.
type Match struct {
	ID       string
	Score    float64 // cosine similarity, higher is better
	Metadata map[string]string
}

// Index is the C4 contract. Namespace logically partitions the index (e.g.
// "chunks" vs "content").
type Index interface {
	Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]string) ([]Match, error)
	Upsert(ctx context.Context, namespace, id string, embedding []float32, metadata map[string]string) error
	Delete(ctx context.Context, namespace, id string) error
}
