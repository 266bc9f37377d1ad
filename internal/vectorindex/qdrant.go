package vectorindex

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// payloadIDField holds the caller-supplied id when it isn't itself a UUID,
// since Qdrant only accepts UUID or unsigned-integer point ids.
const payloadIDField = "_original_id"

// Qdrant is a namespace-per-collection Index backed by the Qdrant gRPC API,
// adapted from the single-collection vector store in the retrieval pack to
// the multiple-namespace ("chunks", "content") contract C4 requires.
type Qdrant struct {
	client *qdrant.Client
	dim    int
	metric string

	mu       sync.Mutex
	ensured  map[string]bool
}

// NewQdrant parses dsn as "scheme://host:port?api_key=..." and returns a
// Qdrant-backed Index. Collections are created lazily, per namespace, on
// first use.
func NewQdrant(dsn string, dim int, metric string) (*Qdrant, error) {
	parsed, err := url.Parse(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse qdrant dsn: %w", err)
	}
	host := parsed.Hostname()
	if host == "" {
		host = "localhost"
	}
	portStr := parsed.Port()
	if portStr == "" {
		portStr = "6334"
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid port in qdrant dsn: %w", err)
	}
	cfg := &qdrant.Config{Host: host, Port: port}
	if parsed.Scheme == "https" {
		cfg.UseTLS = true
	}
	if apiKey := parsed.Query().Get("api_key"); apiKey != "" {
		cfg.APIKey = apiKey
	}
	client, err := qdrant.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("create qdrant client: %w", err)
	}
	return &Qdrant{client: client, dim: dim, metric: strings.ToLower(strings.TrimSpace(metric)), ensured: map[string]bool{}}, nil
}

func (q *Qdrant) Close() error { return q.client.Close() }

func (q *Qdrant) ensureCollection(ctx context.Context, namespace string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.ensured[namespace] {
		return nil
	}
	exists, err := q.client.CollectionExists(ctx, namespace)
	if err != nil {
		return fmt.Errorf("check collection exists: %w", err)
	}
	if !exists {
		var distance qdrant.Distance
		switch q.metric {
		case "l2", "euclidean":
			distance = qdrant.Distance_Euclid
		case "ip", "dot":
			distance = qdrant.Distance_Dot
		default:
			distance = qdrant.Distance_Cosine
		}
		if q.dim <= 0 {
			return fmt.Errorf("qdrant requires a positive vector dimension")
		}
		if err := q.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: namespace,
			VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(q.dim), Distance: distance}),
		}); err != nil {
			return fmt.Errorf("create collection %s: %w", namespace, err)
		}
	}
	q.ensured[namespace] = true
	return nil
}

func pointIDFor(id string) (string, bool) {
	if _, err := uuid.Parse(id); err == nil {
		return id, false
	}
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(id)).String(), true
}

func (q *Qdrant) Upsert(ctx context.Context, namespace, id string, embedding []float32, metadata map[string]string) error {
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return err
	}
	pointUUID, synthesized := pointIDFor(id)
	payload := make(map[string]any, len(metadata)+1)
	for k, v := range metadata {
		payload[k] = v
	}
	if synthesized {
		payload[payloadIDField] = id
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: namespace,
		Points: []*qdrant.PointStruct{{
			Id:      qdrant.NewIDUUID(pointUUID),
			Vectors: qdrant.NewVectorsDense(vec),
			Payload: qdrant.NewValueMap(payload),
		}},
	})
	return err
}

func (q *Qdrant) Delete(ctx context.Context, namespace, id string) error {
	pointUUID, _ := pointIDFor(id)
	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: namespace,
		Points:         qdrant.NewPointsSelector(qdrant.NewIDUUID(pointUUID)),
	})
	return err
}

func (q *Qdrant) Query(ctx context.Context, namespace string, embedding []float32, topK int, filter map[string]string) ([]Match, error) {
	if err := q.ensureCollection(ctx, namespace); err != nil {
		return nil, err
	}
	if topK <= 0 {
		topK = 10
	}
	vec := make([]float32, len(embedding))
	copy(vec, embedding)
	var qf *qdrant.Filter
	if len(filter) > 0 {
		must := make([]*qdrant.Condition, 0, len(filter))
		for k, v := range filter {
			must = append(must, qdrant.NewMatch(k, v))
		}
		qf = &qdrant.Filter{Must: must}
	}
	limit := uint64(topK)
	hits, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: namespace,
		Query:          qdrant.NewQueryDense(vec),
		Limit:          &limit,
		Filter:         qf,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, err
	}
	out := make([]Match, 0, len(hits))
	for _, hit := range hits {
		id := hit.Id.GetUuid()
		md := make(map[string]string)
		var original string
		if hit.Payload != nil {
			for k, v := range hit.Payload {
				if k == payloadIDField {
					original = v.GetStringValue()
					continue
				}
				md[k] = v.GetStringValue()
			}
		}
		if original != "" {
			id = original
		}
		out = append(out, Match{ID: id, Score: float64(hit.Score), Metadata: md})
	}
	return out, nil
}
