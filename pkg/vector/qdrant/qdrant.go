// Package qdrant provides a Qdrant-backed vector driver. All memories live
// in one collection; the scope hash is a payload field and every operation
// filters on it, so scopes never leak into each other's results.
package qdrant

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/qdrant/go-client/qdrant"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/record"
	"github.com/papercomputeco/engram/pkg/vector"
)

const (
	// DefaultCollection is the collection holding all memory points.
	DefaultCollection = "engram_memories"

	payloadRecord     = "record"
	payloadScope      = "scope"
	payloadStatus     = "status"
	payloadCategory   = "category"
	payloadConfidence = "confidence"
	payloadTags       = "tags"
	payloadCreatedAt  = "created_at"
)

// Driver implements vector.Driver using Qdrant.
type Driver struct {
	client     *qdrant.Client
	collection string
	logger     *zap.Logger
}

// Config holds configuration for the Qdrant driver.
type Config struct {
	// Host is the Qdrant gRPC host. Defaults to "localhost".
	Host string

	// Port is the Qdrant gRPC port. Defaults to 6334.
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS on the gRPC channel.
	UseTLS bool

	// Collection overrides the collection name.
	Collection string

	// Dimensions is the embedding dimensionality, required to create the
	// collection on first use.
	Dimensions uint
}

// NewDriver connects to Qdrant and ensures the memory collection exists.
func NewDriver(ctx context.Context, c Config, logger *zap.Logger) (*Driver, error) {
	if c.Dimensions == 0 {
		return nil, fmt.Errorf("qdrant embedding dimensions cannot be 0, must be configured")
	}

	host := c.Host
	if host == "" {
		host = "localhost"
	}
	port := c.Port
	if port == 0 {
		port = 6334
	}
	collection := c.Collection
	if collection == "" {
		collection = DefaultCollection
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: c.APIKey,
		UseTLS: c.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", vector.ErrConnection, err)
	}

	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("%w: checking collection: %v", vector.ErrConnection, err)
	}

	if !exists {
		err = client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(c.Dimensions),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		if err != nil {
			return nil, fmt.Errorf("%w: creating collection: %v", vector.ErrConnection, err)
		}
	}

	logger.Info("qdrant vector driver initialized",
		zap.String("host", host),
		zap.Int("port", port),
		zap.String("collection", collection),
		zap.Uint("dimensions", c.Dimensions),
	)

	return &Driver{
		client:     client,
		collection: collection,
		logger:     logger,
	}, nil
}

// Upsert stores documents with their embeddings and payloads.
func (d *Driver) Upsert(ctx context.Context, docs []vector.Document) error {
	if len(docs) == 0 {
		return nil
	}

	points := make([]*qdrant.PointStruct, 0, len(docs))
	for _, doc := range docs {
		payload, err := recordPayload(doc.ScopeHash, doc.Record)
		if err != nil {
			return err
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(doc.ID),
			Vectors: qdrant.NewVectors(doc.Embedding...),
			Payload: payload,
		})
	}

	_, err := d.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: d.collection,
		Points:         points,
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: upserting points: %v", vector.ErrConnection, err)
	}

	d.logger.Debug("upserted points to qdrant", zap.Int("count", len(docs)))

	return nil
}

// UpdatePayload replaces the stored record payload, leaving the vector as is.
func (d *Driver) UpdatePayload(ctx context.Context, scopeHash, id string, rec *record.MemoryRecord) error {
	payload, err := recordPayload(scopeHash, rec)
	if err != nil {
		return err
	}

	_, err = d.client.SetPayload(ctx, &qdrant.SetPayloadPoints{
		CollectionName: d.collection,
		Payload:        payload,
		PointsSelector: qdrant.NewPointsSelector(qdrant.NewID(id)),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: setting payload for %s: %v", vector.ErrConnection, id, err)
	}

	return nil
}

// Query finds the topK most similar documents within a scope.
func (d *Driver) Query(ctx context.Context, scopeHash string, embedding []float32, topK int, f vector.Filter) ([]vector.QueryResult, error) {
	if topK <= 0 {
		topK = 10
	}

	points, err := d.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: d.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          qdrant.PtrOf(uint64(topK)),
		Filter:         buildFilter(scopeHash, f),
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: querying: %v", vector.ErrConnection, err)
	}

	results := make([]vector.QueryResult, 0, len(points))
	for _, p := range points {
		rec, err := payloadRecordOf(p.Payload)
		if err != nil {
			d.logger.Warn("skipping point with bad payload", zap.Error(err))
			continue
		}
		results = append(results, vector.QueryResult{
			Document: vector.Document{
				ID:        rec.ID,
				ScopeHash: scopeHash,
				Record:    rec,
			},
			Score: p.Score,
		})
	}

	return results, nil
}

// Get retrieves documents by their IDs within a scope.
func (d *Driver) Get(ctx context.Context, scopeHash string, ids []string) ([]vector.Document, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	points, err := d.client.Get(ctx, &qdrant.GetPoints{
		CollectionName: d.collection,
		Ids:            pointIDs,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: getting points: %v", vector.ErrConnection, err)
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		rec, err := payloadRecordOf(p.Payload)
		if err != nil {
			d.logger.Warn("skipping point with bad payload", zap.Error(err))
			continue
		}
		// Points from other scopes are never requested, but a colliding ID
		// across scopes must not leak.
		if rec.Scope.Hash() != scopeHash {
			continue
		}
		docs = append(docs, vector.Document{
			ID:        rec.ID,
			ScopeHash: scopeHash,
			Record:    rec,
		})
	}

	return docs, nil
}

// List pages through a scope using qdrant's scroll API. The cursor is the
// next point ID to start from. Points come back in point-ID order, not
// newest first.
func (d *Driver) List(ctx context.Context, scopeHash string, cursor string, limit int, f vector.Filter) ([]vector.Document, string, error) {
	if limit <= 0 {
		limit = 100
	}

	req := &qdrant.ScrollPoints{
		CollectionName: d.collection,
		Filter:         buildFilter(scopeHash, f),
		Limit:          qdrant.PtrOf(uint32(limit + 1)),
		WithPayload:    qdrant.NewWithPayload(true),
	}
	if cursor != "" {
		req.Offset = qdrant.NewID(cursor)
	}

	points, err := d.client.Scroll(ctx, req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: scrolling: %v", vector.ErrConnection, err)
	}

	var next string
	if len(points) > limit {
		rec, err := payloadRecordOf(points[limit].Payload)
		if err == nil {
			next = rec.ID
		}
		points = points[:limit]
	}

	docs := make([]vector.Document, 0, len(points))
	for _, p := range points {
		rec, err := payloadRecordOf(p.Payload)
		if err != nil {
			d.logger.Warn("skipping point with bad payload", zap.Error(err))
			continue
		}
		docs = append(docs, vector.Document{
			ID:        rec.ID,
			ScopeHash: scopeHash,
			Record:    rec,
		})
	}

	return docs, next, nil
}

// Delete removes documents by their IDs.
func (d *Driver) Delete(ctx context.Context, _ string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	pointIDs := make([]*qdrant.PointId, 0, len(ids))
	for _, id := range ids {
		pointIDs = append(pointIDs, qdrant.NewID(id))
	}

	_, err := d.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: d.collection,
		Points:         qdrant.NewPointsSelector(pointIDs...),
		Wait:           qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting points: %v", vector.ErrConnection, err)
	}

	return nil
}

// Close closes the underlying gRPC connection.
func (d *Driver) Close() error {
	return d.client.Close()
}

// buildFilter translates the scope and port filter into a qdrant filter.
func buildFilter(scopeHash string, f vector.Filter) *qdrant.Filter {
	must := []*qdrant.Condition{
		qdrant.NewMatch(payloadScope, scopeHash),
	}

	if len(f.Statuses) > 0 {
		statuses := make([]string, 0, len(f.Statuses))
		for _, s := range f.Statuses {
			statuses = append(statuses, string(s))
		}
		must = append(must, qdrant.NewMatchKeywords(payloadStatus, statuses...))
	}
	if f.Category != "" {
		must = append(must, qdrant.NewMatch(payloadCategory, string(f.Category)))
	}
	if f.Tag != "" {
		must = append(must, qdrant.NewMatch(payloadTags, f.Tag))
	}
	if f.MinConfidence > 0 {
		must = append(must, qdrant.NewRange(payloadConfidence, &qdrant.Range{
			Gte: qdrant.PtrOf(float64(f.MinConfidence)),
		}))
	}

	return &qdrant.Filter{Must: must}
}

// recordPayload serializes a record into the point payload: the full record
// as JSON plus the scalar fields qdrant filters on.
func recordPayload(scopeHash string, rec *record.MemoryRecord) (map[string]*qdrant.Value, error) {
	raw, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshaling record %s: %w", rec.ID, err)
	}

	tags := make([]any, 0, len(rec.Tags))
	for _, t := range rec.Tags {
		tags = append(tags, t)
	}

	return qdrant.NewValueMap(map[string]any{
		payloadRecord:     string(raw),
		payloadScope:      scopeHash,
		payloadStatus:     string(rec.Status),
		payloadCategory:   string(rec.Category),
		payloadConfidence: int64(rec.Confidence),
		payloadTags:       tags,
		payloadCreatedAt:  rec.CreatedAt.Unix(),
	}), nil
}

// payloadRecordOf deserializes the record JSON out of a point payload.
func payloadRecordOf(payload map[string]*qdrant.Value) (*record.MemoryRecord, error) {
	raw := payload[payloadRecord].GetStringValue()
	if raw == "" {
		return nil, fmt.Errorf("point payload missing record field")
	}

	var rec record.MemoryRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling record payload: %w", err)
	}

	return &rec, nil
}
