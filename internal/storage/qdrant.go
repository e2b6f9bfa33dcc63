package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/qdrant/go-client/qdrant"
)

// Index wraps the Qdrant client with connection management, schema
// enforcement, and retry on transient failures.
//
// The index exclusively owns point identity and vector storage; upsert is
// keyed by deterministic point identifier and replaces payload and vectors
// in place, which is what makes replay-safe sync possible.
type Index struct {
	client *qdrant.Client
	host   string
	port   int
	spaces []VectorSpace
}

// NewIndex creates a Qdrant-backed index with health validation. It fails
// fast if Qdrant is unreachable after the startup retry window. The spaces
// declare every named vector space and its dimension; vectors are validated
// against them on every upsert and query.
func NewIndex(host string, port int, spaces []VectorSpace) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host: host,
		Port: port,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create qdrant client: %w", err)
	}

	idx := &Index{
		client: client,
		host:   host,
		port:   port,
		spaces: spaces,
	}

	if err := idx.healthCheckWithRetry(context.Background()); err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: %v", ErrIndexUnreachable, err)
	}

	return idx, nil
}

// healthCheckWithRetry performs health check with exponential backoff.
// Initial interval 500ms, max interval 10s, max elapsed 30s.
func (i *Index) healthCheckWithRetry(ctx context.Context) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	return backoff.Retry(func() error {
		return i.Health(ctx)
	}, backoff.WithContext(exponentialBackoff, ctx))
}

// Health performs a single health check against Qdrant.
func (i *Index) Health(ctx context.Context) error {
	result, err := i.client.HealthCheck(ctx)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result == nil || result.Title == "" {
		return fmt.Errorf("health check returned invalid response")
	}
	return nil
}

// Close closes the Qdrant client connection.
func (i *Index) Close() error {
	if i.client != nil {
		return i.client.Close()
	}
	return nil
}

// spaceDimension returns the declared dimension for a named space.
func (i *Index) spaceDimension(name string) (uint64, bool) {
	for _, space := range i.spaces {
		if space.Name == name {
			return space.Dimension, true
		}
	}
	return 0, false
}

// EnsureCollection creates the collection with its named vector spaces and
// payload indexes if it does not exist. With recreate, an existing
// collection and all its points are destroyed first; the boundary layer is
// responsible for demanding explicit confirmation before passing that.
func (i *Index) EnsureCollection(ctx context.Context, name string, recreate bool) error {
	collections, err := i.client.ListCollections(ctx)
	if err != nil {
		return fmt.Errorf("%w: listing collections: %v", ErrIndexUnreachable, err)
	}

	exists := false
	for _, existing := range collections {
		if existing == name {
			exists = true
			break
		}
	}

	if exists && recreate {
		if err := i.client.DeleteCollection(ctx, name); err != nil {
			return fmt.Errorf("%w: deleting collection %s: %v", ErrIndexUnreachable, name, err)
		}
		exists = false
	}

	if exists {
		return nil
	}

	vectorParams := make(map[string]*qdrant.VectorParams, len(i.spaces))
	for _, space := range i.spaces {
		vectorParams[space.Name] = &qdrant.VectorParams{
			Size:     space.Dimension,
			Distance: qdrant.Distance_Cosine,
		}
	}

	err = i.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: name,
		VectorsConfig:  qdrant.NewVectorsConfigMap(vectorParams),
	})
	if err != nil {
		return fmt.Errorf("%w: creating collection %s: %v", ErrIndexUnreachable, name, err)
	}

	return i.createPayloadIndexes(ctx, name)
}

// createPayloadIndexes creates indexes for every filterable payload field.
// Without these, filtered queries degrade badly at scale.
func (i *Index) createPayloadIndexes(ctx context.Context, collection string) error {
	fields := []struct {
		name      string
		fieldType qdrant.FieldType
	}{
		{"platform", qdrant.FieldType_FieldTypeKeyword},
		{"category", qdrant.FieldType_FieldTypeKeyword},
		{"external_id", qdrant.FieldType_FieldTypeKeyword},
		{"price", qdrant.FieldType_FieldTypeFloat},
		{"in_stock", qdrant.FieldType_FieldTypeBool},
	}

	for _, field := range fields {
		_, err := i.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: collection,
			FieldName:      field.name,
			FieldType:      field.fieldType.Enum(),
		})
		if err != nil {
			return fmt.Errorf("%w: creating index for field %s: %v", ErrIndexUnreachable, field.name, err)
		}
	}
	return nil
}

// Upsert writes a batch of points. The call is all-or-nothing from the
// index's point of view: Qdrant applies one upsert request atomically, and
// Wait ensures the write is durable before the caller advances its
// checkpoint. Dimension mismatches fail before anything is sent.
func (i *Index) Upsert(ctx context.Context, collection string, points []IndexedPoint) error {
	if len(points) == 0 {
		return nil
	}

	qdrantPoints := make([]*qdrant.PointStruct, len(points))
	for n, point := range points {
		vectors := make(map[string]*qdrant.Vector, len(point.Vectors))
		for space, vec := range point.Vectors {
			want, known := i.spaceDimension(space)
			if !known {
				return fmt.Errorf("%w: point %s uses undeclared space %q", ErrDimensionMismatch, point.ID, space)
			}
			if uint64(len(vec)) != want {
				return fmt.Errorf("%w: point %s space %s has %d dimensions, expected %d",
					ErrDimensionMismatch, point.ID, space, len(vec), want)
			}
			vectors[space] = qdrant.NewVector(vec...)
		}

		qdrantPoints[n] = &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(point.ID),
			Vectors: qdrant.NewVectorsMap(vectors),
			Payload: qdrant.NewValueMap(recordPayload(point.Record)),
		}
	}

	return i.upsertWithRetry(ctx, collection, qdrantPoints)
}

// upsertWithRetry performs the upsert with exponential backoff on
// transient failures.
func (i *Index) upsertWithRetry(ctx context.Context, collection string, points []*qdrant.PointStruct) error {
	exponentialBackoff := backoff.NewExponentialBackOff()
	exponentialBackoff.InitialInterval = 500 * time.Millisecond
	exponentialBackoff.MaxInterval = 10 * time.Second
	exponentialBackoff.MaxElapsedTime = 30 * time.Second

	operation := func() error {
		_, err := i.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: collection,
			Points:         points,
			Wait:           qdrant.PtrOf(true),
		})
		return err
	}

	if err := backoff.Retry(operation, backoff.WithContext(exponentialBackoff, ctx)); err != nil {
		return fmt.Errorf("%w: upsert of %d points: %v", ErrIndexUnreachable, len(points), err)
	}
	return nil
}

// Query performs a filtered nearest-neighbor search over one named space.
// Results come back ordered by raw similarity score descending.
func (i *Index) Query(ctx context.Context, spec QuerySpec) ([]ScoredPoint, error) {
	want, known := i.spaceDimension(spec.Space)
	if !known {
		return nil, fmt.Errorf("%w: query uses undeclared space %q", ErrDimensionMismatch, spec.Space)
	}
	if uint64(len(spec.Vector)) != want {
		return nil, fmt.Errorf("%w: query has %d dimensions, expected %d",
			ErrDimensionMismatch, len(spec.Vector), want)
	}

	results, err := i.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: spec.Collection,
		Query:          qdrant.NewQuery(spec.Vector...),
		Using:          &spec.Space,
		Filter:         buildFilter(spec.Filter),
		Limit:          qdrant.PtrOf(uint64(spec.Limit)),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: query failed: %v", ErrIndexUnreachable, err)
	}

	points := make([]ScoredPoint, 0, len(results))
	for _, result := range results {
		points = append(points, ScoredPoint{
			ID:     result.Id.GetUuid(),
			Score:  result.Score,
			Record: recordFromPayload(result.Payload),
		})
	}
	return points, nil
}

// Stats returns the number of points in a collection.
func (i *Index) Stats(ctx context.Context, collection string) (uint64, error) {
	exists, err := i.client.CollectionExists(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("%w: checking collection %s: %v", ErrIndexUnreachable, collection, err)
	}
	if !exists {
		return 0, fmt.Errorf("%w: %s", ErrCollectionNotFound, collection)
	}

	info, err := i.client.GetCollectionInfo(ctx, collection)
	if err != nil {
		return 0, fmt.Errorf("%w: collection info for %s: %v", ErrIndexUnreachable, collection, err)
	}
	return info.GetPointsCount(), nil
}

// DeleteByPlatform removes every point belonging to one platform.
func (i *Index) DeleteByPlatform(ctx context.Context, collection, platform string) error {
	_, err := i.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: collection,
		Points: qdrant.NewPointsSelectorFilter(&qdrant.Filter{
			Must: []*qdrant.Condition{qdrant.NewMatch("platform", platform)},
		}),
		Wait: qdrant.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("%w: deleting platform %s: %v", ErrIndexUnreachable, platform, err)
	}
	return nil
}
