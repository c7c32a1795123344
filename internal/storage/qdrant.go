/**
 * Qdrant Vector Database Client for GlyphForge Worker
 *
 * Stores glyph shape features so fragments the recognizer cannot read can
 * be labeled from previously built glyphs. Uses Qdrant's native gRPC API.
 */

package storage

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	qdrant "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// QdrantClient handles vector database operations
type QdrantClient struct {
	client           qdrant.PointsClient
	collectionClient qdrant.CollectionsClient
	conn             *grpc.ClientConn
	collectionName   string
	dimensions       int
}

// VectorPoint represents a vector with metadata
type VectorPoint struct {
	ID        string
	Vector    []float32
	Metadata  map[string]interface{}
	Timestamp int64
	// Score is set on search results only
	Score float32
}

// NewQdrantClient creates a new Qdrant client for vectors of the given size
func NewQdrantClient(address string, collectionName string, dimensions int) (*QdrantClient, error) {
	if address == "" {
		return nil, fmt.Errorf("qdrant address is required")
	}

	if collectionName == "" {
		return nil, fmt.Errorf("collection name is required")
	}

	if dimensions <= 0 {
		return nil, fmt.Errorf("vector dimensions must be positive, got %d", dimensions)
	}

	// Connect to Qdrant using gRPC
	conn, err := grpc.Dial(address, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant: %w", err)
	}

	qc := &QdrantClient{
		client:           qdrant.NewPointsClient(conn),
		collectionClient: qdrant.NewCollectionsClient(conn),
		conn:             conn,
		collectionName:   collectionName,
		dimensions:       dimensions,
	}

	if err := qc.ensureCollection(context.Background()); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ensure collection: %w", err)
	}

	return qc, nil
}

// ensureCollection creates the collection if it doesn't exist
func (q *QdrantClient) ensureCollection(ctx context.Context) error {
	listResp, err := q.collectionClient.List(ctx, &qdrant.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("failed to list collections: %w", err)
	}

	for _, col := range listResp.Collections {
		if col.Name == q.collectionName {
			return nil
		}
	}

	// Coverage grids compare by direction, so cosine distance
	_, err = q.collectionClient.Create(ctx, &qdrant.CreateCollection{
		CollectionName: q.collectionName,
		VectorsConfig: &qdrant.VectorsConfig{
			Config: &qdrant.VectorsConfig_Params{
				Params: &qdrant.VectorParams{
					Size:     uint64(q.dimensions),
					Distance: qdrant.Distance_Cosine,
				},
			},
		},
	})

	if err != nil {
		return fmt.Errorf("failed to create collection: %w", err)
	}

	return nil
}

// UpsertVectors stores or updates vector points in one request
func (q *QdrantClient) UpsertVectors(ctx context.Context, points []*VectorPoint) error {
	if len(points) == 0 {
		return nil
	}

	structs := make([]*qdrant.PointStruct, 0, len(points))
	for _, point := range points {
		if point == nil {
			return fmt.Errorf("point is required")
		}

		if len(point.Vector) != q.dimensions {
			return fmt.Errorf("invalid vector dimensions: expected %d, got %d", q.dimensions, len(point.Vector))
		}

		if point.ID == "" {
			point.ID = uuid.New().String()
		}

		payload := toPayload(point.Metadata)
		if point.Timestamp > 0 {
			payload["timestamp"] = &qdrant.Value{
				Kind: &qdrant.Value_IntegerValue{IntegerValue: point.Timestamp},
			}
		}

		structs = append(structs, &qdrant.PointStruct{
			Id: pointID(point.ID),
			Vectors: &qdrant.Vectors{
				VectorsOptions: &qdrant.Vectors_Vector{
					Vector: &qdrant.Vector{
						Data: point.Vector,
					},
				},
			},
			Payload: payload,
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.collectionName,
		Points:         structs,
	})

	if err != nil {
		return fmt.Errorf("failed to upsert vectors: %w", err)
	}

	return nil
}

// SearchVectors performs similarity search, best match first
func (q *QdrantClient) SearchVectors(ctx context.Context, queryVector []float32, limit int) ([]*VectorPoint, error) {
	if len(queryVector) != q.dimensions {
		return nil, fmt.Errorf("invalid query vector dimensions: expected %d, got %d", q.dimensions, len(queryVector))
	}

	if limit <= 0 {
		limit = 10
	}

	searchReq := &qdrant.SearchPoints{
		CollectionName: q.collectionName,
		Vector:         queryVector,
		Limit:          uint64(limit),
		WithPayload: &qdrant.WithPayloadSelector{
			SelectorOptions: &qdrant.WithPayloadSelector_Enable{
				Enable: true,
			},
		},
	}

	results, err := q.client.Search(ctx, searchReq)
	if err != nil {
		return nil, fmt.Errorf("failed to search vectors: %w", err)
	}

	points := make([]*VectorPoint, 0, len(results.Result))
	for _, result := range results.Result {
		id := ""
		if result.Id != nil {
			id = result.Id.GetUuid()
		}

		points = append(points, &VectorPoint{
			ID:       id,
			Metadata: fromPayload(result.Payload),
			Score:    result.Score,
		})
	}

	return points, nil
}

// DeleteVectors removes points by ID
func (q *QdrantClient) DeleteVectors(ctx context.Context, pointIDs []string) error {
	if len(pointIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(pointIDs))
	for _, id := range pointIDs {
		if id == "" {
			return fmt.Errorf("point ID is required")
		}
		ids = append(ids, pointID(id))
	}

	deleteReq := &qdrant.DeletePoints{
		CollectionName: q.collectionName,
		Points: &qdrant.PointsSelector{
			PointsSelectorOneOf: &qdrant.PointsSelector_Points{
				Points: &qdrant.PointsIdsList{
					Ids: ids,
				},
			},
		},
	}

	_, err := q.client.Delete(ctx, deleteReq)
	if err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}

	return nil
}

// GetCollectionInfo returns collection statistics
func (q *QdrantClient) GetCollectionInfo(ctx context.Context) (map[string]interface{}, error) {
	info, err := q.collectionClient.Get(ctx, &qdrant.GetCollectionInfoRequest{
		CollectionName: q.collectionName,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get collection info: %w", err)
	}

	stats := map[string]interface{}{
		"collection_name": q.collectionName,
		"dimensions":      q.dimensions,
		"vectors_count":   info.Result.GetVectorsCount(),
		"points_count":    info.Result.GetPointsCount(),
		"indexed_vectors": info.Result.GetIndexedVectorsCount(),
		"status":          info.Result.GetStatus().String(),
	}

	return stats, nil
}

// Close closes the Qdrant client connection
func (q *QdrantClient) Close() error {
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}

func pointID(id string) *qdrant.PointId {
	return &qdrant.PointId{
		PointIdOptions: &qdrant.PointId_Uuid{
			Uuid: id,
		},
	}
}

// toPayload converts metadata to Qdrant values, falling back to strings
func toPayload(metadata map[string]interface{}) map[string]*qdrant.Value {
	payload := make(map[string]*qdrant.Value, len(metadata)+1)
	for k, v := range metadata {
		switch val := v.(type) {
		case string:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: val}}
		case int:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: int64(val)}}
		case int64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_IntegerValue{IntegerValue: val}}
		case float64:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_DoubleValue{DoubleValue: val}}
		case bool:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_BoolValue{BoolValue: val}}
		default:
			payload[k] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: fmt.Sprintf("%v", val)}}
		}
	}
	return payload
}

func fromPayload(payload map[string]*qdrant.Value) map[string]interface{} {
	metadata := make(map[string]interface{}, len(payload))
	for k, v := range payload {
		switch val := v.Kind.(type) {
		case *qdrant.Value_StringValue:
			metadata[k] = val.StringValue
		case *qdrant.Value_IntegerValue:
			metadata[k] = val.IntegerValue
		case *qdrant.Value_DoubleValue:
			metadata[k] = val.DoubleValue
		case *qdrant.Value_BoolValue:
			metadata[k] = val.BoolValue
		}
	}
	return metadata
}
