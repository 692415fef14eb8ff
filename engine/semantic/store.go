// Package semantic mirrors embedded chunks into a Qdrant collection so they
// can be served by a vector index. The document store stays the source of
// truth; points are keyed by the chunk id and rewriting one is harmless.
package semantic

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/storyrag/storyrag/engine/domain"
)

type pointsClient interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

type collectionsClient interface {
	List(ctx context.Context, in *pb.ListCollectionsRequest, opts ...grpc.CallOption) (*pb.ListCollectionsResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// VectorStore owns every Qdrant call.
type VectorStore struct {
	conn        *grpc.ClientConn
	points      pointsClient
	collections collectionsClient
	collection  string

	mu    sync.Mutex
	ready bool
}

// New dials Qdrant's gRPC endpoint at addr.
func New(addr, collection string) (*VectorStore, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("semantic: dial qdrant %s: %w", addr, err)
	}
	return &VectorStore{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a VectorStore over existing clients.
func NewWithClients(points pointsClient, collections collectionsClient, collection string) *VectorStore {
	return &VectorStore{points: points, collections: collections, collection: collection}
}

// Close closes the gRPC connection, if New opened one.
func (v *VectorStore) Close() error {
	if v.conn == nil {
		return nil
	}
	return v.conn.Close()
}

// EnsureCollection creates the cosine collection with dims-sized vectors
// unless it already exists.
func (v *VectorStore) EnsureCollection(ctx context.Context, dims int) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.ensure(ctx, dims)
}

func (v *VectorStore) ensure(ctx context.Context, dims int) error {
	if v.ready {
		return nil
	}
	if dims <= 0 {
		return fmt.Errorf("semantic: collection %s: invalid dimensions %d", v.collection, dims)
	}
	list, err := v.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("semantic: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == v.collection {
			v.ready = true
			return nil
		}
	}
	_, err = v.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: v.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{Size: uint64(dims), Distance: pb.Distance_Cosine},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("semantic: create collection %s: %w", v.collection, err)
	}
	v.ready = true
	return nil
}

// PointID derives the Qdrant point id of a chunk.
func PointID(c domain.EmbeddedChunk) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("storyrag:chunk:"+c.ID.Hex())).String()
}

// Upsert writes chunks as points. The collection is created on first use,
// sized by the first vector.
func (v *VectorStore) Upsert(ctx context.Context, chunks []domain.EmbeddedChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	v.mu.Lock()
	err := v.ensure(ctx, len(chunks[0].Embedding))
	v.mu.Unlock()
	if err != nil {
		return err
	}

	points := make([]*pb.PointStruct, len(chunks))
	for i, c := range chunks {
		points[i] = &pb.PointStruct{
			Id: &pb.PointId{PointIdOptions: &pb.PointId_Uuid{Uuid: PointID(c)}},
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: c.Embedding}},
			},
			Payload: payload(c),
		}
	}
	wait := true
	if _, err := v.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: v.collection,
		Wait:           &wait,
		Points:         points,
	}); err != nil {
		return fmt.Errorf("semantic: upsert %d points: %w", len(chunks), err)
	}
	return nil
}

func payload(c domain.EmbeddedChunk) map[string]*pb.Value {
	p := map[string]*pb.Value{
		"chunk_id":    str(c.ID.Hex()),
		"story_id":    str(c.StoryID.Hex()),
		"source_id":   str(c.SourceID.Hex()),
		"story_title": str(c.StoryTitle),
		"data_type":   str(string(c.DataType)),
		"content":     str(c.Content),
		"chunk_index": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(c.ChunkIndex)}},
	}
	if c.Reviewer != "" {
		p["reviewer"] = str(c.Reviewer)
	}
	return p
}

func str(s string) *pb.Value {
	return &pb.Value{Kind: &pb.Value_StringValue{StringValue: s}}
}
