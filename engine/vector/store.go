package vector

import (
	"context"
	"fmt"
	"strconv"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Store is the sole owner of all Qdrant operations.
type Store struct {
	conn        *grpc.ClientConn
	points      pb.PointsClient
	collections pb.CollectionsClient
	collection  string
}

// New creates a Store connected to Qdrant at the given gRPC address.
func New(addr, collection string) (*Store, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("vector: dial qdrant %s: %w", addr, err)
	}
	return &Store{
		conn:        conn,
		points:      pb.NewPointsClient(conn),
		collections: pb.NewCollectionsClient(conn),
		collection:  collection,
	}, nil
}

// NewWithClients builds a Store around already-constructed clients,
// used by tests to inject mocks without a live gRPC connection.
func NewWithClients(points pb.PointsClient, collections pb.CollectionsClient, collection string) *Store {
	return &Store{points: points, collections: collections, collection: collection}
}

// Close closes the underlying gRPC connection. A Store built with
// NewWithClients has no connection to close.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

// EnsureCollection creates the collection if it doesn't already exist.
func (s *Store) EnsureCollection(ctx context.Context, dims int) error {
	list, err := s.collections.List(ctx, &pb.ListCollectionsRequest{})
	if err != nil {
		return fmt.Errorf("vector: list collections: %w", err)
	}
	for _, c := range list.GetCollections() {
		if c.GetName() == s.collection {
			return nil
		}
	}

	_, err = s.collections.Create(ctx, &pb.CreateCollection{
		CollectionName: s.collection,
		VectorsConfig: &pb.VectorsConfig{
			Config: &pb.VectorsConfig_Params{
				Params: &pb.VectorParams{
					Size:     uint64(dims),
					Distance: pb.Distance_Cosine,
				},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: create collection %s: %w", s.collection, err)
	}
	return nil
}

// Describe reports the collection's configured dimensionality and point count.
func (s *Store) Describe(ctx context.Context) (Description, error) {
	info, err := s.collections.Get(ctx, &pb.GetCollectionInfoRequest{CollectionName: s.collection})
	if err != nil {
		return Description{}, fmt.Errorf("vector: describe %s: %w", s.collection, err)
	}

	var dims int
	if params := info.GetResult().GetConfig().GetParams(); params != nil {
		if vp := params.GetVectorsConfig().GetParams(); vp != nil {
			dims = int(vp.GetSize())
		}
	}

	return Description{
		Dimensions:  dims,
		VectorCount: info.GetResult().GetPointsCount(),
	}, nil
}

// Upsert stores embedding records, keyed by the decimal-string form of
// the item id turned into a numeric point id.
func (s *Store) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	points := make([]*pb.PointStruct, len(records))
	for i, r := range records {
		points[i] = &pb.PointStruct{
			Id: pointID(r.ItemID),
			Vectors: &pb.Vectors{
				VectorsOptions: &pb.Vectors_Vector{
					Vector: &pb.Vector{Data: r.Embedding},
				},
			},
			Payload: map[string]*pb.Value{
				"topic": {Kind: &pb.Value_StringValue{StringValue: r.Topic}},
				"score": {Kind: &pb.Value_IntegerValue{IntegerValue: int64(r.Score)}},
				"title": {Kind: &pb.Value_StringValue{StringValue: r.Title}},
			},
		}
	}

	wait := true
	_, err := s.points.Upsert(ctx, &pb.UpsertPoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("vector: upsert %d points: %w", len(records), err)
	}
	return nil
}

// Query runs k-NN similarity search; returnMetadata controls whether the
// payload (topic/score/title) is fetched alongside the id and score.
func (s *Store) Query(ctx context.Context, embedding []float32, topK int, returnMetadata bool) ([]SearchResult, error) {
	return s.QueryFiltered(ctx, embedding, topK, returnMetadata, "")
}

// QueryFiltered runs k-NN similarity search restricted to points whose
// topic payload field matches topic exactly; an empty topic runs
// unfiltered.
func (s *Store) QueryFiltered(ctx context.Context, embedding []float32, topK int, returnMetadata bool, topic string) ([]SearchResult, error) {
	req := &pb.SearchPoints{
		CollectionName: s.collection,
		Vector:         embedding,
		Limit:          uint64(topK),
		WithPayload:    &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: returnMetadata}},
	}
	if topic != "" {
		req.Filter = &pb.Filter{Must: []*pb.Condition{topicMatch(topic)}}
	}

	resp, err := s.points.Search(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("vector: search: %w", err)
	}

	results := make([]SearchResult, len(resp.GetResult()))
	for i, r := range resp.GetResult() {
		sr := SearchResult{ItemID: int64(r.GetId().GetNum()), Score: r.GetScore()}
		if returnMetadata {
			payload := r.GetPayload()
			sr.Topic = payload["topic"].GetStringValue()
			sr.Title = payload["title"].GetStringValue()
		}
		results[i] = sr
	}
	return results, nil
}

func topicMatch(topic string) *pb.Condition {
	return &pb.Condition{
		ConditionOneOf: &pb.Condition_Field{
			Field: &pb.FieldCondition{
				Key:   "topic",
				Match: &pb.Match{MatchValue: &pb.Match_Keyword{Keyword: topic}},
			},
		},
	}
}

// GetByIDs retrieves specific points by item id.
func (s *Store) GetByIDs(ctx context.Context, ids []int64) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	withVectors := true
	withPayload := &pb.WithPayloadSelector{SelectorOptions: &pb.WithPayloadSelector_Enable{Enable: true}}
	resp, err := s.points.Get(ctx, &pb.GetPoints{
		CollectionName: s.collection,
		Ids:            pointIDs,
		WithVectors:    &pb.WithVectorsSelector{SelectorOptions: &pb.WithVectorsSelector_Enable{Enable: withVectors}},
		WithPayload:    withPayload,
	})
	if err != nil {
		return nil, fmt.Errorf("vector: get by ids: %w", err)
	}

	out := make([]Record, 0, len(resp.GetResult()))
	for _, p := range resp.GetResult() {
		payload := p.GetPayload()
		out = append(out, Record{
			ItemID:    int64(p.GetId().GetNum()),
			Embedding: p.GetVectors().GetVector().GetData(),
			Topic:     payload["topic"].GetStringValue(),
			Title:     payload["title"].GetStringValue(),
		})
	}
	return out, nil
}

// DeleteByIDs removes points by item id.
func (s *Store) DeleteByIDs(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*pb.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	wait := true
	_, err := s.points.Delete(ctx, &pb.DeletePoints{
		CollectionName: s.collection,
		Wait:           &wait,
		Points: &pb.PointsSelector{
			PointsSelectorOneOf: &pb.PointsSelector_Points{
				Points: &pb.PointsIdsList{Ids: pointIDs},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("vector: delete by ids: %w", err)
	}
	return nil
}

func pointID(itemID int64) *pb.PointId {
	return &pb.PointId{PointIdOptions: &pb.PointId_Num{Num: uint64(itemID)}}
}

// IDString renders the decimal-string external form of a vector id, for
// callers that surface ids to read-route JSON responses.
func IDString(id int64) string {
	return strconv.FormatInt(id, 10)
}
