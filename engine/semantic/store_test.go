package semantic

import (
	"context"
	"errors"
	"testing"

	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
)

// --- Mocks ---

type mockPoints struct {
	upsertReq  *pb.UpsertPoints
	upsertErr  error
	deleteReq  *pb.DeletePoints
	deleteErr  error
	searchReq  *pb.SearchPoints
	searchResp *pb.SearchResponse
	searchErr  error
}

func (m *mockPoints) Upsert(_ context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.upsertReq = in
	return &pb.PointsOperationResponse{}, m.upsertErr
}
func (m *mockPoints) Delete(_ context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	m.deleteReq = in
	return &pb.PointsOperationResponse{}, m.deleteErr
}
func (m *mockPoints) Search(_ context.Context, in *pb.SearchPoints, _ ...grpc.CallOption) (*pb.SearchResponse, error) {
	m.searchReq = in
	return m.searchResp, m.searchErr
}

type mockCollections struct {
	listResp  *pb.ListCollectionsResponse
	listErr   error
	created   *pb.CreateCollection
	createErr error
}

func (m *mockCollections) List(_ context.Context, _ *pb.ListCollectionsRequest, _ ...grpc.CallOption) (*pb.ListCollectionsResponse, error) {
	return m.listResp, m.listErr
}
func (m *mockCollections) Create(_ context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	m.created = in
	return &pb.CollectionOperationResponse{Result: true}, m.createErr
}

// --- Tests ---

func TestEnsureCollection_AlreadyExists(t *testing.T) {
	cols := &mockCollections{
		listResp: &pb.ListCollectionsResponse{
			Collections: []*pb.CollectionDescription{{Name: "chunks"}},
		},
	}
	vs := NewWithClients(&mockPoints{}, cols, "chunks")
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created != nil {
		t.Fatal("existing collection must not be recreated")
	}
}

func TestEnsureCollection_CreatesWithCosine(t *testing.T) {
	cols := &mockCollections{listResp: &pb.ListCollectionsResponse{}}
	vs := NewWithClients(&mockPoints{}, cols, "chunks")
	if err := vs.EnsureCollection(context.Background(), 384); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cols.created == nil {
		t.Fatal("collection should be created")
	}
	params := cols.created.GetVectorsConfig().GetParams()
	if params.GetSize() != 384 {
		t.Errorf("size = %d, want 384", params.GetSize())
	}
	if params.GetDistance() != pb.Distance_Cosine {
		t.Errorf("distance = %v, want cosine", params.GetDistance())
	}
}

func TestEnsureCollection_ListError(t *testing.T) {
	cols := &mockCollections{listErr: errors.New("rpc fail")}
	vs := NewWithClients(&mockPoints{}, cols, "chunks")
	if err := vs.EnsureCollection(context.Background(), 384); err == nil {
		t.Fatal("expected error")
	}
}

func TestUpsert_BuildsPayload(t *testing.T) {
	points := &mockPoints{}
	vs := NewWithClients(points, &mockCollections{}, "chunks")

	err := vs.Upsert(context.Background(), []Record{{
		PointID:   "11111111-1111-1111-1111-111111111111",
		ChunkID:   "c1",
		VideoID:   "v1",
		FocusArea: "fa-go",
		Content:   "hello",
		StartMs:   100,
		EndMs:     900,
		Embedding: []float32{0.1, 0.2},
	}})
	if err != nil {
		t.Fatal(err)
	}

	if points.upsertReq == nil || len(points.upsertReq.GetPoints()) != 1 {
		t.Fatal("one point expected")
	}
	if w := points.upsertReq.GetWait(); !w {
		t.Error("upsert must wait for durability")
	}
	payload := points.upsertReq.GetPoints()[0].GetPayload()
	if payload["video_id"].GetStringValue() != "v1" {
		t.Errorf("video_id payload = %v", payload["video_id"])
	}
	if payload["start_ms"].GetIntegerValue() != 100 {
		t.Errorf("start_ms payload = %v", payload["start_ms"])
	}
}

func TestUpsert_EmptyIsNoop(t *testing.T) {
	points := &mockPoints{}
	vs := NewWithClients(points, &mockCollections{}, "chunks")
	if err := vs.Upsert(context.Background(), nil); err != nil {
		t.Fatal(err)
	}
	if points.upsertReq != nil {
		t.Fatal("no request expected for empty input")
	}
}

func TestDeleteByVideoID_FiltersOnVideo(t *testing.T) {
	points := &mockPoints{}
	vs := NewWithClients(points, &mockCollections{}, "chunks")
	if err := vs.DeleteByVideoID(context.Background(), "v1"); err != nil {
		t.Fatal(err)
	}
	filter := points.deleteReq.GetPoints().GetFilter()
	if len(filter.GetMust()) != 1 {
		t.Fatal("one filter condition expected")
	}
	field := filter.GetMust()[0].GetField()
	if field.GetKey() != "video_id" || field.GetMatch().GetKeyword() != "v1" {
		t.Errorf("filter = %v", field)
	}
}

func TestSearch_MapsHits(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{
		Result: []*pb.ScoredPoint{{
			Score: 0.87,
			Payload: map[string]*pb.Value{
				"chunk_id": stringValue("c1"),
				"video_id": stringValue("v1"),
				"content":  stringValue("hello"),
				"start_ms": intValue(100),
				"end_ms":   intValue(900),
			},
		}},
	}}
	vs := NewWithClients(points, &mockCollections{}, "chunks")

	hits, err := vs.Search(context.Background(), []float32{0.1}, 5, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 {
		t.Fatalf("hits = %d, want 1", len(hits))
	}
	want := Hit{ChunkID: "c1", VideoID: "v1", Content: "hello", StartMs: 100, EndMs: 900, Score: 0.87}
	if hits[0] != want {
		t.Errorf("hit = %+v, want %+v", hits[0], want)
	}
	if points.searchReq.GetFilter() != nil {
		t.Error("no filter expected without a focus area")
	}
}

func TestSearch_FocusAreaFilter(t *testing.T) {
	points := &mockPoints{searchResp: &pb.SearchResponse{}}
	vs := NewWithClients(points, &mockCollections{}, "chunks")
	if _, err := vs.Search(context.Background(), []float32{0.1}, 5, "fa-go"); err != nil {
		t.Fatal(err)
	}
	field := points.searchReq.GetFilter().GetMust()[0].GetField()
	if field.GetKey() != "focus_area" || field.GetMatch().GetKeyword() != "fa-go" {
		t.Errorf("filter = %v", field)
	}
}

func TestSearch_Error(t *testing.T) {
	points := &mockPoints{searchErr: errors.New("unavailable")}
	vs := NewWithClients(points, &mockCollections{}, "chunks")
	if _, err := vs.Search(context.Background(), []float32{0.1}, 5, ""); err == nil {
		t.Fatal("expected error")
	}
}
