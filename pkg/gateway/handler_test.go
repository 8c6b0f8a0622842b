package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pb "github.com/pixperk/roomkey/api/v1"
	_ "github.com/pixperk/roomkey/pkg/metrics"
)

type fakeClient struct {
	lastSend *pb.SendRequest
	lastSync *pb.SyncSubsetRequest
	err      error
}

func (f *fakeClient) Send(_ context.Context, in *pb.SendRequest, _ ...grpc.CallOption) (*pb.SendResponse, error) {
	f.lastSend = in
	if f.err != nil {
		return nil, f.err
	}
	return &pb.SendResponse{Resolved: true, ResourceID: "C42", Accepted: true}, nil
}

func (f *fakeClient) SyncSubset(_ context.Context, in *pb.SyncSubsetRequest, _ ...grpc.CallOption) (*pb.SyncSubsetResponse, error) {
	f.lastSync = in
	if f.err != nil {
		return nil, f.err
	}
	return &pb.SyncSubsetResponse{Mode: "partial", Requested: len(in.Names), Synced: 1, BatchSize: 100, Batches: 1}, nil
}

func (f *fakeClient) SyncAll(context.Context, *pb.SyncAllRequest, ...grpc.CallOption) (*pb.SyncAllResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &pb.SyncAllResponse{Mode: "all", Synced: 250, BatchSize: 100, Batches: 3}, nil
}

func (f *fakeClient) Status(context.Context, *pb.StatusRequest, ...grpc.CallOption) (*pb.StatusResponse, error) {
	return &pb.StatusResponse{IsLeader: true, State: "standalone", Rooms: 7}, nil
}

func do(t *testing.T, h http.Handler, method, path, body string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	var out map[string]any
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	}
	return rec, out
}

func TestSendRoute(t *testing.T) {
	fc := &fakeClient{}
	h := NewHandler(fc, nil)

	rec, out := do(t, h, http.MethodPost, "/v1/rooms/general/messages", `{"text":"deploy done"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "general", fc.lastSend.Name)
	assert.Equal(t, "deploy done", fc.lastSend.Text)
	assert.Equal(t, true, out["resolved"])
	assert.Equal(t, "C42", out["resource_id"])
	assert.Equal(t, true, out["accepted"])
}

func TestSyncRoutes(t *testing.T) {
	fc := &fakeClient{}
	h := NewHandler(fc, nil)

	rec, out := do(t, h, http.MethodPost, "/v1/sync", `{"names":["a","b","c"]}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"a", "b", "c"}, fc.lastSync.Names)
	assert.Equal(t, "partial", out["mode"])
	assert.Equal(t, float64(3), out["requested"])
	assert.Equal(t, float64(100), out["batch_size"])

	rec, out = do(t, h, http.MethodPost, "/v1/sync/all", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "all", out["mode"])
	assert.Equal(t, float64(250), out["synced"])
}

func TestStatusRoute(t *testing.T) {
	rec, out := do(t, NewHandler(&fakeClient{}, nil), http.MethodGet, "/v1/status", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), out["rooms"])
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		code codes.Code
		http int
	}{
		{codes.Unavailable, http.StatusServiceUnavailable},
		{codes.InvalidArgument, http.StatusBadRequest},
		{codes.Internal, http.StatusInternalServerError},
		{codes.DeadlineExceeded, http.StatusGatewayTimeout},
	}
	for _, tc := range cases {
		h := NewHandler(&fakeClient{err: status.Error(tc.code, "nope")}, nil)
		rec, out := do(t, h, http.MethodPost, "/v1/rooms/general/messages", `{"text":"x"}`)
		assert.Equal(t, tc.http, rec.Code, tc.code.String())
		assert.Equal(t, "nope", out["error"])
		assert.Equal(t, tc.code.String(), out["code"])
	}
}

func TestSyncFailureCarriesProgress(t *testing.T) {
	detail, err := pb.Encode(&pb.SyncFailure{Mode: "all", Synced: 200})
	require.NoError(t, err)
	st, err := status.New(codes.Internal, "all sync stopped after 200 entries: connection reset").WithDetails(detail)
	require.NoError(t, err)

	h := NewHandler(&fakeClient{err: st.Err()}, nil)
	rec, out := do(t, h, http.MethodPost, "/v1/sync/all", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Internal", out["code"])
	assert.Equal(t, "all", out["mode"])
	assert.Equal(t, float64(200), out["synced"])

	// zero flushed entries is still reported
	detail, err = pb.Encode(&pb.SyncFailure{Mode: "partial"})
	require.NoError(t, err)
	st, err = status.New(codes.Unavailable, "partial sync stopped after 0 entries").WithDetails(detail)
	require.NoError(t, err)

	rec, out = do(t, NewHandler(&fakeClient{err: st.Err()}, nil), http.MethodPost, "/v1/sync", `{"names":["a"]}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "partial", out["mode"])
	assert.Equal(t, float64(0), out["synced"])
}

func TestPlainErrorHasNoProgress(t *testing.T) {
	h := NewHandler(&fakeClient{err: status.Error(codes.Internal, "nope")}, nil)
	_, out := do(t, h, http.MethodPost, "/v1/sync/all", "")
	assert.NotContains(t, out, "mode")
	assert.NotContains(t, out, "synced")
}

func TestMalformedBody(t *testing.T) {
	fc := &fakeClient{}
	rec, out := do(t, NewHandler(fc, nil), http.MethodPost, "/v1/sync", `{"names":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "InvalidArgument", out["code"])
	assert.Nil(t, fc.lastSync)
}

func TestMethodNotAllowed(t *testing.T) {
	rec, _ := do(t, NewHandler(&fakeClient{}, nil), http.MethodGet, "/v1/sync", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsRoute(t *testing.T) {
	rec, _ := do(t, NewHandler(&fakeClient{}, nil), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "roomkey_up")
}
