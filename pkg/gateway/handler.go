package gateway

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/hashicorp/go-hclog"
	"github.com/julienschmidt/httprouter"
	pb "github.com/pixperk/roomkey/api/v1"
	"github.com/pixperk/roomkey/pkg/logging"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// request bodies are small JSON documents
const maxBodyBytes = 1 << 20

type handler struct {
	client pb.RoomServiceClient
	logger hclog.Logger
}

// routes the HTTP surface onto client
func NewHandler(client pb.RoomServiceClient, logger hclog.Logger) http.Handler {
	h := &handler{client: client, logger: logging.OrNull(logger)}

	r := httprouter.New()
	r.POST("/v1/rooms/:name/messages", h.send)
	r.POST("/v1/sync", h.syncSubset)
	r.POST("/v1/sync/all", h.syncAll)
	r.GET("/v1/status", h.status)
	r.Handler(http.MethodGet, "/metrics", promhttp.Handler())
	return r
}

type sendBody struct {
	Text string `json:"text"`
}

func (h *handler) send(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	var body sendBody
	if !h.decode(w, r, &body) {
		return
	}

	resp, err := h.client.Send(r.Context(), &pb.SendRequest{Name: ps.ByName("name"), Text: body.Text})
	h.reply(w, resp, err)
}

func (h *handler) syncSubset(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req pb.SyncSubsetRequest
	if !h.decode(w, r, &req) {
		return
	}

	resp, err := h.client.SyncSubset(r.Context(), &req)
	h.reply(w, resp, err)
}

func (h *handler) syncAll(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp, err := h.client.SyncAll(r.Context(), &pb.SyncAllRequest{})
	h.reply(w, resp, err)
}

func (h *handler) status(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	resp, err := h.client.Status(r.Context(), &pb.StatusRequest{})
	h.reply(w, resp, err)
}

// reads a JSON body into v; an empty body leaves v zero
func (h *handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Code: codes.InvalidArgument.String()})
	return false
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`

	// set when a sync stopped early; flushed batches stay applied
	Mode   string `json:"mode,omitempty"`
	Synced *int   `json:"synced,omitempty"`
}

func (h *handler) reply(w http.ResponseWriter, resp any, err error) {
	if err != nil {
		st := status.Convert(err)
		code := httpStatusFromCode(st.Code())
		if code >= http.StatusInternalServerError {
			h.logger.Error("request failed", "code", st.Code().String(), "error", st.Message())
		}
		body := errorBody{Error: st.Message(), Code: st.Code().String()}
		if failure, ok := pb.SyncFailureFromStatus(st); ok {
			body.Mode, body.Synced = failure.Mode, &failure.Synced
		}
		writeJSON(w, code, body)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpStatusFromCode(code codes.Code) int {
	switch code {
	case codes.OK:
		return http.StatusOK
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.Canceled:
		return 499
	case codes.Unimplemented:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
