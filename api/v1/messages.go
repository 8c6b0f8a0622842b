// Package roomkeyv1 holds the roomkey.v1 wire messages and the RoomService
// descriptor. Messages travel as google.protobuf.Struct so the service runs on
// the stock proto codec; the Go types below are their typed views.
package roomkeyv1

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

type SendRequest struct {
	Name string `json:"name"`
	Text string `json:"text"`
}

type SendResponse struct {
	Resolved   bool   `json:"resolved"`
	ResourceID string `json:"resource_id"`
	Accepted   bool   `json:"accepted"`
	Created    bool   `json:"created"`
}

type SyncSubsetRequest struct {
	Names []string `json:"names"`
}

type SyncSubsetResponse struct {
	Mode      string `json:"mode"`
	Requested int    `json:"requested"`
	Synced    int    `json:"synced"`
	BatchSize int    `json:"batch_size"`
	Batches   int    `json:"batches"`
}

type SyncAllRequest struct{}

type SyncAllResponse struct {
	Mode      string `json:"mode"`
	Synced    int    `json:"synced"`
	BatchSize int    `json:"batch_size"`
	Batches   int    `json:"batches"`
}

// attached as a status detail when a sync stops early
// batches flushed before the failure stay applied, Synced counts their entries
type SyncFailure struct {
	Mode   string `json:"mode"`
	Synced int    `json:"synced"`
}

// extracts the sync progress carried by a failed SyncSubset or SyncAll
func SyncFailureFromStatus(st *status.Status) (*SyncFailure, bool) {
	if st == nil {
		return nil, false
	}
	for _, d := range st.Details() {
		s, ok := d.(*structpb.Struct)
		if !ok {
			continue
		}
		var f SyncFailure
		if err := Decode(s, &f); err != nil || f.Mode == "" {
			continue
		}
		return &f, true
	}
	return nil, false
}

type StatusRequest struct{}

type StatusResponse struct {
	NodeID         string `json:"node_id,omitempty"`
	IsLeader       bool   `json:"is_leader"`
	LeaderAddress  string `json:"leader_address,omitempty"`
	State          string `json:"state"`
	CacheBackend   string `json:"cache_backend"`
	RecordsBackend string `json:"records_backend"`
	Rooms          int    `json:"rooms"`
	BatchSize      int    `json:"batch_size"`
	LockTTL        string `json:"lock_ttl"`
}

// converts a message into its Struct wire form
func Encode(msg any) (*structpb.Struct, error) {
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	s := &structpb.Struct{}
	if err := protojson.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("encode %T: %w", msg, err)
	}
	return s, nil
}

// fills msg from its Struct wire form; unknown fields are ignored
func Decode(s *structpb.Struct, msg any) error {
	if s == nil {
		return nil
	}
	data, err := protojson.Marshal(s)
	if err != nil {
		return fmt.Errorf("decode %T: %w", msg, err)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return fmt.Errorf("decode %T: %w", msg, err)
	}
	return nil
}
