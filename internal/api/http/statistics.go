package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/internal/statistics"
)

// StatisticsRequest asks for a collection run. Without a record type every
// record type is collected; listed indexes are collected after the tables.
type StatisticsRequest struct {
	RecordType string         `json:"record_type,omitempty"`
	SampleRate float64        `json:"sample_rate,omitempty"`
	Indexes    []IndexRequest `json:"indexes,omitempty"`
}

// IndexRequest names one index to collect.
type IndexRequest struct {
	Name          string `json:"name"`
	Buckets       int    `json:"buckets,omitempty"`
	ReservoirSize int    `json:"reservoir_size,omitempty"`
}

// StatisticsResponse carries what was collected.
type StatisticsResponse struct {
	Tables    map[string]*statistics.TableStatistics `json:"tables"`
	Indexes   []*statistics.IndexStatistics          `json:"indexes,omitempty"`
	RequestID string                                 `json:"request_id"`
}

// CollectDefaults fill in what a request leaves out.
type CollectDefaults struct {
	SampleRate    float64
	Buckets       int
	ReservoirSize int
}

// StatisticsHandler handles POST /v1/statistics requests.
type StatisticsHandler struct {
	store    *recordstore.Store
	manager  *statistics.Manager
	defaults CollectDefaults
}

// NewStatisticsHandler creates a statistics handler.
func NewStatisticsHandler(store *recordstore.Store, manager *statistics.Manager, defaults CollectDefaults) *StatisticsHandler {
	builtin := statistics.DefaultOptions()
	if defaults.SampleRate <= 0 || defaults.SampleRate > 1 {
		defaults.SampleRate = 1
	}
	if defaults.Buckets <= 0 {
		defaults.Buckets = builtin.TableBuckets
	}
	if defaults.ReservoirSize <= 0 {
		defaults.ReservoirSize = builtin.FieldSampleSize
	}
	return &StatisticsHandler{store: store, manager: manager, defaults: defaults}
}

// ServeHTTP runs the requested collections.
func (h *StatisticsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req StatisticsRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
			return
		}
	}
	rate := req.SampleRate
	if rate == 0 {
		rate = h.defaults.SampleRate
	}

	resp := StatisticsResponse{Tables: make(map[string]*statistics.TableStatistics), RequestID: requestID}
	if req.RecordType != "" {
		ts, err := h.manager.CollectStatistics(r.Context(), req.RecordType, rate)
		if err != nil {
			writeFailure(w, err, requestID)
			return
		}
		resp.Tables[req.RecordType] = ts
	} else {
		var names []string
		for _, rt := range h.store.MetaData().RecordTypes() {
			names = append(names, rt.Name)
		}
		tables, err := h.manager.CollectAll(r.Context(), names, rate)
		if err != nil {
			writeFailure(w, err, requestID)
			return
		}
		resp.Tables = tables
	}

	for _, ir := range req.Indexes {
		buckets, reservoir := ir.Buckets, ir.ReservoirSize
		if buckets == 0 {
			buckets = h.defaults.Buckets
		}
		if reservoir == 0 {
			reservoir = h.defaults.ReservoirSize
		}
		is, err := h.manager.CollectIndexStatistics(r.Context(), ir.Name, h.store.IndexSubspace(ir.Name), buckets, reservoir)
		if err != nil {
			writeFailure(w, err, requestID)
			return
		}
		resp.Indexes = append(resp.Indexes, is)
	}
	writeJSON(w, http.StatusOK, resp)
}
