package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkilian/recordlayer/internal/query"
	"github.com/arkilian/recordlayer/internal/query/executor"
	"github.com/arkilian/recordlayer/internal/query/parser"
	"github.com/arkilian/recordlayer/internal/query/planner"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/pkg/types"
)

// QueryRequest carries a query in text form, e.g.
// "FROM Event WHERE period OVERLAPS [0, 10) LIMIT 5".
type QueryRequest struct {
	Query string `json:"query"`
}

// PlanResponse describes the plan chosen for a query.
type PlanResponse struct {
	Plan      planner.Node `json:"plan"`
	Explain   string       `json:"explain"`
	RequestID string       `json:"request_id"`
}

// RecordJSON is one returned record.
type RecordJSON struct {
	PrimaryKey []any           `json:"primary_key"`
	Record     json.RawMessage `json:"record"`
}

// QueryResponse represents the query response.
type QueryResponse struct {
	Plan      planner.Node            `json:"plan"`
	Explain   string                  `json:"explain"`
	Records   []RecordJSON            `json:"records"`
	Stats     executor.ExecutionStats `json:"stats"`
	RequestID string                  `json:"request_id"`
}

// PlanHandler handles POST /v1/plan requests.
type PlanHandler struct {
	executor *executor.Executor
}

// NewPlanHandler creates a new plan handler.
func NewPlanHandler(exec *executor.Executor) *PlanHandler {
	return &PlanHandler{executor: exec}
}

// ServeHTTP plans the query without running it.
func (h *PlanHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	q, ok := decodeQuery(w, r, requestID)
	if !ok {
		return
	}
	plan, err := h.executor.Plan(r.Context(), q)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, PlanResponse{
		Plan:      planner.Describe(plan),
		Explain:   plan.Explain(),
		RequestID: requestID,
	})
}

// QueryHandler handles POST /v1/query requests.
type QueryHandler struct {
	executor *executor.Executor
}

// NewQueryHandler creates a new query handler.
func NewQueryHandler(exec *executor.Executor) *QueryHandler {
	return &QueryHandler{executor: exec}
}

// ServeHTTP plans and runs the query.
func (h *QueryHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	q, ok := decodeQuery(w, r, requestID)
	if !ok {
		return
	}
	result, err := h.executor.Run(r.Context(), q)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}

	records, err := encodeRecords(result.Records)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{
		Plan:      planner.Describe(result.Plan),
		Explain:   result.Plan.Explain(),
		Records:   records,
		Stats:     result.Stats,
		RequestID: requestID,
	})
}

func decodeQuery(w http.ResponseWriter, r *http.Request, requestID string) (*query.Query, bool) {
	var req QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return nil, false
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required", requestID)
		return nil, false
	}
	q, err := parser.Parse(req.Query)
	if err != nil {
		writeFailure(w, err, requestID)
		return nil, false
	}
	return q, true
}

func encodeRecords(stored []recordstore.StoredRecord) ([]RecordJSON, error) {
	out := make([]RecordJSON, 0, len(stored))
	for _, rec := range stored {
		raw, err := types.MarshalRecord(rec.Record)
		if err != nil {
			return nil, err
		}
		out = append(out, RecordJSON{PrimaryKey: rec.PrimaryKey, Record: raw})
	}
	return out, nil
}
