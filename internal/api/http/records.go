package http

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/arkilian/recordlayer/internal/kv"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/pkg/types"
)

// maxRecordsPerRequest bounds one write batch.
const maxRecordsPerRequest = 10000

// RecordsRequest is a batch of records in the wire form
// {"type": "...", "values": {...}}. Ranges use {"$range": {...}}.
type RecordsRequest struct {
	Records []json.RawMessage `json:"records"`
}

// RecordsResponse lists the primary keys written, in request order.
type RecordsResponse struct {
	PrimaryKeys [][]any `json:"primary_keys"`
	RequestID   string  `json:"request_id"`
}

// RecordsHandler handles POST /v1/records requests.
type RecordsHandler struct {
	store *recordstore.Store
}

// NewRecordsHandler creates a new records handler.
func NewRecordsHandler(store *recordstore.Store) *RecordsHandler {
	return &RecordsHandler{store: store}
}

// ServeHTTP saves every record in one transaction; a failure writes none.
func (h *RecordsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req RecordsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return
	}
	if len(req.Records) == 0 {
		writeError(w, http.StatusBadRequest, "records must not be empty", requestID)
		return
	}
	if len(req.Records) > maxRecordsPerRequest {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("at most %d records per request", maxRecordsPerRequest), requestID)
		return
	}

	records := make([]*types.MapRecord, 0, len(req.Records))
	for i, raw := range req.Records {
		rec, err := types.UnmarshalRecord(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("record %d: %v", i, err), requestID)
			return
		}
		records = append(records, rec)
	}

	keys := make([][]any, 0, len(records))
	err := h.store.Database().Transact(r.Context(), func(tx *kv.Transaction) error {
		keys = keys[:0]
		for _, rec := range records {
			pk, err := h.store.SaveRecord(tx, rec)
			if err != nil {
				return err
			}
			keys = append(keys, pk)
		}
		return nil
	})
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, RecordsResponse{PrimaryKeys: keys, RequestID: requestID})
}
