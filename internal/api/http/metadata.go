package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	rlerrors "github.com/arkilian/recordlayer/internal/errors"
	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/manifest"
	"github.com/arkilian/recordlayer/internal/metadata"
	"github.com/arkilian/recordlayer/internal/recordstore"
)

// MetadataRequest carries a candidate snapshot.
type MetadataRequest struct {
	MetaData json.RawMessage `json:"metadata"`

	// AllowIndexRebuilds overrides the server default when set.
	AllowIndexRebuilds *bool `json:"allow_index_rebuilds,omitempty"`
}

// MetadataResponse describes the active snapshot and the catalog history.
type MetadataResponse struct {
	MetaData      *metadata.MetaData           `json:"metadata"`
	Versions      []manifest.VersionInfo       `json:"versions"`
	FormerIndexes []manifest.FormerIndexRecord `json:"former_indexes"`
	RequestID     string                       `json:"request_id"`
}

// AdoptResponse reports an adoption.
type AdoptResponse struct {
	*manifest.Adoption

	// RebuiltIndexes lists indexes built from stored records before the
	// snapshot became active.
	RebuiltIndexes []string `json:"rebuilt_indexes,omitempty"`
	RequestID      string   `json:"request_id"`
}

// ValidateResponse is the evolution report for a candidate snapshot.
type ValidateResponse struct {
	evolution.Result
	RequestID string `json:"request_id"`
}

// MetadataHandler serves GET/POST /v1/metadata and POST /v1/metadata/validate.
type MetadataHandler struct {
	catalog manifest.Catalog
	store   *recordstore.Store
	opts    evolution.Options
}

// NewMetadataHandler creates a metadata handler. Adopted snapshots become the
// store's active metadata.
func NewMetadataHandler(catalog manifest.Catalog, store *recordstore.Store, opts evolution.Options) *MetadataHandler {
	return &MetadataHandler{catalog: catalog, store: store, opts: opts}
}

// ServeHTTP handles GET (describe) and POST (adopt).
func (h *MetadataHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	switch r.Method {
	case http.MethodGet:
		h.describe(w, r, requestID)
	case http.MethodPost:
		h.adopt(w, r, requestID)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
	}
}

func (h *MetadataHandler) describe(w http.ResponseWriter, r *http.Request, requestID string) {
	versions, err := h.catalog.ListVersions(r.Context())
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	formers, err := h.catalog.FormerIndexes(r.Context())
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	if versions == nil {
		versions = []manifest.VersionInfo{}
	}
	if formers == nil {
		formers = []manifest.FormerIndexRecord{}
	}
	writeJSON(w, http.StatusOK, MetadataResponse{
		MetaData:      h.store.MetaData(),
		Versions:      versions,
		FormerIndexes: formers,
		RequestID:     requestID,
	})
}

func (h *MetadataHandler) adopt(w http.ResponseWriter, r *http.Request, requestID string) {
	md, opts, ok := h.decode(w, r, requestID)
	if !ok {
		return
	}
	adoption, err := h.catalog.Adopt(r.Context(), md, opts)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	// the build outlives a disconnected client
	rebuilt, err := h.store.Activate(context.WithoutCancel(r.Context()), md)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, AdoptResponse{Adoption: adoption, RebuiltIndexes: rebuilt, RequestID: requestID})
}

// Validate handles POST /v1/metadata/validate.
func (h *MetadataHandler) Validate(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}
	md, opts, ok := h.decode(w, r, requestID)
	if !ok {
		return
	}
	res, err := h.catalog.Check(r.Context(), md, opts)
	if err != nil {
		writeFailure(w, err, requestID)
		return
	}
	if res.Errors == nil {
		res.Errors = []evolution.Violation{}
	}
	writeJSON(w, http.StatusOK, ValidateResponse{Result: res, RequestID: requestID})
}

func (h *MetadataHandler) decode(w http.ResponseWriter, r *http.Request, requestID string) (*metadata.MetaData, evolution.Options, bool) {
	var req MetadataRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err), requestID)
		return nil, evolution.Options{}, false
	}
	if len(req.MetaData) == 0 {
		writeError(w, http.StatusBadRequest, "metadata is required", requestID)
		return nil, evolution.Options{}, false
	}
	md, err := metadata.Parse(req.MetaData)
	if err != nil {
		if rlerrors.GetCode(err) != "" {
			writeFailure(w, err, requestID)
		} else {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid metadata: %v", err), requestID)
		}
		return nil, evolution.Options{}, false
	}
	opts := h.opts
	if req.AllowIndexRebuilds != nil {
		opts.AllowIndexRebuilds = *req.AllowIndexRebuilds
	}
	return md, opts, true
}
