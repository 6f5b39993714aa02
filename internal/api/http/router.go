package http

import (
	"net/http"

	"github.com/arkilian/recordlayer/internal/evolution"
	"github.com/arkilian/recordlayer/internal/manifest"
	"github.com/arkilian/recordlayer/internal/observability"
	"github.com/arkilian/recordlayer/internal/query/executor"
	"github.com/arkilian/recordlayer/internal/recordstore"
	"github.com/arkilian/recordlayer/internal/statistics"
)

// Services are the components the API serves.
type Services struct {
	Store      *recordstore.Store
	Executor   *executor.Executor
	Statistics *statistics.Manager
	Catalog    manifest.Catalog

	// Evolution is the default validation policy for adoptions.
	Evolution evolution.Options

	Collect CollectDefaults
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	Status          string `json:"status"`
	Service         string `json:"service"`
	MetadataVersion int    `json:"metadata_version"`
}

// MetricsResponse is returned by GET /v1/metrics.
type MetricsResponse struct {
	Planner       observability.PlannerSnapshot    `json:"planner"`
	Statistics    observability.StatisticsSnapshot `json:"statistics"`
	TopPredicates []observability.FieldStats       `json:"top_predicates"`
	TopOverlaps   []observability.FieldStats       `json:"top_overlaps"`
}

// NewRouter mounts every endpoint on a mux. wrap is applied to the /v1
// endpoints; /health is served unwrapped.
func NewRouter(s Services, wrap func(http.Handler) http.Handler) http.Handler {
	if wrap == nil {
		wrap = func(h http.Handler) http.Handler { return h }
	}
	md := NewMetadataHandler(s.Catalog, s.Store, s.Evolution)

	mux := http.NewServeMux()
	mux.Handle("/v1/plan", wrap(NewPlanHandler(s.Executor)))
	mux.Handle("/v1/query", wrap(NewQueryHandler(s.Executor)))
	mux.Handle("/v1/records", wrap(NewRecordsHandler(s.Store)))
	mux.Handle("/v1/statistics", wrap(NewStatisticsHandler(s.Store, s.Statistics, s.Collect)))
	mux.Handle("/v1/metadata", wrap(md))
	mux.Handle("/v1/metadata/validate", wrap(http.HandlerFunc(md.Validate)))
	mux.Handle("/v1/metrics", wrap(metricsHandler(s)))
	mux.HandleFunc("/health", healthHandler(s.Store))
	return mux
}

func healthHandler(store *recordstore.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "healthy", Service: "recordlayer"}
		if md := store.MetaData(); md != nil {
			resp.MetadataVersion = md.Version()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func metricsHandler(s Services) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
			return
		}
		p := s.Executor.Planner()
		resp := MetricsResponse{
			Planner:       p.Metrics().Snapshot(),
			TopPredicates: p.QueryStats().GetTopPredicates(10),
			TopOverlaps:   p.QueryStats().GetTopOverlaps(10),
		}
		if s.Statistics != nil {
			resp.Statistics = s.Statistics.Metrics().Snapshot()
		}
		writeJSON(w, http.StatusOK, resp)
	}
}
