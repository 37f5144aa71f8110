package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPHandler returns the observability endpoints of a node.
//
//	GET /healthz                         liveness
//	GET /metrics                         prometheus metrics
//	GET /api/v1/status                   databases, replicas and the reclaim queue
//	GET /api/v1/databases/{db}/tables    tables and dictionaries of one database
func HTTPHandler(s *Server) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/api/v1/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, s.Status())
	})
	r.Get("/api/v1/databases/{db}/tables", listDatabaseTables(s))

	return r
}

func listDatabaseTables(s *Server) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "db")
		db, err := s.Catalog.GetDatabase(name)
		if err != nil {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"database":     name,
			"engine":       db.Variant().String(),
			"tables":       db.TableNames(),
			"dictionaries": db.DictionaryNames(),
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
