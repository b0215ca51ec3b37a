package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/devblac/peep-indexer/internal/peep"
	"github.com/devblac/peep-indexer/internal/search"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

const maxPageSize = 500

// PeepReader is the read side of storage.
type PeepReader interface {
	GetPeep(ctx context.Context, id string) (peep.Record, bool, error)
	ListPeeps(ctx context.Context, after uint64, limit int) ([]peep.Record, error)
	Counters(ctx context.Context) (peep.Counters, error)
}

// Searcher queries the full-text index.
type Searcher interface {
	Search(query string, limit int) ([]search.Hit, error)
}

// Server serves the read-only peep API.
type Server struct {
	store  PeepReader
	search Searcher
	log    *slog.Logger
}

// New builds the API. searcher may be nil, in which case /search answers 503.
func New(store PeepReader, searcher Searcher, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{store: store, search: searcher, log: log}
}

// Routes returns the chi router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)

	r.Get("/stats", s.getStats)
	r.Route("/peeps", func(r chi.Router) {
		r.Get("/", s.listPeeps)
		r.Get("/{peepID}", s.getPeep)
	})
	r.Get("/search", s.searchPeeps)
	return r
}

// NewHTTPServer wraps Routes in an http.Server; the caller runs ListenAndServe.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 3 * time.Second,
	}
}

func (s *Server) getPeep(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "peepID")
	rec, ok, err := s.store.GetPeep(r.Context(), id)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "peep not found")
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

// listPeeps handles GET /peeps?after=N&limit=M, ordered by number.
func (s *Server) listPeeps(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "after must be a non-negative integer")
			return
		}
		after = n
	}
	limit, ok := parseLimit(q.Get("limit"), 100)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}

	recs, err := s.store.ListPeeps(r.Context(), after, limit)
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	resp := map[string]any{"peeps": recs}
	if len(recs) == limit {
		resp["next"] = recs[len(recs)-1].Number
	}
	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	c, err := s.store.Counters(r.Context())
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, c)
}

func (s *Server) searchPeeps(w http.ResponseWriter, r *http.Request) {
	if s.search == nil {
		respondError(w, http.StatusServiceUnavailable, "search index not configured")
		return
	}
	query := r.URL.Query().Get("q")
	if query == "" {
		respondError(w, http.StatusBadRequest, "q is required")
		return
	}
	limit, ok := parseLimit(r.URL.Query().Get("limit"), 20)
	if !ok {
		respondError(w, http.StatusBadRequest, "limit must be between 1 and 500")
		return
	}
	hits, err := s.search.Search(query, limit)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"hits": hits})
}

func parseLimit(raw string, def int) (int, bool) {
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 || n > maxPageSize {
		return 0, false
	}
	return n, true
}

func (s *Server) internalError(w http.ResponseWriter, r *http.Request, err error) {
	s.log.Error("api request failed", "path", r.URL.Path, "request_id", chimiddleware.GetReqID(r.Context()), "error", err)
	respondError(w, http.StatusInternalServerError, "internal error")
}

func respondJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, code int, msg string) {
	respondJSON(w, code, map[string]string{"error": msg})
}
