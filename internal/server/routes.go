package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/motifcore/internal/ledger"
	"github.com/roach88/motifcore/internal/store"
)

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	short, long := s.engine.Memory().ExportState()
	g := s.engine.Gate()

	writeJSON(w, http.StatusOK, map[string]any{
		"short_term": short,
		"long_term":  long,
		"feedback":   s.engine.Feedback().Snapshot(),
		"gate": map[string]any{
			"in_flight":            g.InFlight(),
			"max_parallel":         g.MaxParallel(),
			"backoff":              g.Backoff(),
			"consecutive_failures": g.ConsecutiveFailures(),
		},
	})
}

func (s *Server) handleHistogram(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.engine.Ledger().ExportHistogram())
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	hash := chi.URLParam(r, "hash")

	rec, annotation, err := s.engine.Ledger().Replay(r.Context(), hash)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "tick "+hash+" not found")
		return
	case errors.Is(err, ledger.ErrCorrupt):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"record":     rec,
		"annotation": annotation,
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	corrupt, err := s.engine.Ledger().VerifyAll(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      len(corrupt) == 0,
		"corrupt": corrupt,
	})
}
