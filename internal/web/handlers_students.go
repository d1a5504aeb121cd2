package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/campusops/admin/internal/core"
)

// handleHealth reports liveness and the import limiter state.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"ok":      true,
		"ts":      time.Now().UTC().Format(time.RFC3339Nano),
		"imports": s.service.LimiterStatus(),
	})
}

func (s *Server) handleLastID(w http.ResponseWriter, r *http.Request) {
	last, err := s.service.LastNumericID(r.Context())
	if err != nil {
		s.respondErrorFallback(w, r, err, "Failed to fetch last ID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"last": last})
}

func (s *Server) handleNextID(w http.ResponseWriter, r *http.Request) {
	next, err := s.service.NextNumericID(r.Context())
	if err != nil {
		s.respondErrorFallback(w, r, err, "Failed to fetch next ID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"next": next})
}

// handleLastStringID returns {"last": null} when no id contains a digit.
func (s *Server) handleLastStringID(w http.ResponseWriter, r *http.Request) {
	last, ok, err := s.service.LastPatternID(r.Context())
	if err != nil {
		s.respondErrorFallback(w, r, err, "Failed to fetch last STU string ID")
		return
	}
	var v *string
	if ok {
		v = &last
	}
	writeJSON(w, http.StatusOK, map[string]*string{"last": v})
}

// handleNextStringID accepts ?prefix= and ?pad=. An explicit empty prefix is
// honored; a missing or non-numeric pad means core.DefaultIDPad.
func (s *Server) handleNextStringID(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	prefix := core.DefaultIDPrefix
	if q.Has("prefix") {
		prefix = q.Get("prefix")
	}
	pad := core.DefaultIDPad
	if n, err := strconv.Atoi(strings.TrimSpace(q.Get("pad"))); err == nil {
		pad = max(n, 1)
	}

	next, err := s.service.NextPatternID(r.Context(), prefix, pad)
	if err != nil {
		s.respondErrorFallback(w, r, err, "Failed to compute next STU string ID")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"next": next})
}

func (s *Server) handleListStudents(w http.ResponseWriter, r *http.Request) {
	list, err := s.service.ListStudents(r.Context(), core.ListQuery{
		Search: r.URL.Query().Get("q"),
		Limit:  parseIntParam(r, "limit", core.DefaultListLimit),
		Offset: parseIntParam(r, "offset", 0),
	})
	if err != nil {
		s.respondErrorFallback(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleGetStudent(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetStudent(r.Context(), chi.URLParam(r, "stuid"))
	if err != nil {
		s.respondErrorFallback(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// handleUpdateStudent applies a partial update from a JSON object body.
func (s *Server) handleUpdateStudent(w http.ResponseWriter, r *http.Request) {
	var body map[string]any
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil {
		s.respondError(w, r, fmt.Errorf("%w: %v", core.ErrInvalidBody, err))
		return
	}

	st, err := s.service.UpdateStudent(r.Context(), chi.URLParam(r, "stuid"), body)
	if err != nil {
		s.respondErrorFallback(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) handleDeleteStudent(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteStudent(r.Context(), chi.URLParam(r, "stuid")); err != nil {
		s.respondErrorFallback(w, r, err, "Internal server error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Deleted"})
}
