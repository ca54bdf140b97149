package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/p2plant-ioc/internal/audit"
)

// handleListPuts returns recorded writes, newest first.
//
// Query parameters: pv, source (prefix), outcome, limit, offset.
func (s *Server) handleListPuts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := audit.Filter{
		PV:      q.Get("pv"),
		Source:  q.Get("source"),
		Outcome: q.Get("outcome"),
	}

	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeBadRequest(w, "invalid limit")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeBadRequest(w, "invalid offset")
		return
	}

	res, err := s.putLog.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing put log failed", "error", err)
		writeInternalError(w, "failed to list writes")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// intParam parses an optional non-negative integer query parameter.
func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, strconv.ErrSyntax
	}
	return n, nil
}
