package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/p2plant-ioc/internal/pv"
)

// PVResponse describes one PV and its current sample.
type PVResponse struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	Kind      string     `json:"kind"`
	Access    string     `json:"access"`
	Choices   []string   `json:"choices,omitempty"`
	Display   pv.Display `json:"display"`
	Value     any        `json:"value"`
	Choice    string     `json:"choice,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// PVListResponse is the body of GET /api/v1/pvs.
type PVListResponse struct {
	PVs   []PVResponse `json:"pvs"`
	Count int          `json:"count"`
}

// PutRequest is the body of PUT /api/v1/pvs/{name}.
type PutRequest struct {
	// Value is the new value: a number, a list for vectors, a string for
	// char PVs, and a choice index or choice text for enumerations.
	Value json.RawMessage `json:"value"`
}

// toPVResponse describes v with sample s.
func toPVResponse(v *pv.Variable, s pv.Sample) PVResponse {
	t := v.Type()
	resp := PVResponse{
		Name:      v.Name(),
		Type:      t.String(),
		Kind:      t.Kind.String(),
		Access:    v.Access().String(),
		Choices:   t.Choices,
		Display:   v.Display(),
		Value:     pv.JSONValue(s.Value),
		Timestamp: s.Timestamp,
	}
	if e, ok := s.Value.(pv.Enum); ok {
		resp.Choice = e.Choice()
	}
	return resp
}

// handleListPVs returns every PV sorted by name.
func (s *Server) handleListPVs(w http.ResponseWriter, _ *http.Request) {
	vars := s.service.List()
	out := make([]PVResponse, len(vars))
	for i, v := range vars {
		out[i] = toPVResponse(v, v.Get())
	}
	writeJSON(w, http.StatusOK, PVListResponse{PVs: out, Count: len(out)})
}

// handleGetPV returns a single PV.
func (s *Server) handleGetPV(w http.ResponseWriter, r *http.Request) {
	v, err := s.service.Get(chi.URLParam(r, "name"))
	if err != nil {
		writePVError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPVResponse(v, v.Get()))
}

// handlePutPV writes a PV. The response is sent after the value has been
// published, so a following GET observes it.
func (s *Server) handlePutPV(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req PutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, ErrCodeBadRequest, "request body too large")
			return
		}
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if len(req.Value) == 0 {
		writeBadRequest(w, `"value" is required`)
		return
	}

	raw, err := decodeValue(req.Value)
	if err != nil {
		writeBadRequest(w, "invalid value: "+err.Error())
		return
	}

	sample, err := s.service.Put(r.Context(), name, raw, putSource(r, "http"))
	if err != nil {
		writePVError(w, err)
		return
	}

	v, err := s.service.Get(name)
	if err != nil {
		writePVError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPVResponse(v, sample))
}

// decodeValue decodes a JSON value keeping numbers exact.
func decodeValue(data []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}
