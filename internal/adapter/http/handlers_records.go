package http

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/0ndata/crmbridge/internal/orm"
)

// model resolves the {schema} URL parameter to a tenant-bound model. Unknown
// schema keys read as 404: the record API only serves registered schemas.
func (h *Handlers) model(w http.ResponseWriter, r *http.Request) (*orm.Model, bool) {
	key := urlParam(r, "schema")
	if !h.registry.Has(key) {
		writeError(w, http.StatusNotFound, "unknown schema key")
		return nil, false
	}
	return orm.NewModel(h.client, key, h.tenant(r)), true
}

type recordResponse struct {
	Record orm.Record `json:"record"`
}

type recordListResponse struct {
	Records    []orm.Record `json:"records"`
	HasMore    bool         `json:"hasMore"`
	NextCursor string       `json:"nextCursor,omitempty"`
}

// ListRecords queries a schema's records. Filters arrive as
// filter.<field>.<operator>=<value> query parameters, paging as limit,
// startAfterId, and startAfter, ordering as order and orderDirection.
func (h *Handlers) ListRecords(w http.ResponseWriter, r *http.Request) {
	model, ok := h.model(w, r)
	if !ok {
		return
	}

	q := model.Find()
	params := r.URL.Query()

	if v := params.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		q.Limit(n)
	}
	if field := params.Get("order"); field != "" {
		q.OrderBy(field, params.Get("orderDirection"))
	}
	if id := params.Get("startAfterId"); id != "" {
		q.StartAfter(id, params.Get("startAfter"))
	}
	for key, vals := range params {
		if !strings.HasPrefix(key, "filter.") || len(vals) == 0 {
			continue
		}
		parts := strings.SplitN(key, ".", 3)
		if len(parts) != 3 || parts[1] == "" || parts[2] == "" {
			writeError(w, http.StatusBadRequest, "malformed filter parameter: "+key)
			return
		}
		q.Where(parts[1], orm.Operator(parts[2]), vals[0])
	}

	result, err := q.Execute(r.Context())
	if err != nil {
		writeDomainError(w, err, "records not found")
		return
	}

	writeJSON(w, http.StatusOK, recordListResponse{
		Records:    result.Records,
		HasMore:    result.HasMore,
		NextCursor: result.NextCursor,
	})
}

// CreateRecord creates one record under a schema.
func (h *Handlers) CreateRecord(w http.ResponseWriter, r *http.Request) {
	model, ok := h.model(w, r)
	if !ok {
		return
	}
	data, ok := readJSON[orm.Record](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "record body is required")
		return
	}

	rec, err := model.Create(r.Context(), data)
	if err != nil {
		writeDomainError(w, err, "record not created")
		return
	}
	writeJSON(w, http.StatusCreated, recordResponse{Record: rec})
}

// GetRecord fetches one record by id.
func (h *Handlers) GetRecord(w http.ResponseWriter, r *http.Request) {
	model, ok := h.model(w, r)
	if !ok {
		return
	}

	rec, found, err := model.FindByID(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "record not found")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec})
}

// UpdateRecord applies a partial update to one record.
func (h *Handlers) UpdateRecord(w http.ResponseWriter, r *http.Request) {
	model, ok := h.model(w, r)
	if !ok {
		return
	}
	data, ok := readJSON[orm.Record](w, r, maxBodyBytes)
	if !ok {
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "record body is required")
		return
	}

	rec, err := model.Update(r.Context(), urlParam(r, "id"), data)
	if err != nil {
		writeDomainError(w, err, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, recordResponse{Record: rec})
}

// DeleteRecord removes one record. The response reports whether the upstream
// accepted the deletion.
func (h *Handlers) DeleteRecord(w http.ResponseWriter, r *http.Request) {
	model, ok := h.model(w, r)
	if !ok {
		return
	}

	deleted, err := model.Delete(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "record not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}
