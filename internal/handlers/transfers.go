package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/sftpsync/internal/logging"
	"github.com/gluk-w/claworc/sftpsync/internal/transferlog"
)

// ListTransfers returns paginated transfer records.
//
// Query parameters:
//
//	server    - filter by connection key
//	operation - filter by operation (upload, download, delete, list)
//	since     - RFC3339 timestamp, only records after this time
//	until     - RFC3339 timestamp, only records before this time
//	limit     - max records to return (default 50, max 1000)
//	offset    - pagination offset
func (a *API) ListTransfers(w http.ResponseWriter, r *http.Request) {
	if a.Audit == nil {
		writeError(w, http.StatusServiceUnavailable, "Transfer audit not initialized")
		return
	}

	q := r.URL.Query()
	opts := transferlog.QueryOptions{
		ServerKey: q.Get("server"),
		Operation: q.Get("operation"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := a.Audit.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query transfers")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *API) GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := 200
	if q := r.URL.Query().Get("lines"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 {
			lines = n
		}
	}
	content, err := logging.ReadTail(a.LogPath, lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}
