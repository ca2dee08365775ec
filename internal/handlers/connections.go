package handlers

import (
	"errors"
	"net/http"

	"github.com/gluk-w/claworc/sftpsync/internal/remote"
	"github.com/gluk-w/claworc/sftpsync/internal/sftpconn"
)

func (a *API) ListConnections(w http.ResponseWriter, r *http.Request) {
	statuses := a.Pool.GetConnectionStatus()
	if statuses == nil {
		statuses = []sftpconn.Status{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"connections": statuses})
}

func (a *API) GetConnection(w http.ResponseWriter, r *http.Request) {
	key := remote.Key(pathParam(r, "key"))
	st, ok := a.Pool.ConnectionStatus(key)
	if !ok {
		writeError(w, http.StatusNotFound, "Unknown connection")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) GetConnectionEvents(w http.ResponseWriter, r *http.Request) {
	key := remote.Key(pathParam(r, "key"))
	events := a.Pool.EventHistory(key)
	if events == nil {
		events = []sftpconn.ConnectionEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"key": key, "events": events})
}

func (a *API) CloseConnection(w http.ResponseWriter, r *http.Request) {
	key := remote.Key(pathParam(r, "key"))
	if err := a.Pool.CloseConnection(key); err != nil {
		if errors.Is(err, sftpconn.ErrNotConnected) {
			writeError(w, http.StatusNotFound, "No open connection for key")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) GetQueueStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.Queue.Stats())
}
