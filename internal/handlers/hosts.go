package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/claworc/sftpsync/internal/hosttrust"
	"github.com/gluk-w/claworc/sftpsync/internal/transfer"
)

// trustTimeout bounds the throwaway connection made to capture a host key.
var trustTimeout = 60 * time.Second

func (a *API) ListTrustedHosts(w http.ResponseWriter, r *http.Request) {
	entries := a.Trust.ListEntries()
	if entries == nil {
		entries = []hosttrust.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"entries": entries})
}

// TrustHost connects to the named server and trusts whatever host key it
// presents.
func (a *API) TrustHost(w http.ResponseWriter, r *http.Request) {
	name := pathParam(r, "server")
	for _, srv := range a.Servers {
		if srv.Name != name {
			continue
		}
		ctx, cancel := context.WithTimeout(r.Context(), trustTimeout)
		defer cancel()
		fp, err := a.Pool.TrustHostKeyNow(ctx, srv)
		if err != nil {
			writeError(w, http.StatusBadGateway, transfer.Describe(err))
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"server":      srv.Name,
			"host":        srv.Host,
			"port":        strconv.Itoa(srv.EffectivePort()),
			"fingerprint": fp,
		})
		return
	}
	writeError(w, http.StatusNotFound, "Unknown server")
}

func (a *API) UntrustHost(w http.ResponseWriter, r *http.Request) {
	host := pathParam(r, "host")
	port, err := strconv.Atoi(pathParam(r, "port"))
	if err != nil || port < 1 || port > 65535 {
		writeError(w, http.StatusBadRequest, "Invalid port")
		return
	}
	removed, err := a.Trust.RemoveTrust(host, port)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update trust store")
		return
	}
	if !removed {
		writeError(w, http.StatusNotFound, "Host is not trusted")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
