package handlers

import "net/http"

func (a *API) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disabled"
	if a.DB != nil {
		dbStatus = "disconnected"
		if sqlDB, err := a.DB.DB(); err == nil {
			if err := sqlDB.PingContext(r.Context()); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus == "disconnected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"database":    dbStatus,
		"connections": len(a.Pool.GetConnectionStatus()),
		"queue":       a.Queue.Stats(),
	})
}
