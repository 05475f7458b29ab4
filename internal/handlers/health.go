package handlers

import (
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

const serviceName = "alloy-transformation-engine"
const serviceVersion = "1.0.0"

// HealthCheck reports service liveness including database reachability.
func HealthCheck(db *sql.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			json.NewEncoder(w).Encode(map[string]string{
				"status": "degraded",
				"error":  "database unreachable",
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]string{
			"status":    "ok",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Root serves the service banner.
func Root(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"name":    serviceName,
		"version": serviceVersion,
		"status":  "running",
	})
}
