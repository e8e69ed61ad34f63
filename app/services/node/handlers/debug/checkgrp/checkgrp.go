// Package checkgrp maintains the group of handlers for health checking.
package checkgrp

import (
	"encoding/json"
	"net/http"
	"os"

	"go.uber.org/zap"
)

// Handlers manages the set of check endpoints.
type Handlers struct {
	Build string
	Log   *zap.SugaredLogger
}

// Readiness checks if the node is ready to take traffic.
func (h Handlers) Readiness(w http.ResponseWriter, r *http.Request) {
	status := struct {
		Status string `json:"status"`
	}{
		Status: "OK",
	}

	h.respond(w, status)
}

// Liveness returns simple status info about the running process.
func (h Handlers) Liveness(w http.ResponseWriter, r *http.Request) {
	host, err := os.Hostname()
	if err != nil {
		host = "unavailable"
	}

	status := struct {
		Status string `json:"status"`
		Build  string `json:"build"`
		Host   string `json:"host"`
	}{
		Status: "up",
		Build:  h.Build,
		Host:   host,
	}

	h.respond(w, status)
}

func (h Handlers) respond(w http.ResponseWriter, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		h.Log.Errorw("checkgrp", "ERROR", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(jsonData)
}
