package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"wan-doctor/pkg/troubleshoot"
)

// RegisterTroubleshootRoutes wires the wizard endpoints. Every mutating
// endpoint maps to exactly one external wizard event; the wizard itself
// rejects events that are invalid in its current state.
func RegisterTroubleshootRoutes(mux *http.ServeMux, svc *troubleshoot.Service, requireJWT bool) {
	authz := authFunc(requireJWT)

	mux.HandleFunc("/api/v1/troubleshoot/start", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			DeviceID string `json:"deviceId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.DeviceID == "" {
			http.Error(w, "deviceId is required", http.StatusBadRequest)
			return
		}
		sess, err := svc.Start(req.DeviceID, actorFrom(r))
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	})

	mux.HandleFunc("/api/v1/troubleshoot/session", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		status, err := svc.Get(id)
		if err != nil {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, status)
	})

	sessionEvent := func(op func(sessionID, actor string) error) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if !authz(r) {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			if r.Method != http.MethodPost {
				http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
				return
			}
			var req struct {
				SessionID string `json:"sessionId"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.SessionID == "" {
				http.Error(w, "sessionId is required", http.StatusBadRequest)
				return
			}
			if err := op(req.SessionID, actorFrom(r)); err != nil {
				writeOpError(w, err)
				return
			}
			status, err := svc.Get(req.SessionID)
			if err != nil {
				writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
				return
			}
			writeJSON(w, http.StatusOK, status)
		}
	}

	mux.HandleFunc("/api/v1/troubleshoot/apply-fix", sessionEvent(svc.ApplyFix))
	mux.HandleFunc("/api/v1/troubleshoot/skip-fix", sessionEvent(svc.SkipFix))
	mux.HandleFunc("/api/v1/troubleshoot/cancel", sessionEvent(svc.Cancel))
	mux.HandleFunc("/api/v1/troubleshoot/restart", sessionEvent(svc.Restart))

	mux.HandleFunc("/api/v1/troubleshoot/summary", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := r.URL.Query().Get("id")
		if id == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		summary, err := svc.Summary(id)
		if err != nil {
			writeOpError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})

	mux.HandleFunc("/api/v1/troubleshoot/history", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		deviceID := r.URL.Query().Get("deviceId")
		if deviceID == "" {
			http.Error(w, "deviceId is required", http.StatusBadRequest)
			return
		}
		sessions, err := svc.History(deviceID)
		if err != nil {
			http.Error(w, "failed to list sessions", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, sessions)
	})
}

// writeOpError maps service errors onto HTTP statuses: invalid wizard events
// are a caller problem (409), unknown sessions are 404, the rest are 500.
func writeOpError(w http.ResponseWriter, err error) {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "invalid transition"):
		http.Error(w, msg, http.StatusConflict)
	case strings.Contains(msg, "not found"), strings.Contains(msg, "no longer active"):
		http.Error(w, msg, http.StatusNotFound)
	case strings.Contains(msg, "not connected"):
		http.Error(w, msg, http.StatusServiceUnavailable)
	case strings.Contains(msg, "has not completed"), strings.Contains(msg, "no fix available"):
		http.Error(w, msg, http.StatusConflict)
	default:
		http.Error(w, msg, http.StatusInternalServerError)
	}
}
