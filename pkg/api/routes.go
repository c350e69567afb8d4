package api

import (
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"wan-doctor/pkg/auth"
	"wan-doctor/pkg/model"
	"wan-doctor/pkg/store"
)

// RegisterRoutes wires the device inventory, audit and settings handlers on
// the provided mux.
func RegisterRoutes(mux *http.ServeMux, st store.Store, requireJWT bool) {
	authz := authFunc(requireJWT)

	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("wan-doctor controller"))
	})

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if err := st.Ping(); err != nil {
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	mux.HandleFunc("/api/v1/devices", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if id := r.URL.Query().Get("id"); id != "" {
			d, ok, err := st.GetDevice(id)
			if err != nil {
				http.Error(w, "failed to get device", http.StatusInternalServerError)
				return
			}
			if !ok {
				http.Error(w, "device not found", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, d)
			return
		}
		devices, err := st.ListDevices()
		if err != nil {
			http.Error(w, "failed to list devices", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, devices)
	})

	mux.HandleFunc("/api/v1/devices/register", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			ID       string `json:"id"`
			Name     string `json:"name"`
			Platform string `json:"platform"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid payload", http.StatusBadRequest)
			return
		}
		if req.ID == "" {
			http.Error(w, "id is required", http.StatusBadRequest)
			return
		}
		saved, err := st.UpsertDevice(model.Device{ID: req.ID, Name: req.Name, Platform: req.Platform})
		if err != nil {
			http.Error(w, "failed to persist device", http.StatusInternalServerError)
			return
		}
		_ = st.AppendAudit(model.AuditEntry{
			Actor:     actorFrom(r),
			Action:    "device.register",
			Target:    saved.ID,
			Timestamp: time.Now(),
		})
		log.Printf("registered device %s platform=%s", saved.ID, saved.Platform)
		writeJSON(w, http.StatusOK, saved)
	})

	mux.HandleFunc("/api/v1/audit", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		entries, err := st.ListAudit(50)
		if err != nil {
			http.Error(w, "failed to list audit", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, entries)
	})

	mux.HandleFunc("/api/v1/settings", func(w http.ResponseWriter, r *http.Request) {
		if !authz(r) {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		switch r.Method {
		case http.MethodGet:
			settings, err := st.GetSettings()
			if err != nil {
				http.Error(w, "failed to get settings", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, settings)
		case http.MethodPut, http.MethodPost:
			var settings model.Settings
			if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
				http.Error(w, "invalid payload", http.StatusBadRequest)
				return
			}
			if err := st.UpdateSettings(settings); err != nil {
				http.Error(w, "failed to update settings", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, settings)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to write response: %v", err)
	}
}

// authFunc returns the request authorizer. With JWT disabled (dev mode)
// everything is allowed.
func authFunc(requireJWT bool) func(r *http.Request) bool {
	if !requireJWT {
		return func(_ *http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		h := r.Header.Get("Authorization")
		if !strings.HasPrefix(h, "Bearer ") {
			return false
		}
		_, err := auth.Parse(strings.TrimPrefix(h, "Bearer "))
		return err == nil
	}
}

// actorFrom extracts the authenticated username for audit entries.
func actorFrom(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		if claims, err := auth.Parse(strings.TrimPrefix(h, "Bearer ")); err == nil {
			return claims.Username
		}
	}
	return "api"
}
