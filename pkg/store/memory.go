package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"wan-doctor/pkg/model"
)

const (
	defaultSessionTTL      = time.Hour
	defaultCleanupInterval = 5 * time.Minute
)

// MemoryStore is the in-memory implementation. Sessions only ever live here;
// a janitor loop prunes finished sessions after their retention TTL.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*model.Session
	devices  map[string]model.Device
	audit    []model.AuditEntry
	settings model.Settings
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*model.Session),
		devices:  make(map[string]model.Device),
		settings: model.Settings{
			Diag: model.DiagConfig{
				PingTarget:    "8.8.8.8",
				ProbeDomain:   "google.com",
				StepTimeout:   "15s",
				DetectTimeout: "10s",
			},
			Session: model.SessionConfig{
				TTL:             "1h",
				CleanupInterval: "5m",
			},
		},
	}
}

func (m *MemoryStore) SaveSession(s *model.Session) error {
	if s == nil || s.ID == "" {
		return fmt.Errorf("session id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	return nil
}

func (m *MemoryStore) GetSession(id string) (*model.Session, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok, nil
}

func (m *MemoryStore) DeleteSession(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemoryStore) ListSessionsByDevice(deviceID string) ([]*model.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*model.Session{}
	for _, s := range m.sessions {
		if s.DeviceID == deviceID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		ti, tj := out[i].StartedAt, out[j].StartedAt
		if ti == nil || tj == nil {
			return tj == nil
		}
		return ti.Before(*tj)
	})
	return out, nil
}

func (m *MemoryStore) UpsertDevice(d model.Device) (model.Device, error) {
	if d.ID == "" {
		return model.Device{}, fmt.Errorf("device id required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.devices[d.ID]; ok {
		if d.CreatedAt.IsZero() {
			d.CreatedAt = prev.CreatedAt
		}
	} else if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	m.devices[d.ID] = d
	return d, nil
}

func (m *MemoryStore) GetDevice(id string) (model.Device, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[id]
	return d, ok, nil
}

func (m *MemoryStore) ListDevices() ([]model.Device, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Device, 0, len(m.devices))
	for _, d := range m.devices {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *MemoryStore) MarkDeviceConnected(id string, connected bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[id]
	if !ok {
		d = model.Device{ID: id, CreatedAt: time.Now()}
	}
	d.Connected = connected
	d.LastSeen = time.Now()
	m.devices[id] = d
	return nil
}

func (m *MemoryStore) AppendAudit(entry model.AuditEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	m.audit = append(m.audit, entry)
	return nil
}

func (m *MemoryStore) ListAudit(limit int) ([]model.AuditEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if limit <= 0 || limit > len(m.audit) {
		limit = len(m.audit)
	}
	out := make([]model.AuditEntry, 0, limit)
	start := len(m.audit) - limit
	for i := start; i < len(m.audit); i++ {
		out = append(out, m.audit[i])
	}
	return out, nil
}

func (m *MemoryStore) GetSettings() (model.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings, nil
}

func (m *MemoryStore) UpdateSettings(s model.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = s
	return nil
}

// Ping reports readiness for health/info endpoints.
func (m *MemoryStore) Ping() error { return nil }

// StartCleanup runs the session janitor until ctx is cancelled. Finished
// sessions older than the retention TTL are dropped; active sessions are
// never touched.
func (m *MemoryStore) StartCleanup(ctx context.Context) {
	ttl, interval := m.retention()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.pruneExpired(time.Now().Add(-ttl))
		}
	}
}

func (m *MemoryStore) retention() (ttl, interval time.Duration) {
	m.mu.RLock()
	cfg := m.settings.Session
	m.mu.RUnlock()
	ttl, interval = defaultSessionTTL, defaultCleanupInterval
	if d, err := time.ParseDuration(cfg.TTL); err == nil && d > 0 {
		ttl = d
	}
	if d, err := time.ParseDuration(cfg.CleanupInterval); err == nil && d > 0 {
		interval = d
	}
	return ttl, interval
}

func (m *MemoryStore) pruneExpired(cutoff time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if !finished(s.Status) {
			continue
		}
		if s.CompletedAt != nil && s.CompletedAt.Before(cutoff) {
			delete(m.sessions, id)
		}
	}
}

func finished(st model.SessionStatus) bool {
	switch st {
	case model.SessionStatusCompleted, model.SessionStatusCancelled, model.SessionStatusFailed:
		return true
	}
	return false
}
