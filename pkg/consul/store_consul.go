//go:build consul

package consul

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	consulapi "github.com/hashicorp/consul/api"

	"wan-doctor/pkg/model"
)

// Store is a Consul-backed store. Devices, audit entries and settings live in
// Consul KV so controller replicas share the inventory; troubleshoot sessions
// stay local in memory because they die with the wizard that owns them.
type Store struct {
	cli *consulapi.Client

	mu       sync.RWMutex
	sessions map[string]*model.Session
}

const (
	devicePrefix = "wan-doctor/devices/"
	auditPrefix  = "wan-doctor/audit/"
	settingsKey  = "wan-doctor/settings"
)

func NewStore(addr string) *Store {
	cfg := consulapi.DefaultConfig()
	if addr != "" {
		cfg.Address = addr
	}
	cli, _ := consulapi.NewClient(cfg) // ignore error for build; runtime will report
	return &Store{cli: cli, sessions: make(map[string]*model.Session)}
}

func (s *Store) SaveSession(sess *model.Session) error {
	if sess == nil || sess.ID == "" {
		return fmt.Errorf("session id required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess
	return nil
}

func (s *Store) GetSession(id string) (*model.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok, nil
}

func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *Store) ListSessionsByDevice(deviceID string) ([]*model.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*model.Session{}
	for _, sess := range s.sessions {
		if sess.DeviceID == deviceID {
			out = append(out, sess)
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

func (s *Store) UpsertDevice(d model.Device) (model.Device, error) {
	if s.cli == nil {
		return d, fmt.Errorf("consul client not configured")
	}
	if d.ID == "" {
		return model.Device{}, fmt.Errorf("device id required")
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now()
	}
	b, err := json.Marshal(d)
	if err != nil {
		return d, err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: devicePrefix + d.ID, Value: b}, nil)
	return d, err
}

func (s *Store) GetDevice(id string) (model.Device, bool, error) {
	if s.cli == nil {
		return model.Device{}, false, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(devicePrefix+id, nil)
	if err != nil || kv == nil {
		return model.Device{}, false, err
	}
	var d model.Device
	if err := json.Unmarshal(kv.Value, &d); err != nil {
		return model.Device{}, false, err
	}
	return d, true, nil
}

func (s *Store) ListDevices() ([]model.Device, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(devicePrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.Device
	for _, p := range pairs {
		var d model.Device
		if err := json.Unmarshal(p.Value, &d); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *Store) MarkDeviceConnected(id string, connected bool) error {
	d, ok, err := s.GetDevice(id)
	if err != nil {
		return err
	}
	if !ok {
		d = model.Device{ID: id, CreatedAt: time.Now()}
	}
	d.Connected = connected
	d.LastSeen = time.Now()
	_, err = s.UpsertDevice(d)
	return err
}

func (s *Store) AppendAudit(entry model.AuditEntry) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	b, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("%s%d-%s", auditPrefix, entry.Timestamp.UnixNano(), entry.Target)
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: key, Value: b}, nil)
	return err
}

func (s *Store) ListAudit(limit int) ([]model.AuditEntry, error) {
	if s.cli == nil {
		return nil, fmt.Errorf("consul client not configured")
	}
	pairs, _, err := s.cli.KV().List(auditPrefix, nil)
	if err != nil {
		return nil, err
	}
	var out []model.AuditEntry
	for _, p := range pairs {
		var e model.AuditEntry
		if err := json.Unmarshal(p.Value, &e); err == nil {
			out = append(out, e)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (s *Store) GetSettings() (model.Settings, error) {
	if s.cli == nil {
		return model.Settings{}, fmt.Errorf("consul client not configured")
	}
	kv, _, err := s.cli.KV().Get(settingsKey, nil)
	if err != nil {
		return model.Settings{}, err
	}
	var out model.Settings
	if kv != nil {
		if err := json.Unmarshal(kv.Value, &out); err != nil {
			return model.Settings{}, err
		}
	}
	return out, nil
}

func (s *Store) UpdateSettings(settings model.Settings) error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	b, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	_, err = s.cli.KV().Put(&consulapi.KVPair{Key: settingsKey, Value: b}, nil)
	return err
}

func (s *Store) Ping() error {
	if s.cli == nil {
		return fmt.Errorf("consul client not configured")
	}
	_, err := s.cli.Status().Leader()
	return err
}
