package store

import "wan-doctor/pkg/model"

// Store defines the persistence layer for the controller. Sessions are always
// kept in memory (a controller restart drops in-flight runs on purpose);
// devices, audit and settings can be backed by Consul KV.
type Store interface {
	SaveSession(*model.Session) error
	GetSession(id string) (*model.Session, bool, error)
	DeleteSession(id string) error
	ListSessionsByDevice(deviceID string) ([]*model.Session, error)

	UpsertDevice(model.Device) (model.Device, error)
	GetDevice(id string) (model.Device, bool, error)
	ListDevices() ([]model.Device, error)
	MarkDeviceConnected(id string, connected bool) error

	AppendAudit(model.AuditEntry) error
	ListAudit(limit int) ([]model.AuditEntry, error)

	GetSettings() (model.Settings, error)
	UpdateSettings(model.Settings) error

	Ping() error
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}
