package model

// DiagConfig controls the diagnostic probes.
type DiagConfig struct {
	PingTarget    string `json:"pingTarget"`    // external reachability probe, e.g. "8.8.8.8"
	ProbeDomain   string `json:"probeDomain"`   // DNS resolution probe, e.g. "google.com"
	StepTimeout   string `json:"stepTimeout"`   // per-step executor timeout, e.g. "15s"
	DetectTimeout string `json:"detectTimeout"` // initialization detection timeout
}

// SessionConfig controls session retention on the controller.
type SessionConfig struct {
	TTL             string `json:"ttl"`             // how long finished sessions are kept, e.g. "1h"
	CleanupInterval string `json:"cleanupInterval"` // e.g. "5m"
}

// Settings is a bag for global controller settings.
type Settings struct {
	Diag    DiagConfig    `json:"diag"`
	Session SessionConfig `json:"session"`
}
