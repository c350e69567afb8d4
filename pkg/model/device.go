package model

import "time"

// Device is a managed CPE device registered with the controller.
type Device struct {
	ID        string    `json:"id"`
	Name      string    `json:"name,omitempty"`
	Platform  string    `json:"platform,omitempty"` // e.g. linux-cpe
	Connected bool      `json:"connected"`
	LastSeen  time.Time `json:"lastSeen,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// NetworkConfig is what initialization detects before the first step runs.
type NetworkConfig struct {
	WanInterface string   `json:"wanInterface"`
	Gateway      string   `json:"gateway"`
	ISPInfo      *ISPInfo `json:"ispInfo,omitempty"`
}

// ISPInfo carries best-effort upstream provider info for the contact-ISP path.
type ISPInfo struct {
	Name  string `json:"name"`
	Phone string `json:"phone,omitempty"`
	URL   string `json:"url,omitempty"`
}
