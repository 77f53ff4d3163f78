package schema

import "time"

// Target represents a registered monitored database.
type Target struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Driver    string    `json:"driver"`
	Enabled   bool      `json:"enabled"`
	CreatedAt time.Time `json:"createdAt"`
}

// CreateTarget is the input for registering a monitored database.
type CreateTarget struct {
	Name    string `json:"name"`
	Driver  string `json:"driver" enum:"postgres,mysql"`
	DSN     string `json:"dsn"`
	Enabled bool   `json:"enabled"`
}

// Requirement is one audited aspect of a target's setup.
type Requirement struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// PermissionCheck is one probed capability on the target.
type PermissionCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
}
