package models

// Watcher is an address silently copied on outbound correspondence.
type Watcher struct {
	Email    string `json:"email" db:"email"`
	IsActive bool   `json:"is_active" db:"is_active"`
}

// EntityWatcher is a watcher attached to a single business entity. A nil
// Notify means the flag was never set and the watcher is included.
type EntityWatcher struct {
	Email  string `json:"email" db:"email"`
	Notify *bool  `json:"notify,omitempty" db:"notify"`
}

// WatcherSet carries the three overlapping watcher lists.
type WatcherSet struct {
	TenantGlobal []Watcher       `json:"tenant_global"`
	AccountLevel []Watcher       `json:"account_level"`
	EntityLevel  []EntityWatcher `json:"entity_level"`
}
