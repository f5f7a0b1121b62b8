package client

import "time"

// Service mirrors the management API's service representation.
type Service struct {
	ID                  string            `json:"id,omitempty"`
	Name                string            `json:"name"`
	EntryPoint          string            `json:"entryPoint"`
	WorkingDir          string            `json:"workingDir"`
	Args                []string          `json:"args,omitempty"`
	Env                 map[string]string `json:"env,omitempty"`
	ProxyPath           string            `json:"proxyPath"`
	RateLimit           int               `json:"rateLimit,omitempty"`
	CacheTTL            int               `json:"cacheTTL,omitempty"`
	CacheDisabled       bool              `json:"cacheDisabled,omitempty"`
	Timeout             int64             `json:"timeout,omitempty"`
	AutoRestart         bool              `json:"autoRestart,omitempty"`
	MaxRestarts         int               `json:"maxRestarts,omitempty"`
	HealthCheckInterval int               `json:"healthCheckInterval,omitempty"`
	DesiredStatus       string            `json:"desiredStatus,omitempty"`
	LastStatus          string            `json:"lastStatus,omitempty"`
	LastError           string            `json:"lastError,omitempty"`
	CreatedAt           time.Time         `json:"createdAt,omitempty"`
	UpdatedAt           time.Time         `json:"updatedAt,omitempty"`

	Runtime *Runtime `json:"runtime,omitempty"`
}

// Runtime is the live supervisor snapshot attached by the server.
type Runtime struct {
	State                string    `json:"state"`
	PID                  int       `json:"pid"`
	StartedAt            time.Time `json:"startedAt"`
	Restarts             int       `json:"restarts"`
	LastError            string    `json:"lastError,omitempty"`
	DroppedNotifications uint64    `json:"droppedNotifications"`
}

// APIKey is the management view of an issued key; the secret appears only in
// CreatedKey.
type APIKey struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Active    bool       `json:"active"`
	LastUsed  *time.Time `json:"lastUsed,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// CreatedKey carries the one-time plaintext secret.
type CreatedKey struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Key  string `json:"key"`
}

// LogEntry is one ring-buffered child output line.
type LogEntry struct {
	Time   time.Time `json:"time"`
	Stream string    `json:"stream"`
	Text   string    `json:"text"`
}

// Health is the server liveness summary.
type Health struct {
	Status   string `json:"status"`
	Services struct {
		Total   int `json:"total"`
		Running int `json:"running"`
		Stopped int `json:"stopped"`
	} `json:"services"`
}
