package config

// Config is the on-disk shape (JSON, or YAML coerced to JSON). Every field is
// optional; Resolve layers it over env values and defaults.
//
// Example:
//
//	{
//	  "backend":   { "driver": "redis", "addr": "127.0.0.1:6379", "database": 2 },
//	  "logging":   { "level": "info", "console": true },
//	  "worker":    { "queue": "high,default", "count": 4, "interval": "5s", "logging": true },
//	  "scheduler": { "interval": "5s", "timezone": "Europe/Berlin" },
//	  "metrics":   { "enabled": true, "addr": "127.0.0.1:9090" }
//	}
type Config struct {
	Backend   BackendConfig   `json:"backend"`
	Logging   LoggingConfig   `json:"logging"`
	Worker    WorkerConfig    `json:"worker"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Metrics   MetricsConfig   `json:"metrics"`
}

// BackendConfig selects where delayed entries and ready queues live.
//
// Driver values:
//   - "redis": resque-compatible keys (default)
//   - "sqlite": single-host database file
//   - "memory": in-process, lost on exit; only useful with the run command
type BackendConfig struct {
	Driver    string `json:"driver,omitempty"`
	Addr      string `json:"addr,omitempty"`
	Database  *int   `json:"database,omitempty"`
	Namespace string `json:"namespace,omitempty"`
	Path      string `json:"path,omitempty"`
	// BusyTimeout is a Go duration string (sqlite only).
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level,omitempty"`
	Console *bool       `json:"console,omitempty"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// WorkerConfig holds worker defaults. Queue is a comma separated list in
// priority order; "*" means every queue. Interval is a Go duration string or
// a plain number of seconds.
type WorkerConfig struct {
	Queue    string `json:"queue,omitempty"`
	Count    int    `json:"count,omitempty"`
	Interval string `json:"interval,omitempty"`
	Logging  *bool  `json:"logging,omitempty"`
	Verbose  *bool  `json:"verbose,omitempty"`
}

// SchedulerConfig holds scheduler-worker defaults. Timezone applies to
// schedules that do not name their own.
type SchedulerConfig struct {
	Interval string `json:"interval,omitempty"`
	Logging  *bool  `json:"logging,omitempty"`
	Verbose  *bool  `json:"verbose,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr,omitempty"`
}
