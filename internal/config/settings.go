package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"jobloop/internal/errs"
	"jobloop/pkg/logx"
)

// Defaults shared by every command.
const (
	DefaultDriver    = "redis"
	DefaultRedisAddr = "127.0.0.1:6379"
	DefaultRedisDB   = 2
	DefaultQueue     = "default"
	DefaultCount     = 1
	DefaultInterval  = 5 * time.Second
	DefaultSQLite    = "./data/jobloop.db"
)

// Settings are the resolved, typed values commands run with.
type Settings struct {
	Backend   Backend
	Logging   logx.Config
	Worker    Worker
	Scheduler Scheduler
	Metrics   MetricsConfig
}

type Backend struct {
	Driver      string
	Addr        string
	Database    int
	Namespace   string
	Path        string
	BusyTimeout time.Duration
}

type Worker struct {
	Queues   []string
	Count    int
	Interval time.Duration
	Logging  bool
	Verbose  bool
}

type Scheduler struct {
	Interval time.Duration
	Logging  bool
	Verbose  bool
	Location *time.Location
}

// Env looks up a variable; os.Getenv in production.
type Env func(key string) string

// envTrue follows shell conventions: unset, empty, "0" and "false" are false.
func envTrue(env Env, key string) bool {
	v := strings.ToLower(strings.TrimSpace(env(key)))
	return v != "" && v != "0" && v != "false"
}

// Resolve layers defaults, then environment, then file values. cfg may be
// nil when no config file is used. Flags are applied on top by the caller.
func Resolve(cfg *Config, env Env) (Settings, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	if env == nil {
		env = func(string) string { return "" }
	}

	s := Settings{
		Backend: Backend{
			Driver:   DefaultDriver,
			Addr:     DefaultRedisAddr,
			Database: DefaultRedisDB,
			Path:     DefaultSQLite,
		},
		Logging: logx.Config{Level: "info", Console: true},
		Worker: Worker{
			Queues:   []string{DefaultQueue},
			Count:    DefaultCount,
			Interval: DefaultInterval,
		},
		Scheduler: Scheduler{Interval: DefaultInterval, Location: time.Local},
	}

	// Environment.
	if v := strings.TrimSpace(env("REDIS_BACKEND")); v != "" {
		s.Backend.Addr = v
	}
	if v := strings.TrimSpace(env("REDIS_DATABASE")); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return s, errs.Configuration("config", fmt.Errorf("REDIS_DATABASE: %w", err))
		}
		s.Backend.Database = db
	}
	if v := strings.TrimSpace(env("QUEUE")); v != "" {
		s.Worker.Queues = ParseQueues(v)
	}
	if v := strings.TrimSpace(env("COUNT")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return s, errs.Configuration("config", fmt.Errorf("COUNT: %w", err))
		}
		s.Worker.Count = n
	}
	if v := env("INTERVAL"); strings.TrimSpace(v) != "" {
		d, err := ParseInterval("INTERVAL", v, DefaultInterval)
		if err != nil {
			return s, errs.Configuration("config", err)
		}
		s.Worker.Interval = d
		s.Scheduler.Interval = d
	}
	logging := envTrue(env, "LOGGING") || envTrue(env, "VERBOSE") || envTrue(env, "VVERBOSE")
	verbose := envTrue(env, "VVERBOSE")
	s.Worker.Logging, s.Worker.Verbose = logging, verbose
	s.Scheduler.Logging, s.Scheduler.Verbose = logging, verbose

	if err := applyFile(&s, cfg); err != nil {
		return s, errs.Configuration("config", err)
	}
	return s, nil
}

func applyFile(s *Settings, cfg *Config) error {
	b := cfg.Backend
	if b.Driver != "" {
		s.Backend.Driver = strings.ToLower(strings.TrimSpace(b.Driver))
	}
	if b.Addr != "" {
		s.Backend.Addr = b.Addr
	}
	if b.Database != nil {
		s.Backend.Database = *b.Database
	}
	if b.Namespace != "" {
		s.Backend.Namespace = b.Namespace
	}
	if b.Path != "" {
		s.Backend.Path = b.Path
	}
	busy, err := ParseDurationField("backend.busy_timeout", b.BusyTimeout)
	if err != nil {
		return err
	}
	s.Backend.BusyTimeout = busy

	l := cfg.Logging
	if l.Level != "" {
		s.Logging.Level = l.Level
	}
	if l.Console != nil {
		s.Logging.Console = *l.Console
	}
	s.Logging.File = logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path}

	w := cfg.Worker
	if w.Queue != "" {
		s.Worker.Queues = ParseQueues(w.Queue)
	}
	if w.Count != 0 {
		s.Worker.Count = w.Count
	}
	if s.Worker.Interval, err = ParseInterval("worker.interval", w.Interval, s.Worker.Interval); err != nil {
		return err
	}
	if w.Logging != nil {
		s.Worker.Logging = *w.Logging
	}
	if w.Verbose != nil {
		s.Worker.Verbose = *w.Verbose
	}

	sc := cfg.Scheduler
	if s.Scheduler.Interval, err = ParseInterval("scheduler.interval", sc.Interval, s.Scheduler.Interval); err != nil {
		return err
	}
	if sc.Logging != nil {
		s.Scheduler.Logging = *sc.Logging
	}
	if sc.Verbose != nil {
		s.Scheduler.Verbose = *sc.Verbose
	}
	if tz := strings.TrimSpace(sc.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return fmt.Errorf("scheduler.timezone: %w", err)
		}
		s.Scheduler.Location = loc
	}

	s.Metrics = cfg.Metrics
	return s.Validate()
}

// Validate checks values no matter where they came from.
func (s Settings) Validate() error {
	switch s.Backend.Driver {
	case "redis", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("backend.driver: unknown driver %q", s.Backend.Driver)
	}
	if s.Backend.Database < 0 {
		return fmt.Errorf("backend.database must be >= 0")
	}
	if s.Worker.Count < 1 {
		return fmt.Errorf("worker.count must be at least 1, got %d", s.Worker.Count)
	}
	if len(s.Worker.Queues) == 0 {
		return fmt.Errorf("worker.queue must name at least one queue")
	}
	return nil
}

// ParseQueues splits a comma separated queue list, dropping blanks.
func ParseQueues(s string) []string {
	var out []string
	for _, q := range strings.Split(s, ",") {
		if q = strings.TrimSpace(q); q != "" {
			out = append(out, q)
		}
	}
	return out
}
