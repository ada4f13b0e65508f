package worker

import (
	"fmt"
	"time"
)

// LogLevel controls the per-job lines a worker writes. It does not affect
// failures, which are always logged.
type LogLevel int

const (
	LogNone LogLevel = iota
	LogNormal
	LogVerbose
)

// LogLevelFrom maps the -l / -v flag pair. Verbose implies logging.
func LogLevelFrom(logging, verbose bool) LogLevel {
	switch {
	case verbose:
		return LogVerbose
	case logging:
		return LogNormal
	default:
		return LogNone
	}
}

func (l LogLevel) String() string {
	switch l {
	case LogNormal:
		return "normal"
	case LogVerbose:
		return "verbose"
	default:
		return "none"
	}
}

// AllQueues makes a worker drain every known queue in alphabetical order.
const AllQueues = "*"

// DefaultInterval is the poll interval when none is configured.
const DefaultInterval = 5 * time.Second

// Spec describes one worker unit.
type Spec struct {
	// Queues in priority order.
	Queues   []string
	Interval time.Duration
	LogLevel LogLevel
	ID       int
}

func (s Spec) validate() error {
	if len(s.Queues) == 0 {
		return fmt.Errorf("no queues to process")
	}
	if s.Interval <= 0 {
		return fmt.Errorf("interval must be positive, got %s", s.Interval)
	}
	return nil
}

func formatInterval(d time.Duration) string {
	return fmt.Sprintf("%gs", d.Seconds())
}
