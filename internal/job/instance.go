package job

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Instance is one job type bound to a queue and arguments. It is created per
// execution or per schedule cycle and only lives as a backend payload.
type Instance struct {
	ID    string
	Class string
	Queue string
	Args  Args
	// RunAt is set for instances that came out of the delayed store.
	RunAt time.Time
}

// NewInstance returns an instance with a fresh id. Empty queue means DefaultQueue.
func NewInstance(class, queue string, args Args) Instance {
	if queue == "" {
		queue = DefaultQueue
	}
	if args == nil {
		args = Args{}
	}
	return Instance{
		ID:    NewID(),
		Class: class,
		Queue: queue,
		Args:  args,
	}
}

// NewID returns a resque-style job id (32 hex chars).
func NewID() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}
