// Package store defines the narrow backend interfaces the scheduler and the
// workers talk to.
//
//   - DelayedStore holds time-ordered, not-yet-due entries.
//   - ReadyQueue holds job instances that can run now.
//
// Adapters live in sub-packages (redisstore, sqlitestore, memstore). The
// backend is the single source of truth: callers never cache what they read.
//
// Dedup: an entry's identity is (queue, class, args); RunAt is not part of it.
// Rescheduling is RemoveAll followed by Insert. The two calls are not atomic,
// so a poller promoting between them, or two reschedulers racing, can leave
// either zero or two entries for an identity until the next reschedule. This
// is best-effort dedup, not a guarantee.
package store

import (
	"context"
	"time"

	"jobloop/internal/job"
)

// Entry is one pending delayed job.
type Entry struct {
	RunAt time.Time
	Queue string
	Class string
	Args  job.Args
}

// NewEntry rounds runAt up to the backend resolution (seconds), so an entry
// never becomes due before the requested time.
func NewEntry(runAt time.Time, queue, class string, args job.Args) Entry {
	if args == nil {
		args = job.Args{}
	}
	return Entry{RunAt: Ceil(runAt), Queue: queue, Class: class, Args: args}
}

// Ceil normalizes a time to the store resolution, rounding partial seconds up.
func Ceil(t time.Time) time.Time {
	sec := t.Unix()
	if t.Nanosecond() > 0 {
		sec++
	}
	return time.Unix(sec, 0).UTC()
}

// Instance converts a due entry into a runnable job instance.
func (e Entry) Instance() job.Instance {
	in := job.NewInstance(e.Class, e.Queue, e.Args)
	in.RunAt = e.RunAt
	return in
}

// DelayedStore is the time-ordered store of scheduled entries.
type DelayedStore interface {
	// Insert adds an entry; the store orders entries by RunAt.
	Insert(ctx context.Context, e Entry) error
	// RemoveExact removes entries matching identity and RunAt. Absent is not an error.
	RemoveExact(ctx context.Context, e Entry) (int, error)
	// RemoveAll removes every entry for the identity, whatever its RunAt.
	RemoveAll(ctx context.Context, queue, class string, args job.Args) (int, error)
	// PopDue removes and returns all entries with RunAt <= now, oldest first.
	// Each entry is returned to at most one caller.
	PopDue(ctx context.Context, now time.Time) ([]Entry, error)
	// Pending lists all entries without removing them, oldest first.
	Pending(ctx context.Context) ([]Entry, error)
}

// ReadyQueue is the set of named FIFO queues workers drain.
type ReadyQueue interface {
	Push(ctx context.Context, in job.Instance) error
	// Pop tries queues in the given order and returns the first instance found.
	// ok is false when every queue is empty.
	Pop(ctx context.Context, queues []string) (in job.Instance, ok bool, err error)
	// Queues lists known queue names, sorted.
	Queues(ctx context.Context) ([]string, error)
	Len(ctx context.Context, queue string) (int64, error)
}

// Backend is what a driver provides.
type Backend interface {
	DelayedStore
	ReadyQueue
	Ping(ctx context.Context) error
	Close() error
}
