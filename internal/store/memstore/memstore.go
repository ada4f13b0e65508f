// Package memstore is an in-process Backend. It backs tests and the
// single-process "run" command when no external backend is configured.
package memstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"jobloop/internal/job"
	"jobloop/internal/store"
)

type delayed struct {
	seq   uint64
	key   string
	entry store.Entry
}

// Store keeps everything behind one mutex.
type Store struct {
	mu      sync.Mutex
	seq     uint64
	delayed []delayed
	queues  map[string][]job.Instance
}

var _ store.Backend = (*Store)(nil)

func New() *Store {
	return &Store{queues: map[string][]job.Instance{}}
}

func (s *Store) Insert(_ context.Context, e store.Entry) error {
	e = store.NewEntry(e.RunAt, e.Queue, e.Class, e.Args)
	key, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.delayed = append(s.delayed, delayed{seq: s.seq, key: key, entry: e})
	sort.SliceStable(s.delayed, func(i, j int) bool {
		a, b := s.delayed[i], s.delayed[j]
		if !a.entry.RunAt.Equal(b.entry.RunAt) {
			return a.entry.RunAt.Before(b.entry.RunAt)
		}
		return a.seq < b.seq
	})
	return nil
}

func (s *Store) remove(match func(delayed) bool) int {
	kept := s.delayed[:0]
	n := 0
	for _, d := range s.delayed {
		if match(d) {
			n++
			continue
		}
		kept = append(kept, d)
	}
	s.delayed = kept
	return n
}

func (s *Store) RemoveExact(_ context.Context, e store.Entry) (int, error) {
	key, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return 0, err
	}
	at := store.Ceil(e.RunAt)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(func(d delayed) bool { return d.key == key && d.entry.RunAt.Equal(at) }), nil
}

func (s *Store) RemoveAll(_ context.Context, queue, class string, args job.Args) (int, error) {
	key, err := store.EncodeIdentity(queue, class, args)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.remove(func(d delayed) bool { return d.key == key }), nil
}

func (s *Store) PopDue(_ context.Context, now time.Time) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for n < len(s.delayed) && !s.delayed[n].entry.RunAt.After(now) {
		n++
	}
	out := make([]store.Entry, 0, n)
	for _, d := range s.delayed[:n] {
		out = append(out, d.entry)
	}
	s.delayed = append(s.delayed[:0], s.delayed[n:]...)
	return out, nil
}

func (s *Store) Pending(context.Context) ([]store.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]store.Entry, 0, len(s.delayed))
	for _, d := range s.delayed {
		out = append(out, d.entry)
	}
	return out, nil
}

func (s *Store) Push(_ context.Context, in job.Instance) error {
	if in.Queue == "" {
		in.Queue = job.DefaultQueue
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[in.Queue] = append(s.queues[in.Queue], in)
	return nil
}

func (s *Store) Pop(_ context.Context, queues []string) (job.Instance, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, q := range queues {
		items := s.queues[q]
		if len(items) == 0 {
			continue
		}
		in := items[0]
		s.queues[q] = items[1:]
		return in, true, nil
	}
	return job.Instance{}, false, nil
}

func (s *Store) Queues(context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.queues))
	for q := range s.queues {
		out = append(out, q)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) Len(_ context.Context, queue string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return int64(len(s.queues[queue])), nil
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }
