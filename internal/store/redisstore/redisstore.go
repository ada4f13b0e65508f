// Package redisstore keeps delayed entries and ready queues in Redis using
// the resque-scheduler key layout.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"jobloop/internal/errs"
	"jobloop/internal/job"
	"jobloop/internal/store"
	"jobloop/pkg/logx"
)

// Config selects the server. Addr accepts "host:port" or a redis:// URL.
type Config struct {
	Addr      string
	Database  int
	Namespace string
}

type Option func(*Store)

// WithLogger sets the logger used for dropped payloads.
func WithLogger(l logx.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithNamespace overrides the key prefix. A trailing ':' is added if missing.
func WithNamespace(ns string) Option {
	return func(s *Store) { s.k = keys{ns: normalizeNamespace(ns)} }
}

type Store struct {
	client goredis.UniversalClient
	owned  bool
	k      keys
	log    logx.Logger
}

var _ store.Backend = (*Store)(nil)

// New wraps an existing client. The caller owns the client lifecycle.
func New(client goredis.UniversalClient, opts ...Option) *Store {
	s := &Store{client: client, k: keys{ns: DefaultNamespace}, log: logx.Nop()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Open dials a client from cfg and pings it. Close releases the client.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	ro, err := clientOptions(cfg)
	if err != nil {
		return nil, errs.Configuration("redis.open", err)
	}
	client := goredis.NewClient(ro)
	if cfg.Namespace != "" {
		opts = append([]Option{WithNamespace(cfg.Namespace)}, opts...)
	}
	s := New(client, opts...)
	s.owned = true
	if err := s.Ping(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	return s, nil
}

func clientOptions(cfg Config) (*goredis.Options, error) {
	addr := strings.TrimSpace(cfg.Addr)
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	if strings.Contains(addr, "://") {
		ro, err := goredis.ParseURL(addr)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		if cfg.Database != 0 {
			ro.DB = cfg.Database
		}
		return ro, nil
	}
	if cfg.Database < 0 {
		return nil, fmt.Errorf("invalid redis database %d", cfg.Database)
	}
	return &goredis.Options{Addr: addr, DB: cfg.Database}, nil
}

func normalizeNamespace(ns string) string {
	ns = strings.TrimSpace(ns)
	if ns == "" {
		return DefaultNamespace
	}
	if !strings.HasSuffix(ns, ":") {
		ns += ":"
	}
	return ns
}

func (s *Store) Ping(ctx context.Context) error {
	return errs.Backend("redis.ping", s.client.Ping(ctx).Err())
}

func (s *Store) Close() error {
	if !s.owned {
		return nil
	}
	return s.client.Close()
}

// Insert mirrors resque-scheduler's delayedPush.
func (s *Store) Insert(ctx context.Context, e store.Entry) error {
	e = store.NewEntry(e.RunAt, e.Queue, e.Class, e.Args)
	item, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return errs.Configuration("redis.insert", err)
	}
	ts := unix(e.RunAt)
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.RPush(ctx, s.k.delayed(ts), item)
		p.SAdd(ctx, s.k.timestamps(item), delayedMember(ts))
		p.ZAdd(ctx, s.k.schedule(), goredis.Z{Score: float64(ts), Member: strconv.FormatInt(ts, 10)})
		return nil
	})
	return errs.Backend("redis.insert", err)
}

func (s *Store) RemoveExact(ctx context.Context, e store.Entry) (int, error) {
	item, err := store.EncodeIdentity(e.Queue, e.Class, e.Args)
	if err != nil {
		return 0, errs.Configuration("redis.remove", err)
	}
	ts := unix(store.Ceil(e.RunAt))
	n, err := s.client.LRem(ctx, s.k.delayed(ts), 0, item).Result()
	if err != nil {
		return 0, errs.Backend("redis.remove", err)
	}
	if err := s.client.SRem(ctx, s.k.timestamps(item), delayedMember(ts)).Err(); err != nil {
		return int(n), errs.Backend("redis.remove", err)
	}
	if err := s.cleanupTimestamp(ctx, ts); err != nil {
		return int(n), err
	}
	return int(n), nil
}

// RemoveAll uses the timestamps:<item> index, like resque-scheduler's
// removeDelayed.
func (s *Store) RemoveAll(ctx context.Context, queue, class string, args job.Args) (int, error) {
	item, err := store.EncodeIdentity(queue, class, args)
	if err != nil {
		return 0, errs.Configuration("redis.remove_all", err)
	}
	members, err := s.client.SMembers(ctx, s.k.timestamps(item)).Result()
	if err != nil {
		return 0, errs.Backend("redis.remove_all", err)
	}
	total := 0
	for _, m := range members {
		ts, ok := parseDelayedMember(m)
		if !ok {
			continue
		}
		n, err := s.client.LRem(ctx, s.k.delayed(ts), 0, item).Result()
		if err != nil {
			return total, errs.Backend("redis.remove_all", err)
		}
		total += int(n)
		if err := s.cleanupTimestamp(ctx, ts); err != nil {
			return total, err
		}
	}
	if err := s.client.Del(ctx, s.k.timestamps(item)).Err(); err != nil {
		return total, errs.Backend("redis.remove_all", err)
	}
	return total, nil
}

// cleanupTimestamp drops an emptied delayed list and its schedule member.
// WATCH keeps a concurrent Insert at the same ts from being lost.
func (s *Store) cleanupTimestamp(ctx context.Context, ts int64) error {
	key := s.k.delayed(ts)
	err := s.client.Watch(ctx, func(tx *goredis.Tx) error {
		n, err := tx.LLen(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(p goredis.Pipeliner) error {
			p.Del(ctx, key)
			p.ZRem(ctx, s.k.schedule(), strconv.FormatInt(ts, 10))
			return nil
		})
		return err
	}, key)
	if errors.Is(err, goredis.TxFailedErr) {
		// Someone touched the list; whoever empties it next cleans up.
		return nil
	}
	return errs.Backend("redis.cleanup", err)
}

func (s *Store) nextDueTimestamp(ctx context.Context, now time.Time) (int64, bool, error) {
	res, err := s.client.ZRangeByScore(ctx, s.k.schedule(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(unix(now), 10),
		Count: 1,
	}).Result()
	if err != nil {
		return 0, false, err
	}
	if len(res) == 0 {
		return 0, false, nil
	}
	ts, err := strconv.ParseInt(res[0], 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("bad schedule member %q: %w", res[0], err)
	}
	return ts, true, nil
}

// PopDue drains timestamps in order. LPOP hands each item to exactly one
// caller, so concurrent pollers never duplicate an entry.
func (s *Store) PopDue(ctx context.Context, now time.Time) ([]store.Entry, error) {
	var out []store.Entry
	for {
		if err := ctx.Err(); err != nil {
			return out, err
		}
		ts, ok, err := s.nextDueTimestamp(ctx, now)
		if err != nil {
			return out, errs.Backend("redis.pop_due", err)
		}
		if !ok {
			return out, nil
		}
		key := s.k.delayed(ts)
		for {
			item, err := s.client.LPop(ctx, key).Result()
			if errors.Is(err, goredis.Nil) {
				break
			}
			if err != nil {
				return out, errs.Backend("redis.pop_due", err)
			}
			if err := s.client.SRem(ctx, s.k.timestamps(item), delayedMember(ts)).Err(); err != nil {
				return out, errs.Backend("redis.pop_due", err)
			}
			queue, class, args, err := store.DecodeIdentity(item)
			if err != nil {
				s.log.Warn("delayed item dropped", logx.Int64("ts", ts), logx.String("item", item), logx.Err(err))
				continue
			}
			out = append(out, store.Entry{RunAt: time.Unix(ts, 0).UTC(), Queue: queue, Class: class, Args: args})
		}
		if err := s.cleanupTimestamp(ctx, ts); err != nil {
			return out, err
		}
	}
}

func (s *Store) Pending(ctx context.Context) ([]store.Entry, error) {
	members, err := s.client.ZRange(ctx, s.k.schedule(), 0, -1).Result()
	if err != nil {
		return nil, errs.Backend("redis.pending", err)
	}
	var out []store.Entry
	for _, m := range members {
		ts, err := strconv.ParseInt(m, 10, 64)
		if err != nil {
			continue
		}
		items, err := s.client.LRange(ctx, s.k.delayed(ts), 0, -1).Result()
		if err != nil {
			return out, errs.Backend("redis.pending", err)
		}
		for _, item := range items {
			queue, class, args, err := store.DecodeIdentity(item)
			if err != nil {
				continue
			}
			out = append(out, store.Entry{RunAt: time.Unix(ts, 0).UTC(), Queue: queue, Class: class, Args: args})
		}
	}
	return out, nil
}

// Push mirrors Resque::push: register the queue, then append.
func (s *Store) Push(ctx context.Context, in job.Instance) error {
	if in.Queue == "" {
		in.Queue = job.DefaultQueue
	}
	if in.ID == "" {
		in.ID = job.NewID()
	}
	payload, err := store.EncodeInstance(in)
	if err != nil {
		return errs.Configuration("redis.push", err)
	}
	_, err = s.client.TxPipelined(ctx, func(p goredis.Pipeliner) error {
		p.SAdd(ctx, s.k.queues(), in.Queue)
		p.RPush(ctx, s.k.queue(in.Queue), payload)
		return nil
	})
	return errs.Backend("redis.push", err)
}

func (s *Store) Pop(ctx context.Context, queues []string) (job.Instance, bool, error) {
	for _, q := range queues {
		payload, err := s.client.LPop(ctx, s.k.queue(q)).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return job.Instance{}, false, errs.Backend("redis.pop", err)
		}
		in, err := store.DecodeInstance(q, payload)
		if err != nil {
			s.log.Warn("job payload dropped", logx.String("queue", q), logx.String("payload", payload), logx.Err(err))
			continue
		}
		return in, true, nil
	}
	return job.Instance{}, false, nil
}

func (s *Store) Queues(ctx context.Context) ([]string, error) {
	qs, err := s.client.SMembers(ctx, s.k.queues()).Result()
	if err != nil {
		return nil, errs.Backend("redis.queues", err)
	}
	sort.Strings(qs)
	return qs, nil
}

func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	n, err := s.client.LLen(ctx, s.k.queue(queue)).Result()
	return n, errs.Backend("redis.len", err)
}
