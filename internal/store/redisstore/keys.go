package redisstore

import (
	"strconv"
	"strings"
	"time"
)

// DefaultNamespace matches the resque default so existing workers and
// dashboards see the same keys.
const DefaultNamespace = "resque:"

// Key layout:
//
//	<ns>delayed_queue_schedule   ZSET  unix ts -> ts
//	<ns>delayed:<ts>             LIST  delayed items due at ts
//	<ns>timestamps:<item>        SET   delayed:<ts> keys holding item
//	<ns>queue:<name>             LIST  ready payloads
//	<ns>queues                   SET   known queue names
type keys struct{ ns string }

func (k keys) schedule() string { return k.ns + "delayed_queue_schedule" }

func (k keys) delayed(ts int64) string {
	return k.ns + "delayed:" + strconv.FormatInt(ts, 10)
}

// delayedMember is what the timestamps set stores: the delayed key without
// namespace, as resque-scheduler does.
func delayedMember(ts int64) string { return "delayed:" + strconv.FormatInt(ts, 10) }

func parseDelayedMember(m string) (int64, bool) {
	rest, ok := strings.CutPrefix(m, "delayed:")
	if !ok {
		return 0, false
	}
	ts, err := strconv.ParseInt(rest, 10, 64)
	return ts, err == nil
}

func (k keys) timestamps(item string) string { return k.ns + "timestamps:" + item }

func (k keys) queue(name string) string { return k.ns + "queue:" + name }

func (k keys) queues() string { return k.ns + "queues" }

func unix(t time.Time) int64 { return t.Unix() }
