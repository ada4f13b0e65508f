package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"jobloop/internal/job"
)

// Payloads follow the php-resque / resque-scheduler JSON shapes so queues can
// be shared with other resque clients:
//
//	delayed item: {"class":"Ping","args":[[...]],"queue":"default"}
//	ready item:   {"class":"Ping","args":[[...]],"id":"<hex>"}
//
// The job's argument list is wrapped in a one-element array.

type delayedItem struct {
	Class string `json:"class"`
	Args  []any  `json:"args"`
	Queue string `json:"queue"`
}

type readyItem struct {
	Class string `json:"class"`
	Args  []any  `json:"args"`
	ID    string `json:"id"`
}

func marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func wrapArgs(args job.Args) []any {
	if args == nil {
		args = job.Args{}
	}
	return []any{[]any(args)}
}

func unwrapArgs(raw []any) job.Args {
	if len(raw) == 0 {
		return job.Args{}
	}
	switch v := raw[0].(type) {
	case []any:
		return job.Args(v)
	case nil:
		return job.Args{}
	default:
		// Other resque clients pass a single hash; keep it as the only argument.
		return job.Args{v}
	}
}

func decode(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(v)
}

// EncodeIdentity returns the canonical delayed-item encoding of an identity.
// Equal identities always encode to equal bytes, so it doubles as dedup key.
func EncodeIdentity(queue, class string, args job.Args) (string, error) {
	b, err := marshal(delayedItem{Class: class, Args: wrapArgs(args), Queue: queue})
	if err != nil {
		return "", fmt.Errorf("encode delayed item: %w", err)
	}
	return string(b), nil
}

// DecodeIdentity is the inverse of EncodeIdentity.
func DecodeIdentity(data string) (queue, class string, args job.Args, err error) {
	var it delayedItem
	if err := decode([]byte(data), &it); err != nil {
		return "", "", nil, fmt.Errorf("decode delayed item: %w", err)
	}
	if it.Class == "" {
		return "", "", nil, fmt.Errorf("decode delayed item: missing class")
	}
	return it.Queue, it.Class, unwrapArgs(it.Args), nil
}

// EncodeInstance returns the ready-queue encoding of a job instance.
func EncodeInstance(in job.Instance) (string, error) {
	b, err := marshal(readyItem{Class: in.Class, Args: wrapArgs(in.Args), ID: in.ID})
	if err != nil {
		return "", fmt.Errorf("encode job: %w", err)
	}
	return string(b), nil
}

// DecodeInstance parses a ready-queue payload popped from queue.
func DecodeInstance(queue, data string) (job.Instance, error) {
	var it readyItem
	if err := decode([]byte(data), &it); err != nil {
		return job.Instance{}, fmt.Errorf("decode job: %w", err)
	}
	if it.Class == "" {
		return job.Instance{}, fmt.Errorf("decode job: missing class")
	}
	return job.Instance{ID: it.ID, Class: it.Class, Queue: queue, Args: unwrapArgs(it.Args)}, nil
}
