package job

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"jobloop/internal/errs"
)

// Args is the ordered argument list of a job instance. Values are JSON-like:
// nil, bool, json.Number, string, []any, map[string]any.
type Args []any

// ParseArgs decodes a JSON array. Numbers are kept as json.Number so they
// re-encode byte-for-byte, which the store dedup key relies on.
func ParseArgs(raw string) (Args, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Args{}, nil
	}
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, errs.Configuration("job.args", fmt.Errorf("%w: %v", errs.ErrInvalidArgs, err))
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, errs.Configuration("job.args", fmt.Errorf("%w: trailing data", errs.ErrInvalidArgs))
	}
	arr, ok := v.([]any)
	if !ok {
		return nil, errs.Configuration("job.args", errs.ErrInvalidArgs)
	}
	return Args(arr), nil
}

// Encode returns the canonical JSON encoding. A nil Args encodes as [].
func (a Args) Encode() ([]byte, error) {
	if a == nil {
		a = Args{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode([]any(a)); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (a Args) String() string {
	b, err := a.Encode()
	if err != nil {
		return fmt.Sprintf("%v", []any(a))
	}
	return string(b)
}

// Str returns the i-th argument as a string, or "" when absent.
func (a Args) Str(i int) string {
	if i < 0 || i >= len(a) {
		return ""
	}
	switch v := a[i].(type) {
	case string:
		return v
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}
