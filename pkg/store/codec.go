package store

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/guido-cesarano/taskqueue/pkg/tasks"
)

// Codec converts task records to and from the backend's value representation.
type Codec interface {
	Marshal(task *tasks.Task) ([]byte, error)
	Unmarshal(data []byte) (*tasks.Task, error)
}

// JSONCodec encodes tasks as JSON. Timestamps keep nanosecond precision (RFC 3339).
//
// Payload numbers are decoded as int64 when the stored literal is an integer that fits,
// float64 otherwise, so integer ids above 2^53 survive a round trip.
type JSONCodec struct{}

func (JSONCodec) Marshal(task *tasks.Task) ([]byte, error) {
	return json.Marshal(task)
}

func (JSONCodec) Unmarshal(data []byte) (*tasks.Task, error) {
	var t tasks.Task
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&t); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if t.ID == "" || !t.Status.Valid() {
		return nil, fmt.Errorf("%w: missing id or unknown status %q", ErrCorruptRecord, t.Status)
	}
	for k, v := range t.Payload {
		t.Payload[k] = normalizeNumbers(v)
	}
	return &t, nil
}

func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
		return v
	}
	return v
}
