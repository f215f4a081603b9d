package storage

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is a JSON document with its write version.
type Record struct {
	Data    json.RawMessage `json:"data"`
	Version uint64          `json:"version,omitempty"`
	Updated time.Time       `json:"updated"`
}

// Encode marshals v into a Record stamped with the current time.
func Encode(v any, version ...uint64) (*Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding record: %w", err)
	}
	rec := &Record{Data: data, Updated: time.Now().UTC()}
	if len(version) > 0 {
		rec.Version = version[0]
	}
	return rec, nil
}

// Decode unmarshals the record data into v.
func (r *Record) Decode(v any) error {
	if r == nil || len(r.Data) == 0 {
		return fmt.Errorf("decoding record: %w", ErrNotFound)
	}
	if err := json.Unmarshal(r.Data, v); err != nil {
		return fmt.Errorf("decoding record: %w", err)
	}
	return nil
}

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Data:    append(json.RawMessage(nil), r.Data...),
		Version: r.Version,
		Updated: r.Updated,
	}
}
