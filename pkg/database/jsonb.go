package database

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB scans and writes a postgres jsonb column.
type JSONB[T any] struct {
	Data T
}

func (p *JSONB[T]) Scan(src any) error {
	switch b := src.(type) {
	case []byte:
		return json.Unmarshal(b, &p.Data)
	case string:
		return json.Unmarshal([]byte(b), &p.Data)
	case nil:
		return nil
	}
	return fmt.Errorf("JSONB.Scan: expected []byte, got %T", src)
}

// Value encodes as text; lib/pq would send []byte as bytea.
func (p JSONB[T]) Value() (driver.Value, error) {
	raw, err := json.Marshal(p.Data)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func (p *JSONB[T]) GetValue() T {
	return p.Data
}
