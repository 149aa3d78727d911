package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// JSONB maps directly onto a Postgres jsonb column. A nil map round-trips
// as SQL NULL.
type JSONB map[string]interface{}

// Value implements driver.Valuer.
func (j JSONB) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner.
func (j *JSONB) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into JSONB", value)
	}

	return json.Unmarshal(bytes, j)
}

// SignalList is a JSONB array of signal objects, used for the
// source_signals column on decision actions.
type SignalList []map[string]interface{}

// Value implements driver.Valuer. A nil list is stored as an empty JSON
// array, not NULL, so consumers can range over it without a null check.
func (s SignalList) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner.
func (s *SignalList) Scan(value interface{}) error {
	if value == nil {
		*s = nil
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("cannot scan %T into SignalList", value)
	}

	return json.Unmarshal(bytes, s)
}
