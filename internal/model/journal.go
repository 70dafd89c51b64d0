// internal/model/journal.go
package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONObject is stored as a JSON document
type JSONObject map[string]any

func (j *JSONObject) Scan(value any) error {
	if value == nil {
		*j = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
	return json.Unmarshal(raw, j)
}

func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return nil, nil
	}
	b, err := json.Marshal(j)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// CommandRecord is one journaled command round trip
type CommandRecord struct {
	ID             uuid.UUID      `json:"id" db:"id"`
	Port           string         `json:"port" db:"port"`
	Command        string         `json:"command" db:"command"`
	Response       string         `json:"response" db:"response"`
	Status         ResponseStatus `json:"status" db:"status"`
	ErrorMessage   *string        `json:"error_message,omitempty" db:"error_message"`
	ResponseTimeMs int64          `json:"response_time_ms" db:"response_time_ms"`
	CorrelationID  string         `json:"correlation_id" db:"correlation_id"`
	Metadata       JSONObject     `json:"metadata,omitempty" db:"metadata"`
	CreatedAt      time.Time      `json:"created_at" db:"created_at"`
}

// JournalFilter narrows a journal listing
type JournalFilter struct {
	Port   string
	Status ResponseStatus
	Since  *time.Time
	Limit  int
	Offset int
}
