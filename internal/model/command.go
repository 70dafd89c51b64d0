// internal/model/command.go
package model

import (
	"time"
)

// Flavor selects a command/response dialect
type Flavor string

const (
	FlavorCustom     Flavor = "custom"
	FlavorATCommands Flavor = "at_commands"
	FlavorModbus     Flavor = "modbus"
	FlavorText       Flavor = "text"
	FlavorBinary     Flavor = "binary"
)

// Flavors lists every supported flavor
var Flavors = []Flavor{FlavorCustom, FlavorATCommands, FlavorModbus, FlavorText, FlavorBinary}

// IsValid reports whether f is a known flavor
func (f Flavor) IsValid() bool {
	for _, known := range Flavors {
		if f == known {
			return true
		}
	}
	return false
}

// ResponseStatus classifies a device response
type ResponseStatus string

const (
	StatusSuccess ResponseStatus = "success"
	StatusError   ResponseStatus = "error"
	StatusTimeout ResponseStatus = "timeout"
	StatusInvalid ResponseStatus = "invalid"
	StatusPartial ResponseStatus = "partial"
)

// IsValid reports whether s is a known status
func (s ResponseStatus) IsValid() bool {
	switch s {
	case StatusSuccess, StatusError, StatusTimeout, StatusInvalid, StatusPartial:
		return true
	}
	return false
}

// Command is a command template with its delivery parameters
type Command struct {
	Text             string         `json:"command"`
	Params           map[string]any `json:"parameters,omitempty"`
	Timeout          time.Duration  `json:"timeout"`
	Retries          int            `json:"retries"`
	ExpectedResponse string         `json:"expected_response,omitempty"`
}

// ProtocolResponse is one classified response line
type ProtocolResponse struct {
	Status        ResponseStatus `json:"status"`
	Data          string         `json:"data"`
	Raw           []byte         `json:"raw,omitempty"`
	Timestamp     time.Time      `json:"timestamp"`
	Command       string         `json:"command,omitempty"`
	ErrorMessage  string         `json:"error_message,omitempty"`
	ResponseTime  time.Duration  `json:"response_time"`
	CorrelationID string         `json:"correlation_id,omitempty"`
}

// IsSuccess reports whether the response was classified as success
func (r *ProtocolResponse) IsSuccess() bool {
	return r != nil && r.Status == StatusSuccess
}
