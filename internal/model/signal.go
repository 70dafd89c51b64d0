// internal/model/signal.go
package model

import "time"

// SignalType is the declared type of a telemetry variable
type SignalType string

const (
	SignalFloat  SignalType = "float"
	SignalInt    SignalType = "int"
	SignalString SignalType = "string"
	SignalBool   SignalType = "bool"
	SignalJSON   SignalType = "json"
)

// SignalResult is the outcome of processing one incoming line
type SignalResult struct {
	Success      bool       `json:"success"`
	SignalName   string     `json:"signal_name,omitempty"`
	VariableName string     `json:"variable_name,omitempty"`
	Value        any        `json:"value,omitempty"`
	SignalType   SignalType `json:"signal_type,omitempty"`
	ErrorMessage string     `json:"error_message,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}
