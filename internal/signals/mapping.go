// internal/signals/mapping.go
package signals

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"

	"serial-service/internal/model"
)

// Mapping binds a telemetry signal to a variable of a declared type
type Mapping struct {
	Signal   string           `json:"signal"`
	Variable string           `json:"variable"`
	Type     model.SignalType `json:"type"`
}

// ParseMapping parses the "variable (type)" form used in configuration
func ParseMapping(signal, definition string) (Mapping, error) {
	if !validSignalName(signal) {
		return Mapping{}, fmt.Errorf("%w: %q", ErrInvalidSignalName, signal)
	}

	definition = strings.TrimSpace(definition)
	open := strings.Index(definition, "(")
	if open < 0 || !strings.HasSuffix(definition, ")") {
		return Mapping{}, fmt.Errorf("%w: %q", ErrInvalidMapping, definition)
	}

	variable := strings.TrimSpace(definition[:open])
	typ := model.SignalType(strings.TrimSpace(definition[open+1 : len(definition)-1]))

	if !validVariableName(variable) {
		return Mapping{}, fmt.Errorf("%w: bad variable name %q", ErrInvalidMapping, variable)
	}
	if !knownType(typ) {
		return Mapping{}, fmt.Errorf("%w: unknown type %q", ErrInvalidMapping, typ)
	}

	return Mapping{Signal: normalize(signal), Variable: variable, Type: typ}, nil
}

func knownType(t model.SignalType) bool {
	switch t {
	case model.SignalFloat, model.SignalInt, model.SignalString, model.SignalBool, model.SignalJSON:
		return true
	}
	return false
}

func validSignalName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r != '_' && !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func validVariableName(name string) bool {
	if name == "" || !unicode.IsLetter([]rune(name)[0]) {
		return false
	}
	return validSignalName(name)
}

// signal names are matched case-insensitively; viper lowercases map keys
func normalize(name string) string {
	return strings.ToUpper(strings.TrimSpace(name))
}

// Convert turns a raw value into the Go value for t. Floats become
// decimal.Decimal so telemetry keeps the precision the device sent.
func Convert(raw string, t model.SignalType) (any, error) {
	raw = strings.TrimSpace(raw)

	switch t {
	case model.SignalFloat:
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number: %v", ErrConversion, raw, err)
		}
		return d, nil
	case model.SignalInt:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not an integer", ErrConversion, raw)
		}
		return n, nil
	case model.SignalString:
		return raw, nil
	case model.SignalBool:
		switch strings.ToLower(raw) {
		case "true", "1", "yes", "on", "enabled":
			return true, nil
		case "false", "0", "no", "off", "disabled":
			return false, nil
		}
		return nil, fmt.Errorf("%w: %q is not a boolean", ErrConversion, raw)
	case model.SignalJSON:
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("%w: invalid JSON: %v", ErrConversion, err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrConversion, t)
	}
}

// SplitLine splits a NAME:VALUE line
func SplitLine(line string) (name, value string, err error) {
	name, value, ok := strings.Cut(strings.TrimSpace(line), ":")
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return "", "", fmt.Errorf("%w: empty signal name in %q", ErrMalformedLine, line)
	}
	return name, strings.TrimSpace(value), nil
}
