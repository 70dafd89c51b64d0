// internal/protocol/patterns.go
package protocol

import (
	"regexp"

	"serial-service/internal/model"
)

// Pattern classifies response text matching Regexp as Status
type Pattern struct {
	Name   string
	Status model.ResponseStatus
	Regexp *regexp.Regexp
}

var modbusFrame = regexp.MustCompile(`(?i)^[0-9A-F]{6}$`)

// genericPatterns are checked in order after user and flavor patterns
var genericPatterns = []Pattern{
	{Name: "success", Status: model.StatusSuccess, Regexp: regexp.MustCompile(`(?i)\b(ok|success|complete|done)\b`)},
	{Name: "error", Status: model.StatusError, Regexp: regexp.MustCompile(`(?i)\b(error|fail|failure|failed)\b`)},
	{Name: "busy", Status: model.StatusPartial, Regexp: regexp.MustCompile(`(?i)\b(busy|processing|wait)\b`)},
	{Name: "timeout", Status: model.StatusTimeout, Regexp: regexp.MustCompile(`(?i)\b(timeout|timed_out|time_out)\b`)},
}

func flavorPatterns(flavor model.Flavor) []Pattern {
	switch flavor {
	case model.FlavorATCommands:
		return []Pattern{
			{Name: "at_ok", Status: model.StatusSuccess, Regexp: regexp.MustCompile(`(?i)^OK$`)},
			{Name: "at_error", Status: model.StatusError, Regexp: regexp.MustCompile(`(?i)^ERROR$`)},
			{Name: "at_busy", Status: model.StatusPartial, Regexp: regexp.MustCompile(`(?i)^BUSY$`)},
		}
	case model.FlavorModbus:
		return []Pattern{
			{Name: "modbus_response", Status: model.StatusSuccess, Regexp: modbusFrame},
		}
	default:
		return nil
	}
}
