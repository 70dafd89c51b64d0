// internal/protocol/validation.go
package protocol

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"serial-service/internal/model"
)

// ValidateText checks a bare command string. It returns nil or a *ValidationError.
func (p *SerialProtocol) ValidateText(text string) error {
	return p.validate(text, nil)
}

// ValidateCommand checks a command and its delivery parameters. It returns
// nil or a *ValidationError listing every problem.
func (p *SerialProtocol) ValidateCommand(cmd model.Command) error {
	return p.validate(cmd.Text, &cmd)
}

func (p *SerialProtocol) validate(text string, cmd *model.Command) error {
	p.mutex.RLock()
	flavor, maxLength, maxRetries := p.flavor, p.maxLength, p.maxRetries
	p.mutex.RUnlock()

	var problems []string

	if strings.TrimSpace(text) == "" {
		problems = append(problems, "command cannot be empty")
	}
	if len(text) > maxLength {
		problems = append(problems, fmt.Sprintf("command too long (max %d)", maxLength))
	}

	switch flavor {
	case model.FlavorATCommands:
		if !strings.HasPrefix(strings.ToUpper(text), "AT") {
			problems = append(problems, "AT command must start with 'AT'")
		}
	case model.FlavorModbus:
		if !modbusFrame.MatchString(text) {
			problems = append(problems, "Modbus command must be hexadecimal")
		}
	}

	if cmd != nil {
		if cmd.Timeout <= 0 {
			problems = append(problems, "timeout must be positive")
		}
		if cmd.Retries < 0 {
			problems = append(problems, "retries cannot be negative")
		}
		if cmd.Retries > maxRetries {
			problems = append(problems, fmt.Sprintf("retries exceed maximum (%d)", maxRetries))
		}
	}

	if len(problems) == 0 {
		return nil
	}

	p.logger.Warn("Command failed validation",
		zap.String("command", text),
		zap.Strings("problems", problems),
	)
	return &ValidationError{Command: text, Problems: problems}
}
