package protocol

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serial-service/internal/model"
)

func newProtocol(t *testing.T, flavor model.Flavor) *SerialProtocol {
	t.Helper()
	p, err := New(Options{Flavor: flavor}, nil)
	require.NoError(t, err)
	return p
}

func TestNewDefaults(t *testing.T) {
	p := newProtocol(t, "")
	info := p.Info()
	assert.Equal(t, model.FlavorCustom, info.Flavor)
	assert.Equal(t, "\r\n", info.Terminator)
	assert.Equal(t, 5*time.Second, info.DefaultTimeout)
	assert.Equal(t, 3, info.MaxRetries)
	assert.Equal(t, model.StatusSuccess, info.Unclassified)

	_, err := New(Options{Flavor: "smoke-signals"}, nil)
	assert.ErrorIs(t, err, ErrUnknownFlavor)
	_, err = New(Options{Unclassified: "maybe"}, nil)
	assert.Error(t, err)
}

func TestFormatCommand(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)

	tests := []struct {
		name   string
		text   string
		params map[string]any
		want   string
	}{
		{"plain", "STATUS", nil, "STATUS\r\n"},
		{"already terminated", "STATUS\r\n", nil, "STATUS\r\n"},
		{"placeholders", "SET {name}={value}", map[string]any{"name": "TEMP", "value": 21.5}, "SET TEMP=21.5\r\n"},
		{"repeated placeholder", "{x}+{x}", map[string]any{"x": 2}, "2+2\r\n"},
		{"unknown placeholder kept", "SET {missing}", map[string]any{"other": 1}, "SET {missing}\r\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(p.FormatCommand(tt.text, tt.params)))
		})
	}
}

func TestClassifyATFlavor(t *testing.T) {
	p := newProtocol(t, model.FlavorATCommands)

	assert.Equal(t, model.StatusSuccess, p.ParseResponse([]byte("OK\r\n"), "AT").Status)
	assert.Equal(t, model.StatusError, p.ParseResponse([]byte("ERROR"), "AT").Status)
	assert.Equal(t, model.StatusPartial, p.ParseResponse([]byte("BUSY"), "AT").Status)
}

func TestClassifyGenericKeywords(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)

	tests := []struct {
		text string
		want model.ResponseStatus
	}{
		{"Calibration complete", model.StatusSuccess},
		{"motor FAILED to home", model.StatusError},
		{"processing request", model.StatusPartial},
		{"sensor timed_out", model.StatusTimeout},
		{"", model.StatusInvalid},
		{"   ", model.StatusInvalid},
		// success keywords win over error keywords in the same line
		{"done with error count 0", model.StatusSuccess},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, p.ParseResponse([]byte(tt.text), "").Status, tt.text)
	}
}

// Unrecognised non-empty text is treated as success unless the policy says otherwise.
func TestUnclassifiedDefaultsToSuccess(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)
	resp := p.ParseResponse([]byte("T=21.4 H=40"), "READ")
	assert.Equal(t, model.StatusSuccess, resp.Status)
	assert.Equal(t, "READ", resp.Command)

	require.NoError(t, p.SetUnclassifiedPolicy(model.StatusInvalid))
	assert.Equal(t, model.StatusInvalid, p.Classify("T=21.4 H=40"))
	assert.Equal(t, model.StatusInvalid, p.Classify("okay"), "keywords match whole words only")
	assert.Error(t, p.SetUnclassifiedPolicy("whatever"))
}

func TestClassifyModbus(t *testing.T) {
	p := newProtocol(t, model.FlavorModbus)
	assert.Equal(t, model.StatusSuccess, p.Classify("01A3FF"))
	assert.Equal(t, model.StatusError, p.Classify("frame error"))
}

func TestUserPatternsTakePrecedence(t *testing.T) {
	p := newProtocol(t, model.FlavorATCommands)

	require.NoError(t, p.AddResponsePattern("not_ready", `^OK NOT READY$`, model.StatusPartial))
	assert.Equal(t, model.StatusPartial, p.Classify("ok not ready"))

	require.NoError(t, p.AddResponsePattern("not_ready", `^OK NOT READY$`, model.StatusError))
	assert.Equal(t, model.StatusError, p.Classify("OK NOT READY"))

	assert.True(t, p.RemoveResponsePattern("not_ready"))
	assert.False(t, p.RemoveResponsePattern("not_ready"))
	assert.Equal(t, model.StatusSuccess, p.Classify("OK NOT READY"))

	assert.ErrorIs(t, p.AddResponsePattern("broken", `(`, model.StatusError), ErrInvalidPattern)
	assert.ErrorIs(t, p.AddResponsePattern("odd", `x`, "great"), ErrInvalidPattern)
}

func TestParseResponseReplacesInvalidBytes(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)
	resp := p.ParseResponse([]byte{'O', 'K', 0xff, ' ', '\n'}, "")
	assert.Equal(t, "OK\uFFFD", resp.Data)
	assert.Equal(t, []byte{'O', 'K', 0xff, ' ', '\n'}, resp.Raw)
}

func TestValidateCommand(t *testing.T) {
	custom := newProtocol(t, model.FlavorCustom)
	at := newProtocol(t, model.FlavorATCommands)
	modbus := newProtocol(t, model.FlavorModbus)

	problemsOf := func(err error) []string {
		var verr *ValidationError
		require.ErrorAs(t, err, &verr)
		return verr.Problems
	}

	assert.Contains(t, problemsOf(custom.ValidateText("")), "command cannot be empty")
	assert.Contains(t, problemsOf(custom.ValidateText(strings.Repeat("x", 1025))), "command too long (max 1024)")
	assert.NoError(t, custom.ValidateText(strings.Repeat("x", 1024)))

	assert.Contains(t, problemsOf(at.ValidateText("status")), "AT command must start with 'AT'")
	assert.NoError(t, at.ValidateText("AT+STATUS"))
	assert.NoError(t, at.ValidateText("at+status"))

	assert.Contains(t, problemsOf(modbus.ValidateText("hello!")), "Modbus command must be hexadecimal")
	assert.NoError(t, modbus.ValidateText("01030A"))

	cmd := custom.NewCommand("READ", nil)
	assert.Equal(t, 5*time.Second, cmd.Timeout)
	assert.NoError(t, custom.ValidateCommand(cmd))

	cmd.Timeout = 0
	cmd.Retries = -1
	problems := problemsOf(custom.ValidateCommand(cmd))
	assert.Contains(t, problems, "timeout must be positive")
	assert.Contains(t, problems, "retries cannot be negative")

	cmd.Timeout = time.Second
	cmd.Retries = 4
	assert.Contains(t, problemsOf(custom.ValidateCommand(cmd)), "retries exceed maximum (3)")
}

func TestStatistics(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)

	p.RecordSent()
	p.RecordSent()
	p.ParseResponse([]byte("OK"), "A")
	p.ParseResponse([]byte("ERROR"), "B")
	p.ParseResponse([]byte("timeout"), "C")
	p.RecordTimeout()

	stats := p.Statistics()
	assert.Equal(t, int64(2), stats.CommandsSent)
	assert.Equal(t, int64(3), stats.ResponsesReceived)
	assert.Equal(t, int64(1), stats.Errors)
	assert.Equal(t, int64(2), stats.Timeouts)
	assert.InDelta(t, 20.0, stats.ErrorRate, 0.001)

	p.ResetStatistics()
	assert.Equal(t, Statistics{}, p.Statistics())
}

func TestSetFlavor(t *testing.T) {
	p := newProtocol(t, model.FlavorCustom)
	assert.NoError(t, p.ValidateText("status"))

	require.NoError(t, p.SetFlavor(model.FlavorATCommands))
	assert.Equal(t, model.FlavorATCommands, p.Flavor())
	assert.Error(t, p.ValidateText("status"))
	assert.Contains(t, p.Info().Patterns, "at_ok")

	assert.ErrorIs(t, p.SetFlavor("nope"), ErrUnknownFlavor)
}
