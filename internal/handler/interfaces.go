// internal/handler/interfaces.go
package handler

import (
	"context"
	"time"

	"serial-service/internal/manager"
	"serial-service/internal/model"
	"serial-service/internal/repository"
	"serial-service/internal/sequence"
	"serial-service/internal/signals"
)

// SerialManager is the device façade the handlers drive
type SerialManager interface {
	Connect(port string, opts ...model.SettingsOption) error
	Disconnect() error
	Reconnect(opts ...model.SettingsOption) error
	SendCommand(text string, params map[string]any) error
	SendAndWait(ctx context.Context, cmd model.Command, timeout time.Duration) (*model.ProtocolResponse, error)
	FlushBuffers()
	IsConnected() bool
	State() model.ConnectionState
	ReaderRunning() bool
	AvailablePorts() ([]model.PortInfo, error)
	Stats() manager.Stats
}

// SignalStore exposes the latest telemetry values
type SignalStore interface {
	Values() map[string]signals.Value
	Mappings() []signals.Mapping
	Stats() signals.Stats
}

// Journal lists persisted command round trips
type Journal interface {
	List(ctx context.Context, filter *model.JournalFilter) ([]*model.CommandRecord, int, error)
	Summary(ctx context.Context, since *time.Time) (*repository.CommandStats, error)
}

// SequenceRunner executes named sequences
type SequenceRunner interface {
	Run(ctx context.Context, name string) (*sequence.Result, error)
	Cancel() bool
	Running() bool
	Stats() sequence.Stats
	Library() *sequence.Library
}
