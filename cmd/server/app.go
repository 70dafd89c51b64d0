// cmd/server/app.go
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"serial-service/internal/bridge"
	"serial-service/internal/config"
	"serial-service/internal/connection"
	"serial-service/internal/database"
	"serial-service/internal/discovery/usb"
	"serial-service/internal/events"
	"serial-service/internal/handler"
	"serial-service/internal/manager"
	"serial-service/internal/model"
	"serial-service/internal/pool"
	"serial-service/internal/protocol"
	"serial-service/internal/reader"
	"serial-service/internal/repository"
	"serial-service/internal/routes"
	"serial-service/internal/sequence"
	"serial-service/internal/service"
	"serial-service/internal/signals"
	"serial-service/internal/transport"
	"serial-service/internal/worker"
)

const journalCleanupInterval = time.Hour

// Application wires the serial stack and its optional outer surfaces
type Application struct {
	config *config.Config
	logger *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	bus       *events.Bus
	pool      *pool.Pool
	workers   *worker.Manager
	transport *transport.Registry
	describer *usb.Describer
	conn      *connection.Connection
	protocol  *protocol.SerialProtocol
	signals   *signals.Processor
	manager   *manager.Manager
	library   *sequence.Library
	flags     *sequence.Flags
	runner    *sequence.Runner

	database *database.DB
	journal  *service.JournalService
	bridge   *bridge.MQTTBridge

	websocket *handler.WebSocketHandler
	server    *http.Server
}

// NewApplication builds the serial stack. Outer surfaces (journal, MQTT,
// HTTP) are added by the init* methods.
func NewApplication(cfg *config.Config, logger *zap.Logger) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())
	app := &Application{
		config: cfg,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}

	if err := app.initializeSerial(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize serial stack: %w", err)
	}
	app.initializeSequences()

	return app, nil
}

// initializeSerial composes pool, transport, connection, protocol, signal
// processing and the manager
func (app *Application) initializeSerial() error {
	cfg := app.config

	app.bus = events.NewBus(events.DefaultQueueSize, app.logger)
	app.goRun(func(ctx context.Context) { app.bus.Run(ctx) })

	app.pool = pool.New(cfg.Pool.MaxConnections, cfg.Pool.MaxIdleTime, app.logger)
	app.goRun(func(ctx context.Context) { app.pool.RunSweeper(ctx, cfg.Pool.SweepInterval) })

	app.workers = worker.NewManager(app.logger)
	app.transport = transport.NewRegistry(app.logger, cfg.Serial.DialTimeout)
	app.describer = usb.NewDescriber(app.logger, cfg.Serial.USBLookup)

	defaults, err := defaultSettings(&cfg.Serial)
	if err != nil {
		return err
	}
	app.conn = connection.New(app.pool, app.transport, app.workers, app.describer, connection.Options{
		Defaults:       defaults,
		OpenTimeout:    cfg.Serial.OpenTimeout,
		CloseTimeout:   cfg.Serial.CloseTimeout,
		ReconnectDelay: cfg.Manager.ReconnectDelay,
	}, app.logger)

	app.protocol, err = newProtocol(&cfg.Protocol, app.logger)
	if err != nil {
		return err
	}

	var processor reader.SignalProcessor
	app.signals = signals.NewProcessor(app.logger)
	if cfg.Signals.Enabled {
		if err := app.signals.LoadMappings(cfg.Signals.Mappings); err != nil {
			return fmt.Errorf("failed to load signal mappings: %w", err)
		}
		processor = app.signals
	}

	app.manager = manager.New(app.conn, app.protocol, app.workers, processor, app.bus, manager.Options{
		Reader: reader.Config{
			PollSlice:        cfg.Reader.PollSlice,
			PollSlices:       cfg.Reader.PollSlices,
			ShutdownTimeout:  cfg.Reader.ShutdownTimeout,
			InterruptTimeout: cfg.Reader.InterruptTimeout,
			ForceTimeout:     cfg.Reader.ForceTimeout,
		},
		DisableReader:   !cfg.Reader.Enabled,
		ResponseTimeout: cfg.Manager.ResponseTimeout,
		PollInterval:    cfg.Manager.ResponsePollInterval,
		ShutdownTimeout: cfg.Manager.ShutdownTimeout,
	}, app.logger)

	app.logger.Info("Serial stack initialized",
		zap.String("flavor", string(app.protocol.Flavor())),
		zap.Strings("schemes", app.transport.Schemes()),
		zap.Int("signal_mappings", len(app.signals.Mappings())),
	)
	return nil
}

func defaultSettings(cfg *config.SerialConfig) (model.Settings, error) {
	parity, err := model.ParseParity(cfg.Parity)
	if err != nil {
		return model.Settings{}, err
	}
	settings := model.Settings{
		BaudRate:     cfg.BaudRate,
		DataBits:     cfg.DataBits,
		Parity:       parity,
		StopBits:     cfg.StopBits,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	if err := settings.Validate(); err != nil {
		return model.Settings{}, fmt.Errorf("invalid default serial settings: %w", err)
	}
	return settings, nil
}

func newProtocol(cfg *config.ProtocolConfig, logger *zap.Logger) (*protocol.SerialProtocol, error) {
	proto, err := protocol.New(protocol.Options{
		Flavor:           model.Flavor(cfg.Flavor),
		Terminator:       cfg.Terminator,
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxRetries:       cfg.MaxRetries,
		MaxCommandLength: cfg.MaxCommandLength,
		Unclassified:     model.ResponseStatus(cfg.Unclassified),
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create protocol: %w", err)
	}

	for _, p := range cfg.Patterns {
		if err := proto.AddResponsePattern(p.Name, p.Pattern, model.ResponseStatus(p.Status)); err != nil {
			return nil, fmt.Errorf("failed to add response pattern %s: %w", p.Name, err)
		}
	}
	return proto, nil
}

// initializeSequences loads the sequence library. Flags fall back to the
// latest boolean telemetry values.
func (app *Application) initializeSequences() {
	cfg := app.config.Sequences

	app.library = sequence.NewLibrary(cfg.MaxDepth, app.logger)
	app.library.Load(cfg.Definitions, cfg.Commands)
	app.flags = sequence.NewFlags(cfg.Flags, app.signals)
	app.runner = sequence.NewRunner(app.manager, app.library, app.flags, app.bus, sequence.Options{
		MaxWait:           cfg.MaxWait,
		CommandTimeout:    app.config.Protocol.DefaultTimeout,
		CompletionTimeout: cfg.CompletionTimeout,
	}, app.logger)

	app.logger.Info("Sequence library loaded", zap.Strings("sequences", app.library.Names()))
}

// initializeJournal opens the journal database, migrates it when configured
// and starts recording completed commands
func (app *Application) initializeJournal() error {
	cfg := &app.config.Database
	if !cfg.Enabled {
		app.logger.Info("Command journal disabled")
		return nil
	}

	db, err := database.NewConnection(cfg, app.logger)
	if err != nil {
		return fmt.Errorf("failed to create database connection: %w", err)
	}
	app.database = db

	if cfg.AutoMigrate {
		if err := database.NewMigrator(db, app.logger).Up(); err != nil {
			return fmt.Errorf("failed to run database migrations: %w", err)
		}
	}

	repo := repository.NewCommandRepository(db, app.logger)
	app.journal = service.NewJournalService(repo, cfg.Retention, app.logger)

	sub := app.bus.Subscribe(model.EventCommandCompleted)
	app.goRun(func(ctx context.Context) {
		defer sub.Close()
		app.journal.Run(ctx, sub.C)
	})
	app.goRun(func(ctx context.Context) { app.journal.RunRetention(ctx, journalCleanupInterval) })

	app.logger.Info("Command journal initialized", zap.String("driver", db.Driver()))
	return nil
}

// initializeBridge connects to the MQTT broker and starts forwarding events
func (app *Application) initializeBridge() error {
	cfg := app.config.MQTT
	if !cfg.Enabled {
		return nil
	}

	client, err := bridge.Connect(cfg, app.logger)
	if err != nil {
		return err
	}
	app.bridge = bridge.NewMQTTBridge(client, app.manager, cfg, app.logger)
	if err := app.bridge.Start(); err != nil {
		client.Disconnect(250)
		app.bridge = nil
		return err
	}

	sub := app.bus.Subscribe()
	app.goRun(func(ctx context.Context) {
		defer sub.Close()
		app.bridge.Run(ctx, sub.C)
	})
	return nil
}

// initializeServer sets up the HTTP server and routes
func (app *Application) initializeServer() {
	var db handler.Pinger
	var journal handler.Journal
	if app.database != nil {
		db = app.database
		journal = app.journal
	}

	health := handler.NewHealthHandler(db, app.manager, app.config, app.logger)
	serial := handler.NewSerialHandler(app.manager, app.signals, journal, app.runner, app.logger)
	app.websocket = handler.NewWebSocketHandler(app.bus, app.manager, app.config.Security.AllowedOrigins, app.logger)

	router := routes.NewRouter(app.config, app.logger, health, serial, app.websocket).SetupRouter()

	app.server = &http.Server{
		Addr:         app.config.GetServerAddr(),
		Handler:      router,
		ReadTimeout:  app.config.Server.ReadTimeout,
		WriteTimeout: app.config.Server.WriteTimeout,
		IdleTimeout:  app.config.Server.IdleTimeout,
	}

	app.logger.Info("HTTP server initialized",
		zap.String("address", app.server.Addr),
		zap.Bool("tls_enabled", app.config.Server.TLS.Enabled),
	)
}

// startServer serves HTTP until Shutdown. Listen failures are sent on the
// returned channel.
func (app *Application) startServer() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		app.logger.Info("Starting HTTP server", zap.String("address", app.server.Addr))

		var err error
		if app.config.Server.TLS.Enabled {
			err = app.server.ListenAndServeTLS(app.config.Server.TLS.CertFile, app.config.Server.TLS.KeyFile)
		} else {
			err = app.server.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// autoConnect opens the configured default port, if any
func (app *Application) autoConnect() {
	port := app.config.Serial.Port
	if port == "" || !app.config.Serial.AutoConnect {
		return
	}
	if err := app.manager.Connect(port); err != nil {
		app.logger.Warn("Auto-connect failed", zap.String("port", port), zap.Error(err))
	}
}

func (app *Application) goRun(fn func(ctx context.Context)) {
	app.wg.Add(1)
	go func() {
		defer app.wg.Done()
		fn(app.ctx)
	}()
}

// Shutdown stops every component in reverse start order
func (app *Application) Shutdown() {
	if app.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := app.server.Shutdown(ctx); err != nil {
			app.logger.Error("HTTP server shutdown error", zap.Error(err))
		} else {
			app.logger.Info("HTTP server stopped")
		}
		cancel()
	}
	if app.websocket != nil {
		app.websocket.Close()
	}

	app.runner.Cancel()

	report := app.manager.GracefulShutdown(app.config.Manager.ShutdownTimeout)
	if !report.Complete() {
		app.logger.Warn("Serial manager did not shut down cleanly",
			zap.String("reader", report.Reader.String()),
			zap.Bool("disconnected", report.Disconnected),
		)
	}

	if app.bridge != nil {
		app.bridge.Stop()
	}

	app.cancel()
	app.bus.Close()
	app.wg.Wait()

	if app.database != nil {
		if err := app.database.Close(); err != nil {
			app.logger.Error("Database close error", zap.Error(err))
		}
	}
}
