// internal/utils/logger.go
package utils

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"serial-service/internal/config"
)

// NewLogger builds the root logger. Output is a comma separated list of
// sinks: "stdout", "stderr" or a file path. File sinks rotate through
// lumberjack; every sink shares one encoder and level.
func NewLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse log level: %w", err)
	}

	encoder := newEncoder(cfg.Format)

	outputs := strings.Split(cfg.Output, ",")
	cores := make([]zapcore.Core, 0, len(outputs))
	for _, output := range outputs {
		sink, err := openSink(strings.TrimSpace(output), cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open log output %q: %w", output, err)
		}
		cores = append(cores, zapcore.NewCore(encoder, sink, level))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
}

func newEncoder(format string) zapcore.Encoder {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "timestamp"
	ec.MessageKey = "message"
	ec.EncodeCaller = zapcore.ShortCallerEncoder

	if format == "console" {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
		return zapcore.NewConsoleEncoder(ec)
	}

	ec.EncodeLevel = zapcore.LowercaseLevelEncoder
	ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
	return zapcore.NewJSONEncoder(ec)
}

func openSink(output string, cfg *config.LoggingConfig) (zapcore.WriteSyncer, error) {
	switch output {
	case "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	case "":
		output = "./logs/serial-service.log"
	}

	if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
		return nil, err
	}

	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   output,
		MaxSize:    cfg.MaxSize,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAge,
		Compress:   cfg.Compress,
	}), nil
}

// ParseLevel maps a configured level name onto a zap level
func ParseLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zapcore.DebugLevel, nil
	case "info", "":
		return zapcore.InfoLevel, nil
	case "warn":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	case "fatal":
		return zapcore.FatalLevel, nil
	default:
		return zapcore.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}

// PortLogger tags entries with the serial port they concern
type PortLogger struct {
	*zap.Logger
}

func NewPortLogger(baseLogger *zap.Logger, port string) *PortLogger {
	return &PortLogger{Logger: baseLogger.With(zap.String("port", port))}
}

// LogConnection records a connect or disconnect outcome. Failures are
// logged at error level.
func (pl *PortLogger) LogConnection(action string, success bool, err error) {
	if err != nil {
		pl.Error("Port "+action+" failed", zap.String("action", action), zap.Error(err))
		return
	}
	pl.Info("Port "+action, zap.String("action", action), zap.Bool("success", success))
}

// OperationLogger times one command exchange
type OperationLogger struct {
	logger  *zap.Logger
	started time.Time
}

func NewOperationLogger(baseLogger *zap.Logger, operationType, operationID string) *OperationLogger {
	return &OperationLogger{
		logger:  baseLogger.With(zap.String("operation", operationType), zap.String("operation_id", operationID)),
		started: time.Now(),
	}
}

func (ol *OperationLogger) Start(fields ...zap.Field) {
	ol.logger.Debug("Operation started", fields...)
}

func (ol *OperationLogger) Success(fields ...zap.Field) {
	ol.logger.Debug("Operation finished", append(fields, zap.Duration("elapsed", time.Since(ol.started)))...)
}

func (ol *OperationLogger) Error(err error, fields ...zap.Field) {
	ol.logger.Warn("Operation failed", append(fields, zap.Duration("elapsed", time.Since(ol.started)), zap.Error(err))...)
}

// ServiceLogger is the logger handed to HTTP handlers and long running
// services
type ServiceLogger struct {
	*zap.Logger
}

func NewServiceLogger(baseLogger *zap.Logger, serviceName string) *ServiceLogger {
	return &ServiceLogger{Logger: baseLogger.Named(serviceName)}
}

func (sl *ServiceLogger) LogServiceStart(version string, cfg interface{}) {
	sl.Info("Starting", zap.String("version", version), zap.Any("config", cfg))
}

func (sl *ServiceLogger) LogServiceStop(reason string) {
	sl.Info("Stopping", zap.String("reason", reason))
}

// LogAPIRequest picks the level from the status code: 5xx is an error,
// 4xx a warning, everything else info.
func (sl *ServiceLogger) LogAPIRequest(method, path, userAgent, clientIP string, statusCode int, duration time.Duration) {
	level := zapcore.InfoLevel
	switch {
	case statusCode >= 500:
		level = zapcore.ErrorLevel
	case statusCode >= 400:
		level = zapcore.WarnLevel
	}

	if ce := sl.Check(level, method+" "+path); ce != nil {
		ce.Write(
			zap.Int("status", statusCode),
			zap.Duration("latency", duration),
			zap.String("client_ip", clientIP),
			zap.String("user_agent", userAgent),
		)
	}
}

func LoggerWithRequestID(logger *zap.Logger, requestID string) *zap.Logger {
	return logger.With(zap.String("request_id", requestID))
}

// CloseLogger flushes buffered entries. Sync on a terminal returns
// EINVAL on some platforms, which is ignored.
func CloseLogger(logger *zap.Logger) error {
	if err := logger.Sync(); err != nil && !errors.Is(err, syscall.EINVAL) && !errors.Is(err, syscall.ENOTTY) {
		return err
	}
	return nil
}
