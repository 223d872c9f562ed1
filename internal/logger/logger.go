package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// Level is slog.Level with the extra TRACE and FATAL levels
type Level = slog.Level

const (
	LevelTrace   = slog.Level(-8)
	LevelDebug   = slog.LevelDebug
	LevelInfo    = slog.LevelInfo
	LevelWarning = slog.LevelWarn
	LevelError   = slog.LevelError
	LevelFatal   = slog.Level(12)
)

// DefaultServiceName names the service in OpenTelemetry resources
const DefaultServiceName = "witrules"

// Config selects the log handler. Zero values fall back to the defaults.
type Config struct {
	Level       Level
	SampleRate  int
	OTELEnabled bool
	ServiceName string
}

// ConfigFromEnv reads LOG_LEVEL, ERROR_SAMPLE_RATE, OTEL_ENABLED and OTEL_SERVICE_NAME
func ConfigFromEnv() Config {
	cfg := Config{Level: LevelInfo, SampleRate: 100, ServiceName: DefaultServiceName}

	if level, err := ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		cfg.Level = level
	}
	if rate, err := strconv.Atoi(os.Getenv("ERROR_SAMPLE_RATE")); err == nil && rate > 0 {
		cfg.SampleRate = rate
	}
	cfg.OTELEnabled = strings.EqualFold(os.Getenv("OTEL_ENABLED"), "true")
	if name := os.Getenv("OTEL_SERVICE_NAME"); name != "" {
		cfg.ServiceName = name
	}
	return cfg
}

var (
	Logger       *slog.Logger
	sampleRate   atomic.Int32
	programLevel = new(slog.LevelVar)
	shutdownFunc func(context.Context) error
)

// Counters for the health endpoint, incremented regardless of sampling
var (
	TotalErrors     atomic.Int64
	TotalWarnings   atomic.Int64
	Total4xxErrors  atomic.Int64
	Total5xxErrors  atomic.Int64
	RuleStateErrors atomic.Int64
)

func init() {
	sampleRate.Store(1)
	programLevel.Set(LevelInfo)
	setHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel}))
}

// Setup installs the handler described by cfg as the process logger.
// With OTELEnabled it exports through OTLP and falls back to JSON on failure.
func Setup(ctx context.Context, cfg Config) error {
	programLevel.Set(cfg.Level)
	if cfg.SampleRate > 0 {
		sampleRate.Store(int32(cfg.SampleRate))
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	if !cfg.OTELEnabled {
		setHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel}))
		return nil
	}

	shutdown, err := setupOTELLogging(ctx, cfg.ServiceName)
	if err != nil {
		setHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: programLevel}))
		return fmt.Errorf("OTEL logging unavailable, using JSON: %w", err)
	}
	shutdownFunc = shutdown
	return nil
}

// SetOutput sends JSON logs to w. Tests use it to capture output.
func SetOutput(w io.Writer) {
	setHandler(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: programLevel}))
}

func setHandler(h slog.Handler) {
	Logger = slog.New(h)
	slog.SetDefault(Logger)
}

func setupOTELLogging(ctx context.Context, serviceName string) (func(context.Context) error, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	exporter, err := otlploggrpc.New(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter)),
	)

	setHandler(&levelHandler{
		level:   programLevel,
		handler: otelslog.NewHandler(serviceName, otelslog.WithLoggerProvider(provider)),
	})
	return provider.Shutdown, nil
}

// levelHandler applies the program level to a handler that has none
type levelHandler struct {
	level   slog.Leveler
	handler slog.Handler
}

func (h *levelHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

func (h *levelHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.handler.Handle(ctx, r)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithAttrs(attrs)}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{level: h.level, handler: h.handler.WithGroup(name)}
}

// Shutdown flushes the OTEL exporter, if any
func Shutdown(ctx context.Context) error {
	if shutdownFunc != nil {
		return shutdownFunc(ctx)
	}
	return nil
}

// SetLevel sets the minimum log level
func SetLevel(level Level) {
	programLevel.Set(level)
}

// GetLevel returns the minimum log level
func GetLevel() Level {
	return programLevel.Level()
}

// ParseLevel converts a level name to a Level
func ParseLevel(s string) (Level, error) {
	switch strings.ToUpper(s) {
	case "TRACE":
		return LevelTrace, nil
	case "DEBUG":
		return LevelDebug, nil
	case "INFO":
		return LevelInfo, nil
	case "WARN", "WARNING":
		return LevelWarning, nil
	case "ERROR":
		return LevelError, nil
	case "FATAL":
		return LevelFatal, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level: %q", s)
	}
}

// shouldSample keeps one message out of every sampleRate
func shouldSample() bool {
	rate := sampleRate.Load()
	if rate <= 1 {
		return true
	}
	return rand.Intn(int(rate)) == 0
}

// Trace logs rule engine decisions. Never sampled.
func Trace(msg string, args ...any) {
	if !Logger.Enabled(context.Background(), LevelTrace) {
		return
	}
	Logger.Log(context.Background(), LevelTrace, msg, args...)
}

func Debug(msg string, args ...any) {
	Logger.Debug(msg, args...)
}

func Info(msg string, args ...any) {
	Logger.Info(msg, args...)
}

// Warn counts every warning and logs a sample of them
func Warn(msg string, args ...any) {
	TotalWarnings.Add(1)
	if shouldSample() {
		Logger.Warn(msg, args...)
	}
}

// Error counts every error and logs a sample of them
func Error(msg string, args ...any) {
	TotalErrors.Add(1)
	if shouldSample() {
		Logger.Error(msg, args...)
	}
}

// Fatal logs and exits after flushing the exporter
func Fatal(msg string, args ...any) {
	Logger.Log(context.Background(), LevelFatal, msg, args...)
	if shutdownFunc != nil {
		_ = shutdownFunc(context.Background())
	}
	os.Exit(1)
}

// CountHTTPStatus records an error response in the counters
func CountHTTPStatus(status int) {
	switch {
	case status >= 500:
		Total5xxErrors.Add(1)
		TotalErrors.Add(1)
	case status >= 400:
		Total4xxErrors.Add(1)
		TotalWarnings.Add(1)
	}
}

// CountRuleStateError records a rule the engine had no semantics for
func CountRuleStateError() {
	RuleStateErrors.Add(1)
}

// Stats is a snapshot of the counters
type Stats struct {
	Errors          int64 `json:"errors"`
	Warnings        int64 `json:"warnings"`
	ClientErrors    int64 `json:"clientErrors"`
	ServerErrors    int64 `json:"serverErrors"`
	RuleStateErrors int64 `json:"ruleStateErrors"`
}

// Snapshot returns the current counter values
func Snapshot() Stats {
	return Stats{
		Errors:          TotalErrors.Load(),
		Warnings:        TotalWarnings.Load(),
		ClientErrors:    Total4xxErrors.Load(),
		ServerErrors:    Total5xxErrors.Load(),
		RuleStateErrors: RuleStateErrors.Load(),
	}
}
