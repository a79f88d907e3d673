// Package tracing configures the OpenTelemetry tracer used by the search
// engine and the gRPC server.
package tracing

import (
	"context"
	"io"
	"os"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Exporter names.
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
	ExporterFile   = "file"
)

// Config configures tracing.
type Config struct {
	// Enabled false yields a no-op tracer.
	Enabled bool `mapstructure:"enabled"`

	// Exporter is one of "none", "stdout" or "file".
	Exporter string `mapstructure:"exporter"`

	// FilePath receives JSON spans for the file exporter.
	FilePath string `mapstructure:"file_path"`

	// SampleRate is the fraction of root traces kept. Zero or less means 1.
	SampleRate float64 `mapstructure:"sample_rate"`

	ServiceName string `mapstructure:"service_name"`
}

// DefaultConfig returns tracing disabled with stdout export.
func DefaultConfig() Config {
	return Config{
		Enabled:     false,
		Exporter:    ExporterStdout,
		SampleRate:  1.0,
		ServiceName: "tagstore",
	}
}

// Provider owns the tracer provider and any file the exporter writes to.
type Provider struct {
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
	file     io.Closer
	enabled  bool
}

// NewProvider builds a provider from cfg and installs it globally when enabled.
func NewProvider(cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{tracer: noop.NewTracerProvider().Tracer("tagstore")}, nil
	}

	p := &Provider{enabled: true}
	var exporter sdktrace.SpanExporter
	switch cfg.Exporter {
	case ExporterStdout:
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, errors.Wrap(err, "create stdout exporter")
		}
		exporter = exp
	case ExporterFile:
		if cfg.FilePath == "" {
			return nil, errors.WithHint(errors.New("file_path required for file exporter"),
				"set tracing.file_path in the config file")
		}
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open trace file %s", cfg.FilePath)
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(f))
		if err != nil {
			f.Close()
			return nil, errors.Wrap(err, "create file exporter")
		}
		exporter = exp
		p.file = f
	case ExporterNone, "":
	default:
		return nil, errors.Newf("unsupported trace exporter %q", cfg.Exporter)
	}

	name := cfg.ServiceName
	if name == "" {
		name = "tagstore"
	}
	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}

	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", name))),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}
	p.provider = sdktrace.NewTracerProvider(opts...)
	p.tracer = p.provider.Tracer(name)
	otel.SetTracerProvider(p.provider)
	return p, nil
}

// Tracer returns the tracer. It is never nil.
func (p *Provider) Tracer() trace.Tracer { return p.tracer }

// Enabled reports whether spans are recorded.
func (p *Provider) Enabled() bool { return p.enabled }

// Shutdown flushes pending spans and closes the trace file.
func (p *Provider) Shutdown(ctx context.Context) error {
	var err error
	if p.provider != nil {
		err = p.provider.Shutdown(ctx)
	}
	if p.file != nil {
		err = errors.CombineErrors(err, p.file.Close())
	}
	return err
}
