package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider bundles the meter provider with its scrape handler.
type Provider struct {
	MeterProvider metric.MeterProvider
	Handler       http.Handler
	Shutdown      func(context.Context) error
}

// NewPrometheusProvider builds an SDK meter provider exporting to a private
// Prometheus registry, so repeated construction in tests does not collide.
func NewPrometheusProvider() (*Provider, error) {
	registry := prometheus.NewRegistry()
	exporter, err := promexporter.New(promexporter.WithRegisterer(registry))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	return &Provider{
		MeterProvider: mp,
		Handler:       promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		Shutdown:      mp.Shutdown,
	}, nil
}

// NewNoopProvider records nothing; used when metrics are disabled.
func NewNoopProvider() *Provider {
	return &Provider{
		MeterProvider: noop.NewMeterProvider(),
		Handler:       http.NotFoundHandler(),
		Shutdown:      func(context.Context) error { return nil },
	}
}
