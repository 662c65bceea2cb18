package observe

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Provider bundles the installed meter provider and its scrape handler.
type Provider struct {
	Metrics *Metrics
	Handler http.Handler

	mp *sdkmetric.MeterProvider
}

// InitProvider sets up a MeterProvider backed by a Prometheus exporter on a
// dedicated registry, registers it as the global provider and creates the
// application instruments.
func InitProvider() (*Provider, error) {
	reg := prometheus.NewRegistry()
	exp, err := promexporter.New(promexporter.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}

	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exp))
	otel.SetMeterProvider(mp)

	met, err := NewMetrics(mp)
	if err != nil {
		_ = mp.Shutdown(context.Background())
		return nil, err
	}
	return &Provider{
		Metrics: met,
		Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		mp:      mp,
	}, nil
}

// Shutdown flushes and stops the meter provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.mp == nil {
		return nil
	}
	return p.mp.Shutdown(ctx)
}
