package telemetry

import (
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// NewMeterProvider builds a process-local meter provider with no reader or
// exporter attached. Export wiring (OTLP, Prometheus, etc.) is
// environment-specific and left to the deployment.
func NewMeterProvider() *sdkmetric.MeterProvider {
	return sdkmetric.NewMeterProvider()
}
