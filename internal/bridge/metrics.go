package bridge

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "crmbridge"

// Metrics holds the bridge metric instruments.
type Metrics struct {
	Requests        metric.Int64Counter
	Retried429      metric.Int64Counter
	Unauthenticated metric.Int64Counter
	Duration        metric.Float64Histogram
}

// NewMetrics creates all bridge metric instruments.
func NewMetrics() (*Metrics, error) {
	meter := otel.Meter(meterName)
	m := &Metrics{}
	var err error

	m.Requests, err = meter.Int64Counter("crmbridge.crm.requests",
		metric.WithDescription("Outbound CRM API requests attempted"))
	if err != nil {
		return nil, err
	}

	m.Retried429, err = meter.Int64Counter("crmbridge.crm.retried_429",
		metric.WithDescription("CRM requests retried after a 429 response"))
	if err != nil {
		return nil, err
	}

	m.Unauthenticated, err = meter.Int64Counter("crmbridge.crm.unauthenticated",
		metric.WithDescription("CRM requests rejected before dispatch for missing credentials"))
	if err != nil {
		return nil, err
	}

	m.Duration, err = meter.Float64Histogram("crmbridge.crm.request_duration_seconds",
		metric.WithDescription("Outbound CRM request duration in seconds"))
	if err != nil {
		return nil, err
	}

	return m, nil
}
