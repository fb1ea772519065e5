package observability

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "soop-chat/backend"

// Bot turn outcomes
const (
	OutcomeDelivered = "delivered"
	OutcomeFallback  = "fallback"
	OutcomeDropped   = "dropped"
)

// Metrics holds the chat instruments
type Metrics struct {
	MessagesAccepted metric.Int64Counter
	PublishFailures  metric.Int64Counter
	FanoutDeliveries metric.Int64Counter
	BotTurns         metric.Int64Counter
	BotTurnDuration  metric.Float64Histogram
	WSConnections    metric.Int64UpDownCounter
}

// NewMetrics creates the chat instruments on the given provider
func NewMetrics(mp metric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter(instrumentationName)
	m := &Metrics{}
	var err error

	if m.MessagesAccepted, err = meter.Int64Counter("chat_messages_accepted",
		metric.WithDescription("Messages persisted by the send path")); err != nil {
		return nil, err
	}
	if m.PublishFailures, err = meter.Int64Counter("chat_publish_failures",
		metric.WithDescription("Bus publishes that failed after the message was stored")); err != nil {
		return nil, err
	}
	if m.FanoutDeliveries, err = meter.Int64Counter("chat_fanout_deliveries",
		metric.WithDescription("Frames queued to locally attached connections")); err != nil {
		return nil, err
	}
	if m.BotTurns, err = meter.Int64Counter("chat_bot_turns",
		metric.WithDescription("Completed bot turns by outcome")); err != nil {
		return nil, err
	}
	if m.BotTurnDuration, err = meter.Float64Histogram("chat_bot_turn_duration",
		metric.WithUnit("s"),
		metric.WithDescription("Time from enqueue to delivery of a bot turn")); err != nil {
		return nil, err
	}
	if m.WSConnections, err = meter.Int64UpDownCounter("chat_ws_connections",
		metric.WithDescription("Open gateway connections")); err != nil {
		return nil, err
	}

	return m, nil
}

// Global returns instruments bound to the global meter provider. Before Setup runs
// the global provider is a no-op, which is what tests rely on.
func Global() *Metrics {
	m, err := NewMetrics(otel.GetMeterProvider())
	if err != nil {
		otel.Handle(err)
		m, _ = NewMetrics(otel.GetMeterProvider())
	}
	return m
}
