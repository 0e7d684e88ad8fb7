package bootstrap

import (
	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/wolfman30/appointment-engine/internal/config"
	"github.com/wolfman30/appointment-engine/internal/events"
	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// BuildEventSink returns the outbox when Postgres is available so events
// survive restarts; otherwise events are only logged.
func BuildEventSink(pool *pgxpool.Pool, logger *logging.Logger) (events.Sink, string) {
	if pool == nil {
		return events.NewLogSink(logger), "log"
	}
	return events.NewOutboxStore(pool), "outbox"
}

// BuildDispatcher wires the async post-commit event dispatcher.
func BuildDispatcher(cfg *appconfig.Config, sink events.Sink, m *metrics.BookingMetrics, logger *logging.Logger) *events.Dispatcher {
	return events.NewDispatcher(sink, logger,
		events.WithBufferSize(cfg.EventBufferSize),
		events.WithMaxAttempts(cfg.EventMaxAttempts),
		events.WithRetryDelay(cfg.EventRetryBaseDelay),
		events.WithDispatchMetrics(m),
	)
}
