package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/appointment-engine/internal/availability"
	"github.com/wolfman30/appointment-engine/internal/bookings"
	"github.com/wolfman30/appointment-engine/internal/clinic"
	appconfig "github.com/wolfman30/appointment-engine/internal/config"
	"github.com/wolfman30/appointment-engine/internal/observability/metrics"
	"github.com/wolfman30/appointment-engine/pkg/logging"
)

// Booking bundles the engine, write path and snapshot store the API serves.
type Booking struct {
	Snapshots clinic.Writer
	Engine    *availability.Engine
	Service   *bookings.Service
}

// BuildBooking wires the availability engine and booking service over the
// given stores.
func BuildBooking(cfg *appconfig.Config, snapshots clinic.Writer, repo bookings.Repository, publisher bookings.Publisher, m *metrics.BookingMetrics, logger *logging.Logger) (*Booking, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}

	loc := time.UTC
	if tz := strings.TrimSpace(cfg.DefaultTimezone); tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: default timezone %q: %w", tz, err)
		}
		loc = l
	}

	engine := availability.NewEngine(snapshots, repo,
		availability.WithGranularity(cfg.SlotGranularityMinutes),
		availability.WithMaxRangeDays(cfg.MaxRangeDays),
		availability.WithDefaultLocation(loc),
		availability.WithMetrics(m),
		availability.WithLogger(logger),
	)
	service := bookings.NewService(engine, repo, publisher, m, logger)
	return &Booking{Snapshots: snapshots, Engine: engine, Service: service}, nil
}
