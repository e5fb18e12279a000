package license

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"erasure-cloud/internal/database"
)

// Event announces a new server revision of a license.
type Event struct {
	Key            string                 `json:"key"`
	Action         string                 `json:"action"`
	Status         database.LicenseStatus `json:"status"`
	Edition        string                 `json:"edition"`
	ServerRevision int64                  `json:"server_revision"`
	At             time.Time              `json:"at"`
}

// Notifier receives revision events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

var (
	transitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_transitions_total",
			Help: "License lifecycle calls by usage-log action",
		},
		[]string{"action"},
	)

	outcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "license_outcomes_total",
			Help: "License lifecycle results by operation and status",
		},
		[]string{"operation", "status"},
	)
)
