package spreadsheet

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("spreadsheet.engine")

// pass kinds, used as the kind label
const (
	passWrite    = "write"
	passTable    = "table"
	passSheet    = "sheet"
	passForeign  = "foreign"
	passVolatile = "volatile"
)

var (
	invalidationPassesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "spreadsheet_invalidation_passes_total",
		Help: "Invalidation passes run, by what triggered them",
	}, []string{"kind"})

	cellsInvalidatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spreadsheet_cells_invalidated_total",
		Help: "Formula cells whose cached value was cleared",
	})

	circularityDetectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "spreadsheet_circularity_detected_total",
		Help: "Expressions put in the circularity state during invalidation",
	})

	invalidationPassSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "spreadsheet_invalidation_pass_seconds",
		Help:    "Time spent in one invalidation pass",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	})

	sheetsRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "spreadsheet_sheets_registered",
		Help: "Sheets currently registered",
	})
)
