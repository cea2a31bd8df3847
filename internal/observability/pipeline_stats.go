// Package observability provides run statistics for the feature pipeline,
// exported through a dedicated Prometheus registry.
package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Row drop reasons reported by the normalizer.
const (
	DropMissingEntity    = "missing_entity"
	DropMissingTimestamp = "missing_timestamp"
	DropDuplicate        = "duplicate"
)

// Column drop reasons reported by the matrix builder.
const (
	ColumnConstant = "constant"
	ColumnLeakage  = "leakage"
	ColumnExplicit = "explicit"
)

// Stats collects per-run counters. A nil *Stats is valid and records nothing.
type Stats struct {
	registry *prometheus.Registry

	recordsRead    prometheus.Counter
	rowsDropped    *prometheus.CounterVec
	eventsKept     prometheus.Counter
	entities       prometheus.Gauge
	columnsDropped *prometheus.CounterVec
	encodingGaps   *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec

	mu       sync.Mutex
	dropped  map[string]string // column → reason
	rowDrops map[string]int
}

// NewStats creates a collector with its own registry.
func NewStats() *Stats {
	s := &Stats{
		registry: prometheus.NewRegistry(),
		recordsRead: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnfeat",
			Name:      "records_read_total",
			Help:      "Raw records read from the input log.",
		}),
		rowsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnfeat",
			Name:      "rows_dropped_total",
			Help:      "Raw rows dropped during normalization, by reason.",
		}, []string{"reason"}),
		eventsKept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "churnfeat",
			Name:      "events_normalized_total",
			Help:      "Events surviving normalization.",
		}),
		entities: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "churnfeat",
			Name:      "entities",
			Help:      "Distinct entities in the feature table.",
		}),
		columnsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnfeat",
			Name:      "columns_dropped_total",
			Help:      "Feature columns removed before fitting, by reason.",
		}, []string{"reason"}),
		encodingGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "churnfeat",
			Name:      "encoding_gaps_total",
			Help:      "Categorical values unseen at fit time, by column.",
		}, []string{"column"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "churnfeat",
			Name:      "stage_duration_seconds",
			Help:      "Wall time of each pipeline stage.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}, []string{"stage"}),
		dropped:  make(map[string]string),
		rowDrops: make(map[string]int),
	}

	s.registry.MustRegister(
		s.recordsRead,
		s.rowsDropped,
		s.eventsKept,
		s.entities,
		s.columnsDropped,
		s.encodingGaps,
		s.stageDuration,
	)
	return s
}

// Registry returns the registry backing the collector.
func (s *Stats) Registry() *prometheus.Registry {
	if s == nil {
		return nil
	}
	return s.registry
}

// RecordsRead adds n raw records.
func (s *Stats) RecordsRead(n int) {
	if s == nil {
		return
	}
	s.recordsRead.Add(float64(n))
}

// RowDropped records a dropped raw row.
func (s *Stats) RowDropped(reason string) {
	if s == nil {
		return
	}
	s.rowsDropped.WithLabelValues(reason).Inc()

	s.mu.Lock()
	s.rowDrops[reason]++
	s.mu.Unlock()
}

// RowsDropped returns how many raw rows were dropped for reason.
func (s *Stats) RowsDropped(reason string) int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rowDrops[reason]
}

// EventsKept adds n normalized events.
func (s *Stats) EventsKept(n int) {
	if s == nil {
		return
	}
	s.eventsKept.Add(float64(n))
}

// Entities sets the number of aggregated entities.
func (s *Stats) Entities(n int) {
	if s == nil {
		return
	}
	s.entities.Set(float64(n))
}

// ColumnDropped records a removed feature column.
func (s *Stats) ColumnDropped(column, reason string) {
	if s == nil {
		return
	}
	s.columnsDropped.WithLabelValues(reason).Inc()

	s.mu.Lock()
	s.dropped[column] = reason
	s.mu.Unlock()
}

// EncodingGap records a categorical value unseen at fit time.
func (s *Stats) EncodingGap(column string) {
	if s == nil {
		return
	}
	s.encodingGaps.WithLabelValues(column).Inc()
}

// ObserveStage records the duration of a stage that started at start.
func (s *Stats) ObserveStage(stage string, start time.Time) {
	if s == nil {
		return
	}
	s.stageDuration.WithLabelValues(stage).Observe(time.Since(start).Seconds())
}

// DroppedColumn is a removed column and why.
type DroppedColumn struct {
	Column string
	Reason string
}

// DroppedColumns returns removed columns sorted by name.
func (s *Stats) DroppedColumns() []DroppedColumn {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]DroppedColumn, 0, len(s.dropped))
	for c, r := range s.dropped {
		out = append(out, DroppedColumn{Column: c, Reason: r})
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Column < out[j].Column
	})
	return out
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (s *Stats) WriteTextfile(path string) error {
	if s == nil {
		return nil
	}
	if err := prometheus.WriteToTextfile(path, s.registry); err != nil {
		return fmt.Errorf("observability: failed to write metrics to %s: %w", path, err)
	}
	return nil
}
