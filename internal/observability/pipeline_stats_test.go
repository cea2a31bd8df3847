package observability

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestStats_Counters(t *testing.T) {
	s := NewStats()

	s.RecordsRead(10)
	s.RowDropped(DropDuplicate)
	s.RowDropped(DropDuplicate)
	s.RowDropped(DropMissingEntity)
	s.EventsKept(7)
	s.Entities(3)

	if got := testutil.ToFloat64(s.recordsRead); got != 10 {
		t.Errorf("records read = %v, want 10", got)
	}
	if got := testutil.ToFloat64(s.rowsDropped.WithLabelValues(DropDuplicate)); got != 2 {
		t.Errorf("duplicates = %v, want 2", got)
	}
	if got := testutil.ToFloat64(s.rowsDropped.WithLabelValues(DropMissingEntity)); got != 1 {
		t.Errorf("missing entity = %v, want 1", got)
	}
	if got := testutil.ToFloat64(s.entities); got != 3 {
		t.Errorf("entities = %v, want 3", got)
	}
}

// TestStats_ColumnDroppedConcurrent tests concurrent ColumnDropped calls for race conditions.
func TestStats_ColumnDroppedConcurrent(t *testing.T) {
	s := NewStats()
	var wg sync.WaitGroup

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.ColumnDropped("entity_id", ColumnLeakage)
				s.ColumnDropped("gender_usage_m_ratio", ColumnConstant)
			}
		}()
	}
	wg.Wait()

	dropped := s.DroppedColumns()
	if len(dropped) != 2 {
		t.Fatalf("expected 2 dropped columns, got %d", len(dropped))
	}
	if dropped[0].Column != "entity_id" || dropped[0].Reason != ColumnLeakage {
		t.Errorf("unexpected first entry: %+v", dropped[0])
	}
	if got := testutil.ToFloat64(s.columnsDropped.WithLabelValues(ColumnLeakage)); got != 1000 {
		t.Errorf("leakage drops = %v, want 1000", got)
	}
}

func TestStats_NilIsNoop(t *testing.T) {
	var s *Stats
	s.RecordsRead(1)
	s.RowDropped(DropDuplicate)
	s.ColumnDropped("x", ColumnExplicit)
	s.EncodingGap("primary_os")
	s.ObserveStage("normalize", time.Now())
	if s.DroppedColumns() != nil {
		t.Error("nil stats should report no dropped columns")
	}
	if err := s.WriteTextfile("/nonexistent/metrics.prom"); err != nil {
		t.Errorf("nil stats should not write: %v", err)
	}
}

func TestStats_WriteTextfile(t *testing.T) {
	s := NewStats()
	s.EncodingGap("primary_os")
	s.ObserveStage("aggregate", time.Now().Add(-10*time.Millisecond))

	path := filepath.Join(t.TempDir(), "churnfeat.prom")
	if err := s.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("failed to read textfile: %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`churnfeat_encoding_gaps_total{column="primary_os"} 1`,
		`churnfeat_stage_duration_seconds_count{stage="aggregate"} 1`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
