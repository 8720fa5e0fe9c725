package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// newCaptureAggregator returns an aggregator whose summaries land in buf.
func newCaptureAggregator(buf *bytes.Buffer) *Aggregator {
	logger := slog.New(slog.NewJSONHandler(buf, nil))
	return NewAggregator(logger, 30)
}

func TestAggregatorFlushEmitsSummary(t *testing.T) {
	var buf bytes.Buffer
	agg := newCaptureAggregator(&buf)

	for i := 0; i < 5; i++ {
		agg.Record("supervisor", "output_chunk", slog.String("process_id", "p1"))
	}
	agg.flush()

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal summary: %v (%q)", err, buf.String())
	}
	if record["msg"] != "event_summary" {
		t.Errorf("msg = %v", record["msg"])
	}
	if record["component"] != "supervisor" || record["event"] != "output_chunk" {
		t.Errorf("identity = %v/%v", record["component"], record["event"])
	}
	if record["count"] != float64(5) {
		t.Errorf("count = %v, want 5", record["count"])
	}
	if record["process_id"] != "p1" {
		t.Errorf("process_id = %v", record["process_id"])
	}
}

func TestAggregatorSeparatesEventTypes(t *testing.T) {
	var buf bytes.Buffer
	agg := newCaptureAggregator(&buf)

	agg.Record("supervisor", "output_chunk")
	agg.Record("watch", "fs_event")
	agg.Record("watch", "fs_event")
	agg.flush()

	lines := strings.Count(buf.String(), "event_summary")
	if lines != 2 {
		t.Errorf("summaries = %d, want 2", lines)
	}
}

func TestAggregatorFlushClearsCounters(t *testing.T) {
	var buf bytes.Buffer
	agg := newCaptureAggregator(&buf)

	agg.Record("web", "frame_sent")
	agg.flush()
	buf.Reset()
	agg.flush()

	if buf.Len() != 0 {
		t.Errorf("second flush emitted %q, want nothing", buf.String())
	}
}

func TestAggregatorNilLoggerDrops(t *testing.T) {
	agg := NewAggregator(nil, 30)
	agg.Record("supervisor", "output_chunk")
	agg.flush() // must not panic
}

func TestAggregatorStopFlushesAndIsIdempotent(t *testing.T) {
	var buf bytes.Buffer
	agg := newCaptureAggregator(&buf)
	agg.Start()

	agg.Record("supervisor", "output_chunk")
	agg.Stop()
	agg.Stop()

	if !strings.Contains(buf.String(), "event_summary") {
		t.Errorf("Stop did not flush: %q", buf.String())
	}
}

func TestAggregatorConcurrentRecord(t *testing.T) {
	var buf bytes.Buffer
	agg := newCaptureAggregator(&buf)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				agg.Record("supervisor", "output_chunk")
			}
		}()
	}
	wg.Wait()
	agg.flush()

	var record map[string]any
	if err := json.Unmarshal(buf.Bytes(), &record); err != nil {
		t.Fatalf("unmarshal summary: %v", err)
	}
	if record["count"] != float64(800) {
		t.Errorf("count = %v, want 800", record["count"])
	}
}
