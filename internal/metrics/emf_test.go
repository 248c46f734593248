package metrics

import (
	"bytes"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestNew_FunctionNameDimension(t *testing.T) {
	initOnce.Do(func() {})
	functionName = "identify-api"
	defer func() { functionName = "" }()

	r := New(Namespace)
	if r.dimensions["FunctionName"] != "identify-api" {
		t.Errorf("FunctionName = %q", r.dimensions["FunctionName"])
	}
}

func TestRecorder_Flush(t *testing.T) {
	initOnce.Do(func() {})
	functionName = ""

	var buf bytes.Buffer
	New(Namespace).WithWriter(&buf).
		Dimension("Decision", "auto_selected").
		Dimension("Category", "watches").
		Metric(ScanLatency, 812, UnitMilliseconds).
		Metric(CandidateCount, 5, UnitCount).
		Property("sessionId", "s-1").
		Flush()

	line := buf.String()
	if strings.Count(line, "\n") != 1 {
		t.Fatalf("want a single line, got %q", line)
	}

	var doc map[string]interface{}
	if err := json.Unmarshal([]byte(line), &doc); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if doc["Decision"] != "auto_selected" || doc[ScanLatency] != 812.0 || doc["sessionId"] != "s-1" {
		t.Errorf("doc = %v", doc)
	}

	cw := doc["_aws"].(map[string]interface{})["CloudWatchMetrics"].([]interface{})[0].(map[string]interface{})
	if cw["Namespace"] != Namespace {
		t.Errorf("Namespace = %v", cw["Namespace"])
	}
	dims := cw["Dimensions"].([]interface{})[0].([]interface{})
	if len(dims) != 2 || dims[0] != "Category" || dims[1] != "Decision" {
		t.Errorf("Dimensions = %v, want sorted [Category Decision]", dims)
	}
	if n := len(cw["Metrics"].([]interface{})); n != 2 {
		t.Errorf("Metrics = %d", n)
	}
}

func TestRecorder_EmptyFlushWritesNothing(t *testing.T) {
	var buf bytes.Buffer
	New(Namespace).WithWriter(&buf).Dimension("Category", "shoes").Flush()
	if buf.Len() != 0 {
		t.Errorf("wrote %q", buf.String())
	}
}

func TestRecorder_ConcurrentAdd(t *testing.T) {
	r := New(Namespace)
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Add(IndexErrors, 1)
		}()
	}
	wg.Wait()
	if r.values[IndexErrors] != 20 {
		t.Errorf("IndexErrors = %v", r.values[IndexErrors])
	}
}

func TestRecorder_Since(t *testing.T) {
	r := New(Namespace).Since(EmbedLatency, time.Now().Add(-50*time.Millisecond))
	if r.values[EmbedLatency] < 50 || r.metrics[EmbedLatency].Unit != UnitMilliseconds {
		t.Errorf("EmbedLatency = %v %s", r.values[EmbedLatency], r.metrics[EmbedLatency].Unit)
	}
}
