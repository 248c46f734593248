// Package metrics emits CloudWatch Embedded Metric Format (EMF) documents.
// Each document is one JSON line on stdout; CloudWatch Logs extracts the
// metrics from it without any API call.
package metrics

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"
)

// Namespace is the CloudWatch namespace for all identification metrics.
const Namespace = "ItemIdentify"

// Standard CloudWatch metric units.
const (
	UnitMilliseconds = "Milliseconds"
	UnitCount        = "Count"
	UnitNone         = "None"
)

// Metric names.
const (
	ScanLatency    = "ScanLatencyMs"
	EmbedLatency   = "EmbedLatencyMs"
	OCRLatency     = "OCRLatencyMs"
	IndexLatency   = "IndexLatencyMs"
	CandidateCount = "CandidateCount"
	CacheHit       = "CacheHit"
	SessionReused  = "SessionReused"
	IndexErrors    = "IndexErrors"
	RequestLatency = "RequestLatencyMs"
	FeedbackCount  = "FeedbackCount"
	EmbedFailures  = "EmbedFailures"
)

type metricDef struct {
	Name string `json:"Name"`
	Unit string `json:"Unit"`
}

type emfDirective struct {
	Timestamp         int64      `json:"Timestamp"`
	CloudWatchMetrics []cwMetric `json:"CloudWatchMetrics"`
}

type cwMetric struct {
	Namespace  string      `json:"Namespace"`
	Dimensions [][]string  `json:"Dimensions"`
	Metrics    []metricDef `json:"Metrics"`
}

// Recorder accumulates one EMF document. It is safe for concurrent use so
// the goroutines of a single scan can share it.
type Recorder struct {
	mu         sync.Mutex
	namespace  string
	out        io.Writer
	dimensions map[string]string
	metrics    map[string]metricDef
	values     map[string]float64
	properties map[string]interface{}
}

var (
	functionName string
	initOnce     sync.Once
)

// New creates a Recorder writing to stdout. The Lambda function name, when
// present, is added as the FunctionName dimension.
func New(namespace string) *Recorder {
	initOnce.Do(func() { functionName = os.Getenv("AWS_LAMBDA_FUNCTION_NAME") })
	r := &Recorder{
		namespace:  namespace,
		out:        os.Stdout,
		dimensions: make(map[string]string),
		metrics:    make(map[string]metricDef),
		values:     make(map[string]float64),
		properties: make(map[string]interface{}),
	}
	if functionName != "" {
		r.dimensions["FunctionName"] = functionName
	}
	return r
}

// WithWriter redirects Flush output.
func (r *Recorder) WithWriter(w io.Writer) *Recorder {
	r.mu.Lock()
	r.out = w
	r.mu.Unlock()
	return r
}

// Dimension sets an indexed dimension.
func (r *Recorder) Dimension(key, value string) *Recorder {
	r.mu.Lock()
	r.dimensions[key] = value
	r.mu.Unlock()
	return r
}

// Metric sets a metric value, replacing any earlier value for name.
func (r *Recorder) Metric(name string, value float64, unit string) *Recorder {
	r.mu.Lock()
	r.metrics[name] = metricDef{Name: name, Unit: unit}
	r.values[name] = value
	r.mu.Unlock()
	return r
}

// Add increments a count metric.
func (r *Recorder) Add(name string, delta float64) *Recorder {
	r.mu.Lock()
	r.metrics[name] = metricDef{Name: name, Unit: UnitCount}
	r.values[name] += delta
	r.mu.Unlock()
	return r
}

// Since records the milliseconds elapsed since start.
func (r *Recorder) Since(name string, start time.Time) *Recorder {
	return r.Metric(name, float64(time.Since(start).Milliseconds()), UnitMilliseconds)
}

// Property adds a searchable field that is not a metric.
func (r *Recorder) Property(key string, value interface{}) *Recorder {
	r.mu.Lock()
	r.properties[key] = value
	r.mu.Unlock()
	return r
}

// Flush writes the document as a single line. A recorder with no metrics
// writes nothing.
func (r *Recorder) Flush() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.metrics) == 0 {
		return
	}

	names := make([]string, 0, len(r.metrics))
	for name := range r.metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	defs := make([]metricDef, 0, len(names))
	for _, name := range names {
		defs = append(defs, r.metrics[name])
	}

	dimKeys := make([]string, 0, len(r.dimensions))
	for k := range r.dimensions {
		dimKeys = append(dimKeys, k)
	}
	sort.Strings(dimKeys)

	doc := make(map[string]interface{}, len(r.properties)+len(r.dimensions)+len(r.values)+1)
	for k, v := range r.properties {
		doc[k] = v
	}
	for k, v := range r.dimensions {
		doc[k] = v
	}
	for k, v := range r.values {
		doc[k] = v
	}
	doc["_aws"] = emfDirective{
		Timestamp: time.Now().UnixMilli(),
		CloudWatchMetrics: []cwMetric{{
			Namespace:  r.namespace,
			Dimensions: [][]string{dimKeys},
			Metrics:    defs,
		}},
	}

	data, err := json.Marshal(doc)
	if err != nil {
		fmt.Fprintf(os.Stderr, "emf: failed to marshal metrics: %v\n", err)
		return
	}
	fmt.Fprintln(r.out, string(data))
}
