package metrics

import (
	"fmt"
	"math"
	"reflect"
	"time"
)

type MetricType string

const (
	Int     MetricType = "int"
	Float   MetricType = "float"
	String  MetricType = "string"
	Boolean MetricType = "boolean"
	// Duration values are float milliseconds.
	Duration MetricType = "duration"
)

// FlatValue is a struct that represents
// a flat metric value.
type FlatValue struct {
	Key   string      `json:"key"`
	Value interface{} `json:"value"`
	Type  MetricType  `json:"type"`
}

type MetricData struct {
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

// FormattedMetrics is the JSON payload served for the worker metrics
type FormattedMetrics struct {
	Metrics   map[string]MetricData `json:"metrics"`
	Timestamp string                `json:"timestamp"`
}

// NewMetric creates a new Metric object based on the provided key, value, and type.
func NewMetric(key string, value interface{}, typeStr MetricType) (FlatValue, error) {
	switch typeStr {
	case Int:
		v := reflect.ValueOf(value)
		if !(v.Kind() >= reflect.Int && v.Kind() <= reflect.Uint64) {
			return FlatValue{}, fmt.Errorf("value is not of type int")
		}
		// If value is uint64, try to safely cast to int64
		if v.Kind() == reflect.Uint64 {
			intVal, err := TryUint64ToInt64(v.Interface().(uint64))
			if err != nil {
				return FlatValue{}, err
			}
			value = intVal
		}
	case Float, Duration:
		if _, ok := value.(float64); !ok {
			return FlatValue{}, fmt.Errorf("value is not of type float")
		}
	case String:
		if _, ok := value.(string); !ok {
			return FlatValue{}, fmt.Errorf("value is not of type string")
		}
	case Boolean:
		if _, ok := value.(bool); !ok {
			return FlatValue{}, fmt.Errorf("value is not of type boolean")
		}
	default:
		return FlatValue{}, fmt.Errorf("unknown type: %s", typeStr)
	}

	return FlatValue{
		Key:   key,
		Value: value,
		Type:  typeStr,
	}, nil
}

// truncateFloat rounds to 3 decimals
func truncateFloat(f float64) float64 {
	return math.Round(f*1000) / 1000
}

// FormatMetrics keys the metrics by name; floats are rounded to 3 decimals.
func FormatMetrics(metrics []FlatValue) FormattedMetrics {
	metricsMap := make(map[string]MetricData)

	for _, metric := range metrics {
		value := metric.Value
		if f, ok := value.(float64); ok {
			value = truncateFloat(f)
		}
		metricsMap[metric.Key] = MetricData{
			Type:  string(metric.Type),
			Value: value,
		}
	}

	return FormattedMetrics{
		Metrics:   metricsMap,
		Timestamp: time.Now().Format(time.RFC3339Nano),
	}
}

func TryUint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value is too large to convert to int64")
	}
	return int64(value), nil
}

type MetricDef struct {
	Key  string
	Type MetricType
}

func (m MetricDef) AsFlatValue(value any) (FlatValue, error) {
	return NewMetric(m.Key, value, m.Type)
}

var (
	// Ticks
	TicksTotal   = MetricDef{Key: "powa_ticks_total", Type: Int}
	TicksFailed  = MetricDef{Key: "powa_ticks_failed", Type: Int}
	TicksOverrun = MetricDef{Key: "powa_ticks_overrun", Type: Int}

	// Durations of the last and the slowest snapshot
	TickLastElapsed = MetricDef{Key: "powa_tick_last_elapsed", Type: Duration}
	TickMaxElapsed  = MetricDef{Key: "powa_tick_max_elapsed", Type: Duration}
	TickLastWait    = MetricDef{Key: "powa_tick_last_wait", Type: Duration}

	TickLastError = MetricDef{Key: "powa_tick_last_error", Type: String}

	// Worker
	WorkerRunning = MetricDef{Key: "powa_worker_running", Type: Boolean}
)
