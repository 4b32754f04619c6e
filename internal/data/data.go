package data

import (
	"math"
	"time"
)

// BytesPerMB is the megabyte used by both the probe server and the client.
const BytesPerMB = 1024 * 1024

// HistoryLimit is the number of test records kept in memory.
const HistoryLimit = 5

type Results struct {
	Download float64 `json:"download_mbps"`
	Upload   float64 `json:"upload_mbps"`
	Ping     float64 `json:"ping_ms"`
}

type TestRecord struct {
	Timestamp time.Time `json:"timestamp"`
	Download  float64   `json:"download_mbps"`
	Upload    float64   `json:"upload_mbps"`
	Ping      float64   `json:"ping_ms"`
}

// TestResult is the machine-readable summary of one run.
type TestResult struct {
	Server    string    `json:"server"`
	Timestamp time.Time `json:"timestamp"`
	Latency   Stats     `json:"latency"`
	Download  Speed     `json:"download"`
	Upload    Speed     `json:"upload"`
}

type Stats struct {
	Value  float64 `json:"value_ms"`
	Jitter float64 `json:"jitter_ms"`
	Min    float64 `json:"min_ms"`
	Max    float64 `json:"max_ms"`
	Failed int     `json:"failed"`
}

type Speed struct {
	Mbps   float64 `json:"mbps"`
	DataMB float64 `json:"data_mb"`
}

type LatencyResult struct {
	Avg     float64
	Jitter  float64
	Min     float64
	Max     float64
	Samples []float64
	Failed  int
}

type SpeedResult struct {
	Mbps    float64
	Bytes   int64
	Samples []float64
}

type Health struct {
	Status    string  `json:"status"`
	Timestamp string  `json:"timestamp"`
	Uptime    float64 `json:"uptime"`
}

type Pong struct {
	Timestamp int64  `json:"timestamp"`
	Message   string `json:"message"`
}

type UploadAck struct {
	Success    bool    `json:"success"`
	Received   int64   `json:"received"`
	ReceivedMB float64 `json:"receivedMB"`
	Timestamp  int64   `json:"timestamp"`
}

// Mean returns the arithmetic mean of samples, or 0 for an empty slice.
func Mean(samples []float64) float64 {
	if len(samples) == 0 {
		return 0
	}
	sum := 0.0
	for _, s := range samples {
		sum += s
	}
	return sum / float64(len(samples))
}

// Latency summarises ping samples. Jitter is the mean absolute deviation.
func Latency(samples []float64) LatencyResult {
	if len(samples) == 0 {
		return LatencyResult{}
	}
	avg := Mean(samples)
	min := math.MaxFloat64
	max := 0.0
	jitterSum := 0.0
	for _, l := range samples {
		if l < min {
			min = l
		}
		if l > max {
			max = l
		}
		jitterSum += math.Abs(l - avg)
	}
	return LatencyResult{
		Avg:     avg,
		Jitter:  jitterSum / float64(len(samples)),
		Min:     min,
		Max:     max,
		Samples: samples,
	}
}

// Mbps converts a transfer of n bytes over elapsed into megabits per second.
func Mbps(n int64, elapsed time.Duration) float64 {
	secs := elapsed.Seconds()
	if secs <= 0 {
		return 0
	}
	return (float64(n) / BytesPerMB * 8) / secs
}

// MB returns n bytes in megabytes rounded to two decimals. Halves round away
// from zero, which for non-negative sizes matches toFixed(2) on the wire.
func MB(n int64) float64 {
	return math.Round(float64(n)/BytesPerMB*100) / 100
}
