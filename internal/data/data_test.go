package data

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMean(t *testing.T) {
	assert.Equal(t, 20.0, Mean([]float64{10, 20, 30}))
	assert.Equal(t, 0.0, Mean(nil))
	assert.Equal(t, 999.0, Mean([]float64{999}))
}

func TestLatency(t *testing.T) {
	l := Latency([]float64{10, 20, 30})
	assert.Equal(t, 20.0, l.Avg)
	assert.Equal(t, 10.0, l.Min)
	assert.Equal(t, 30.0, l.Max)
	assert.InDelta(t, 20.0/3, l.Jitter, 1e-9)

	assert.Equal(t, LatencyResult{}, Latency(nil))
}

func TestMbps(t *testing.T) {
	// 5 MB in one second is 40 Mbps.
	assert.InDelta(t, 40.0, Mbps(5*BytesPerMB, time.Second), 1e-9)
	assert.InDelta(t, 80.0, Mbps(5*BytesPerMB, 500*time.Millisecond), 1e-9)
	assert.Equal(t, 0.0, Mbps(BytesPerMB, 0))
}

func TestMB(t *testing.T) {
	assert.Equal(t, 3.0, MB(3145728))
	assert.Equal(t, 0.0, MB(0))
	assert.Equal(t, 1.5, MB(BytesPerMB+BytesPerMB/2))
	assert.Equal(t, 0.01, MB(10000))
	// 1.125 MB exactly: the half rounds up.
	assert.Equal(t, 1.13, MB(1179648))
}

func TestHistoryBounded(t *testing.T) {
	h := NewHistory(HistoryLimit)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 8; i++ {
		h.Push(TestRecord{Timestamp: base.Add(time.Duration(i) * time.Minute), Download: float64(i)})
		require.LessOrEqual(t, h.Len(), HistoryLimit)
		assert.Equal(t, float64(i), h.Records()[0].Download, "newest record must be first")
	}

	records := h.Records()
	require.Len(t, records, HistoryLimit)
	for i, r := range records {
		assert.Equal(t, float64(7-i), r.Download)
	}
}

func TestHistoryRecordsIsCopy(t *testing.T) {
	h := NewHistory(0)
	h.Push(TestRecord{Download: 1})

	records := h.Records()
	records[0].Download = 42
	assert.Equal(t, 1.0, h.Records()[0].Download)
}

func TestHistoryAverage(t *testing.T) {
	h := NewHistory(5)
	assert.Equal(t, Results{}, h.Average())

	h.Push(TestRecord{Download: 10, Upload: 2, Ping: 30})
	h.Push(TestRecord{Download: 30, Upload: 4, Ping: 10})
	assert.Equal(t, Results{Download: 20, Upload: 3, Ping: 20}, h.Average())
}
