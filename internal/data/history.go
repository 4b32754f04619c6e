package data

import "sync"

// History keeps the most recent test records, newest first.
type History struct {
	mu      sync.RWMutex
	limit   int
	records []TestRecord
}

func NewHistory(limit int) *History {
	if limit <= 0 {
		limit = HistoryLimit
	}
	return &History{limit: limit}
}

// Push prepends r and drops records beyond the limit.
func (h *History) Push(r TestRecord) {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := make([]TestRecord, 0, min(len(h.records)+1, h.limit))
	records = append(records, r)
	for _, old := range h.records {
		if len(records) == h.limit {
			break
		}
		records = append(records, old)
	}
	h.records = records
}

// Records returns a copy of the retained records, newest first.
func (h *History) Records() []TestRecord {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]TestRecord, len(h.records))
	copy(out, h.records)
	return out
}

func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

// Average returns the mean download, upload and ping over retained records.
func (h *History) Average() Results {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if len(h.records) == 0 {
		return Results{}
	}
	var avg Results
	for _, r := range h.records {
		avg.Download += r.Download
		avg.Upload += r.Upload
		avg.Ping += r.Ping
	}
	n := float64(len(h.records))
	avg.Download /= n
	avg.Upload /= n
	avg.Ping /= n
	return avg
}
