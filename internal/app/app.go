package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/idanyas/speedcheck/internal/client"
	"github.com/idanyas/speedcheck/internal/data"
)

// MsgTestFailed is the only error text shown to users when a run aborts.
const MsgTestFailed = "Test failed. Please try again."

// MsgServerUnreachable is shown when the pre-run health check fails.
const MsgServerUnreachable = "Speed test server is unreachable."

// Prober is the set of probe endpoints the engine drives.
type Prober interface {
	Health(ctx context.Context) (*data.Health, error)
	Ping(ctx context.Context) error
	Download(ctx context.Context, sizeMB int) (int64, error)
	Upload(ctx context.Context, payload []byte) (*data.UploadAck, error)
}

type Options struct {
	LatencyIterations int
	LatencyDelay      time.Duration
	// LatencyPenalty replaces the sample of a failed ping, in milliseconds.
	LatencyPenalty float64

	DownloadIterations int
	DownloadSizeMB     int
	DownloadDelay      time.Duration

	UploadIterations int
	UploadSizeMB     int
	UploadDelay      time.Duration

	PhaseDelay   time.Duration
	DisplayDelay time.Duration
	CheckHealth  bool
}

func DefaultOptions() Options {
	return Options{
		LatencyIterations:  5,
		LatencyDelay:       100 * time.Millisecond,
		LatencyPenalty:     999,
		DownloadIterations: 3,
		DownloadSizeMB:     5,
		DownloadDelay:      300 * time.Millisecond,
		UploadIterations:   2,
		UploadSizeMB:       3,
		UploadDelay:        300 * time.Millisecond,
		PhaseDelay:         300 * time.Millisecond,
		DisplayDelay:       time.Second,
		CheckHealth:        true,
	}
}

// Report is everything one successful run measured.
type Report struct {
	Record   data.TestRecord
	Latency  data.LatencyResult
	Download data.SpeedResult
	Upload   data.SpeedResult
}

type Engine struct {
	prober  Prober
	opts    Options
	history *data.History
	payload func(sizeMB int) []byte
	now     func() time.Time
}

func New(prober Prober, opts Options) *Engine {
	def := DefaultOptions()
	if opts.LatencyIterations <= 0 {
		opts.LatencyIterations = def.LatencyIterations
	}
	if opts.LatencyPenalty <= 0 {
		opts.LatencyPenalty = def.LatencyPenalty
	}
	if opts.DownloadIterations <= 0 {
		opts.DownloadIterations = def.DownloadIterations
	}
	if opts.DownloadSizeMB <= 0 {
		opts.DownloadSizeMB = def.DownloadSizeMB
	}
	if opts.UploadIterations <= 0 {
		opts.UploadIterations = def.UploadIterations
	}
	if opts.UploadSizeMB <= 0 {
		opts.UploadSizeMB = def.UploadSizeMB
	}
	return &Engine{
		prober:  prober,
		opts:    opts,
		history: data.NewHistory(data.HistoryLimit),
		payload: client.GeneratePayload,
		now:     time.Now,
	}
}

func (e *Engine) History() *data.History { return e.history }

func (e *Engine) Options() Options { return e.opts }

// Run measures latency, download and upload, strictly one after another.
// Every state change is sent on updates, which may be nil. Run does not
// close updates.
func (e *Engine) Run(ctx context.Context, updates chan<- State) (*Report, error) {
	t := &tracker{ctx: ctx, updates: updates}

	if e.opts.CheckHealth {
		if err := e.checkHealth(ctx); err != nil {
			t.state = State{Phase: PhaseIdle, Err: MsgServerUnreachable}
			t.emit()
			return nil, err
		}
	}

	report, err := e.run(ctx, t)
	if err != nil {
		t.state.Phase = PhaseFailed
		t.state.Message = ""
		t.state.Err = MsgTestFailed
		t.emit()
	} else {
		e.history.Push(report.Record)
		t.state.Phase = PhaseComplete
		t.state.Message = "Test complete!"
		t.advance(100)
	}

	_ = sleep(ctx, e.opts.DisplayDelay)
	t.state = State{Phase: PhaseIdle, Results: t.state.Results, Err: t.state.Err}
	t.emit()

	return report, err
}

func (e *Engine) checkHealth(ctx context.Context) error {
	h, err := e.prober.Health(ctx)
	if err != nil {
		return fmt.Errorf("health check: %w", err)
	}
	if h.Status != "ok" {
		return fmt.Errorf("health check: server reports status %q", h.Status)
	}
	return nil
}

func (e *Engine) run(ctx context.Context, t *tracker) (*Report, error) {
	report := &Report{}

	t.enter(PhaseLatency, "Measuring latency...")
	latency, err := e.measureLatency(ctx, t.band(0, 33))
	if err != nil {
		return nil, fmt.Errorf("latency probe: %w", err)
	}
	report.Latency = latency
	t.state.Results.Ping = latency.Avg
	t.advance(33)

	if err := sleep(ctx, e.opts.PhaseDelay); err != nil {
		return nil, err
	}

	t.enter(PhaseDownload, "Testing download speed...")
	download, err := e.measureDownload(ctx, t.band(33, 67))
	if err != nil {
		return nil, fmt.Errorf("download probe: %w", err)
	}
	report.Download = download
	t.state.Results.Download = download.Mbps
	t.emit()

	if err := sleep(ctx, e.opts.PhaseDelay); err != nil {
		return nil, err
	}

	t.enter(PhaseUpload, "Testing upload speed...")
	upload, err := e.measureUpload(ctx, t.band(67, 100))
	if err != nil {
		return nil, fmt.Errorf("upload probe: %w", err)
	}
	report.Upload = upload
	t.state.Results.Upload = upload.Mbps
	t.emit()

	report.Record = data.TestRecord{
		Timestamp: e.now(),
		Download:  download.Mbps,
		Upload:    upload.Mbps,
		Ping:      latency.Avg,
	}
	return report, nil
}

// measureLatency never fails because of the server: a failed ping counts as
// the penalty sample. Only context cancellation stops it early.
func (e *Engine) measureLatency(ctx context.Context, onProgress func(float64)) (data.LatencyResult, error) {
	n := e.opts.LatencyIterations
	samples := make([]float64, 0, n)
	failed := 0

	for i := 0; i < n; i++ {
		start := time.Now()
		err := e.prober.Ping(ctx)
		sample := float64(time.Since(start).Microseconds()) / 1000
		if err != nil {
			if ctx.Err() != nil {
				return data.LatencyResult{}, ctx.Err()
			}
			sample = e.opts.LatencyPenalty
			failed++
		}
		samples = append(samples, sample)
		onProgress(float64(i+1) / float64(n))

		if i < n-1 {
			if err := sleep(ctx, e.opts.LatencyDelay); err != nil {
				return data.LatencyResult{}, err
			}
		}
	}

	result := data.Latency(samples)
	result.Failed = failed
	return result, nil
}

func (e *Engine) measureDownload(ctx context.Context, onProgress func(float64)) (data.SpeedResult, error) {
	n := e.opts.DownloadIterations
	samples := make([]float64, 0, n)
	var total int64

	for i := 0; i < n; i++ {
		start := time.Now()
		received, err := e.prober.Download(ctx, e.opts.DownloadSizeMB)
		if err != nil {
			return data.SpeedResult{}, err
		}
		elapsed := time.Since(start)
		if received == 0 {
			return data.SpeedResult{}, errors.New("server sent an empty body")
		}

		total += received
		samples = append(samples, data.Mbps(received, elapsed))
		onProgress(float64(i+1) / float64(n))

		if i < n-1 {
			if err := sleep(ctx, e.opts.DownloadDelay); err != nil {
				return data.SpeedResult{}, err
			}
		}
	}

	return data.SpeedResult{Mbps: data.Mean(samples), Bytes: total, Samples: samples}, nil
}

// measureUpload times only the request/response pair; the server's own
// numbers are never consulted.
func (e *Engine) measureUpload(ctx context.Context, onProgress func(float64)) (data.SpeedResult, error) {
	n := e.opts.UploadIterations
	samples := make([]float64, 0, n)
	var total int64

	for i := 0; i < n; i++ {
		payload := e.payload(e.opts.UploadSizeMB)

		start := time.Now()
		if _, err := e.prober.Upload(ctx, payload); err != nil {
			return data.SpeedResult{}, err
		}
		elapsed := time.Since(start)

		total += int64(len(payload))
		samples = append(samples, data.Mbps(int64(len(payload)), elapsed))
		onProgress(float64(i+1) / float64(n))

		if i < n-1 {
			if err := sleep(ctx, e.opts.UploadDelay); err != nil {
				return data.SpeedResult{}, err
			}
		}
	}

	return data.SpeedResult{Mbps: data.Mean(samples), Bytes: total, Samples: samples}, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result converts the report into its JSON form.
func (r *Report) Result(server string) *data.TestResult {
	return &data.TestResult{
		Server:    server,
		Timestamp: r.Record.Timestamp,
		Latency: data.Stats{
			Value:  r.Latency.Avg,
			Jitter: r.Latency.Jitter,
			Min:    r.Latency.Min,
			Max:    r.Latency.Max,
			Failed: r.Latency.Failed,
		},
		Download: data.Speed{Mbps: r.Download.Mbps, DataMB: data.MB(r.Download.Bytes)},
		Upload:   data.Speed{Mbps: r.Upload.Mbps, DataMB: data.MB(r.Upload.Bytes)},
	}
}
