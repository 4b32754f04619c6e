package app

import (
	"context"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/idanyas/speedcheck/internal/client"
	"github.com/idanyas/speedcheck/internal/config"
	"github.com/idanyas/speedcheck/internal/data"
	"github.com/idanyas/speedcheck/internal/server"
)

var errBoom = errors.New("connection reset")

type fakeProber struct {
	mu          sync.Mutex
	calls       []string
	pings       int
	downloads   int
	healthErr   error
	healthState string
	pingFail    map[int]bool
	downloadErr error
	uploadErr   error
	uploadSizes []int
}

func (f *fakeProber) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeProber) Health(context.Context) (*data.Health, error) {
	f.record("health")
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	status := f.healthState
	if status == "" {
		status = "ok"
	}
	return &data.Health{Status: status}, nil
}

func (f *fakeProber) Ping(context.Context) error {
	f.record("ping")
	i := f.pings
	f.pings++
	time.Sleep(time.Millisecond)
	if f.pingFail[i] {
		return errBoom
	}
	return nil
}

func (f *fakeProber) Download(_ context.Context, sizeMB int) (int64, error) {
	f.record("download")
	f.downloads++
	if f.downloadErr != nil {
		return 0, f.downloadErr
	}
	time.Sleep(time.Millisecond)
	return int64(sizeMB) * data.BytesPerMB, nil
}

func (f *fakeProber) Upload(_ context.Context, payload []byte) (*data.UploadAck, error) {
	f.record("upload")
	f.uploadSizes = append(f.uploadSizes, len(payload))
	if f.uploadErr != nil {
		return nil, f.uploadErr
	}
	time.Sleep(time.Millisecond)
	return &data.UploadAck{Success: true, Received: int64(len(payload)), ReceivedMB: data.MB(int64(len(payload)))}, nil
}

func fastOptions() Options {
	opts := DefaultOptions()
	opts.LatencyDelay = 0
	opts.DownloadDelay = 0
	opts.UploadDelay = 0
	opts.PhaseDelay = 0
	opts.DisplayDelay = 0
	return opts
}

func newFastEngine(p Prober) *Engine {
	e := New(p, fastOptions())
	e.payload = func(sizeMB int) []byte { return make([]byte, sizeMB*data.BytesPerMB) }
	return e
}

func runCollect(t *testing.T, e *Engine) (*Report, []State, error) {
	t.Helper()
	updates := make(chan State, 256)
	report, err := e.Run(context.Background(), updates)
	close(updates)

	var states []State
	for s := range updates {
		states = append(states, s)
	}
	return report, states, err
}

func TestRunIsSequential(t *testing.T) {
	f := &fakeProber{}
	report, _, err := runCollect(t, newFastEngine(f))
	require.NoError(t, err)

	want := []string{"health",
		"ping", "ping", "ping", "ping", "ping",
		"download", "download", "download",
		"upload", "upload",
	}
	assert.Equal(t, want, f.calls)
	assert.Equal(t, []int{3 * data.BytesPerMB, 3 * data.BytesPerMB}, f.uploadSizes)

	assert.Len(t, report.Latency.Samples, 5)
	assert.Len(t, report.Download.Samples, 3)
	assert.Len(t, report.Upload.Samples, 2)
	assert.Equal(t, int64(15*data.BytesPerMB), report.Download.Bytes)
	assert.Equal(t, int64(6*data.BytesPerMB), report.Upload.Bytes)
	assert.Equal(t, data.Mean(report.Download.Samples), report.Record.Download)
	assert.Equal(t, data.Mean(report.Upload.Samples), report.Record.Upload)
	assert.Equal(t, data.Mean(report.Latency.Samples), report.Record.Ping)
	assert.Greater(t, report.Record.Download, 0.0)
}

func TestLatencyFailureUsesPenalty(t *testing.T) {
	f := &fakeProber{pingFail: map[int]bool{2: true}}
	report, _, err := runCollect(t, newFastEngine(f))
	require.NoError(t, err, "a failed ping must not abort the run")

	samples := report.Latency.Samples
	require.Len(t, samples, 5)
	assert.Equal(t, 999.0, samples[2])
	assert.Equal(t, 1, report.Latency.Failed)
	for i, s := range samples {
		if i != 2 {
			assert.Less(t, s, 999.0)
		}
	}
	assert.Equal(t, 3, f.downloads)
}

func TestAllPingsFailing(t *testing.T) {
	f := &fakeProber{pingFail: map[int]bool{0: true, 1: true, 2: true, 3: true, 4: true}}
	report, _, err := runCollect(t, newFastEngine(f))
	require.NoError(t, err)
	assert.Equal(t, 999.0, report.Record.Ping)
	assert.Equal(t, 5, report.Latency.Failed)
}

func TestDownloadFailureAbortsRun(t *testing.T) {
	f := &fakeProber{downloadErr: errBoom}
	e := newFastEngine(f)

	report, states, err := runCollect(t, e)
	require.Error(t, err)
	assert.Nil(t, report)
	assert.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "download probe")

	assert.Equal(t, 1, f.downloads, "no retry")
	assert.NotContains(t, f.calls, "upload")
	assert.Zero(t, e.History().Len())

	require.GreaterOrEqual(t, len(states), 2)
	failed := states[len(states)-2]
	assert.Equal(t, PhaseFailed, failed.Phase)
	assert.Equal(t, MsgTestFailed, failed.Err)
	assert.Greater(t, failed.Results.Ping, 0.0, "partial results stay visible")

	last := states[len(states)-1]
	assert.Equal(t, PhaseIdle, last.Phase)
	assert.Equal(t, failed.Results, last.Results)
}

func TestUploadFailureAbortsRun(t *testing.T) {
	f := &fakeProber{uploadErr: errBoom}
	e := newFastEngine(f)

	_, states, err := runCollect(t, e)
	require.ErrorIs(t, err, errBoom)
	assert.Contains(t, err.Error(), "upload probe")
	assert.Equal(t, []int{3 * data.BytesPerMB}, f.uploadSizes)

	failed := states[len(states)-2]
	assert.Equal(t, PhaseFailed, failed.Phase)
	assert.Greater(t, failed.Results.Download, 0.0)
	assert.Zero(t, failed.Results.Upload)
}

func TestHealthCheckFailure(t *testing.T) {
	for _, f := range []*fakeProber{{healthErr: errBoom}, {healthState: "degraded"}} {
		_, states, err := runCollect(t, newFastEngine(f))
		require.Error(t, err)
		assert.Equal(t, []string{"health"}, f.calls)
		require.Len(t, states, 1)
		assert.Equal(t, PhaseIdle, states[0].Phase)
		assert.Equal(t, MsgServerUnreachable, states[0].Err)
	}
}

func TestHealthCheckDisabled(t *testing.T) {
	f := &fakeProber{healthErr: errBoom}
	opts := fastOptions()
	opts.CheckHealth = false
	e := New(f, opts)

	_, _, err := runCollect(t, e)
	require.NoError(t, err)
	assert.NotContains(t, f.calls, "health")
}

func TestStateMachineAndProgress(t *testing.T) {
	_, states, err := runCollect(t, newFastEngine(&fakeProber{}))
	require.NoError(t, err)
	require.NotEmpty(t, states)

	var phases []Phase
	for _, s := range states {
		if len(phases) == 0 || phases[len(phases)-1] != s.Phase {
			phases = append(phases, s.Phase)
		}
	}
	assert.Equal(t, []Phase{PhaseLatency, PhaseDownload, PhaseUpload, PhaseComplete, PhaseIdle}, phases)

	prev := 0.0
	for _, s := range states[:len(states)-1] {
		assert.GreaterOrEqual(t, s.Progress, prev, "progress must not decrease")
		prev = s.Progress

		switch s.Phase {
		case PhaseLatency:
			assert.LessOrEqual(t, s.Progress, 33.0)
		case PhaseDownload:
			assert.GreaterOrEqual(t, s.Progress, 33.0)
			assert.LessOrEqual(t, s.Progress, 67.0)
		case PhaseUpload:
			assert.GreaterOrEqual(t, s.Progress, 67.0)
			assert.LessOrEqual(t, s.Progress, 100.0)
		case PhaseComplete:
			assert.Equal(t, 100.0, s.Progress)
			assert.Equal(t, "Test complete!", s.Message)
		}
	}

	last := states[len(states)-1]
	assert.Equal(t, PhaseIdle, last.Phase)
	assert.Zero(t, last.Progress)
	assert.Empty(t, last.Err)
	assert.Greater(t, last.Results.Upload, 0.0)
}

func TestHistoryAcrossRuns(t *testing.T) {
	e := newFastEngine(&fakeProber{})
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	runs := 0
	e.now = func() time.Time { return base.Add(time.Duration(runs) * time.Minute) }

	for ; runs < 7; runs++ {
		_, err := e.Run(context.Background(), nil)
		require.NoError(t, err)
	}

	records := e.History().Records()
	require.Len(t, records, data.HistoryLimit)
	assert.Equal(t, base.Add(6*time.Minute), records[0].Timestamp)
	assert.Equal(t, base.Add(2*time.Minute), records[4].Timestamp)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	opts := fastOptions()
	opts.CheckHealth = false
	_, err := New(&fakeProber{}, opts).Run(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewFillsDefaults(t *testing.T) {
	e := New(&fakeProber{}, Options{})
	opts := e.Options()
	assert.Equal(t, 5, opts.LatencyIterations)
	assert.Equal(t, 999.0, opts.LatencyPenalty)
	assert.Equal(t, 3, opts.DownloadIterations)
	assert.Equal(t, 5, opts.DownloadSizeMB)
	assert.Equal(t, 2, opts.UploadIterations)
	assert.Equal(t, 3, opts.UploadSizeMB)
}

func TestEndToEnd(t *testing.T) {
	srv := server.New(config.Default().Server, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	httpClient, err := client.NewHTTPClient(client.Options{})
	require.NoError(t, err)
	api, err := client.NewAPI(ts.URL+"/api", httpClient)
	require.NoError(t, err)

	opts := fastOptions()
	opts.DownloadSizeMB = 1
	opts.UploadSizeMB = 1
	e := New(api, opts)

	report, _, err := runCollect(t, e)
	require.NoError(t, err)

	assert.Equal(t, int64(3*data.BytesPerMB), report.Download.Bytes)
	assert.Equal(t, int64(2*data.BytesPerMB), report.Upload.Bytes)
	assert.Greater(t, report.Record.Download, 0.0)
	assert.Greater(t, report.Record.Upload, 0.0)
	assert.Greater(t, report.Record.Ping, 0.0)
	assert.Zero(t, report.Latency.Failed)
	assert.Equal(t, 1, e.History().Len())
}
