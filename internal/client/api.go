package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/idanyas/speedcheck/internal/data"
)

// ErrUnexpectedStatus matches every *StatusError.
var ErrUnexpectedStatus = errors.New("unexpected status")

type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Body)
}

func (e *StatusError) Is(target error) bool {
	return target == ErrUnexpectedStatus
}

// API calls the probe endpoints below a base URL such as http://host:5000/api.
type API struct {
	base string
	http *http.Client
}

func NewAPI(baseURL string, httpClient *http.Client) (*API, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid server URL %q: %w", baseURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid server URL %q: scheme must be http or https", baseURL)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q: missing host", baseURL)
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &API{
		base: strings.TrimRight(baseURL, "/"),
		http: httpClient,
	}, nil
}

func (a *API) BaseURL() string { return a.base }

func (a *API) do(req *http.Request) (*http.Response, error) {
	resp, err := a.http.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}

func (a *API) getJSON(ctx context.Context, path string, v any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (a *API) Health(ctx context.Context) (*data.Health, error) {
	var h data.Health
	if err := a.getJSON(ctx, "/health", &h); err != nil {
		return nil, err
	}
	return &h, nil
}

// Ping performs one full round trip to the ping endpoint.
func (a *API) Ping(ctx context.Context) error {
	var pong data.Pong
	return a.getJSON(ctx, "/ping", &pong)
}

// Download fetches sizeMB megabytes and returns how many bytes were read.
func (a *API) Download(ctx context.Context, sizeMB int) (int64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.base+"/download?size="+strconv.Itoa(sizeMB), nil)
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := a.do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	n, err := io.Copy(io.Discard, resp.Body)
	if err != nil {
		return n, fmt.Errorf("failed to read body: %w", err)
	}
	return n, nil
}

// Upload posts payload as a raw octet stream and returns the acknowledgment.
func (a *API) Upload(ctx context.Context, payload []byte) (*data.UploadAck, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.base+"/upload-raw", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := a.do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var ack data.UploadAck
	if err := json.NewDecoder(resp.Body).Decode(&ack); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}
	if !ack.Success {
		return &ack, errors.New("server did not acknowledge upload")
	}
	return &ack, nil
}
