// Package jobclient talks to the job service that runs proxy tests. It holds
// no job state: every call maps to exactly one backend request.
package jobclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/hashicorp/go-retryablehttp"
	"golang.org/x/sync/singleflight"

	"proxy-dashboard/internal/model"
)

const (
	PathStart  = "/jobs/proxy-test"
	PathStop   = "/jobs/proxy-test/stop"
	PathState  = "/jobs/proxy-test/state"
	PathExport = "/jobs/proxy-test/export"
	PathSync   = "/jobs/proxy-test/sync"

	maxResponseBytes = 32 << 20
)

type Options struct {
	BaseURL      string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
	// RetryLogger receives retry warnings. Nil keeps retries silent, which
	// matters while a TUI owns the terminal.
	RetryLogger retryablehttp.LeveledLogger
	// HTTPClient is the transport wrapped by the retry layer.
	HTTPClient *http.Client
}

type StartAck struct {
	Message string `json:"message"`
}

type Artifact struct {
	Name     string `json:"filename"`
	Count    uint   `json:"count"`
	SyncHint string `json:"display_command,omitempty"`
}

type SyncAck struct {
	SyncHint string `json:"display_command,omitempty"`
}

type Client struct {
	baseURL string
	http    *http.Client
	flight  singleflight.Group
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("job service URL is required")
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		return nil, fmt.Errorf("job service URL must start with http:// or https://: %q", base)
	}

	retryClient := retryablehttp.NewClient()
	if opts.HTTPClient != nil {
		retryClient.HTTPClient = opts.HTTPClient
	}
	retryClient.RetryMax = maxInt(opts.RetryMax, 0)
	if opts.RetryWaitMin > 0 {
		retryClient.RetryWaitMin = opts.RetryWaitMin
	}
	if opts.RetryWaitMax > 0 {
		retryClient.RetryWaitMax = opts.RetryWaitMax
	}
	retryClient.CheckRetry = retryOnTransportError
	retryClient.ErrorHandler = retryablehttp.PassthroughErrorHandler
	if opts.RetryLogger != nil {
		retryClient.Logger = opts.RetryLogger
	} else {
		retryClient.Logger = nil
	}

	return &Client{
		baseURL: base,
		http:    retryClient.StandardClient(),
	}, nil
}

func (c *Client) BaseURL() string {
	return c.baseURL
}

// retryOnTransportError never retries once the service answered, so a
// rejected start is not replayed against a job that may have begun.
func retryOnTransportError(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	return err != nil, nil
}

func (c *Client) Start(ctx context.Context, inputText string) (StartAck, error) {
	proxies := strings.TrimSpace(inputText)
	if proxies == "" {
		return StartAck{}, model.NewError(model.KindValidation, "start", "enter at least one proxy to test", nil)
	}
	env, err := c.command(ctx, "start", PathStart, map[string]string{"proxies": proxies})
	if err != nil {
		return StartAck{}, err
	}
	return StartAck{Message: env.Message}, nil
}

func (c *Client) Stop(ctx context.Context) error {
	_, err := c.command(ctx, "stop", PathStop, nil)
	return err
}

// FetchSnapshot reads the job state. Callers overlapping in time share one
// request. Missing fields decode to zero values.
func (c *Client) FetchSnapshot(ctx context.Context) (model.JobSnapshot, error) {
	v, err, _ := c.flight.Do(PathState, func() (any, error) {
		return c.fetchSnapshot(ctx)
	})
	if err != nil {
		return model.JobSnapshot{}, err
	}
	return v.(model.JobSnapshot), nil
}

func (c *Client) fetchSnapshot(ctx context.Context) (model.JobSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+PathState, nil)
	if err != nil {
		return model.JobSnapshot{}, model.NewError(model.KindTransientPoll, "snapshot", "", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return model.JobSnapshot{}, model.NewError(model.KindTransientPoll, "snapshot", "job service unreachable", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return model.JobSnapshot{}, model.NewError(model.KindTransientPoll, "snapshot", "read response", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return model.JobSnapshot{}, model.NewError(model.KindTransientPoll, "snapshot", "unexpected status "+resp.Status, nil)
	}
	snap, err := decodeSnapshot(body)
	if err != nil {
		return model.JobSnapshot{}, model.NewError(model.KindTransientPoll, "snapshot", "", err)
	}
	return snap, nil
}

func (c *Client) ExportArtifact(ctx context.Context) (Artifact, error) {
	env, err := c.command(ctx, "export", PathExport, nil)
	if err != nil {
		return Artifact{}, err
	}
	if env.Count <= 0 {
		return Artifact{}, model.NewError(model.KindEmptyResult, "export", "no unique results to export", nil)
	}
	name := strings.TrimSpace(env.Filename)
	if name == "" {
		return Artifact{}, model.NewError(model.KindService, "export", "job service returned no filename", nil)
	}
	return Artifact{Name: name, Count: uint(env.Count), SyncHint: env.syncHint()}, nil
}

func (c *Client) SyncArtifact(ctx context.Context, name string) (SyncAck, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return SyncAck{}, model.NewError(model.KindNoArtifact, "sync", "export results before syncing", nil)
	}
	env, err := c.command(ctx, "sync", PathSync, map[string]string{"filename": name})
	if err != nil {
		return SyncAck{}, err
	}
	return SyncAck{SyncHint: env.syncHint()}, nil
}

// command posts body (nil for none) and decodes the shared envelope. Every
// failure is a service error carrying the backend's message when it has one.
func (c *Client) command(ctx context.Context, op, path string, body any) (envelope, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return envelope{}, model.NewError(model.KindService, op, "encode request", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reader)
	if err != nil {
		return envelope{}, model.NewError(model.KindService, op, "build request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, model.NewError(model.KindService, op, "job service unreachable", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return envelope{}, model.NewError(model.KindService, op, "read response", err)
	}

	var env envelope
	var decodeErr error
	if len(bytes.TrimSpace(raw)) > 0 {
		decodeErr = json.Unmarshal(raw, &env)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(env.Error)
		if decodeErr != nil || msg == "" {
			msg = "job service returned " + resp.Status
		}
		return envelope{}, model.NewError(model.KindService, op, msg, nil)
	}
	if decodeErr != nil {
		return envelope{}, model.NewError(model.KindService, op, "malformed response", decodeErr)
	}
	if env.failed() {
		msg := strings.TrimSpace(env.Error)
		if msg == "" {
			msg = op + " rejected by job service"
		}
		return envelope{}, model.NewError(model.KindService, op, msg, nil)
	}
	return env, nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
