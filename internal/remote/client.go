package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/CZERTAINLY/autoroam/internal/roam"
)

const (
	StartPath    = "/api/start_roam"
	LogsPath     = "/api/logs"
	SummaryPath  = "/api/latest_cycle_summary"
	DoneFlagPath = "/server/roam_done.flag"

	DefaultTimeout = 10 * time.Second
)

var ErrRunInProgress = errors.New("roam already running on the remote endpoint")

// Client talks to the remote run endpoint. It implements roam.Endpoint.
type Client struct {
	baseURL *url.URL
	client  *http.Client
	now     func() time.Time
}

// New returns a client for serverURL, which must carry a scheme and a host
// and no path, e.g. `http://raspberrypi.local:8080`.
func New(serverURL string, timeout time.Duration) (*Client, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the endpoint url with a scheme and without path, e.g. `http://raspberrypi.local:8080`")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Client{
		baseURL: parsedURL,
		client:  &http.Client{Timeout: timeout},
		now:     time.Now,
	}, nil
}

// TriggerRun asks the endpoint to start a roam cycle. It does not wait
// for the cycle to complete.
func (c *Client) TriggerRun(ctx context.Context, params roam.Parameters) (roam.Ack, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return roam.Ack{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(StartPath, false), bytes.NewReader(body))
	if err != nil {
		return roam.Ack{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return roam.Ack{}, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusCreated, http.StatusAccepted:
		var ack roam.Ack
		if err := decodeJSON(resp, &ack); err != nil {
			// the acknowledgement payload is not interpreted
			slog.DebugContext(ctx, "ignoring malformed start acknowledgement", "error", err)
		}
		return ack, nil
	case http.StatusConflict:
		return roam.Ack{}, fmt.Errorf("%w: %s", ErrRunInProgress, problemDetail(resp))
	default:
		return roam.Ack{}, unexpected(resp)
	}
}

// FetchLog returns the full log of the current run.
func (c *Client) FetchLog(ctx context.Context) (string, error) {
	resp, err := c.get(ctx, LogsPath)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		return "", unexpected(resp)
	}
	var payload struct {
		Log string `json:"log"`
	}
	if err := decodeJSON(resp, &payload); err != nil {
		return "", err
	}
	return payload.Log, nil
}

// FetchEarlyExit reports whether the early exit marker exists.
func (c *Client) FetchEarlyExit(ctx context.Context) (bool, error) {
	resp, err := c.get(ctx, DoneFlagPath)
	if err != nil {
		return false, err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, unexpected(resp)
	}
}

// FetchLatestSummary returns the latest cycle summary, or nil if the
// endpoint has none yet.
func (c *Client) FetchLatestSummary(ctx context.Context) (*roam.Summary, error) {
	resp, err := c.get(ctx, SummaryPath)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch resp.StatusCode {
	case http.StatusOK:
		var summary roam.Summary
		if err := decodeJSON(resp, &summary); err != nil {
			return nil, err
		}
		return &summary, nil
	case http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, nil
	default:
		return nil, unexpected(resp)
	}
}

func (c *Client) get(ctx context.Context, path string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url(path, true), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Cache-Control", "no-cache")
	return c.client.Do(req)
}

func (c *Client) url(path string, nocache bool) string {
	u := *c.baseURL
	u.Path = path
	if nocache {
		q := u.Query()
		q.Set("nocache", strconv.FormatInt(c.now().UnixNano(), 10))
		u.RawQuery = q.Encode()
	}
	return u.String()
}

func decodeJSON(resp *http.Response, v any) error {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return fmt.Errorf("failed to parse response content type header: %w", err)
	}
	if contentType != "application/json" {
		return fmt.Errorf("expected `application/json` content type, got: %s", contentType)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("decoding json response failed: %w", err)
	}
	return nil
}

func problemDetail(resp *http.Response) string {
	contentType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if contentType == "application/problem+json" {
		var problem struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problem); err == nil && problem.Detail != "" {
			return problem.Detail
		}
	}
	return http.StatusText(resp.StatusCode)
}

func unexpected(resp *http.Response) error {
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return err
	}
	return fmt.Errorf("unexpected response, status: %d, body: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}
