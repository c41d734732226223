package service

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
	"strings"
	"time"
)

const (
	uploadPath  = "api/v1/roam-results"
	contentType = "application/json"
)

// ResultRepoUploader posts run results to a results repository.
type ResultRepoUploader struct {
	requestURL *url.URL
	client     *http.Client
}

func NewResultRepoUploader(serverURL string) (*ResultRepoUploader, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}

	parsedURL.Path = uploadPath

	return &ResultRepoUploader{
		requestURL: parsedURL,
		client:     &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (c *ResultRepoUploader) Upload(ctx context.Context, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	createResp, err := c.decodeUploadResponse(resp)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "run result uploaded successfully.", slog.String("id", createResp.ID))

	return nil
}

type ResultCreateResponse struct {
	ID string `json:"id"`
}

func (c *ResultRepoUploader) decodeUploadResponse(resp *http.Response) (ResultCreateResponse, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return ResultCreateResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated:
		if contentType != "application/json" {
			return ResultCreateResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var rc ResultCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&rc); err != nil {
			return ResultCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if rc.ID == "" {
			return ResultCreateResponse{}, errors.New("received unexpected body")
		}
		return rc, nil

	case http.StatusBadRequest, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType != "application/problem+json" {
			return ResultCreateResponse{}, fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
		}
		var problemDetail struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problemDetail); err != nil {
			return ResultCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return ResultCreateResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problemDetail.Detail)
	}

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ResultCreateResponse{}, err
	}
	return ResultCreateResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(respBody))
}
