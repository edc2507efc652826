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
)

const (
	uploadPath        = "api/v1/results"
	resultContentType = "application/json"
)

// RepoUploader posts finished runs to a results repository.
type RepoUploader struct {
	requestURL *url.URL
	client     *http.Client
}

func NewRepoUploader(serverURL string) (*RepoUploader, error) {
	parsedURL, err := url.Parse(serverURL)
	if err != nil {
		return nil, err
	}
	parsedURL.Path = strings.TrimRight(parsedURL.Path, "/")

	if parsedURL.Scheme == "" || parsedURL.Host == "" || parsedURL.Path != "" {
		return nil, errors.New("please define the server url with a scheme and without path, e.g. `http://some-url.com`")
	}
	parsedURL.Path = uploadPath

	return &RepoUploader{
		requestURL: parsedURL,
		client:     &http.Client{},
	}, nil
}

// ResultCreateResponse is the body of 201 Created.
type ResultCreateResponse struct {
	ID    string `json:"id"`
	RunID string `json:"run_id"`
}

func (c *RepoUploader) Upload(ctx context.Context, runID string, raw []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.requestURL.String(), bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", resultContentType)
	req.Header.Set("X-Diskbench-Run-Id", runID)

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	created, err := c.decodeUploadResponse(resp)
	if err != nil {
		return err
	}
	slog.DebugContext(ctx, "result uploaded successfully",
		slog.String("id", created.ID),
		slog.String("run_id", runID))
	return nil
}

func (c *RepoUploader) decodeUploadResponse(resp *http.Response) (ResultCreateResponse, error) {
	contentType, _, err := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if err != nil {
		return ResultCreateResponse{}, fmt.Errorf("failed to parse response content type header: %w", err)
	}

	switch resp.StatusCode {
	case http.StatusCreated, http.StatusOK:
		if contentType != "application/json" {
			return ResultCreateResponse{}, fmt.Errorf("expected `application/json` content type, got: %s", contentType)
		}
		var created ResultCreateResponse
		if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
			return ResultCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		if created.ID == "" {
			return ResultCreateResponse{}, errors.New("received unexpected body")
		}
		return created, nil
	case http.StatusBadRequest, http.StatusConflict, http.StatusUnsupportedMediaType:
		if contentType != "application/problem+json" {
			return ResultCreateResponse{}, fmt.Errorf("expected `application/problem+json` content type, got: %s", contentType)
		}
		var problem struct {
			Detail string `json:"detail"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&problem); err != nil {
			return ResultCreateResponse{}, fmt.Errorf("decoding json response failed: %w", err)
		}
		return ResultCreateResponse{}, fmt.Errorf("status code: %d, detail: %s", resp.StatusCode, problem.Detail)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return ResultCreateResponse{}, err
	}
	return ResultCreateResponse{}, fmt.Errorf("unknown error, status: %d, body: %s", resp.StatusCode, string(body))
}
