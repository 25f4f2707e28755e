package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/highlightr/highlightr-agent/internal/clip"
)

const maxErrorBodyBytes = 4096

// HTTPClient is the real backend client. JSON calls use a bounded timeout; transfers
// (upload and artifact download) are bounded only by their context.
type HTTPClient struct {
	baseURL    string
	token      string
	deviceID   string
	httpClient *http.Client
	transfer   *http.Client
	logger     *slog.Logger
}

func NewHTTPClient(baseURL, token string, timeout time.Duration, logger *slog.Logger) *HTTPClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		transfer: &http.Client{},
		logger:   logger,
	}
}

func (c *HTTPClient) SetDeviceID(id string) {
	c.deviceID = id
}

func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// UploadVideo streams body as the multipart field "video" and returns the server-issued id.
func (c *HTTPClient) UploadVideo(ctx context.Context, filename string, body io.Reader) (string, error) {
	const op = "upload video"

	pr, pw := io.Pipe()
	defer pr.Close()
	writer := multipart.NewWriter(pw)

	go func() {
		part, err := writer.CreateFormFile("video", filepath.Base(filename))
		if err != nil {
			pw.CloseWithError(fmt.Errorf("create form file: %w", err))
			return
		}
		if _, err := io.Copy(part, body); err != nil {
			pw.CloseWithError(fmt.Errorf("write video data: %w", err))
			return
		}
		pw.CloseWithError(writer.Close())
	}()

	req, err := c.newRequest(ctx, http.MethodPost, "/api/videos/upload", pr)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Info("uploading video to backend", "filename", filepath.Base(filename))

	resp, err := c.transfer.Do(req)
	if err != nil {
		return "", &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return "", rejection(op, resp)
	}

	var result uploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", malformed(op, resp, err)
	}
	if result.VideoID == "" {
		return "", &clip.ServerRejectedError{Op: op, StatusCode: resp.StatusCode, Message: "response has no videoId"}
	}

	c.logger.Info("video upload acknowledged", "video_id", result.VideoID)
	return result.VideoID, nil
}

func (c *HTTPClient) SubmitClip(ctx context.Context, videoID string, draft clip.ClipDraft) (string, error) {
	const op = "submit clip"

	body, err := json.Marshal(submitRequest{
		Text:           draft.Text,
		SportType:      draft.SportType,
		TargetDuration: draft.TargetDuration,
	})
	if err != nil {
		return "", fmt.Errorf("marshal clip request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/api/videos/"+url.PathEscape(videoID)+"/clip", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return "", rejection(op, resp)
	}

	var result submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", malformed(op, resp, err)
	}
	if result.ClipID == "" {
		return "", &clip.ServerRejectedError{Op: op, StatusCode: resp.StatusCode, Message: "response has no clipId"}
	}
	return result.ClipID, nil
}

func (c *HTTPClient) ClipStatus(ctx context.Context, videoID, clipID string) (clip.PollResult, error) {
	const op = "poll clip status"

	req, err := c.newRequest(ctx, http.MethodGet, clipPath(videoID, clipID), nil)
	if err != nil {
		return clip.PollResult{}, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return clip.PollResult{}, &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return clip.PollResult{}, rejection(op, resp)
	}

	var result clip.PollResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return clip.PollResult{}, &clip.NetworkError{Op: op, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !clip.IsKnownStatus(result.Status) {
		return clip.PollResult{}, &clip.ServerRejectedError{
			Op:         op,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("unknown clip status %q", result.Status),
		}
	}
	return result, nil
}

// DownloadClip opens the artifact stream. Non-2xx responses become *clip.DownloadError.
func (c *HTTPClient) DownloadClip(ctx context.Context, videoID, clipID string) (*Download, error) {
	const op = "download clip"

	req, err := c.newRequest(ctx, http.MethodGet, clipPath(videoID, clipID)+"/file", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.transfer.Do(req)
	if err != nil {
		return nil, &clip.NetworkError{Op: op, Err: err}
	}

	if !isSuccess(resp) {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		return nil, &clip.DownloadError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	return &Download{
		ContentType:        resp.Header.Get("Content-Type"),
		ContentDisposition: resp.Header.Get("Content-Disposition"),
		ContentLength:      resp.ContentLength,
		Body:               resp.Body,
	}, nil
}

func (c *HTTPClient) VideoStatus(ctx context.Context, videoID string) (*VideoStatus, error) {
	const op = "video status"

	req, err := c.newRequest(ctx, http.MethodGet, "/api/videos/"+url.PathEscape(videoID)+"/status", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return nil, rejection(op, resp)
	}

	var status VideoStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, malformed(op, resp, err)
	}
	return &status, nil
}

func (c *HTTPClient) DeleteVideo(ctx context.Context, videoID string) error {
	const op = "delete video"

	req, err := c.newRequest(ctx, http.MethodDelete, "/api/videos/"+url.PathEscape(videoID), nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	if !isSuccess(resp) {
		return rejection(op, resp)
	}
	c.logger.Info("video deleted on backend", "video_id", videoID)
	return nil
}

func (c *HTTPClient) Health(ctx context.Context) error {
	const op = "backend health"

	req, err := c.newRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &clip.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodyBytes))

	if !isSuccess(resp) {
		return &clip.ServerRejectedError{Op: op, StatusCode: resp.StatusCode}
	}
	return nil
}

func (c *HTTPClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.deviceID != "" {
		req.Header.Set("X-Device-Id", c.deviceID)
	}
	return req, nil
}

func clipPath(videoID, clipID string) string {
	return "/api/videos/" + url.PathEscape(videoID) + "/clip/" + url.PathEscape(clipID)
}

// rejection turns a non-2xx response into a ServerRejectedError, preferring the
// backend's {"error": "..."} message over the raw body.
func rejection(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))

	msg := strings.TrimSpace(string(body))
	var parsed errorResponse
	if err := json.Unmarshal(body, &parsed); err == nil && parsed.Error != "" {
		msg = parsed.Error
	}
	return &clip.ServerRejectedError{Op: op, StatusCode: resp.StatusCode, Message: msg}
}

// malformed reports a 2xx response whose body is not the JSON the backend promises.
func malformed(op string, resp *http.Response, err error) error {
	return &clip.ServerRejectedError{Op: op, StatusCode: resp.StatusCode, Message: fmt.Sprintf("malformed response: %v", err)}
}
