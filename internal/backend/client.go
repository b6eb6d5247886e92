// Package backend talks to the triage analysis service: audio transcription
// and case analysis. Both calls are single-shot with no automatic retry.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
	"time"

	"fieldtriage/internal/domain"
	"fieldtriage/internal/logging"
	"fieldtriage/internal/observe"
)

const (
	DefaultBaseURL = "http://localhost:8000"

	endpointTranscribe = "transcribe"
	endpointAnalyze    = "analyze_case"

	// maxErrorBody bounds how much of a failed response is kept as detail.
	maxErrorBody = 4096
)

var (
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrAnalysisFailed      = errors.New("analysis failed")
)

// TranscriptionError carries the reason a transcription request failed.
type TranscriptionError struct {
	Status int
	Reason string
}

func (e *TranscriptionError) Error() string { return e.Reason }

func (e *TranscriptionError) Is(target error) bool { return target == ErrTranscriptionFailed }

// AnalysisError carries the server-provided detail of a failed analysis.
// Detail is what gets shown to the health worker.
type AnalysisError struct {
	Status int
	Detail string
}

func (e *AnalysisError) Error() string { return e.Detail }

func (e *AnalysisError) Is(target error) bool { return target == ErrAnalysisFailed }

// Config controls the backend client.
type Config struct {
	BaseURL string
	// RequestTimeout bounds each call; zero leaves requests unbounded.
	RequestTimeout time.Duration
	HTTPClient     *http.Client
	Metrics        *observe.Metrics
	Logger         *slog.Logger
}

// Client implements ports.Transcriber and ports.CaseAnalyzer over HTTP.
type Client struct {
	baseURL string
	timeout time.Duration
	http    *http.Client
	metrics *observe.Metrics
	logger  *slog.Logger
}

func NewClient(cfg Config) *Client {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{
		baseURL: base,
		timeout: cfg.RequestTimeout,
		http:    httpClient,
		metrics: cfg.Metrics,
		logger:  logging.Component(cfg.Logger, "backend"),
	}
}

// BaseURL reports the resolved backend address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Transcribe uploads audio as multipart fields "language" and "audio". A
// body carrying {"error": ...} is a successful call with a server-reported
// error; only transport and HTTP failures return an error.
func (c *Client) Transcribe(ctx context.Context, audio domain.AudioArtifact, language string) (domain.TranscriptionResult, error) {
	body, contentType, err := transcribeForm(audio, language)
	if err != nil {
		return domain.TranscriptionResult{}, &TranscriptionError{Reason: err.Error()}
	}

	resp, elapsed, err := c.do(ctx, endpointTranscribe, contentType, body)
	if err != nil {
		c.metrics.RecordRequest(ctx, endpointTranscribe, "transport_error", elapsed)
		return domain.TranscriptionResult{}, &TranscriptionError{Reason: err.Error()}
	}
	defer resp.Body.Close()
	c.metrics.RecordRequest(ctx, endpointTranscribe, strconv.Itoa(resp.StatusCode), elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBody))
		return domain.TranscriptionResult{}, &TranscriptionError{
			Status: resp.StatusCode,
			Reason: "Server error: " + statusText(resp),
		}
	}

	var result domain.TranscriptionResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.TranscriptionResult{}, &TranscriptionError{
			Status: resp.StatusCode,
			Reason: fmt.Sprintf("invalid transcription response: %v", err),
		}
	}
	c.logger.Debug("transcription response",
		slog.Int("status", resp.StatusCode),
		slog.Int("text_len", len(result.Text)),
		slog.Bool("server_error", result.Error != ""),
	)
	return result, nil
}

// Analyze posts {"text": ...} and decodes the case result. Absent fields keep
// their zero values.
func (c *Client) Analyze(ctx context.Context, text string) (domain.CaseResult, error) {
	payload, err := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	if err != nil {
		return domain.CaseResult{}, &AnalysisError{Detail: err.Error()}
	}

	resp, elapsed, err := c.do(ctx, endpointAnalyze, "application/json", bytes.NewReader(payload))
	if err != nil {
		c.metrics.RecordRequest(ctx, endpointAnalyze, "transport_error", elapsed)
		return domain.CaseResult{}, &AnalysisError{Detail: err.Error()}
	}
	defer resp.Body.Close()
	c.metrics.RecordRequest(ctx, endpointAnalyze, strconv.Itoa(resp.StatusCode), elapsed)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		detail := strings.TrimSpace(string(raw))
		if detail == "" {
			detail = "case analysis failed: " + statusText(resp)
		}
		return domain.CaseResult{}, &AnalysisError{Status: resp.StatusCode, Detail: detail}
	}

	var result domain.CaseResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return domain.CaseResult{}, &AnalysisError{
			Status: resp.StatusCode,
			Detail: fmt.Sprintf("invalid analysis response: %v", err),
		}
	}
	return result, nil
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, time.Duration, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		// The body must stay readable after return, so cancel rides on it.
		resp, elapsed, err := c.send(ctx, endpoint, contentType, body)
		if err != nil {
			cancel()
			return nil, elapsed, err
		}
		resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
		return resp, elapsed, nil
	}
	return c.send(ctx, endpoint, contentType, body)
}

func (c *Client) send(ctx context.Context, endpoint, contentType string, body io.Reader) (*http.Response, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, body)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")

	started := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(started)
	if err != nil {
		c.logger.Warn("backend request failed", slog.String("endpoint", endpoint), slog.Any("error", err))
		return nil, elapsed, err
	}
	return resp, elapsed, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}

func transcribeForm(audio domain.AudioArtifact, language string) (io.Reader, string, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	if err := writer.WriteField("language", language); err != nil {
		return nil, "", err
	}

	fileName := audio.FileName
	if fileName == "" {
		fileName = "audio.wav"
	}
	contentType := audio.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="audio"; filename=%q`, fileName))
	header.Set("Content-Type", contentType)
	part, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(audio.Data); err != nil {
		return nil, "", err
	}
	if err := writer.Close(); err != nil {
		return nil, "", err
	}
	return body, writer.FormDataContentType(), nil
}

func statusText(resp *http.Response) string {
	if text := http.StatusText(resp.StatusCode); text != "" {
		return text
	}
	return resp.Status
}
